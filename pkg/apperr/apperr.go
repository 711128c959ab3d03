// Package apperr defines the error kinds shared by the domain services.
//
// Each service declares its own sentinel errors and binds them to exactly one
// kind by wrapping:
//
//	var ErrNotEntitled = fmt.Errorf("%w: active subscription required", apperr.ErrPermission)
//
// Transport layers inspect the kind with errors.Is or KindOf and never need to
// know the individual sentinels.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrExternal   = errors.New("external dependency failed")
	ErrInternal   = errors.New("internal error")
)

// Kind is one of the sentinel errors above.
type Kind = error

var kinds = []Kind{ErrValidation, ErrPermission, ErrNotFound, ErrConflict, ErrExternal, ErrInternal}

// KindOf returns the first kind found in err's chain, ErrInternal for
// unclassified errors, or nil for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// Internal marks a low-level failure (storage, encoding) as ErrInternal while
// keeping it inspectable. Errors that already carry a kind are returned as is.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrInternal, err))
}

// Validation builds an ad hoc validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
