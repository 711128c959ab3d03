package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/binder"
)

// JSONResponse is the standard JSON response envelope.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

type JSONOption func(*jsonResponse)

func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		r.body.Meta = meta
	}
}

// JSON renders v as data. An error value is rendered as JSONError would.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK}

	switch val := v.(type) {
	case JSONResponse:
		r.body = val
	case error:
		r.body.Error = errorToDetail(val, &r.status)
	default:
		r.body.Data = v
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err in the error part of the envelope with a status
// derived from its kind.
func JSONError(err error, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusInternalServerError}
	r.body.Error = errorToDetail(err, &r.status)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StatusCode returns the HTTP status err is rendered with.
func StatusCode(err error) int {
	status := http.StatusInternalServerError
	errorToDetail(err, &status)
	return status
}

func errorToDetail(err error, status *int) *ErrorDetail {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		*status = httpErr.Code
		return &ErrorDetail{Code: httpErr.Key, Message: http.StatusText(httpErr.Code)}
	}

	switch {
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		*status = http.StatusUnsupportedMediaType
		return &ErrorDetail{Code: "unsupported_media_type", Message: err.Error()}
	case errors.Is(err, binder.ErrFailedToParseJSON),
		errors.Is(err, binder.ErrFailedToParsePath),
		errors.Is(err, binder.ErrFailedToParseQuery):
		*status = http.StatusBadRequest
		return &ErrorDetail{Code: "bad_request", Message: err.Error()}
	}

	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		*status = http.StatusUnprocessableEntity
		return &ErrorDetail{Code: "validation_error", Message: err.Error()}
	case apperr.ErrPermission:
		*status = http.StatusForbidden
		return &ErrorDetail{Code: "permission_denied", Message: err.Error()}
	case apperr.ErrNotFound:
		*status = http.StatusNotFound
		return &ErrorDetail{Code: "not_found", Message: err.Error()}
	case apperr.ErrConflict:
		*status = http.StatusConflict
		return &ErrorDetail{Code: "conflict", Message: err.Error()}
	case apperr.ErrExternal:
		*status = http.StatusBadGateway
		return &ErrorDetail{Code: "external_error", Message: http.StatusText(http.StatusBadGateway)}
	}

	// Internal details stay in the logs.
	*status = http.StatusInternalServerError
	return &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
}
