// Package idempotency replays HTTP responses for requests retried with the
// same Idempotency-Key header.
//
// The first request with a key claims a short lock, runs the handler and
// stores the response. Retries receive the stored response with the
// Idempotent-Replayed header set. A retry that arrives while the original is
// still running gets 409, rendered by the conflict handler. Server errors (5xx) are not stored so the client
// can retry them for real.
package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
)

// ErrInProgress is passed to the conflict handler when another request holds the key.
var ErrInProgress = fmt.Errorf("%w: request with this idempotency key is in progress", apperr.ErrConflict)

// KeyFunc scopes a client key, typically by the authenticated user. Returning
// "" disables idempotency for the request.
type KeyFunc func(r *http.Request, key string) string

type options struct {
	ttl      time.Duration
	lockTTL  time.Duration
	keyFunc  KeyFunc
	conflict func(w http.ResponseWriter, r *http.Request, err error)
	log      *slog.Logger
}

type Option func(*options)

// WithTTL sets how long responses are replayed. Defaults to 24h.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

func WithKeyFunc(fn KeyFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.keyFunc = fn
		}
	}
}

// WithConflictHandler renders the response for a key that is still in flight.
// The default writes {"error":{"code":"conflict","message":...}} with 409.
func WithConflictHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) Option {
	return func(o *options) {
		if fn != nil {
			o.conflict = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Middleware applies to POST, PUT, PATCH and DELETE requests carrying the header.
// Requests without the header pass through unchanged.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := &options{
		ttl:      24 * time.Hour,
		lockTTL:  30 * time.Second,
		keyFunc:  func(r *http.Request, key string) string { return r.Method + ":" + r.URL.Path + ":" + key },
		conflict: writeConflict,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			clientKey := r.Header.Get(HeaderKey)
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := o.keyFunc(r, clientKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if cached, err := store.Get(ctx, key); err == nil {
				replay(w, cached)
				return
			} else if !errors.Is(err, ErrNotFound) {
				// Store outage must not block writes.
				o.log.WarnContext(ctx, "idempotency store unavailable", logger.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			locked, err := store.Lock(ctx, key, o.lockTTL)
			if err != nil {
				o.log.WarnContext(ctx, "idempotency lock failed", logger.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !locked {
				o.conflict(w, r, ErrInProgress)
				return
			}
			defer func() {
				if err := store.Unlock(ctx, key); err != nil {
					o.log.WarnContext(ctx, "idempotency unlock failed", logger.Error(err))
				}
			}()

			// A concurrent request may have saved and unlocked between Get and Lock.
			if cached, err := store.Get(ctx, key); err == nil {
				replay(w, cached)
				return
			} else if !errors.Is(err, ErrNotFound) {
				o.log.WarnContext(ctx, "idempotency store unavailable", logger.Error(err))
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			resp := &Response{
				StatusCode: rec.status,
				Headers:    map[string]string{"Content-Type": w.Header().Get("Content-Type")},
				Body:       rec.body.Bytes(),
			}
			if err := store.Save(ctx, key, resp, o.ttl); err != nil {
				o.log.WarnContext(ctx, "idempotency save failed", logger.Error(err))
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func writeConflict(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "conflict", "message": err.Error()},
	})
}

func replay(w http.ResponseWriter, resp *Response) {
	for k, v := range resp.Headers {
		if v != "" {
			w.Header().Set(k, v)
		}
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

type recorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
