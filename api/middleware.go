package api

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/handler"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"

	RoleAdmin = "admin"

	maxRequestIDLength = 128
)

var (
	requestIDKey = handler.NewContextKey("request_id")
	principalKey = handler.NewContextKey("principal")

	validRequestID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Principal is the caller as asserted by the upstream gateway.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// RequestID reuses a well-formed X-Request-ID or generates a new one, stores it
// in the request context and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if len(id) == 0 || len(id) > maxRequestIDLength || !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	return handler.ContextValue[string](ctx, requestIDKey)
}

// RequestIDExtractor adds request_id to log records written with a request context.
func RequestIDExtractor(ctx context.Context) (slog.Attr, bool) {
	if id := RequestIDFromContext(ctx); id != "" {
		return slog.String("request_id", id), true
	}
	return slog.Attr{}, false
}

// UserIDExtractor adds user_id to log records of authenticated requests.
func UserIDExtractor(ctx context.Context) (slog.Attr, bool) {
	if p, ok := PrincipalFromContext(ctx); ok {
		return slog.String("user_id", p.UserID.String()), true
	}
	return slog.Attr{}, false
}

// Authenticate rejects requests without a valid X-User-ID with 401.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get(HeaderUserID))
		if err != nil || userID == uuid.Nil {
			_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
			return
		}
		p := Principal{UserID: userID, Role: r.Header.Get(HeaderUserRole)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
			return
		}
		if !p.IsAdmin() {
			_ = handler.JSONError(handler.ErrForbidden).Render(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	return handler.ContextValueOK[Principal](ctx, principalKey)
}

// principal is only called behind Authenticate.
func principal(ctx context.Context) Principal {
	p, _ := PrincipalFromContext(ctx)
	return p
}

// idempotencyScope keys stored responses by caller and route so that two
// users sending the same key never see each other's responses.
func idempotencyScope(r *http.Request, key string) string {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return ""
	}
	return p.UserID.String() + ":" + r.Method + ":" + r.URL.Path + ":" + key
}
