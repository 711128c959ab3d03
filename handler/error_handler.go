package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/pinboard/pkg/logger"
)

// NewErrorHandler returns an ErrorHandler that logs err and renders it in the
// JSON envelope. Client errors are logged at Warn, server errors at Error.
func NewErrorHandler[C Context](log *slog.Logger) ErrorHandler[C] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx C, err error) {
		status := StatusCode(err)
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		r := ctx.Request()
		log.Log(ctx, level, "request failed",
			logger.Error(err),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		_ = JSONError(err).Render(ctx.ResponseWriter(), r)
	}
}
