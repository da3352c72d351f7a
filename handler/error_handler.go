package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/smartml/pkg/logger"
	"github.com/dmitrymomot/smartml/pkg/requestid"
)

// NewErrorHandler returns an error handler that logs the failure and renders
// it as a JSON envelope. Client errors log at warn level, server errors at
// error level. The request ID is echoed in the response meta.
func NewErrorHandler(log *slog.Logger) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("http"))

	return func(ctx Context, err error) {
		r := ctx.Request()
		status, _ := errorToDetail(err)

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request failed",
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		var opts []JSONOption
		if id := requestid.FromContext(r.Context()); id != "" {
			opts = append(opts, WithJSONMeta(map[string]any{"request_id": id}))
		}
		if renderErr := JSONError(err, opts...).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
