package requestid

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/smartml/pkg/logger"
)

// LogExtractor adds the request ID to every record logged with a request context.
func LogExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if requestID := FromContext(ctx); requestID != "" {
			return logger.RequestID(requestID), true
		}
		return slog.Attr{}, false
	}
}
