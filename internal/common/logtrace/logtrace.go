// Package logtrace provides logging initialization and request tracing
// helpers. It integrates with zerolog for structured logging.
package logtrace

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type requestIdContextKey struct{}

// InitLogger initializes the global logger with Unix timestamp format.
// The level is taken from LOG_LEVEL when set (debug, info, warn, error).
func InitLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(lvl))
		if err == nil {
			zerolog.SetGlobalLevel(parsed)
		}
	}
}

// WithRequestId stores the request ID in the context.
func WithRequestId(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIdContextKey{}, requestID)
}

// RequestIdFromContext extracts the request ID from the context.
// Returns an empty string if the context is nil or holds no request ID.
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value(requestIdContextKey{}).(string)
	if !ok {
		return ""
	}
	return r
}

// IsTraceEnabled reports whether route tracing is enabled at startup.
func IsTraceEnabled() bool {
	return os.Getenv("TRACE_ROUTES") == "1"
}
