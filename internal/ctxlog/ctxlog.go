// Package ctxlog threads a slog.Logger through a context.Context so that
// every node, the scheduler, and the supervisor log through the same
// sink without a logger field on every struct.
package ctxlog

import (
	"context"
	"log/slog"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger installed by WithLogger. It panics if
// none was installed: every pipeline run must install one at its root
// context before any node executes.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	panic("ctxlog: logger missing from context")
}
