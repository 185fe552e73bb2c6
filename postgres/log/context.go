package log

import "context"

type contextKey struct{}

// loggerKey is the context key under which a Logger travels with a context.
var loggerKey = contextKey{}

// ContextWithLogger returns a child context carrying the given logger.
//
// Pass the resulting context to initialization entry points so connection
// lifecycle events are reported through the caller's logging backend.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the Logger carried by ctx.
//
// It never returns nil: when ctx carries no logger (or a nil one), a NopLogger
// is returned so call sites can log unconditionally.
//
//nolint:ireturn
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return &NopLogger{}
	}

	if logger, ok := ctx.Value(loggerKey).(Logger); ok && logger != nil {
		return logger
	}

	return &NopLogger{}
}
