// Package requestctx carries per-request values shared by middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// key is distinct per stored type, so each value gets its own slot without a key per value.
type key[T any] struct{}

func store[T any](ctx context.Context, v T) context.Context {
	return context.WithValue(ctx, key[T]{}, v)
}

func load[T any](ctx context.Context) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key[T]{}).(T)
	return v, ok
}

var noopLogger = zap.NewNop()

// TraceInfo is the trace metadata of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the request logger; nil stores a no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return store(ctx, logger)
}

// LoggerFrom reports whether a request logger was stored.
func LoggerFrom(ctx context.Context) (*zap.Logger, bool) {
	logger, ok := load[*zap.Logger](ctx)
	return logger, ok && logger != nil
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := LoggerFrom(ctx); ok {
		return logger
	}
	return noopLogger
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return store(ctx, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return load[TraceInfo](ctx)
}

// TraceID is empty when no trace middleware ran.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
