package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	resourceKeyKey ctxKey = iota
	userIDKey
	connIDKey
)

// WithResourceKey returns a context with the resource key set.
func WithResourceKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, resourceKeyKey, key)
}

// WithUserID returns a context with the user ID set.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// WithConnID returns a context with the connection ID set.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// ResourceKey extracts the resource key from the context, or "" if absent.
func ResourceKey(ctx context.Context) string {
	v, _ := ctx.Value(resourceKeyKey).(string)
	return v
}

// UserID extracts the user ID from the context, or "" if absent.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// ConnID extracts the connection ID from the context, or "" if absent.
func ConnID(ctx context.Context) string {
	v, _ := ctx.Value(connIDKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := ResourceKey(ctx); v != "" {
		r.AddAttrs(slog.String("resource_key", v))
	}
	if v := UserID(ctx); v != "" {
		r.AddAttrs(slog.String("user_id", v))
	}
	if v := ConnID(ctx); v != "" {
		r.AddAttrs(slog.String("conn_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
