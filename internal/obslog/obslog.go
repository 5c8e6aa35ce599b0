// Package obslog builds the engine's *slog.Logger: a context-aware handler
// that threads a request or run id out of context.Context into every
// record, wrapping a colorized tint handler locally or a JSON handler in
// staging/production.
package obslog

import (
	"context"
	"io"
	"log/slog"

	"github.com/lmittmann/tint"

	"github.com/ErlanBelekov/durably/internal/requestid"
)

type runIDKey struct{}

// WithRunID returns a copy of ctx carrying runID, picked up by ContextHandler.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// ContextHandler wraps an slog.Handler and enriches every record with
// request_id / run_id extracted from the record's context, before
// delegating to inner.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if id := runIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("run_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}

// New builds the process logger: a colorized tint handler for local/dev
// environments, a JSON handler everywhere else, both wrapped in
// ContextHandler so request/run ids flow through automatically.
func New(env string, level slog.Level, w io.Writer) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(w, &tint.Options{Level: level})
	} else {
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(NewContextHandler(inner))
}
