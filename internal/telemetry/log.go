package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
)

// teeHandler writes every record to the local handler and to the OTel
// bridge. The local handler decides the level, so --verbose governs both.
type teeHandler struct {
	local  slog.Handler
	bridge slog.Handler
}

// NewLogHandler returns a handler that writes to next and also emits every
// record through an otelslog bridge on the logger named scope from lp. Build
// it before [Setup] runs with the global provider: records are dropped until
// a real provider is installed.
func NewLogHandler(next slog.Handler, lp otellog.LoggerProvider, scope string) slog.Handler {
	return teeHandler{
		local:  next,
		bridge: otelslog.NewHandler(scope, otelslog.WithLoggerProvider(lp)),
	}
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level)
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var bridgeErr error
	if h.bridge.Enabled(ctx, r.Level) {
		bridgeErr = h.bridge.Handle(ctx, r.Clone())
	}
	return errors.Join(h.local.Handle(ctx, r), bridgeErr)
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{local: h.local.WithAttrs(attrs), bridge: h.bridge.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return teeHandler{local: h.local.WithGroup(name), bridge: h.bridge.WithGroup(name)}
}
