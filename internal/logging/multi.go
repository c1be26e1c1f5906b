package logging

import (
	"context"
	"log/slog"
)

// fanoutHandler forwards records to every wrapped handler.
type fanoutHandler []slog.Handler

func multiHandler(handlers []slog.Handler) slog.Handler {
	return fanoutHandler(handlers)
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, handler := range h {
		if !handler.Enabled(ctx, rec.Level) {
			continue
		}
		if err := handler.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	wrapped := make(fanoutHandler, len(h))
	for i, handler := range h {
		wrapped[i] = handler.WithAttrs(attrs)
	}
	return wrapped
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	wrapped := make(fanoutHandler, len(h))
	for i, handler := range h {
		wrapped[i] = handler.WithGroup(name)
	}
	return wrapped
}
