package notify

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

// Logger implementa ports.Reporter sobre slog.
type Logger struct {
	log *slog.Logger
}

// NewLogger usa slog.Default() si l es nil.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (l *Logger) Report(ctx context.Context, ev domain.Event) {
	attrs := []slog.Attr{
		slog.String("state", string(ev.State)),
		slog.String("cycle", ev.CycleID),
	}
	if ev.Side != "" {
		attrs = append(attrs,
			slog.String("side", string(ev.Side)),
			slog.Int("qty", ev.Quantity),
			slog.Float64("price", ev.Price))
	}
	if ev.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", ev.OrderID))
	}
	if p := ev.Position; p != nil {
		attrs = append(attrs,
			slog.Int("position", p.Quantity),
			slog.Float64("entry", p.EntryPrice))
	}
	if ev.LiqPrice > 0 {
		attrs = append(attrs, slog.Float64("liq_price", ev.LiqPrice))
	}
	if ev.Count > 0 {
		attrs = append(attrs, slog.Int("count", ev.Count))
	}
	if ev.Detail != "" {
		attrs = append(attrs, slog.String("detail", ev.Detail))
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.Any("err", ev.Err))
	}

	l.log.LogAttrs(ctx, levelFor(ev.Kind), string(ev.Kind), attrs...)
}

func levelFor(kind domain.EventKind) slog.Level {
	switch kind {
	case domain.EventEntryWaiting, domain.EventPositionRead:
		return slog.LevelDebug
	case domain.EventPassFailed, domain.EventBreakerTripped:
		return slog.LevelWarn
	case domain.EventControllerFailed:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
