package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes connection events to an slog.Logger.
// Useful for development when you want to see gateway traffic in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("category", event.Category.String()),
	}

	if event.GatewayURL != "" {
		attrs = append(attrs, slog.String("gateway", event.GatewayURL))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	switch {
	case event.Envelope != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.String("kind", event.Envelope.Kind),
		)
		if event.Envelope.CorrelationID != "" {
			attrs = append(attrs, slog.String("id", event.Envelope.CorrelationID))
		}
		if event.Envelope.Method != "" {
			attrs = append(attrs, slog.String("method", event.Envelope.Method))
		}
		if event.Envelope.EventName != "" {
			attrs = append(attrs, slog.String("event", event.Envelope.EventName))
		}
		if event.Envelope.OK != nil {
			attrs = append(attrs, slog.Bool("ok", *event.Envelope.OK))
		}
		if event.Envelope.Size > 0 {
			attrs = append(attrs, slog.Int("size", event.Envelope.Size))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
		if event.StateChange.CloseCode != 0 {
			attrs = append(attrs, slog.Int("close_code", event.StateChange.CloseCode))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "gateway", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
