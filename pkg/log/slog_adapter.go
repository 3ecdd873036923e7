package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes diagnostic events to an slog.Logger.
// Useful for development when you want transport events in the console.
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
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.StreamID != 0 {
		attrs = append(attrs, slog.Uint64("stream_id", event.StreamID))
	}
	if event.Topic != "" {
		attrs = append(attrs, slog.String("topic", event.Topic))
	}

	switch {
	case event.Chunk != nil:
		attrs = append(attrs,
			slog.String("msg_id", event.Chunk.MessageID),
			slog.Uint64("seq", uint64(event.Chunk.Sequence)),
			slog.Uint64("total", uint64(event.Chunk.Total)),
			slog.Int("size", event.Chunk.Size),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Heartbeat != nil:
		attrs = append(attrs, slog.String("hb_type", event.Heartbeat.Type.String()))
		if event.Heartbeat.Missed > 0 {
			attrs = append(attrs, slog.Int("missed", event.Heartbeat.Missed))
		}
	case event.Drop != nil:
		attrs = append(attrs,
			slog.Uint64("subscription_id", event.Drop.SubscriptionID),
			slog.Int("queue_depth", event.Drop.QueueDepth),
			slog.String("policy", event.Drop.Policy),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "tradewire", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
