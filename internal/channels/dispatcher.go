package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/sharphq/sharpbot/internal/bus"
)

// pollInterval bounds how long one TryConsume waits, so the dispatcher
// notices cancellation promptly.
const pollInterval = 500 * time.Millisecond

// Dispatcher drains the outbound queue and hands each message to the
// adapter registered for its channel. A single dispatcher goroutine
// preserves enqueue order for messages targeting the same chat.
type Dispatcher struct {
	Bus      *bus.Bus
	Registry *Registry
	Logger   *slog.Logger
}

// Run consumes outbound messages until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok := d.Bus.TryConsumeOutbound(ctx, pollInterval)
		if !ok {
			continue
		}
		adapter, found := d.Registry.Get(msg.Channel)
		if !found {
			logger.Warn("dropping message for unknown channel",
				"channel", msg.Channel, "chat_id", msg.ChatID)
			continue
		}
		if err := adapter.Send(ctx, msg); err != nil {
			logger.Error("send failed",
				"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}
