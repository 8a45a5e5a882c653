// Package bus provides the duplex message queue between channel adapters
// and the agent loop. It is the only synchronization point between them.
package bus

import (
	"context"
	"time"

	"github.com/sharphq/sharpbot/pkg/models"
)

// DefaultCapacity bounds each direction of the bus.
const DefaultCapacity = 256

// Bus mediates inbound (channel -> agent) and outbound (agent -> channel
// dispatcher) message flow. Each message is consumed exactly once; there
// is no fan-out. FIFO order is preserved per producer.
type Bus struct {
	inbound  chan *models.InboundMessage
	outbound chan *models.OutboundMessage
}

// New creates a bus with the given per-direction capacity.
// A capacity <= 0 falls back to DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		inbound:  make(chan *models.InboundMessage, capacity),
		outbound: make(chan *models.OutboundMessage, capacity),
	}
}

// PublishInbound enqueues a message from a channel adapter. When the
// queue is full the send blocks, back-pressuring the producer, until
// space frees up or ctx is done.
func (b *Bus) PublishInbound(ctx context.Context, msg *models.InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound enqueues a reply for the channel dispatcher.
func (b *Bus) PublishOutbound(ctx context.Context, msg *models.OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryConsumeInbound waits up to timeout for an inbound message.
// Returns (nil, false) on timeout or context cancellation.
func (b *Bus) TryConsumeInbound(ctx context.Context, timeout time.Duration) (*models.InboundMessage, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// TryConsumeOutbound waits up to timeout for an outbound message.
// Returns (nil, false) on timeout or context cancellation.
func (b *Bus) TryConsumeOutbound(ctx context.Context, timeout time.Duration) (*models.OutboundMessage, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// InboundDepth reports how many inbound messages are queued.
func (b *Bus) InboundDepth() int { return len(b.inbound) }

// OutboundDepth reports how many outbound messages are queued.
func (b *Bus) OutboundDepth() int { return len(b.outbound) }
