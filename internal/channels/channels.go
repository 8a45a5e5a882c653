// Package channels defines the adapter contract between messaging
// platforms and the bus, plus the registry and outbound dispatcher
// shared by every adapter.
package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sharphq/sharpbot/pkg/models"
)

// Adapter is implemented by every messaging platform integration.
// Adapters own their I/O (long polling, WebSocket, webhooks) and inject
// inbound messages by publishing to the bus.
type Adapter interface {
	// Name returns the channel name messages are routed by (telegram,
	// slack, discord, cli).
	Name() string

	// Start connects and begins receiving. It must not block; receive
	// loops run on their own goroutines until ctx is done or Stop.
	Start(ctx context.Context) error

	// Stop disconnects and waits for in-flight work, bounded by ctx.
	Stop(ctx context.Context) error

	// Send delivers one outbound message to the platform.
	Send(ctx context.Context, msg *models.OutboundMessage) error

	// Running reports whether the adapter is started and connected.
	Running() bool
}

// Registry holds the configured adapters keyed by channel name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registering the same name twice replaces
// the earlier adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a channel name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// All returns the adapters sorted by name.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// StartAll starts every adapter; the first failure aborts and stops the
// ones already started.
func (r *Registry) StartAll(ctx context.Context) error {
	started := make([]Adapter, 0)
	for _, a := range r.All() {
		if err := a.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return fmt.Errorf("start %s adapter: %w", a.Name(), err)
		}
		started = append(started, a)
	}
	return nil
}

// StopAll stops every adapter, returning the last error seen.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, a := range r.All() {
		if err := a.Stop(ctx); err != nil {
			lastErr = fmt.Errorf("stop %s adapter: %w", a.Name(), err)
		}
	}
	return lastErr
}
