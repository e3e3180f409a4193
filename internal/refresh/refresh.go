// Package refresh carries change signals from the engine to interested
// listeners (watch commands, capability resolvers) so they can refetch
// project state after an event lands or a role changes.
package refresh

import (
	"context"
	"sync"
	"time"
)

const (
	KindEvents = "events"
	KindAccess = "access"
)

// Signal identifies what changed. Listeners refetch; the signal itself
// carries no state.
type Signal struct {
	ProjectID string
	Kind      string
}

// Hub fans out signals to subscribers. Publishing never blocks: a slow
// subscriber misses intermediate signals and catches up on its next
// refetch, which is harmless because signals are coalescing hints.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Signal]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Signal]struct{})}
}

func (h *Hub) Subscribe() (<-chan Signal, func()) {
	ch := make(chan Signal, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(sig Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- sig:
		default:
		}
	}
}

// Poller periodically invokes a refetch function, used by watch-style
// commands as a fallback when no hub signal arrives (another process may
// have written the shared database).
type Poller struct {
	Interval time.Duration
	Hub      *Hub
	Fetch    func(ctx context.Context) error
}

// Run blocks until ctx is done, calling Fetch on every tick and on every
// hub signal. Fetch errors are returned to the caller only when ctx ends;
// transient failures just wait for the next trigger.
func (p Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	var sigs <-chan Signal
	if p.Hub != nil {
		ch, cancel := p.Hub.Subscribe()
		defer cancel()
		sigs = ch
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-sigs:
		}
		if err := p.Fetch(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
