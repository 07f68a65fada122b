package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/resilience"
)

// MemoryBus is an in-process Queue for single node setups and tests. Events
// do not survive a restart.
type MemoryBus struct {
	mu      sync.Mutex
	pending map[string]*memEntry
	dlq     map[string]resilience.DLQEntry
}

type memEntry struct {
	delivery    Delivery
	availableAt time.Time
	leasedUntil time.Time
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		pending: make(map[string]*memEntry),
		dlq:     make(map[string]resilience.DLQEntry),
	}
}

func (b *MemoryBus) Publish(_ context.Context, events ...Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range events {
		b.pending[ev.ID] = &memEntry{delivery: Delivery{Event: ev}, availableAt: ev.CreatedAt}
	}
	return nil
}

// Pending returns the queued events in publication order.
func (b *MemoryBus) Pending() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.pending))
	for _, e := range b.pending {
		out = append(out, e.delivery.Event)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (b *MemoryBus) Claim(_ context.Context, types []Type, limit int, lease time.Duration) ([]Delivery, error) {
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var ready []*memEntry
	for _, e := range b.pending {
		if want[e.delivery.Type] && !e.availableAt.After(now) && !e.leasedUntil.After(now) {
			ready = append(ready, e)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].delivery.CreatedAt.Before(ready[j].delivery.CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]Delivery, len(ready))
	for i, e := range ready {
		e.leasedUntil = now.Add(lease)
		out[i] = e.delivery
	}
	return out, nil
}

func (b *MemoryBus) Ack(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
	return nil
}

func (b *MemoryBus) Retry(_ context.Context, id string, attempts int, at time.Time, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[id]
	if !ok {
		return eris.Errorf("memory bus: event %s not pending", id)
	}
	e.delivery.Attempts = attempts
	e.availableAt = at
	e.leasedUntil = time.Time{}
	return nil
}

func (b *MemoryBus) DeadLetter(_ context.Context, entry resilience.DLQEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, entry.MessageID)
	b.dlq[entry.ID] = entry
	return nil
}

func (b *MemoryBus) ListDLQ(_ context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []resilience.DLQEntry
	for _, e := range b.dlq {
		if filter.MessageType != "" && e.MessageType != filter.MessageType {
			continue
		}
		if filter.ErrorType != "" && e.ErrorType != filter.ErrorType {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastFailedAt.Before(out[j].LastFailedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (b *MemoryBus) RequeueDLQ(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.dlq[id]
	if !ok {
		return eris.Errorf("memory bus: dlq entry %s not found", id)
	}
	if !e.CanRetry() {
		return eris.Errorf("memory bus: dlq entry %s cannot be retried (%s, %d/%d)", id, e.ErrorType, e.RetryCount, e.MaxRetries)
	}
	delete(b.dlq, id)
	b.pending[e.MessageID] = &memEntry{
		delivery: Delivery{
			Event: Event{
				ID:            e.MessageID,
				Type:          Type(e.MessageType),
				CorrelationID: e.CorrelationID,
				Payload:       e.Payload,
				CreatedAt:     e.CreatedAt,
			},
			Requeues: e.RetryCount + 1,
		},
		availableAt: time.Now(),
	}
	return nil
}

func (b *MemoryBus) CountDLQ(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dlq), nil
}
