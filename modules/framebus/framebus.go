package framebus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framebus/internal/bus"
)

// DropPolicy defines what a full mailbox does with a new item
type DropPolicy = bus.DropPolicy

const (
	// DropOldest evicts the stored item and keeps the new one
	DropOldest = bus.DropOldest
	// DropNewest refuses the incoming item
	DropNewest = bus.DropNewest
)

// Stats tracks mailbox traffic
type Stats = bus.Stats

// Public API errors - Re-export internal errors as stable contract
var (
	ErrClosed          = bus.ErrClosed
	ErrInvalidCapacity = bus.ErrInvalidCapacity
)

// Mailbox is a bounded queue with a drop policy and a dispose hook.
type Mailbox[T any] struct {
	policy  DropPolicy
	dispose func(T)

	items chan T

	mu       sync.Mutex // serializes publishers, Drain and Close
	closed   chan struct{}
	isClosed atomic.Bool

	counters bus.Counters
}

// New creates a DropOldest mailbox. dispose may be nil when items own nothing.
// Capacities below 1 are raised to 1.
func New[T any](capacity int, dispose func(T)) *Mailbox[T] {
	return NewWithPolicy(capacity, DropOldest, dispose)
}

// NewWithPolicy creates a mailbox with an explicit drop policy.
func NewWithPolicy[T any](capacity int, policy DropPolicy, dispose func(T)) *Mailbox[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox[T]{
		policy:  policy,
		dispose: dispose,
		items:   make(chan T, capacity),
		closed:  make(chan struct{}),
	}
}

// TryPublish stores x without blocking.
//
// DropOldest: when full, the oldest item is removed and disposed first; the call
// then succeeds. DropNewest: when full, x is disposed and false is returned.
// A closed mailbox disposes x and returns false.
func (m *Mailbox[T]) TryPublish(x T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isClosed.Load() {
		m.counters.Rejected()
		m.release(x)
		return false
	}

	for {
		select {
		case m.items <- x:
			m.counters.Published()
			return true
		default:
		}

		if m.policy == DropNewest {
			m.counters.Rejected()
			m.release(x)
			return false
		}

		// Full: evict one. A consumer may win the race and empty the slot
		// first, in which case the next send succeeds.
		select {
		case old := <-m.items:
			m.counters.Evicted()
			m.release(old)
		default:
		}
	}
}

// Poll waits up to d for an item. ok is false on timeout or when the mailbox
// is closed; a timeout is not an error.
func (m *Mailbox[T]) Poll(d time.Duration) (item T, ok bool) {
	return m.PollContext(context.Background(), d)
}

// PollContext is Poll that also returns early when ctx is done.
func (m *Mailbox[T]) PollContext(ctx context.Context, d time.Duration) (item T, ok bool) {
	if d <= 0 {
		return m.TryPoll()
	}

	// Fast path: no timer allocation when an item is already waiting.
	select {
	case item = <-m.items:
		m.counters.Delivered()
		return item, true
	default:
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case item = <-m.items:
		m.counters.Delivered()
		return item, true
	case <-m.closed:
	case <-ctx.Done():
	case <-timer.C:
	}
	return item, false
}

// TryPoll returns an item if one is stored, without waiting.
func (m *Mailbox[T]) TryPoll() (item T, ok bool) {
	select {
	case item = <-m.items:
		m.counters.Delivered()
		return item, true
	default:
		return item, false
	}
}

// Drain removes every stored item and hands them to the caller, oldest first.
// The caller owns the returned items.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drainLocked()
}

// Purge removes and disposes every stored item. Returns how many were disposed.
func (m *Mailbox[T]) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.drainLocked()
	for _, it := range items {
		m.release(it)
	}
	return len(items)
}

// Close purges the mailbox, wakes blocked pollers and refuses further items.
// Idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isClosed.CompareAndSwap(false, true) {
		return
	}
	close(m.closed)

	for _, it := range m.drainLocked() {
		m.release(it)
	}
}

// Closed reports whether Close was called.
func (m *Mailbox[T]) Closed() bool { return m.isClosed.Load() }

// Len returns the number of stored items.
func (m *Mailbox[T]) Len() int { return len(m.items) }

// Cap returns the fixed capacity.
func (m *Mailbox[T]) Cap() int { return cap(m.items) }

// Stats returns a snapshot of the traffic counters.
func (m *Mailbox[T]) Stats() Stats {
	return m.counters.Snapshot(len(m.items), cap(m.items))
}

func (m *Mailbox[T]) drainLocked() []T {
	var out []T
	for {
		select {
		case it := <-m.items:
			out = append(out, it)
		default:
			return out
		}
	}
}

func (m *Mailbox[T]) release(x T) {
	if m.dispose != nil {
		m.dispose(x)
	}
}
