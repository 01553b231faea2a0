package bus

import (
	"errors"
	"sync/atomic"
)

// Internal errors - mapped to public errors in framebus package
var (
	ErrClosed          = errors.New("framebus: mailbox is closed")
	ErrInvalidCapacity = errors.New("framebus: capacity must be >= 1")
)

// DropPolicy defines what a full mailbox does with a new item
type DropPolicy int

const (
	// DropOldest evicts the stored item and keeps the new one (latest wins)
	DropOldest DropPolicy = iota
	// DropNewest rejects the incoming item and keeps what is stored
	DropNewest
)

// String returns a human-readable policy name
func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return "unknown"
	}
}

// Stats tracks mailbox traffic
type Stats struct {
	Published uint64 // Items accepted by TryPublish
	Evicted   uint64 // Items removed to make room (DropOldest)
	Rejected  uint64 // Items refused (DropNewest or closed)
	Delivered uint64 // Items handed to a consumer by Poll/TryPoll
	Len       int    // Items currently stored
	Capacity  int
}

// DropRate returns the share of accepted-or-refused items that never reached
// a consumer (0.0 to 1.0). Returns 0.0 when nothing was published.
func (s Stats) DropRate() float64 {
	total := s.Published + s.Rejected
	if total == 0 {
		return 0.0
	}
	return float64(s.Evicted+s.Rejected) / float64(total)
}

// Counters holds the atomic counters behind Stats.
// Stats readers never take the mailbox lock.
type Counters struct {
	published atomic.Uint64
	evicted   atomic.Uint64
	rejected  atomic.Uint64
	delivered atomic.Uint64
}

func (c *Counters) Published() { c.published.Add(1) }
func (c *Counters) Evicted()   { c.evicted.Add(1) }
func (c *Counters) Rejected()  { c.rejected.Add(1) }
func (c *Counters) Delivered() { c.delivered.Add(1) }

// Snapshot copies the counters into a Stats value.
func (c *Counters) Snapshot(length, capacity int) Stats {
	return Stats{
		Published: c.published.Load(),
		Evicted:   c.evicted.Load(),
		Rejected:  c.rejected.Load(),
		Delivered: c.delivered.Load(),
		Len:       length,
		Capacity:  capacity,
	}
}
