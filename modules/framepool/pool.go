package framepool

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultMaxPerChannel is the number of idle buffers kept per channel.
const DefaultMaxPerChannel = 5

// Channel identifies the sensor stream a buffer belongs to.
type Channel int

const (
	// Color carries RGB888 pixels (3 bytes per pixel).
	Color Channel = iota
	// Depth carries Y16 depth samples (2 bytes per pixel).
	Depth

	numChannels
)

// String returns a human-readable channel name
func (c Channel) String() string {
	switch c {
	case Color:
		return "color"
	case Depth:
		return "depth"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the pixel size for the channel.
func (c Channel) BytesPerPixel() int {
	if c == Depth {
		return 2
	}
	return 3
}

// Config contains pool settings
type Config struct {
	// MaxPerChannel caps idle buffers per channel (default: 5)
	MaxPerChannel int
}

// Stats contains pool counters for one channel
type Stats struct {
	Capacity    int    // Capacity currently remembered for the channel
	Idle        int    // Buffers waiting in the pool
	Allocations uint64 // Fresh allocations
	Reuses      uint64 // Acquires served from the pool
	Dropped     uint64 // Recycles discarded (capacity mismatch or pool full)
	Invalidated uint64 // Idle buffers discarded by a capacity change
}

// channelPool holds the idle buffers of a single channel.
// Every field is protected by mu.
type channelPool struct {
	mu       sync.Mutex
	capacity int
	idle     []*Buffer

	allocations uint64
	reuses      uint64
	dropped     uint64
	invalidated uint64
}

// Pool recycles buffers per channel.
//
// Thread-safety: Acquire and Recycle may be called concurrently from any stage
// goroutine. Each channel has its own lock; color and depth never contend.
type Pool struct {
	max      int
	channels [numChannels]*channelPool
}

// New creates a pool. Zero values in cfg fall back to defaults.
func New(cfg Config) *Pool {
	if cfg.MaxPerChannel <= 0 {
		cfg.MaxPerChannel = DefaultMaxPerChannel
	}

	p := &Pool{max: cfg.MaxPerChannel}
	for i := range p.channels {
		p.channels[i] = &channelPool{}
	}
	return p
}

// MaxPerChannel returns the configured idle bound.
func (p *Pool) MaxPerChannel() int {
	return p.max
}

// Acquire returns a buffer able to hold capacity bytes, with length zero.
//
// A capacity different from the one remembered for the channel invalidates
// every idle buffer of that channel and always allocates.
func (p *Pool) Acquire(ch Channel, capacity int) *Buffer {
	cp := p.channel(ch)

	cp.mu.Lock()
	if cp.capacity != capacity {
		if n := len(cp.idle); n > 0 {
			cp.invalidated += uint64(n)
			slog.Debug("framepool: capacity changed, discarding idle buffers",
				"channel", ch.String(),
				"old_capacity", cp.capacity,
				"new_capacity", capacity,
				"discarded", n,
			)
		}
		clear(cp.idle)
		cp.idle = cp.idle[:0]
		cp.capacity = capacity
		cp.allocations++
		cp.mu.Unlock()
		return newBuffer(ch, capacity)
	}

	if n := len(cp.idle); n > 0 {
		buf := cp.idle[n-1]
		cp.idle[n-1] = nil
		cp.idle = cp.idle[:n-1]
		cp.reuses++
		cp.mu.Unlock()

		buf.pooled.Store(false)
		return buf
	}

	cp.allocations++
	cp.mu.Unlock()
	return newBuffer(ch, capacity)
}

// Recycle returns a buffer to its channel.
//
// The buffer is dropped when its capacity no longer matches the channel
// capacity or when the channel already holds MaxPerChannel idle buffers.
// Recycling nil or an already-recycled buffer is a no-op.
func (p *Pool) Recycle(buf *Buffer) {
	if buf == nil {
		return
	}
	if !buf.pooled.CompareAndSwap(false, true) {
		slog.Debug("framepool: buffer recycled twice, ignoring",
			"channel", buf.ch.String(),
			"capacity", buf.Cap(),
		)
		return
	}

	buf.Reset()

	cp := p.channel(buf.ch)
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if buf.Cap() != cp.capacity || len(cp.idle) >= p.max {
		cp.dropped++
		return
	}
	cp.idle = append(cp.idle, buf)
}

// Stats returns a snapshot of the channel counters.
func (p *Pool) Stats(ch Channel) Stats {
	cp := p.channel(ch)
	cp.mu.Lock()
	defer cp.mu.Unlock()

	return Stats{
		Capacity:    cp.capacity,
		Idle:        len(cp.idle),
		Allocations: cp.allocations,
		Reuses:      cp.reuses,
		Dropped:     cp.dropped,
		Invalidated: cp.invalidated,
	}
}

func (p *Pool) channel(ch Channel) *channelPool {
	if ch < 0 || ch >= numChannels {
		ch = Color
	}
	return p.channels[ch]
}

// Buffer is a pooled byte buffer with a fixed capacity.
type Buffer struct {
	ch     Channel
	data   []byte
	pooled atomic.Bool
}

func newBuffer(ch Channel, capacity int) *Buffer {
	return &Buffer{ch: ch, data: make([]byte, 0, capacity)}
}

// Channel returns the channel the buffer was acquired for.
func (b *Buffer) Channel() Channel { return b.ch }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Len returns the number of valid bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the valid bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Reset sets the length to zero.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// CopyFrom replaces the content with src, truncated to the capacity.
// Returns the number of bytes copied.
func (b *Buffer) CopyFrom(src []byte) int {
	n := len(src)
	if n > cap(b.data) {
		n = cap(b.data)
	}
	b.data = b.data[:n]
	return copy(b.data, src)
}

// Resize sets the length to n (clamped to the capacity) and returns the bytes.
// Content beyond the previous length is unspecified.
func (b *Buffer) Resize(n int) []byte {
	if n > cap(b.data) {
		n = cap(b.data)
	}
	if n < 0 {
		n = 0
	}
	b.data = b.data[:n]
	return b.data
}
