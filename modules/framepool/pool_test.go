package framepool

import (
	"sync"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReusesRecycledBuffer(t *testing.T) {
	pool := New(Config{})

	first := pool.Acquire(Color, 1024)
	first.CopyFrom([]byte("stale content"))
	pool.Recycle(first)

	second := pool.Acquire(Color, 1024)
	require.Same(t, first, second, "expected the idle buffer to be handed out again")
	assert.Equal(t, 0, second.Len(), "recycled buffer must come back empty")

	stats := pool.Stats(Color)
	assert.Equal(t, uint64(1), stats.Allocations)
	assert.Equal(t, uint64(1), stats.Reuses)
}

func TestCapacityChangeInvalidatesChannel(t *testing.T) {
	pool := New(Config{})

	const c1, c2 = 640 * 480 * 3, 1280 * 720 * 3

	old := make([]*Buffer, 3)
	for i := range old {
		old[i] = pool.Acquire(Color, c1)
	}
	for _, b := range old {
		pool.Recycle(b)
	}
	require.Equal(t, 3, pool.Stats(Color).Idle)

	inFlight := pool.Acquire(Color, c1)

	fresh := pool.Acquire(Color, c2)
	assert.Equal(t, c2, fresh.Cap())
	assert.Equal(t, 0, pool.Stats(Color).Idle, "no C1 buffer may survive a capacity change")
	assert.Equal(t, uint64(2), pool.Stats(Color).Invalidated)

	// A C1 buffer still owned by a stage is dropped when it comes back late.
	pool.Recycle(inFlight)
	assert.Equal(t, 0, pool.Stats(Color).Idle)

	for i := 0; i < 10; i++ {
		b := pool.Acquire(Color, c2)
		assert.Equal(t, c2, b.Cap(), "acquire %d returned a stale capacity", i)
		pool.Recycle(b)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	pool := New(Config{})

	pool.Recycle(pool.Acquire(Color, 300))
	pool.Recycle(pool.Acquire(Depth, 200))

	pool.Acquire(Depth, 400)

	assert.Equal(t, 1, pool.Stats(Color).Idle, "depth capacity change must not touch color")
	assert.Equal(t, 0, pool.Stats(Depth).Idle)
}

func TestRecycleTwiceIsIgnored(t *testing.T) {
	pool := New(Config{})

	b := pool.Acquire(Depth, 64)
	pool.Recycle(b)
	pool.Recycle(b)

	assert.Equal(t, 1, pool.Stats(Depth).Idle)
}

// Property: however many buffers are recycled, the pool never holds more than the bound.
func TestPoolBound_Property(t *testing.T) {
	property := func(n uint8, maxIdle uint8) bool {
		max := int(maxIdle%8) + 1
		pool := New(Config{MaxPerChannel: max})

		bufs := make([]*Buffer, int(n))
		for i := range bufs {
			bufs[i] = pool.Acquire(Color, 32)
		}
		for _, b := range bufs {
			pool.Recycle(b)
		}

		idle := pool.Stats(Color).Idle
		want := int(n)
		if want > max {
			want = max
		}
		return idle == want
	}

	if err := quick.Check(property, nil); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultBoundIsFive(t *testing.T) {
	pool := New(Config{})

	bufs := make([]*Buffer, 8)
	for i := range bufs {
		bufs[i] = pool.Acquire(Color, 16)
	}
	for _, b := range bufs {
		pool.Recycle(b)
	}

	stats := pool.Stats(Color)
	assert.Equal(t, DefaultMaxPerChannel, stats.Idle)
	assert.Equal(t, uint64(3), stats.Dropped)
}

func TestConcurrentAcquireRecycle(t *testing.T) {
	pool := New(Config{})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ch := Channel(g % 2)
			for i := 0; i < 500; i++ {
				b := pool.Acquire(ch, 128)
				b.CopyFrom([]byte{byte(i)})
				pool.Recycle(b)
			}
		}(g)
	}
	wg.Wait()

	for _, ch := range []Channel{Color, Depth} {
		assert.LessOrEqual(t, pool.Stats(ch).Idle, DefaultMaxPerChannel)
	}
	t.Logf("✅ color=%+v depth=%+v", pool.Stats(Color), pool.Stats(Depth))
}

func TestBufferCopyFromTruncates(t *testing.T) {
	b := newBuffer(Color, 4)
	n := b.CopyFrom([]byte{1, 2, 3, 4, 5, 6})

	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Bytes())
}
