package metrics

import (
	"math"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateWindow_ExactWindow(t *testing.T) {
	clock := NewMockClock(time.Unix(1000, 0))
	w := NewRateWindow(clock)

	const interval = 33 * time.Millisecond

	for i := 1; i < WindowSize; i++ {
		clock.Advance(interval)
		_, updated := w.Tick()
		require.False(t, updated, "window closed early at sample %d", i)
	}

	clock.Advance(interval)
	rate, updated := w.Tick()
	require.True(t, updated)

	elapsed := float64((WindowSize * interval).Nanoseconds())
	assert.InDelta(t, 1e9*WindowSize/elapsed, rate, 1e-9)
	assert.Equal(t, 0, w.Count())

	// Sample 31 starts a fresh window at 1, not 31.
	clock.Advance(interval)
	_, updated = w.Tick()
	assert.False(t, updated)
	assert.Equal(t, 1, w.Count())
}

// Property: for any positive spacing the closed-window rate is 1e9*N/elapsed.
func TestRateWindow_Property(t *testing.T) {
	property := func(spacingMicros uint16) bool {
		spacing := time.Duration(int(spacingMicros)+1) * time.Microsecond
		clock := NewMockClock(time.Unix(0, 0))
		w := NewRateWindow(clock)

		var rate float64
		for i := 0; i < WindowSize; i++ {
			clock.Advance(spacing)
			rate, _ = w.Tick()
		}

		want := 1e9 * WindowSize / float64((WindowSize * spacing).Nanoseconds())
		return math.Abs(rate-want) <= want*1e-12
	}

	if err := quick.Check(property, nil); err != nil {
		t.Fatal(err)
	}
}

func TestRateWindow_ZeroElapsedKeepsValue(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	w := NewRateWindow(clock)

	for i := 0; i < WindowSize; i++ {
		w.Tick()
	}

	assert.Equal(t, 0.0, w.Value(), "no time elapsed, value must stay finite")
}

func TestRateWindow_Reset(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	w := NewRateWindow(clock)

	for i := 0; i < WindowSize; i++ {
		clock.Advance(time.Millisecond)
		w.Tick()
	}
	require.NotZero(t, w.Value())

	w.Reset()
	assert.Zero(t, w.Value())
	assert.Zero(t, w.Count())
}

func TestAvgWindow(t *testing.T) {
	w := NewAvgWindow()

	// A full window of 2ms samples averages to 2ms.
	for i := 1; i < WindowSize; i++ {
		_, updated := w.Add(2 * time.Millisecond)
		require.False(t, updated)
	}
	avg, updated := w.Add(2 * time.Millisecond)
	require.True(t, updated)
	assert.InDelta(t, 2.0, avg, 1e-9)

	// Next window mixes durations: sum / (1e6 * 30).
	var sum time.Duration
	for i := 0; i < WindowSize; i++ {
		d := time.Duration(i) * 100 * time.Microsecond
		sum += d
		avg, _ = w.Add(d)
	}
	assert.InDelta(t, float64(sum.Nanoseconds())/(1e6*WindowSize), avg, 1e-9)

	w.Reset()
	assert.Zero(t, w.Value())
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{2.125, 2.13},
		{0.375, 0.38},
		{29.994, 29.99},
		{29.996, 30.0},
		{12.3456, 12.35},
		{-2.125, -2.13},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, Round2(tt.in), 1e-9, "Round2(%v)", tt.in)
	}
}

func TestTrackInfoRounded(t *testing.T) {
	info := TrackInfo{FrameRate: 29.996, TrackTime: 12.344}.Rounded()

	assert.Equal(t, 30.0, info.FrameRate)
	assert.Equal(t, 12.34, info.TrackTime)
	assert.Contains(t, info.String(), "frame=30.00fps")
}
