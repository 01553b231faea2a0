// Package metrics implements the fixed-size windowed rate and latency
// aggregation shared by every pipeline stage.
//
// Every stage counts units of work. When the counter reaches WindowSize the
// window closes, a value is produced and the counter restarts: sample
// WindowSize+1 is the first sample of the next window. Rates use the elapsed
// time of the window (rate = 1e9 * N / elapsedNanos); latencies average the
// durations recorded inside it (sumNanos / (1e6 * N) milliseconds). No
// exponential smoothing is applied; a value changes only when a window closes.
//
// Windows are cheap and lock-protected. The owning stage writes; any goroutine
// may read the last value.
package metrics

import (
	"math"
	"sync"
	"time"
)

// WindowSize is the number of samples per window.
const WindowSize = 30

// RateWindow computes units per second over WindowSize units.
type RateWindow struct {
	clock Clock

	mu    sync.Mutex
	count int
	start time.Time
	value float64
}

// NewRateWindow creates a rate window; the first window starts now.
func NewRateWindow(clock Clock) *RateWindow {
	if clock == nil {
		clock = RealClock{}
	}
	return &RateWindow{clock: clock, start: clock.Now()}
}

// Tick records one unit of work. When the unit closes a window the new rate
// is returned with updated=true.
func (w *RateWindow) Tick() (rate float64, updated bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.count < WindowSize {
		return w.value, false
	}

	now := w.clock.Now()
	elapsed := now.Sub(w.start)
	w.count = 0
	w.start = now

	if elapsed <= 0 {
		return w.value, false
	}
	w.value = 1e9 * float64(WindowSize) / float64(elapsed.Nanoseconds())
	return w.value, true
}

// Value returns the rate of the last closed window (0 before the first).
func (w *RateWindow) Value() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Count returns the samples recorded in the open window.
func (w *RateWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Reset zeroes the value and restarts the window now.
func (w *RateWindow) Reset() {
	w.mu.Lock()
	w.count = 0
	w.value = 0
	w.start = w.clock.Now()
	w.mu.Unlock()
}

// AvgWindow averages durations over WindowSize samples, in milliseconds.
type AvgWindow struct {
	mu    sync.Mutex
	count int
	sum   time.Duration
	value float64
}

// NewAvgWindow creates an empty average window.
func NewAvgWindow() *AvgWindow {
	return &AvgWindow{}
}

// Add records one duration. When it closes a window the new average (ms)
// is returned with updated=true.
func (w *AvgWindow) Add(d time.Duration) (avgMs float64, updated bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sum += d
	w.count++
	if w.count < WindowSize {
		return w.value, false
	}

	w.value = float64(w.sum.Nanoseconds()) / (1e6 * float64(WindowSize))
	w.sum = 0
	w.count = 0
	return w.value, true
}

// Value returns the average of the last closed window in milliseconds.
func (w *AvgWindow) Value() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Count returns the samples recorded in the open window.
func (w *AvgWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Reset zeroes the value and the open window.
func (w *AvgWindow) Reset() {
	w.mu.Lock()
	w.count = 0
	w.sum = 0
	w.value = 0
	w.mu.Unlock()
}

// Round2 rounds half-up to two decimals, the precision metric getters report.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	if v < 0 {
		return -math.Floor(-v*100+0.5) / 100
	}
	return math.Floor(v*100+0.5) / 100
}
