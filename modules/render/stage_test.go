package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink keeps a copy of every surface it is given.
type recordingSink struct {
	mu       sync.Mutex
	surfaces []Surface
	clears   [][2]int
}

func (r *recordingSink) Render(s Surface) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Pix = append([]byte(nil), s.Pix...)
	r.surfaces = append(r.surfaces, s)
	return nil
}

func (r *recordingSink) Clear(w, h int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears = append(r.clears, [2]int{w, h})
	return nil
}

func (r *recordingSink) count() (surfaces, clears int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.surfaces), len(r.clears)
}

func (r *recordingSink) last() Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces[len(r.surfaces)-1]
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func newStage(t *testing.T, cfg Config) *Stage {
	t.Helper()
	stage, err := NewStage(cfg)
	require.NoError(t, err)
	require.NoError(t, stage.Start(context.Background()))
	t.Cleanup(stage.Stop)
	return stage
}

// colorFrame builds a w x h color frame with rows padded to stride.
func colorFrame(pool *framepool.Pool, w, h, stride int, seq uint64) *streamcapture.Frame {
	buf := pool.Acquire(framepool.Color, stride*h)
	data := buf.Resize(stride * h)
	for y := 0; y < h; y++ {
		for x := 0; x < stride; x++ {
			if x < w*3 {
				data[y*stride+x] = byte(y*w*3 + x + 1)
			} else {
				data[y*stride+x] = 0xEE
			}
		}
	}
	return &streamcapture.Frame{
		Seq: seq, TraceID: "trace", Width: w, Height: h,
		Kind: framepool.Color, Stride: stride, Buffer: buf, Timestamp: seq,
	}
}

func TestNewStage_FailFast(t *testing.T) {
	_, err := NewStage(Config{Sink: &recordingSink{}})
	assert.Error(t, err, "pool required")

	_, err = NewStage(Config{Pool: framepool.New(framepool.Config{})})
	assert.Error(t, err, "sink required")
}

func TestStage_DrawFrameCompactsStride(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	stage := newStage(t, Config{Pool: pool, Sink: sink})

	stage.DrawFrame(colorFrame(pool, 2, 2, 8, 5))

	eventually(t, func() bool { n, _ := sink.count(); return n == 1 }, "surface not rendered")
	s := sink.last()
	assert.Equal(t, 2, s.Width)
	assert.Equal(t, 2, s.Height)
	assert.Equal(t, uint64(5), s.Seq)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, s.Pix)

	eventually(t, func() bool { return pool.Stats(framepool.Color).Idle == 1 }, "frame buffer not recycled")
	assert.Equal(t, uint64(1), stage.Rendered())
}

func TestStage_DisabledRecyclesWithoutRendering(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	stage := newStage(t, Config{Pool: pool, Sink: sink, Disabled: true})
	assert.False(t, stage.Enabled())

	stage.DrawFrame(colorFrame(pool, 2, 2, 6, 1))

	assert.Equal(t, 1, pool.Stats(framepool.Color).Idle, "recycled synchronously")
	time.Sleep(3 * renderPollTimeout)
	n, clears := sink.count()
	assert.Zero(t, n)
	assert.Zero(t, clears)
}

func TestStage_DisableClearsAtLastSize(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	stage := newStage(t, Config{Pool: pool, Sink: sink})

	stage.DrawFrame(colorFrame(pool, 4, 3, 12, 1))
	eventually(t, func() bool { n, _ := sink.count(); return n == 1 }, "surface not rendered")

	stage.SetEnabled(false)
	stage.SetEnabled(false)

	eventually(t, func() bool { _, c := sink.count(); return c == 1 }, "output not cleared")
	sink.mu.Lock()
	assert.Equal(t, [2]int{4, 3}, sink.clears[0])
	sink.mu.Unlock()
	assert.Zero(t, stage.RenderFPS())

	stage.SetEnabled(true)
	assert.True(t, stage.Enabled())
}

func TestStage_RenderFPS(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	clock := metrics.NewMockClock(time.Unix(1000, 0))
	stage := newStage(t, Config{Pool: pool, Sink: sink, Clock: clock})

	clock.Advance(time.Second)
	for i := 1; i <= metrics.WindowSize; i++ {
		stage.DrawFrame(colorFrame(pool, 2, 2, 6, uint64(i)))
		want := uint64(i)
		eventually(t, func() bool { return stage.Rendered() == want }, "render stalled")
	}

	assert.Equal(t, 30.0, stage.RenderFPS())

	stage.SetEnabled(false)
	assert.Zero(t, stage.RenderFPS(), "disabling resets the render fps")
	t.Logf("✅ 30 renders in 1s → 30 fps")
}

func TestStage_DrawFrameDepthView(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	stage := newStage(t, Config{Pool: pool, Sink: sink})

	buf := pool.Acquire(framepool.Depth, 4)
	buf.CopyFrom(depthBytes(100, 0))
	stage.DrawFrame(&streamcapture.Frame{
		Seq: 3, Width: 2, Height: 1, Kind: framepool.Depth, Stride: 4, Buffer: buf, Timestamp: 3,
	})

	eventually(t, func() bool { n, _ := sink.count(); return n == 1 }, "depth view not rendered")
	s := sink.last()
	// A single valid sample has cdf 1, so it maps to 0 like the missing one.
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, s.Pix)
	assert.Equal(t, 1, pool.Stats(framepool.Depth).Idle, "depth frame recycled")
	assert.Zero(t, pool.Stats(framepool.Color).Allocations, "views use their own buffers")
}

func TestStage_DrawResult(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	stage := newStage(t, Config{Pool: pool, Sink: sink})

	const w, h = 640, 480
	// Padded rows to exercise the copy.
	stride := w*3 + 16
	color := posetrack.NewImage(posetrack.FormatRGB888, w, h, stride, make([]byte, stride*h), nil)
	color.Seq = 11

	res := &posetrack.Result{
		Valid: true,
		Color: color,
		ColorBodies: []posetrack.Body{body(2, map[int]posetrack.Joint{
			JointNeck: {X: 100, Y: 100},
			2:         {X: 100, Y: 200},
		})},
	}

	stage.DrawResult(res, streamcapture.DefaultCalibration, posetrack.Skeleton2D)
	assert.False(t, color.Released(), "caller keeps the result")

	eventually(t, func() bool { n, _ := sink.count(); return n == 1 }, "result not rendered")
	s := sink.last()
	assert.Equal(t, uint64(11), s.Seq)
	require.Len(t, s.Pix, w*h*3)
	assertColor(t, LineColors[2], s.Image().RGBAAt(100, 150), "skeleton drawn on the copy")
	assert.Zero(t, color.Data[150*stride+100*3], "source image untouched")

	res.Release()
}

func TestStage_DrawResultSkipsWhenDisabled(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	stage := newStage(t, Config{Pool: pool, Sink: sink, Disabled: true})

	img := posetrack.NewImage(posetrack.FormatRGB888, 2, 2, 6, make([]byte, 12), nil)
	stage.DrawResult(&posetrack.Result{Valid: true, Color: img}, streamcapture.DefaultCalibration, posetrack.Skeleton2D)
	stage.DrawResult(nil, streamcapture.DefaultCalibration, posetrack.Skeleton2D)

	assert.Zero(t, pool.Stats(framepool.Color).Allocations)
}

func TestStage_StopDropsPending(t *testing.T) {
	pool := framepool.New(framepool.Config{})
	sink := &recordingSink{}
	stage, err := NewStage(Config{Pool: pool, Sink: sink})
	require.NoError(t, err)

	// No worker: the second frame evicts the first.
	stage.DrawFrame(colorFrame(pool, 2, 2, 6, 1))
	stage.DrawFrame(colorFrame(pool, 2, 2, 6, 2))
	assert.Equal(t, uint64(1), stage.Evicted())

	require.NoError(t, stage.Start(context.Background()))
	assert.Error(t, stage.Start(context.Background()), "double start")
	eventually(t, func() bool { return stage.Rendered() == 1 }, "pending render lost")
	stage.Stop()
	stage.Stop()

	assert.Equal(t, uint64(2), sink.last().Seq, "newest render wins")
	assert.Equal(t, 2, pool.Stats(framepool.Color).Idle)
}
