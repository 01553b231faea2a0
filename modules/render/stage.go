package render

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

const (
	renderPollTimeout = 30 * time.Millisecond
	workerJoinTimeout = 100 * time.Millisecond
)

// Config contains configuration for the render stage
type Config struct {
	// Pool supplies the buffers results are drawn into (required)
	Pool *framepool.Pool
	// Sink displays the surfaces (required)
	Sink Sink
	// Clock drives the render fps window (default: real clock)
	Clock metrics.Clock
	// Disabled starts the stage with rendering off
	Disabled bool
}

// job is a frame to show and the pool its buffer returns to.
type job struct {
	frame *streamcapture.Frame
	pool  *framepool.Pool
}

func (j job) dispose() {
	if j.frame != nil {
		j.frame.Recycle(j.pool)
	}
}

// Stage draws frames and tracking results and hands them to a Sink on its
// own worker. Every successful draw submits exactly one render; a render
// still waiting when the next one arrives is dropped.
//
// Stage implements posetrack.FrameRenderer and posetrack.ResultRenderer.
type Stage struct {
	pool  *framepool.Pool
	views *framepool.Pool
	sink  Sink
	clock metrics.Clock

	jobs    *framebus.Mailbox[job]
	enabled atomic.Bool

	// Size of the last submitted surface, used to blank the output
	lastWidth  atomic.Int64
	lastHeight atomic.Int64
	// Blank output size requested by SetEnabled(false), taken by the worker
	pendingClear atomic.Pointer[image.Point]

	// Drawing helpers (guarded by drawMu)
	drawMu   sync.Mutex
	overlay  *Overlay
	colormap *DepthColormap

	fps *metrics.RateWindow

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	rendered atomic.Uint64
	failed   atomic.Uint64
}

var (
	_ posetrack.FrameRenderer  = (*Stage)(nil)
	_ posetrack.ResultRenderer = (*Stage)(nil)
)

// NewStage creates a render stage
func NewStage(cfg Config) (*Stage, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("render: buffer pool is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("render: sink is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = metrics.RealClock{}
	}

	s := &Stage{
		pool: cfg.Pool,
		// Depth views are RGB at the depth resolution; a separate pool keeps
		// them from invalidating the color buffers.
		views:    framepool.New(framepool.Config{MaxPerChannel: 2}),
		sink:     cfg.Sink,
		clock:    cfg.Clock,
		jobs:     framebus.New[job](1, job.dispose),
		overlay:  NewOverlay(),
		colormap: NewDepthColormap(),
		fps:      metrics.NewRateWindow(cfg.Clock),
	}
	s.enabled.Store(!cfg.Disabled)
	return s, nil
}

// Enabled reports whether drawing is on.
func (s *Stage) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled turns drawing on or off. Turning it off drops the pending
// render, blanks the output at the last size and resets the render fps.
func (s *Stage) SetEnabled(enabled bool) {
	if !s.enabled.CompareAndSwap(!enabled, enabled) {
		return
	}
	slog.Info("render: rendering toggled", "enabled", enabled)
	if enabled {
		return
	}

	s.jobs.Purge()
	s.fps.Reset()
	if w, h := int(s.lastWidth.Load()), int(s.lastHeight.Load()); w > 0 && h > 0 {
		s.pendingClear.Store(&image.Point{X: w, Y: h})
	}
}

// DrawFrame renders a captured frame without overlay. Color rows are
// compacted in place; depth frames are drawn through the histogram colormap.
// The stage owns f from here on.
func (s *Stage) DrawFrame(f *streamcapture.Frame) {
	if f == nil || f.Buffer == nil {
		return
	}
	if !s.Enabled() {
		f.Recycle(s.pool)
		return
	}

	if f.Kind == framepool.Depth {
		s.drawDepth(f)
		return
	}

	pix, err := FilterByStride(f.Data(), f.Width, f.Height, f.Stride, 3)
	if err != nil {
		slog.Debug("render: dropping frame", "error", err, "trace_id", f.TraceID)
		f.Recycle(s.pool)
		return
	}
	f.Buffer.Resize(len(pix))
	f.Stride = f.Width * 3
	s.submit(f, s.pool)
}

func (s *Stage) drawDepth(f *streamcapture.Frame) {
	size := f.Width * f.Height * 3
	buf := s.views.Acquire(framepool.Color, size)
	dst := buf.Resize(size)

	s.drawMu.Lock()
	s.colormap.ApplyRGB(dst, f.Data(), f.Width, f.Height, f.Stride)
	s.drawMu.Unlock()

	view := &streamcapture.Frame{
		Seq:        f.Seq,
		TraceID:    f.TraceID,
		Width:      f.Width,
		Height:     f.Height,
		Kind:       framepool.Color,
		Stride:     f.Width * 3,
		Buffer:     buf,
		Timestamp:  f.Timestamp,
		CapturedAt: f.CapturedAt,
	}
	f.Recycle(s.pool)
	s.submit(view, s.views)
}

// DrawResult copies the result's color image, draws the skeletons of mode
// on it and submits it. The caller keeps ownership of res.
func (s *Stage) DrawResult(res *posetrack.Result, calib streamcapture.Calibration, mode posetrack.SkeletonMode) {
	if res == nil || res.Color == nil || res.Color.Released() || !s.Enabled() {
		return
	}
	img := res.Color
	row := img.Width * 3
	if img.Stride < row || len(img.Data) < img.Stride*(img.Height-1)+row {
		slog.Debug("render: result image too small", "trace_id", img.TraceID)
		return
	}

	buf := s.pool.Acquire(framepool.Color, row*img.Height)
	dst := buf.Resize(row * img.Height)
	for y := 0; y < img.Height; y++ {
		copy(dst[y*row:(y+1)*row], img.Data[y*img.Stride:])
	}

	canvas := NewRGB(dst, img.Width, img.Height, row)
	s.drawMu.Lock()
	if mode == posetrack.Skeleton3D {
		s.overlay.Draw3D(canvas, res.DepthBodies, calib)
	} else {
		s.overlay.Draw2D(canvas, res.ColorBodies)
	}
	s.drawMu.Unlock()

	s.submit(&streamcapture.Frame{
		Seq:       img.Seq,
		TraceID:   img.TraceID,
		Width:     img.Width,
		Height:    img.Height,
		Kind:      framepool.Color,
		Stride:    row,
		Buffer:    buf,
		Timestamp: img.Timestamp,
	}, s.pool)
}

func (s *Stage) submit(f *streamcapture.Frame, pool *framepool.Pool) {
	s.lastWidth.Store(int64(f.Width))
	s.lastHeight.Store(int64(f.Height))
	s.jobs.TryPublish(job{frame: f, pool: pool})
}

// Start spawns the render worker.
func (s *Stage) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("render: stage already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	slog.Debug("render: stage started")
	return nil
}

// Stop joins the worker and drops the pending render. Idempotent.
func (s *Stage) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(workerJoinTimeout):
		slog.Warn("render: worker did not stop in time")
	}
	s.cancel = nil
	s.done = nil

	s.jobs.Purge()
	s.fps.Reset()

	slog.Debug("render: stage stopped",
		"rendered", s.rendered.Load(),
		"failed", s.failed.Load(),
	)
}

// RenderFPS returns the render rate.
func (s *Stage) RenderFPS() float64 {
	return metrics.Round2(s.fps.Value())
}

// Rendered returns how many surfaces the sink accepted.
func (s *Stage) Rendered() uint64 { return s.rendered.Load() }

// Failed returns how many surfaces the sink rejected.
func (s *Stage) Failed() uint64 { return s.failed.Load() }

// Evicted returns how many renders were replaced before the worker took them.
func (s *Stage) Evicted() uint64 { return s.jobs.Stats().Evicted }

func (s *Stage) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		j, ok := s.jobs.PollContext(ctx, renderPollTimeout)
		if ok {
			s.render(j)
		}
		if size := s.pendingClear.Swap(nil); size != nil {
			if err := s.sink.Clear(size.X, size.Y); err != nil {
				slog.Warn("render: clear failed", "error", err)
			}
		}
	}
}

func (s *Stage) render(j job) {
	defer j.dispose()

	// A disable that raced the submit wins.
	if !s.Enabled() {
		return
	}

	f := j.frame
	err := s.sink.Render(Surface{
		Pix:     f.Data(),
		Width:   f.Width,
		Height:  f.Height,
		Seq:     f.Seq,
		TraceID: f.TraceID,
	})
	if err != nil {
		s.failed.Add(1)
		slog.Debug("render: sink rejected surface", "error", err, "trace_id", f.TraceID)
		return
	}
	s.rendered.Add(1)
	s.fps.Tick()
}
