package posetrack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

const (
	imagePollTimeout  = 30 * time.Millisecond
	workerJoinTimeout = 100 * time.Millisecond
)

// ImageSink receives image pairs and owns them from then on.
type ImageSink interface {
	Submit(pair ImagePair)
}

// ImageStageConfig contains configuration for the image stage
type ImageStageConfig struct {
	// Pool receives the frame buffers back (required)
	Pool *framepool.Pool
	// Sink receives image pairs while tracking is enabled
	Sink ImageSink
	// Renderer is the direct path while tracking is disabled (optional)
	Renderer FrameRenderer
	// Clock drives the create-time window (default: real clock)
	Clock metrics.Clock
}

// ImageStage converts frame pairs into tracker images, or hands color frames
// straight to the renderer when tracking is off.
type ImageStage struct {
	pool     *framepool.Pool
	sink     ImageSink
	renderer FrameRenderer
	clock    metrics.Clock

	frames    *framebus.Mailbox[streamcapture.FramePair]
	tracking  atomic.Bool
	depthView atomic.Bool

	createTime *metrics.AvgWindow

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	converted atomic.Uint64
	direct    atomic.Uint64
}

// NewImageStage creates an image stage
func NewImageStage(cfg ImageStageConfig) (*ImageStage, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("posetrack: buffer pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = metrics.RealClock{}
	}

	pool := cfg.Pool
	return &ImageStage{
		pool:       pool,
		sink:       cfg.Sink,
		renderer:   cfg.Renderer,
		clock:      cfg.Clock,
		frames:     framebus.New[streamcapture.FramePair](1, func(p streamcapture.FramePair) { p.Recycle(pool) }),
		createTime: metrics.NewAvgWindow(),
	}, nil
}

// SetTracking switches between the tracking and the direct render path.
func (s *ImageStage) SetTracking(enabled bool) {
	s.tracking.Store(enabled)
}

// Tracking reports whether frames go to the tracker.
func (s *ImageStage) Tracking() bool {
	return s.tracking.Load()
}

// SetDepthView makes the direct render path show the depth frame instead
// of the color frame.
func (s *ImageStage) SetDepthView(enabled bool) {
	s.depthView.Store(enabled)
}

// Update publishes a pair; a pair still waiting is recycled. Never blocks.
func (s *ImageStage) Update(pair streamcapture.FramePair) {
	s.frames.TryPublish(pair)
}

// Start spawns the image worker.
func (s *ImageStage) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("posetrack: image stage already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	slog.Debug("posetrack: image stage started")
	return nil
}

// Stop joins the worker and recycles the pending pair. Idempotent.
func (s *ImageStage) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(workerJoinTimeout):
		slog.Warn("posetrack: image worker did not stop in time")
	}
	s.cancel = nil
	s.done = nil

	s.frames.Purge()
	s.createTime.Reset()

	slog.Debug("posetrack: image stage stopped",
		"converted", s.converted.Load(),
		"direct", s.direct.Load(),
	)
}

// ImgCreateTime returns the average image creation time in ms.
func (s *ImageStage) ImgCreateTime() float64 {
	return metrics.Round2(s.createTime.Value())
}

// Evicted returns how many pairs were replaced before the worker took them.
func (s *ImageStage) Evicted() uint64 {
	return s.frames.Stats().Evicted
}

func (s *ImageStage) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		pair, ok := s.frames.PollContext(ctx, imagePollTimeout)
		if !ok {
			continue
		}
		s.process(pair)
	}
}

func (s *ImageStage) process(pair streamcapture.FramePair) {
	if s.tracking.Load() && s.sink != nil {
		start := s.clock.Now()
		images := ImagePair{
			Color: NewImageFromFrame(pair.Color),
			Depth: NewImageFromFrame(pair.Depth),
		}
		s.createTime.Add(s.clock.Now().Sub(start))

		pair.Recycle(s.pool)
		s.converted.Add(1)
		s.sink.Submit(images)
		return
	}

	if s.renderer != nil && s.renderer.Enabled() {
		s.direct.Add(1)
		if s.depthView.Load() {
			s.renderer.DrawFrame(pair.Depth)
			pair.Color.Recycle(s.pool)
			return
		}
		s.renderer.DrawFrame(pair.Color)
	} else {
		pair.Color.Recycle(s.pool)
	}
	pair.Depth.Recycle(s.pool)
}
