package posetrack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

const trackPollTimeout = 30 * time.Millisecond

// Initial tracker geometry; the first pair at another size triggers a rebuild.
const (
	initialWidth  = 640
	initialHeight = 480
)

// TrackConfig contains configuration for the track stage
type TrackConfig struct {
	// Runtime creates trackers (required)
	Runtime Runtime
	// Renderer draws results (optional)
	Renderer ResultRenderer
	// Clock drives the metric windows (default: real clock)
	Clock metrics.Clock

	Mode        TrackMode
	Skeleton    SkeletonMode
	Smoothing   float32
	Calibration streamcapture.Calibration
}

// TrackStage runs the tracker on its own worker and feeds a draw worker.
//
// Exactly one tracker is live while Running. It is rebuilt, never
// reconfigured, when the color resolution changes; the rebuild and every
// Process call hold the same lock as the settings they read.
type TrackStage struct {
	runtime  Runtime
	renderer ResultRenderer
	clock    metrics.Clock

	queue   *framebus.Mailbox[ImagePair]
	results *framebus.Mailbox[*Result]

	// Lifecycle
	lifeMu      sync.Mutex
	state       atomic.Int32
	initialized atomic.Bool
	cancel      context.CancelFunc
	trackDone   chan struct{}
	drawDone    chan struct{}

	// Tracker and the settings applied to it (guarded by mu)
	mu          sync.Mutex
	tracker     Tracker
	mode        TrackMode
	skeleton    SkeletonMode
	smoothing   float32
	calibration streamcapture.Calibration
	calibDirty  bool
	lastWidth   int
	lastHeight  int

	trackFPS  *metrics.RateWindow
	trackTime *metrics.AvgWindow
	totalTime *metrics.AvgWindow
	drawTime  *metrics.AvgWindow

	processed        atomic.Uint64
	valid            atomic.Uint64
	failed           atomic.Uint64
	rebuilds         atomic.Uint64
	startedAt        atomic.Int64
	lastProcessedAt  atomic.Int64
	lastProcessedSeq atomic.Uint64
}

// NewTrackStage creates an idle track stage
func NewTrackStage(cfg TrackConfig) (*TrackStage, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("posetrack: tracking runtime is required")
	}
	if cfg.Smoothing < MinSmoothingFactor || cfg.Smoothing > MaxSmoothingFactor {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSmoothing, cfg.Smoothing)
	}
	if cfg.Clock == nil {
		cfg.Clock = metrics.RealClock{}
	}
	if cfg.Calibration == (streamcapture.Calibration{}) {
		cfg.Calibration = streamcapture.DefaultCalibration
	}

	return &TrackStage{
		runtime:     cfg.Runtime,
		renderer:    cfg.Renderer,
		clock:       cfg.Clock,
		queue:       framebus.New[ImagePair](1, func(p ImagePair) { p.Release() }),
		results:     framebus.New[*Result](1, func(r *Result) { r.Release() }),
		mode:        cfg.Mode,
		skeleton:    cfg.Skeleton,
		smoothing:   cfg.Smoothing,
		calibration: cfg.Calibration,
		trackFPS:    metrics.NewRateWindow(cfg.Clock),
		trackTime:   metrics.NewAvgWindow(),
		totalTime:   metrics.NewAvgWindow(),
		drawTime:    metrics.NewAvgWindow(),
	}, nil
}

// InitRuntime initializes the tracking runtime. It returns false on failure;
// the rest of the pipeline keeps running without tracking.
func (s *TrackStage) InitRuntime() bool {
	if s.initialized.Load() {
		return true
	}
	if err := s.runtime.Init(); err != nil {
		slog.Error("posetrack: failed to initialize tracking runtime", "error", err)
		return false
	}
	s.initialized.Store(true)
	slog.Info("posetrack: tracking runtime initialized")
	return true
}

// ReleaseRuntime stops the stage and terminates the runtime.
func (s *TrackStage) ReleaseRuntime() {
	s.Stop()
	if !s.initialized.CompareAndSwap(true, false) {
		return
	}
	if err := s.runtime.Terminate(); err != nil {
		slog.Error("posetrack: failed to terminate tracking runtime", "error", err)
		return
	}
	slog.Info("posetrack: tracking runtime terminated")
}

// Start creates the tracker and spawns the track and draw workers.
func (s *TrackStage) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.initialized.Load() {
		return ErrTrackerUnavailable
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConfiguring)) {
		return fmt.Errorf("%w: %s", ErrNotIdle, s.State())
	}

	s.mu.Lock()
	tr, err := s.newTrackerLocked()
	if err != nil {
		s.mu.Unlock()
		s.state.Store(int32(StateIdle))
		return err
	}
	s.tracker = tr
	s.lastWidth, s.lastHeight = initialWidth, initialHeight
	s.calibDirty = false
	mode, skeleton := s.mode, s.skeleton
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.trackDone = make(chan struct{})
	s.drawDone = make(chan struct{})
	s.startedAt.Store(s.clock.Now().UnixNano())
	s.lastProcessedAt.Store(0)

	s.state.Store(int32(StateRunning))
	go s.trackLoop(ctx, s.trackDone)
	go s.drawLoop(ctx, s.drawDone)

	slog.Info("posetrack: tracking started",
		"mode", mode.String(),
		"skeleton", skeleton.String(),
	)
	return nil
}

// Stop joins the workers, releases the tracker and disposes pending images
// and results. Idempotent.
func (s *TrackStage) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}

	s.cancel()
	if !joinWorker(s.trackDone) {
		slog.Warn("posetrack: track worker did not stop in time")
	}
	if !joinWorker(s.drawDone) {
		slog.Warn("posetrack: draw worker did not stop in time")
	}
	s.cancel = nil

	// A worker that outlived the join finds no tracker and releases its pair.
	s.mu.Lock()
	if s.tracker != nil {
		if err := s.tracker.Release(); err != nil {
			slog.Error("posetrack: failed to release tracker", "error", err)
		}
		s.tracker = nil
	}
	s.mu.Unlock()

	s.queue.Purge()
	s.results.Purge()
	s.resetMetrics()

	s.state.Store(int32(StateIdle))
	slog.Info("posetrack: tracking stopped",
		"processed", s.processed.Load(),
		"valid", s.valid.Load(),
	)
}

// Submit queues an image pair for tracking (newest wins). The pair is
// released immediately when the stage is not running.
func (s *TrackStage) Submit(pair ImagePair) {
	if s.State() != StateRunning {
		pair.Release()
		return
	}
	s.queue.TryPublish(pair)
}

// State returns the lifecycle state.
func (s *TrackStage) State() State {
	return State(s.state.Load())
}

// Running reports whether the stage is tracking.
func (s *TrackStage) Running() bool {
	return s.State() == StateRunning
}

// SetTrackMode records the mode and applies it to the live tracker.
func (s *TrackStage) SetTrackMode(m TrackMode) error {
	if m != TrackSingle && m != TrackMultiple {
		return fmt.Errorf("posetrack: invalid track mode %d", m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = m
	if s.tracker != nil {
		if err := s.tracker.SetMode(m); err != nil {
			return fmt.Errorf("posetrack: set track mode: %w", err)
		}
	}
	slog.Info("posetrack: track mode set", "mode", m.String())
	return nil
}

// SetSkeletonMode records the mode used by the next Process call.
func (s *TrackStage) SetSkeletonMode(m SkeletonMode) error {
	if m != Skeleton2D && m != Skeleton3D {
		return fmt.Errorf("posetrack: invalid skeleton mode %d", m)
	}

	s.mu.Lock()
	s.skeleton = m
	s.mu.Unlock()

	slog.Info("posetrack: skeleton mode set", "skeleton", m.String())
	return nil
}

// SetSmoothingFactor records f for the next start and applies it to the
// live tracker.
func (s *TrackStage) SetSmoothingFactor(f float32) error {
	if f < MinSmoothingFactor || f > MaxSmoothingFactor {
		return fmt.Errorf("%w: %v", ErrInvalidSmoothing, f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.smoothing = f
	if s.tracker != nil {
		if err := s.tracker.SetSmoothingFactor(f); err != nil {
			return fmt.Errorf("posetrack: set smoothing factor: %w", err)
		}
	}
	return nil
}

// SetCalibration records the calibration; the live tracker receives it
// before its next Process call.
func (s *TrackStage) SetCalibration(c streamcapture.Calibration) {
	s.mu.Lock()
	s.calibration = c
	s.calibDirty = true
	s.mu.Unlock()
}

// Settings returns the recorded mode, skeleton mode and smoothing factor.
func (s *TrackStage) Settings() (TrackMode, SkeletonMode, float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.skeleton, s.smoothing
}

// TrackFPS returns the valid-result rate.
func (s *TrackStage) TrackFPS() float64 { return metrics.Round2(s.trackFPS.Value()) }

// TrackTime returns the average Process time in ms.
func (s *TrackStage) TrackTime() float64 { return metrics.Round2(s.trackTime.Value()) }

// TotalTime returns the average time of a whole track iteration in ms.
func (s *TrackStage) TotalTime() float64 { return metrics.Round2(s.totalTime.Value()) }

// DrawTime returns the average result draw time in ms.
func (s *TrackStage) DrawTime() float64 { return metrics.Round2(s.drawTime.Value()) }

func (s *TrackStage) trackLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		pair, ok := s.queue.PollContext(ctx, trackPollTimeout)
		if !ok {
			continue
		}
		s.track(pair)
	}
}

func (s *TrackStage) track(pair ImagePair) {
	start := s.clock.Now()

	s.mu.Lock()
	if s.State() != StateRunning || s.tracker == nil {
		s.mu.Unlock()
		pair.Release()
		return
	}

	if pair.Color.Width != s.lastWidth || pair.Color.Height != s.lastHeight {
		if err := s.rebuildLocked(pair.Color.Width, pair.Color.Height); err != nil {
			s.mu.Unlock()
			slog.Error("posetrack: tracker rebuild failed", "error", err)
			pair.Release()
			return
		}
	} else if s.calibDirty {
		if err := s.tracker.SetCalibration(s.calibration); err != nil {
			slog.Warn("posetrack: failed to apply calibration", "error", err)
		}
		s.calibDirty = false
	}

	depth := pair.Depth
	if s.skeleton != Skeleton3D {
		depth = nil
	}

	processStart := s.clock.Now()
	res, err := s.tracker.Process(pair.Color, depth)
	s.trackTime.Add(s.clock.Now().Sub(processStart))
	s.mu.Unlock()

	s.processed.Add(1)
	s.lastProcessedAt.Store(s.clock.Now().UnixNano())
	s.lastProcessedSeq.Store(pair.Color.Seq)
	pair.Depth.Release()

	switch {
	case err != nil:
		s.failed.Add(1)
		slog.Debug("posetrack: process failed", "error", err, "trace_id", pair.Color.TraceID)
		pair.Color.Release()
		res.Release()
	case res == nil || !res.Valid:
		pair.Color.Release()
		res.Release()
	case s.State() != StateRunning:
		pair.Color.Release()
		res.Release()
	default:
		res.Color = pair.Color
		s.valid.Add(1)
		s.trackFPS.Tick()
		s.results.TryPublish(res)
	}

	s.totalTime.Add(s.clock.Now().Sub(start))
}

func (s *TrackStage) rebuildLocked(width, height int) error {
	slog.Info("posetrack: color resolution changed, rebuilding tracker",
		"from", fmt.Sprintf("%dx%d", s.lastWidth, s.lastHeight),
		"to", fmt.Sprintf("%dx%d", width, height),
	)

	if s.tracker != nil {
		if err := s.tracker.Release(); err != nil {
			slog.Warn("posetrack: failed to release tracker", "error", err)
		}
		s.tracker = nil
	}

	tr, err := s.newTrackerLocked()
	if err != nil {
		return err
	}
	s.tracker = tr
	s.lastWidth, s.lastHeight = width, height
	s.calibDirty = false
	s.rebuilds.Add(1)
	return nil
}

// newTrackerLocked creates a tracker with calibration, mode and smoothing
// applied in that order.
func (s *TrackStage) newTrackerLocked() (Tracker, error) {
	tr, err := s.runtime.NewTracker()
	if err != nil {
		return nil, fmt.Errorf("posetrack: create tracker: %w", err)
	}

	if err := tr.SetCalibration(s.calibration); err != nil {
		tr.Release()
		return nil, fmt.Errorf("posetrack: set calibration: %w", err)
	}
	if err := tr.SetMode(s.mode); err != nil {
		tr.Release()
		return nil, fmt.Errorf("posetrack: set track mode: %w", err)
	}
	if err := tr.SetSmoothingFactor(s.smoothing); err != nil {
		tr.Release()
		return nil, fmt.Errorf("posetrack: set smoothing factor: %w", err)
	}
	return tr, nil
}

func (s *TrackStage) drawLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		res, ok := s.results.PollContext(ctx, trackPollTimeout)
		if !ok {
			continue
		}
		s.draw(res)
	}
}

func (s *TrackStage) draw(res *Result) {
	defer res.Release()

	if s.renderer == nil || !s.renderer.Enabled() {
		return
	}

	s.mu.Lock()
	calib, skeleton := s.calibration, s.skeleton
	s.mu.Unlock()

	start := s.clock.Now()
	s.renderer.DrawResult(res, calib, skeleton)
	s.drawTime.Add(s.clock.Now().Sub(start))
}

func (s *TrackStage) resetMetrics() {
	s.trackFPS.Reset()
	s.trackTime.Reset()
	s.totalTime.Reset()
	s.drawTime.Reset()
}

func joinWorker(done <-chan struct{}) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(workerJoinTimeout):
		return false
	}
}
