package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	"github.com/google/uuid"
)

const (
	captureQueueCapacity = 1
	capturePollTimeout   = 300 * time.Millisecond
	stopTimeout          = time.Second
)

// FrameHandler receives every forwarded pair and owns its buffers.
type FrameHandler func(pair FramePair)

// Config contains configuration for the capture stage
type Config struct {
	// Pool supplies frame buffers (required)
	Pool *framepool.Pool
	// Resolution is the initial color resolution
	Resolution Resolution
	// Rotation is the initial frame rotation
	Rotation Rotation
	// Flip mirrors frames horizontally after rotation
	Flip bool
	// Clock drives the metric windows (default: real clock)
	Clock metrics.Clock
	// Events receives DeviceStatus and OpenFailed notifications (optional)
	Events *framebus.Mailbox[Event]
}

// CaptureStage owns the source connection and turns frame-sets into pooled
// frame pairs.
//
// The source callback only publishes into a single-slot mailbox (newest
// wins). A dedicated worker copies, rotates and forwards. While a config
// switch is in progress incoming frame-sets are closed immediately.
type CaptureStage struct {
	pool   *framepool.Pool
	clock  metrics.Clock
	events *framebus.Mailbox[Event]

	queue   *framebus.Mailbox[*FrameSet]
	handler atomic.Pointer[FrameHandler]

	// Lifecycle (guarded by mu)
	mu          sync.Mutex
	watcher     DeviceWatcher
	src         Source
	streamCfg   StreamConfig
	resolution  Resolution
	initialized bool
	cancel      context.CancelFunc
	done        chan struct{}

	reconfiguring atomic.Bool
	streaming     atomic.Bool

	// Orientation and calibration (guarded by rotMu)
	rotMu       sync.Mutex
	rotation    Rotation
	flip        bool
	cameraParam *CameraParam
	calibration Calibration

	fps        *metrics.RateWindow
	rotateTime *metrics.AvgWindow

	seq             atomic.Uint64
	frameSets       atomic.Uint64
	forwarded       atomic.Uint64
	invalid         atomic.Uint64
	droppedReconfig atomic.Uint64
}

// NewCaptureStage creates a capture stage with fail-fast validation
func NewCaptureStage(cfg Config) (*CaptureStage, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("stream-capture: buffer pool is required")
	}
	if !cfg.Resolution.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, cfg.Resolution)
	}
	if !cfg.Rotation.Valid() {
		return nil, fmt.Errorf("stream-capture: invalid rotation %d", cfg.Rotation)
	}
	if cfg.Clock == nil {
		cfg.Clock = metrics.RealClock{}
	}

	s := &CaptureStage{
		pool:       cfg.Pool,
		clock:      cfg.Clock,
		events:     cfg.Events,
		resolution: cfg.Resolution,
		rotation:   cfg.Rotation,
		flip:       cfg.Flip,
		fps:        metrics.NewRateWindow(cfg.Clock),
		rotateTime: metrics.NewAvgWindow(),
	}
	s.queue = framebus.New[*FrameSet](captureQueueCapacity, func(fs *FrameSet) { fs.Close() })
	s.calibration = ComputeCalibration(nil, cfg.Rotation != RotateDisable)

	return s, nil
}

// SetFrameHandler registers the receiver of forwarded pairs. Without a
// handler pairs are recycled.
func (s *CaptureStage) SetFrameHandler(h FrameHandler) {
	if h == nil {
		s.handler.Store(nil)
		return
	}
	s.handler.Store(&h)
}

// Open starts watching for devices. Attach and detach are handled
// asynchronously and reported through events.
func (s *CaptureStage) Open(w DeviceWatcher) error {
	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		slog.Warn("stream-capture: device has already been opened")
		return ErrAlreadyStarted
	}
	s.watcher = w
	s.mu.Unlock()

	if err := w.Watch(s); err != nil {
		s.mu.Lock()
		s.watcher = nil
		s.mu.Unlock()
		return fmt.Errorf("stream-capture: watch devices: %w", err)
	}

	slog.Info("stream-capture: watching for devices",
		"resolution", s.Resolution().String(),
	)
	return nil
}

// Close stops streaming, releases the device and stops watching.
// Idempotent.
func (s *CaptureStage) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		slog.Debug("stream-capture: device not opened, nothing to close")
		return nil
	}

	err := w.Close()

	s.mu.Lock()
	s.stopLocked()
	s.deinitLocked()
	s.mu.Unlock()

	slog.Info("stream-capture: device closed",
		"frame_sets", s.frameSets.Load(),
		"forwarded", s.forwarded.Load(),
	)

	if err != nil {
		return fmt.Errorf("stream-capture: close watcher: %w", err)
	}
	return nil
}

// OnAttached initializes and starts the attached source. Failures are
// reported as OpenFailed and not retried.
func (s *CaptureStage) OnAttached(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src != nil {
		slog.Warn("stream-capture: device already attached, ignoring",
			"attached", s.src.Name(),
			"new", src.Name(),
		)
		return
	}

	if err := s.initLocked(src); err != nil {
		s.deinitLocked()
		s.openFailed(err)
		return
	}
	if err := s.startLocked(); err != nil {
		s.deinitLocked()
		s.openFailed(err)
		return
	}
	s.initialized = true

	slog.Info("stream-capture: device attached",
		"source", src.Name(),
		"resolution", s.resolution.String(),
	)
	s.emit(DeviceStatus{Connected: true})
}

// OnDetached stops streaming and releases the source.
func (s *CaptureStage) OnDetached() {
	s.mu.Lock()
	s.stopLocked()
	s.deinitLocked()
	s.mu.Unlock()

	slog.Info("stream-capture: device detached")
	s.emit(DeviceStatus{Connected: false})
}

// SwitchConfig changes the color resolution while streaming.
//
// Frame-sets delivered during the switch are dropped. Camera parameters and
// calibration are refreshed before frames flow again.
func (s *CaptureStage) SwitchConfig(res Resolution) error {
	if !res.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidResolution, res)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		slog.Warn("stream-capture: switch config ignored, device not initialized")
		return ErrNotInitialized
	}
	if !s.streaming.Load() {
		slog.Warn("stream-capture: switch config ignored, stream not started")
		return ErrNotStarted
	}

	s.reconfiguring.Store(true)
	defer s.reconfiguring.Store(false)

	cfg, err := s.buildStreamConfig(s.src, res)
	if err != nil {
		return err
	}
	if err := s.src.SwitchConfig(cfg); err != nil {
		return fmt.Errorf("stream-capture: switch config: %w", err)
	}

	old := s.resolution
	s.streamCfg = cfg
	s.resolution = res
	s.updateCalibration(s.src.CameraParam())

	slog.Info("stream-capture: config switched",
		"from", old.String(),
		"to", res.String(),
	)
	return nil
}

// SetRotation sets the rotation applied to subsequent frames and recomputes
// the calibration.
func (s *CaptureStage) SetRotation(r Rotation) error {
	if !r.Valid() {
		return fmt.Errorf("stream-capture: invalid rotation %d", r)
	}

	s.rotMu.Lock()
	s.rotation = r
	s.calibration = ComputeCalibration(s.cameraParam, r != RotateDisable)
	s.rotMu.Unlock()

	slog.Info("stream-capture: rotation set", "rotation", r.String())
	return nil
}

// SetFlip toggles the horizontal mirror applied after rotation.
func (s *CaptureStage) SetFlip(flip bool) {
	s.rotMu.Lock()
	s.flip = flip
	s.rotMu.Unlock()
}

// Rotation returns the current rotation.
func (s *CaptureStage) Rotation() Rotation {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()
	return s.rotation
}

// Calibration returns the calibration for the current rotation and camera
// parameters.
func (s *CaptureStage) Calibration() Calibration {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()
	return s.calibration
}

// CameraParam returns the last parameters read from the source (nil when unknown).
func (s *CaptureStage) CameraParam() *CameraParam {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()
	return s.cameraParam
}

// Resolution returns the active color resolution.
func (s *CaptureStage) Resolution() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolution
}

// Streaming reports whether a source is started.
func (s *CaptureStage) Streaming() bool {
	return s.streaming.Load()
}

// FrameRate returns the capture rate, rounded to 2 decimals.
func (s *CaptureStage) FrameRate() float64 {
	return metrics.Round2(s.fps.Value())
}

// RotateTime returns the average rotation time in ms, rounded to 2 decimals.
func (s *CaptureStage) RotateTime() float64 {
	return metrics.Round2(s.rotateTime.Value())
}

// Stats returns current capture statistics
func (s *CaptureStage) Stats() Stats {
	q := s.queue.Stats()
	return Stats{
		FrameSets:       s.frameSets.Load(),
		Forwarded:       s.forwarded.Load(),
		Invalid:         s.invalid.Load(),
		DroppedReconfig: s.droppedReconfig.Load(),
		QueueEvicted:    q.Evicted,
		FrameRate:       s.FrameRate(),
		RotateTimeMS:    s.RotateTime(),
		Resolution:      s.Resolution().String(),
		IsConnected:     s.streaming.Load(),
	}
}

func (s *CaptureStage) initLocked(src Source) error {
	// Owned from here on; deinitLocked closes it on failure.
	s.src = src

	cfg, err := s.buildStreamConfig(src, s.resolution)
	if err != nil {
		return err
	}
	s.streamCfg = cfg

	for _, opt := range []struct {
		prop  Property
		value bool
	}{
		{PropColorAutoExposurePriority, false},
		{PropColorMirror, false},
		{PropDepthMirror, false},
	} {
		if err := src.SetBool(opt.prop, opt.value); err != nil {
			if errors.Is(err, ErrPropertyUnsupported) {
				slog.Debug("stream-capture: property not supported",
					"property", opt.prop.String(),
				)
				continue
			}
			return fmt.Errorf("stream-capture: set %s: %w", opt.prop, err)
		}
	}

	if err := src.EnableFrameSync(); err != nil {
		slog.Warn("stream-capture: frame sync unavailable", "error", err)
	}
	return nil
}

func (s *CaptureStage) buildStreamConfig(src Source, res Resolution) (StreamConfig, error) {
	cfg := StreamConfig{Align: AlignD2CHardware}
	w, h := res.Dimensions()

	colorProfiles, err := src.StreamProfiles(framepool.Color)
	if err != nil {
		return cfg, fmt.Errorf("stream-capture: list color profiles: %w", err)
	}
	color, ok := FindProfile(colorProfiles, w, h, FormatRGB888, FPS)
	if !ok {
		return cfg, fmt.Errorf("%w: color %dx%d %s@%d", ErrProfileUnavailable, w, h, FormatRGB888, FPS)
	}
	cfg.EnableStream(color)

	depthProfiles, err := src.StreamProfiles(framepool.Depth)
	if err != nil {
		return cfg, fmt.Errorf("stream-capture: list depth profiles: %w", err)
	}
	depth, ok := FindProfile(depthProfiles, DepthWidth, DepthHeight, FormatY16, FPS)
	if !ok {
		return cfg, fmt.Errorf("%w: depth %dx%d %s@%d", ErrProfileUnavailable, DepthWidth, DepthHeight, FormatY16, FPS)
	}
	cfg.EnableStream(depth)

	slog.Debug("stream-capture: stream config built",
		"color", color.String(),
		"depth", depth.String(),
	)
	return cfg, nil
}

func (s *CaptureStage) startLocked() error {
	if s.streaming.Load() {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Frame-sets delivered before the worker runs wait in the mailbox.
	s.streaming.Store(true)
	if err := s.src.Start(s.streamCfg, s.onFrameSet); err != nil {
		s.streaming.Store(false)
		cancel()
		return fmt.Errorf("stream-capture: start source: %w", err)
	}

	s.cancel = cancel
	s.done = done
	go s.run(ctx, done)

	s.updateCalibration(s.src.CameraParam())
	return nil
}

func (s *CaptureStage) stopLocked() {
	if !s.streaming.CompareAndSwap(true, false) {
		return
	}

	s.cancel()
	if !waitDone(s.done, stopTimeout) {
		slog.Warn("stream-capture: stop timeout exceeded, capture worker may still be running")
	}
	s.cancel = nil
	s.done = nil

	if s.src != nil {
		if err := s.src.Stop(); err != nil {
			slog.Error("stream-capture: failed to stop source", "error", err)
		}
	}

	if n := s.queue.Purge(); n > 0 {
		slog.Debug("stream-capture: pending frame-sets closed", "count", n)
	}
	s.fps.Reset()
	s.rotateTime.Reset()
}

func (s *CaptureStage) deinitLocked() {
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			slog.Error("stream-capture: failed to close source", "error", err)
		}
		s.src = nil
	}
	s.initialized = false
	s.streamCfg = StreamConfig{}
}

// onFrameSet runs on the source goroutine and never blocks.
func (s *CaptureStage) onFrameSet(fs *FrameSet) {
	s.frameSets.Add(1)

	if s.reconfiguring.Load() {
		s.droppedReconfig.Add(1)
		fs.Close()
		return
	}
	if !s.streaming.Load() {
		fs.Close()
		return
	}
	s.queue.TryPublish(fs)
}

func (s *CaptureStage) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	slog.Debug("stream-capture: capture worker started")

	for {
		select {
		case <-ctx.Done():
			slog.Debug("stream-capture: capture worker stopped")
			return
		default:
		}

		fs, ok := s.queue.PollContext(ctx, capturePollTimeout)
		if !ok {
			continue
		}
		s.process(fs)
	}
}

func (s *CaptureStage) process(fs *FrameSet) {
	defer fs.Close()

	c, d := fs.Color, fs.Depth
	if c == nil || d == nil || c.Timestamp == 0 || d.Timestamp == 0 {
		s.invalid.Add(1)
		slog.Debug("stream-capture: incomplete frame-set, skipping",
			"color", c != nil,
			"depth", d != nil,
		)
		return
	}

	s.fps.Tick()

	seq := s.seq.Add(1)
	traceID := uuid.New().String()
	now := s.clock.Now()

	color := s.copyFrame(framepool.Color, c, seq, traceID, now)
	depth := s.copyFrame(framepool.Depth, d, seq, traceID, now)

	start := s.clock.Now()
	s.rotMu.Lock()
	if s.rotation != RotateDisable || s.flip {
		color.Transform(s.pool, s.rotation, s.flip)
		depth.Transform(s.pool, s.rotation, s.flip)
	}
	s.rotMu.Unlock()
	s.rotateTime.Add(s.clock.Now().Sub(start))

	pair := FramePair{Color: color, Depth: depth}
	h := s.handler.Load()
	if h == nil {
		pair.Recycle(s.pool)
		return
	}

	s.forwarded.Add(1)
	slog.Debug("stream-capture: pair forwarded",
		"seq", seq,
		"trace_id", traceID,
		"width", color.Width,
		"height", color.Height,
	)
	(*h)(pair)
}

func (s *CaptureStage) copyFrame(kind framepool.Channel, sf *SubFrame, seq uint64, traceID string, now time.Time) *Frame {
	buf := s.pool.Acquire(kind, len(sf.Data))
	buf.CopyFrom(sf.Data)

	return &Frame{
		Seq:        seq,
		TraceID:    traceID,
		Width:      sf.Width,
		Height:     sf.Height,
		Kind:       kind,
		Stride:     sf.Width * kind.BytesPerPixel(),
		Buffer:     buf,
		Timestamp:  sf.Timestamp,
		CapturedAt: now,
	}
}

func (s *CaptureStage) updateCalibration(param *CameraParam) {
	s.rotMu.Lock()
	s.cameraParam = param
	s.calibration = ComputeCalibration(param, s.rotation != RotateDisable)
	s.rotMu.Unlock()
}

func (s *CaptureStage) openFailed(err error) {
	slog.Error("stream-capture: failed to open device", "error", err)
	s.emit(OpenFailed{Message: err.Error()})
}

func (s *CaptureStage) emit(ev Event) {
	if s.events != nil {
		s.events.TryPublish(ev)
	}
}

// waitDone waits for done to close, up to timeout. Returns false on timeout.
func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
