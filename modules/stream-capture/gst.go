package streamcapture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	"github.com/e7canasta/orion-care-sensor/modules/stream-capture/internal/backoff"
	gstpipe "github.com/e7canasta/orion-care-sensor/modules/stream-capture/internal/gst"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstConfig contains configuration for GStreamer capture
type GstConfig struct {
	// ColorSource is a launch fragment producing raw color video (required)
	ColorSource string
	// DepthSource is a launch fragment producing 16-bit depth (required)
	DepthSource string
	// Intrinsics are reported by CameraParam; nil means unknown
	Intrinsics *CameraParam
	// Reconnect controls re-attaching after a pipeline failure
	Reconnect ReconnectConfig
}

// GstSource implements Source with a two-branch GStreamer pipeline.
//
// Color and depth arrive on separate appsinks. Each color buffer is paired
// with the latest depth buffer; with frame sync enabled a depth buffer is
// used at most once.
type GstSource struct {
	cfg       GstConfig
	onPlaying func()

	mu        sync.Mutex
	elements  *gstpipe.PipelineElements
	streamCfg StreamConfig
	colorCtx  *gstpipe.CallbackContext
	depthCtx  *gstpipe.CallbackContext
	mirror    map[Property]bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   time.Time

	// Callback gate: running is checked under cbMu.RLock; Stop flips it and
	// takes the write lock once so no callback is in flight afterwards.
	cbMu    sync.RWMutex
	running atomic.Bool
	cb      FrameSetCallback

	frameSync   atomic.Bool
	pairMu      sync.Mutex
	latestDepth *SubFrame

	samples   uint64
	bytesRead uint64
	errors    gstpipe.ErrorCounters

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

func newGstSource(cfg GstConfig, onPlaying func()) *GstSource {
	return &GstSource{
		cfg:       cfg,
		onPlaying: onPlaying,
		mirror:    make(map[Property]bool),
		done:      make(chan struct{}),
	}
}

// Name identifies the source in logs
func (s *GstSource) Name() string { return "gst" }

// StreamProfiles lists every ResolutionList entry for color and VGA for
// depth; the pipeline scales to whatever is requested.
func (s *GstSource) StreamProfiles(kind framepool.Channel) ([]StreamProfile, error) {
	if kind == framepool.Depth {
		return []StreamProfile{{Kind: framepool.Depth, Width: DepthWidth, Height: DepthHeight, Format: FormatY16, FPS: FPS}}, nil
	}
	profiles := make([]StreamProfile, 0, len(ResolutionList))
	for _, wh := range ResolutionList {
		profiles = append(profiles, StreamProfile{Kind: framepool.Color, Width: wh[0], Height: wh[1], Format: FormatRGB888, FPS: FPS})
	}
	return profiles, nil
}

// Start creates the pipeline and sets it PLAYING
func (s *GstSource) Start(cfg StreamConfig, cb FrameSetCallback) error {
	if cfg.Color == nil || cfg.Depth == nil {
		return fmt.Errorf("stream-capture: gst source needs color and depth streams")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.elements != nil {
		return ErrAlreadyStarted
	}

	elements, err := gstpipe.CreatePipeline(gstpipe.PipelineConfig{
		ColorSource: s.cfg.ColorSource,
		DepthSource: s.cfg.DepthSource,
		ColorWidth:  cfg.Color.Width,
		ColorHeight: cfg.Color.Height,
		DepthWidth:  cfg.Depth.Width,
		DepthHeight: cfg.Depth.Height,
		FPS:         cfg.Color.FPS,
	})
	if err != nil {
		return fmt.Errorf("stream-capture: failed to create pipeline: %w", err)
	}

	s.colorCtx = &gstpipe.CallbackContext{Samples: &s.samples, BytesRead: &s.bytesRead, OnSample: s.onColor}
	s.colorCtx.SetSize(cfg.Color.Width, cfg.Color.Height)
	s.depthCtx = &gstpipe.CallbackContext{Samples: &s.samples, BytesRead: &s.bytesRead, OnSample: s.onDepth}
	s.depthCtx.SetSize(cfg.Depth.Width, cfg.Depth.Height)

	colorCtx, depthCtx := s.colorCtx, s.depthCtx
	elements.ColorSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return gstpipe.OnNewSample(sink, colorCtx, FormatRGB888.BytesPerPixel())
		},
	})
	elements.DepthSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return gstpipe.OnNewSample(sink, depthCtx, FormatY16.BytesPerPixel())
		},
	})

	for prop, v := range s.mirror {
		s.applyMirror(elements, prop, v)
	}

	s.cbMu.Lock()
	s.cb = cb
	s.cbMu.Unlock()
	s.running.Store(true)
	s.started = time.Now()

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		s.running.Store(false)
		_ = gstpipe.DestroyPipeline(elements)
		return fmt.Errorf("stream-capture: failed to start pipeline: %w", err)
	}

	s.elements = elements
	s.streamCfg = cfg

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := gstpipe.MonitorPipelineBus(ctx, elements.Pipeline, &s.errors, s.onPlaying); err != nil {
			s.finish(err)
		}
	}()

	slog.Info("stream-capture: gst source started",
		"color", cfg.Color.String(),
		"depth", cfg.Depth.String(),
	)
	return nil
}

// Stop sets the pipeline to NULL. No callback runs after Stop returns.
func (s *GstSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.elements == nil {
		return nil
	}

	s.running.Store(false)
	s.cbMu.Lock()
	s.cb = nil
	s.cbMu.Unlock()

	s.cancel()
	err := gstpipe.DestroyPipeline(s.elements)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("stream-capture: gst monitor did not stop in time")
	}

	slog.Info("stream-capture: gst source stopped",
		"samples", atomic.LoadUint64(&s.samples),
		"bytes_read", atomic.LoadUint64(&s.bytesRead),
		"uptime", time.Since(s.started),
	)

	s.elements = nil
	s.pairMu.Lock()
	s.latestDepth = nil
	s.pairMu.Unlock()
	return err
}

// SwitchConfig updates both capsfilters in place.
func (s *GstSource) SwitchConfig(cfg StreamConfig) error {
	if cfg.Color == nil || cfg.Depth == nil {
		return fmt.Errorf("stream-capture: gst source needs color and depth streams")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.elements == nil {
		return ErrNotStarted
	}

	if err := gstpipe.UpdateCaps(s.elements.ColorCaps, gstpipe.ColorCaps(cfg.Color.Width, cfg.Color.Height, cfg.Color.FPS)); err != nil {
		return fmt.Errorf("stream-capture: update color caps: %w", err)
	}
	if err := gstpipe.UpdateCaps(s.elements.DepthCaps, gstpipe.DepthCaps(cfg.Depth.Width, cfg.Depth.Height, cfg.Depth.FPS)); err != nil {
		return fmt.Errorf("stream-capture: update depth caps: %w", err)
	}
	s.colorCtx.SetSize(cfg.Color.Width, cfg.Color.Height)
	s.depthCtx.SetSize(cfg.Depth.Width, cfg.Depth.Height)
	s.streamCfg = cfg
	return nil
}

// CameraParam returns the configured intrinsics or nil.
func (s *GstSource) CameraParam() *CameraParam {
	if s.cfg.Intrinsics == nil {
		return nil
	}
	p := *s.cfg.Intrinsics
	return &p
}

// SetBool maps the mirror options onto videoflip elements. Exposure
// priority has no pipeline equivalent.
func (s *GstSource) SetBool(prop Property, v bool) error {
	if prop != PropColorMirror && prop != PropDepthMirror {
		return ErrPropertyUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mirror[prop] = v
	if s.elements != nil {
		return s.applyMirror(s.elements, prop, v)
	}
	return nil
}

// EnableFrameSync pairs each depth buffer with at most one color buffer.
func (s *GstSource) EnableFrameSync() error {
	s.frameSync.Store(true)
	return nil
}

// Close stops the pipeline and marks the source done.
func (s *GstSource) Close() error {
	err := s.Stop()
	s.finish(nil)
	return err
}

// Done is closed when the source fails or is closed.
func (s *GstSource) Done() <-chan struct{} { return s.done }

// Err returns the failure that ended the source, nil after a normal Close.
func (s *GstSource) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Errors returns the pipeline error counters by category.
func (s *GstSource) Errors() gstpipe.ErrorCounters {
	return gstpipe.ErrorCounters{
		Device:     atomic.LoadUint64(&s.errors.Device),
		Format:     atomic.LoadUint64(&s.errors.Format),
		Permission: atomic.LoadUint64(&s.errors.Permission),
		Unknown:    atomic.LoadUint64(&s.errors.Unknown),
	}
}

func (s *GstSource) finish(err error) {
	s.doneOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *GstSource) applyMirror(elements *gstpipe.PipelineElements, prop Property, v bool) error {
	flip := elements.ColorFlip
	if prop == PropDepthMirror {
		flip = elements.DepthFlip
	}
	return gstpipe.SetMirror(flip, v)
}

func (s *GstSource) timestamp() uint64 {
	// Microseconds since start, never zero for a delivered buffer.
	return uint64(time.Since(s.started).Microseconds()) + 1
}

func (s *GstSource) onDepth(sample gstpipe.Sample) {
	sf := &SubFrame{
		Width:     sample.Width,
		Height:    sample.Height,
		Format:    FormatY16,
		Timestamp: s.timestamp(),
		Data:      sample.Data,
	}
	s.pairMu.Lock()
	s.latestDepth = sf
	s.pairMu.Unlock()
}

func (s *GstSource) onColor(sample gstpipe.Sample) {
	color := &SubFrame{
		Width:     sample.Width,
		Height:    sample.Height,
		Format:    FormatRGB888,
		Timestamp: s.timestamp(),
		Data:      sample.Data,
	}

	s.pairMu.Lock()
	depth := s.latestDepth
	if s.frameSync.Load() {
		s.latestDepth = nil
	}
	s.pairMu.Unlock()

	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	if !s.running.Load() || s.cb == nil {
		return
	}
	s.cb(NewFrameSet(color, depth, nil))
}

// GstWatcher attaches a GstSource and re-attaches it with exponential
// backoff after pipeline failures.
type GstWatcher struct {
	cfg   GstConfig
	state backoff.State

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGstWatcher creates a watcher with fail-fast validation
func NewGstWatcher(cfg GstConfig) (*GstWatcher, error) {
	if cfg.ColorSource == "" || cfg.DepthSource == "" {
		return nil, fmt.Errorf("stream-capture: color and depth sources are required")
	}
	if cfg.Reconnect.MaxRetries <= 0 {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("stream-capture: GStreamer not available: %w", err)
	}
	return &GstWatcher{cfg: cfg}, nil
}

// Watch attaches a source asynchronously and keeps it attached.
func (w *GstWatcher) Watch(l DeviceListener) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("stream-capture: watcher already in use")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		err := backoff.Run(ctx, "stream-capture", func(ctx context.Context) error {
			src := newGstSource(w.cfg, w.state.Reset)
			l.OnAttached(src)

			select {
			case <-ctx.Done():
				return nil
			case <-src.Done():
				if err := src.Err(); err != nil {
					l.OnDetached()
					return err
				}
				return nil
			}
		}, w.cfg.Reconnect, &w.state)

		if err != nil && ctx.Err() == nil {
			slog.Error("stream-capture: device watcher stopped",
				"error", err,
				"reconnects", w.state.Total(),
			)
		}
	}(w.done)

	return nil
}

// Close stops watching without notifying the listener.
func (w *GstWatcher) Close() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if !waitDone(done, 3*time.Second) {
		return fmt.Errorf("stream-capture: watcher stop timeout")
	}
	return nil
}

// Reconnects returns the total re-attach attempts.
func (w *GstWatcher) Reconnects() uint32 {
	return w.state.Total()
}

// checkGStreamerAvailable checks if GStreamer is available
//
// This is a fail-fast validation that runs at construction time.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
