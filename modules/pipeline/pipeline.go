package pipeline

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
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	"github.com/e7canasta/orion-care-sensor/modules/render"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// DefaultEventCapacity is the number of undelivered events kept; older ones
// are dropped first.
const DefaultEventCapacity = 16

// Sentinel errors
var (
	ErrNotStarted          = errors.New("pipeline: not started")
	ErrTrackingUnavailable = errors.New("pipeline: tracking runtime not configured")
)

// Config contains configuration for the pipeline
type Config struct {
	// Pool is shared by every stage (default: a new pool)
	Pool *framepool.Pool
	// Clock drives every metric window (default: real clock)
	Clock metrics.Clock

	Resolution streamcapture.Resolution
	Rotation   streamcapture.Rotation
	Flip       bool

	// Runtime is the tracking library; nil disables tracking
	Runtime   posetrack.Runtime
	TrackMode posetrack.TrackMode
	Skeleton  posetrack.SkeletonMode
	Smoothing float32

	// Sink displays rendered frames; nil disables rendering
	Sink           render.Sink
	RenderDisabled bool
	DepthView      bool

	// EventCapacity bounds pending events (default: DefaultEventCapacity)
	EventCapacity int
}

// Pipeline wires capture, image, track and render stages and exposes the
// owner API. Stages only talk through single-slot mailboxes; the pipeline
// owns their lifecycles and shuts them down in reverse order.
type Pipeline struct {
	pool    *framepool.Pool
	capture *streamcapture.CaptureStage
	images  *posetrack.ImageStage
	track   *posetrack.TrackStage
	render  *render.Stage

	events  *framebus.Mailbox[Event]
	onFrame atomic.Pointer[FrameCallback]

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	// Touched only by the capture worker
	pairs     uint64
	lastCalib streamcapture.Calibration
}

// New builds every stage. Nothing runs until Start.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Pool == nil {
		cfg.Pool = framepool.New(framepool.Config{})
	}
	if cfg.Clock == nil {
		cfg.Clock = metrics.RealClock{}
	}
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = DefaultEventCapacity
	}

	p := &Pipeline{
		pool:   cfg.Pool,
		events: framebus.New[Event](cfg.EventCapacity, nil),
	}

	var err error
	p.capture, err = streamcapture.NewCaptureStage(streamcapture.Config{
		Pool:       cfg.Pool,
		Resolution: cfg.Resolution,
		Rotation:   cfg.Rotation,
		Flip:       cfg.Flip,
		Clock:      cfg.Clock,
		Events:     p.events,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	var frameRenderer posetrack.FrameRenderer
	var resultRenderer posetrack.ResultRenderer
	if cfg.Sink != nil {
		p.render, err = render.NewStage(render.Config{
			Pool:     cfg.Pool,
			Sink:     cfg.Sink,
			Clock:    cfg.Clock,
			Disabled: cfg.RenderDisabled,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		frameRenderer, resultRenderer = p.render, p.render
	}

	var sink posetrack.ImageSink
	if cfg.Runtime != nil {
		p.track, err = posetrack.NewTrackStage(posetrack.TrackConfig{
			Runtime:     cfg.Runtime,
			Renderer:    resultRenderer,
			Clock:       cfg.Clock,
			Mode:        cfg.TrackMode,
			Skeleton:    cfg.Skeleton,
			Smoothing:   cfg.Smoothing,
			Calibration: p.capture.Calibration(),
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		sink = p.track
	}

	p.images, err = posetrack.NewImageStage(posetrack.ImageStageConfig{
		Pool:     cfg.Pool,
		Sink:     sink,
		Renderer: frameRenderer,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.images.SetDepthView(cfg.DepthView)

	p.lastCalib = p.capture.Calibration()
	p.capture.SetFrameHandler(p.handlePair)
	return p, nil
}

// Start spawns the image and render workers. Capture starts with
// OpenCapture, tracking with StartTracking.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return fmt.Errorf("pipeline: already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	if p.render != nil {
		if err := p.render.Start(p.ctx); err != nil {
			p.cancel()
			p.cancel = nil
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	if err := p.images.Start(p.ctx); err != nil {
		if p.render != nil {
			p.render.Stop()
		}
		p.cancel()
		p.cancel = nil
		return fmt.Errorf("pipeline: %w", err)
	}

	slog.Info("pipeline: started",
		"tracking_available", p.track != nil,
		"render", p.render != nil,
	)
	return nil
}

// Shutdown stops everything in reverse order: capture, tracking, images,
// render, then closes the event mailbox. Idempotent and final.
func (p *Pipeline) Shutdown() {
	if err := p.CloseCapture(); err != nil {
		slog.Warn("pipeline: close capture", "error", err)
	}
	p.ReleaseTracking()

	p.mu.Lock()
	if p.cancel != nil {
		p.images.Stop()
		if p.render != nil {
			p.render.Stop()
		}
		p.cancel()
		p.cancel = nil
		p.ctx = nil
	}
	p.mu.Unlock()

	p.events.Close()
	slog.Info("pipeline: shut down")
}

// OpenCapture starts watching w for devices. Attach, detach and open
// failures arrive as events.
func (p *Pipeline) OpenCapture(w streamcapture.DeviceWatcher) error {
	if !p.started() {
		return ErrNotStarted
	}
	return p.capture.Open(w)
}

// CloseCapture stops streaming and releases the device.
func (p *Pipeline) CloseCapture() error {
	return p.capture.Close()
}

// SetRotation changes the frame rotation; the tracker receives the rotated
// calibration before its next Process call.
func (p *Pipeline) SetRotation(r streamcapture.Rotation) error {
	if err := p.capture.SetRotation(r); err != nil {
		return err
	}
	p.propagateCalibration()
	return nil
}

// SetFlip toggles the horizontal mirror.
func (p *Pipeline) SetFlip(flip bool) {
	p.capture.SetFlip(flip)
}

// SwitchResolution changes the color resolution while streaming. The
// tracker is rebuilt on the first pair at the new size.
func (p *Pipeline) SwitchResolution(res streamcapture.Resolution) error {
	if err := p.capture.SwitchConfig(res); err != nil {
		return err
	}
	p.propagateCalibration()
	return nil
}

// InitTracking initializes the tracking runtime. False means tracking is
// unavailable; capture and rendering keep working.
func (p *Pipeline) InitTracking() bool {
	if p.track == nil {
		return false
	}
	return p.track.InitRuntime()
}

// ReleaseTracking stops tracking and terminates the runtime.
func (p *Pipeline) ReleaseTracking() {
	if p.track == nil {
		return
	}
	p.images.SetTracking(false)
	p.track.ReleaseRuntime()
}

// StartTracking creates the tracker and routes frames through it.
func (p *Pipeline) StartTracking() error {
	if p.track == nil {
		return ErrTrackingUnavailable
	}
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		return ErrNotStarted
	}

	p.track.SetCalibration(p.capture.Calibration())
	if err := p.track.Start(ctx); err != nil {
		return err
	}
	p.images.SetTracking(true)
	return nil
}

// StopTracking routes frames back to the direct render path and releases
// the tracker.
func (p *Pipeline) StopTracking() {
	if p.track == nil {
		return
	}
	p.images.SetTracking(false)
	p.track.Stop()
}

// Tracking reports whether frames go through the tracker.
func (p *Pipeline) Tracking() bool {
	return p.track != nil && p.track.Running() && p.images.Tracking()
}

// SetTrackingMode selects single or multiple body tracking.
func (p *Pipeline) SetTrackingMode(m posetrack.TrackMode) error {
	if p.track == nil {
		return ErrTrackingUnavailable
	}
	return p.track.SetTrackMode(m)
}

// SetSkeletonMode selects 2D or 3D skeletons.
func (p *Pipeline) SetSkeletonMode(m posetrack.SkeletonMode) error {
	if p.track == nil {
		return ErrTrackingUnavailable
	}
	return p.track.SetSkeletonMode(m)
}

// SetSmoothingFactor sets the tracker smoothing, within [0, 10].
func (p *Pipeline) SetSmoothingFactor(f float32) error {
	if p.track == nil {
		return ErrTrackingUnavailable
	}
	return p.track.SetSmoothingFactor(f)
}

// SetRenderEnabled turns drawing on or off.
func (p *Pipeline) SetRenderEnabled(enabled bool) {
	if p.render != nil {
		p.render.SetEnabled(enabled)
	}
}

// SetDepthView shows the depth colormap instead of color while tracking is off.
func (p *Pipeline) SetDepthView(enabled bool) {
	p.images.SetDepthView(enabled)
}

// OnFrame registers cb for every forwarded pair; nil unregisters.
func (p *Pipeline) OnFrame(cb FrameCallback) {
	if cb == nil {
		p.onFrame.Store(nil)
		return
	}
	p.onFrame.Store(&cb)
}

// NextEvent waits up to timeout for the next event. ok is false on timeout
// or after Shutdown.
func (p *Pipeline) NextEvent(timeout time.Duration) (ev Event, ok bool) {
	return p.events.Poll(timeout)
}

// NextEventContext is NextEvent bounded by ctx as well.
func (p *Pipeline) NextEventContext(ctx context.Context, timeout time.Duration) (ev Event, ok bool) {
	return p.events.PollContext(ctx, timeout)
}

// Capture returns the capture stage
func (p *Pipeline) Capture() *streamcapture.CaptureStage { return p.capture }

// Pool returns the shared buffer pool
func (p *Pipeline) Pool() *framepool.Pool { return p.pool }

func (p *Pipeline) started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Pipeline) propagateCalibration() {
	if p.track != nil {
		p.track.SetCalibration(p.capture.Calibration())
	}
}

// handlePair runs on the capture worker.
func (p *Pipeline) handlePair(pair streamcapture.FramePair) {
	if cb := p.onFrame.Load(); cb != nil {
		(*cb)(FrameInfo{
			Seq:        pair.Color.Seq,
			TraceID:    pair.Color.TraceID,
			Width:      pair.Color.Width,
			Height:     pair.Color.Height,
			Timestamp:  pair.Color.Timestamp,
			CapturedAt: pair.Color.CapturedAt,
		})
	}

	// Camera parameters arrive on attach and on switch.
	if c := p.capture.Calibration(); c != p.lastCalib {
		p.lastCalib = c
		p.propagateCalibration()
	}

	p.images.Update(pair)

	p.pairs++
	if p.pairs%metrics.WindowSize == 0 {
		info := p.TrackInfo()
		p.events.TryPublish(Metrics{Info: info})
		slog.Debug("pipeline: metrics", "info", info.String())
	}
}
