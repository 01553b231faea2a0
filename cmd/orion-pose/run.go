package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/control"
	"github.com/e7canasta/orion-care-sensor/internal/demotracker"
	"github.com/e7canasta/orion-care-sensor/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	"github.com/e7canasta/orion-care-sensor/modules/pipeline"
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	"github.com/e7canasta/orion-care-sensor/modules/render"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

const (
	// openTimeout bounds the wait for the attach or failure event of one
	// open attempt.
	openTimeout       = 10 * time.Second
	eventPollTimeout  = 100 * time.Millisecond
	statusChannelSize = 4
)

// app holds everything run builds, so stats and shutdown see one place.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	runtime  *demotracker.Runtime
	files    *render.FileSink
	emitter  *emitter.MQTTEmitter
	control  *control.Handler
	started  time.Time
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, panelOut io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := &app{cfg: cfg, started: time.Now()}

	// 1. Sink and tracking runtime
	sink, err := a.newSink()
	if err != nil {
		return err
	}
	var runtime posetrack.Runtime
	if cfg.Tracking.Enabled {
		a.runtime = demotracker.NewRuntime(time.Duration(cfg.Tracking.LatencyMs)*time.Millisecond, logger)
		runtime = a.runtime
	}

	// 2. Pipeline
	p, err := pipeline.New(pipeline.Config{
		Pool:           framepool.New(framepool.Config{MaxPerChannel: cfg.Pool.MaxPerChannel}),
		Resolution:     cfg.Capture.Res,
		Rotation:       cfg.Capture.Rot,
		Flip:           cfg.Capture.Flip,
		Runtime:        runtime,
		TrackMode:      cfg.Tracking.TrackMode,
		Skeleton:       cfg.Tracking.SkeletonMode,
		Smoothing:      cfg.Tracking.Smoothing,
		Sink:           sink,
		RenderDisabled: cfg.Render.Disabled,
		DepthView:      cfg.Render.DepthView,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	a.pipeline = p

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	logger.Info("pipeline started")

	// 3. MQTT (optional). A broker that cannot be reached does not stop
	// the local pipeline.
	if cfg.MQTT.Enabled() {
		a.emitter = emitter.NewMQTTEmitter(cfg)
		if err := a.emitter.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable, continuing without control plane", "error", err)
			a.emitter = nil
		} else {
			a.control = control.NewHandler(cfg, a.emitter.Client(), p, cancel)
			if err := a.control.Start(ctx); err != nil {
				logger.Warn("control plane unavailable", "error", err)
				a.control = nil
			}
		}
	}

	// 4. Event pump: publishes every event and hands device status to the
	// open loop.
	status := make(chan pipeline.Event, statusChannelSize)
	pumpDone := make(chan struct{})
	go a.pumpEvents(ctx, status, pumpDone)

	// 5. Tracking runtime
	if cfg.Tracking.Enabled && !p.InitTracking() {
		logger.Warn("tracking runtime unavailable, capture and render continue")
	}

	// 6. Open the capture with backoff retry on open failures
	err = streamcapture.RunWithReconnect(ctx, "orion-pose", func(ctx context.Context) error {
		return a.openCapture(ctx, status)
	}, cfg.Reconnect.Backoff())
	if err != nil {
		cancel()
		a.shutdown(pumpDone)
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("failed to open capture: %w", err)
	}

	// 7. Tracking
	if cfg.Tracking.AutoStart {
		if err := p.StartTracking(); err != nil {
			logger.Warn("tracking not started", "error", err)
		} else {
			logger.Info("tracking started",
				"mode", cfg.Tracking.TrackMode.String(),
				"skeleton", cfg.Tracking.SkeletonMode.String(),
			)
		}
	}

	// 8. Stats panel
	if interval := cfg.StatsInterval(); interval > 0 {
		go a.reportStats(ctx, panelOut, interval)
	}

	<-ctx.Done()

	a.shutdown(pumpDone)
	printFinalStats(panelOut, a)
	return ctx.Err()
}

func (a *app) newSink() (render.Sink, error) {
	r := a.cfg.Render
	switch r.Sink {
	case config.SinkSixel:
		return render.NewSixelSink(os.Stdout, r.SixelWidth), nil
	case config.SinkPNG, config.SinkJPEG:
		fs, err := render.NewFileSink(r.OutputDir, r.Sink, r.JPEGQuality, r.Every)
		if err != nil {
			return nil, fmt.Errorf("failed to create file sink: %w", err)
		}
		a.files = fs
		return fs, nil
	default:
		return nil, nil
	}
}

func (a *app) newWatcher() (streamcapture.DeviceWatcher, error) {
	c := a.cfg.Capture
	switch c.Source {
	case config.SourceGst:
		return streamcapture.NewGstWatcher(streamcapture.GstConfig{
			ColorSource: c.ColorSource,
			DepthSource: c.DepthSource,
			Reconnect:   a.cfg.Reconnect.Backoff(),
		})
	default:
		return streamcapture.NewSyntheticWatcher(func() streamcapture.Source {
			return streamcapture.NewSyntheticSource(a.cfg.InstanceID, c.FPS, nil)
		}), nil
	}
}

// openCapture performs one open attempt: it watches for a device and waits
// for the attach or failure event. A failed attempt closes the capture so
// the next one starts clean.
func (a *app) openCapture(ctx context.Context, status <-chan pipeline.Event) error {
	w, err := a.newWatcher()
	if err != nil {
		return err
	}
	if err := a.pipeline.OpenCapture(w); err != nil {
		return err
	}

	timeout := time.NewTimer(openTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			a.closeCapture()
			return fmt.Errorf("no device attached within %v", openTimeout)
		case ev := <-status:
			switch ev := ev.(type) {
			case pipeline.OpenFailed:
				a.closeCapture()
				return fmt.Errorf("open failed: %s", ev.Message)
			case pipeline.DeviceStatus:
				if ev.Connected {
					return nil
				}
			}
		}
	}
}

func (a *app) closeCapture() {
	if err := a.pipeline.CloseCapture(); err != nil {
		slog.Warn("close capture failed", "error", err)
	}
}

func (a *app) pumpEvents(ctx context.Context, status chan<- pipeline.Event, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		ev, ok := a.pipeline.NextEventContext(ctx, eventPollTimeout)
		if !ok {
			continue
		}

		switch ev := ev.(type) {
		case pipeline.DeviceStatus:
			slog.Info("device status", "connected", ev.Connected)
			a.forward(status, ev)
		case pipeline.OpenFailed:
			slog.Warn("device open failed", "message", ev.Message)
			a.forward(status, ev)
		case pipeline.Metrics:
			slog.Debug("metrics", "info", ev.Info.String())
		}

		if a.emitter != nil {
			if err := a.emitter.PublishEvent(ev); err != nil {
				slog.Debug("event not published", "error", err)
			}
		}
	}
}

// forward hands ev to the open loop without blocking the pump.
func (a *app) forward(status chan<- pipeline.Event, ev pipeline.Event) {
	select {
	case status <- ev:
	default:
	}
}

// shutdown stops everything in reverse order of construction
func (a *app) shutdown(pumpDone <-chan struct{}) {
	timeout := a.cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if a.control != nil {
			a.control.Stop()
		}
		a.pipeline.Shutdown()
		<-pumpDone
		if a.emitter != nil {
			a.emitter.Disconnect()
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Error("shutdown timed out", "timeout", timeout)
	}
}
