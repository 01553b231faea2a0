package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/orion-care-sensor/modules/framepool"
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Source kinds
const (
	SourceSynthetic = "synthetic"
	SourceGst       = "gst"
)

// Sink kinds
const (
	SinkSixel = "sixel"
	SinkPNG   = "png"
	SinkJPEG  = "jpeg"
	SinkNone  = "none"
)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.StatsIntervalS == 0 {
		cfg.StatsIntervalS = 5
	}

	if err := validateCapture(&cfg.Capture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	if cfg.Pool.MaxPerChannel <= 0 {
		cfg.Pool.MaxPerChannel = framepool.DefaultMaxPerChannel
	}

	if err := validateTracking(&cfg.Tracking); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if err := validateRender(&cfg.Render); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	validateMQTT(&cfg.MQTT, cfg.InstanceID)

	def := streamcapture.DefaultReconnectConfig()
	if cfg.Reconnect.MaxRetries <= 0 {
		cfg.Reconnect.MaxRetries = def.MaxRetries
	}
	if cfg.Reconnect.RetryDelayMs <= 0 {
		cfg.Reconnect.RetryDelayMs = int(def.RetryDelay.Milliseconds())
	}
	if cfg.Reconnect.MaxRetryDelayMs <= 0 {
		cfg.Reconnect.MaxRetryDelayMs = int(def.MaxRetryDelay.Milliseconds())
	}
	if cfg.Reconnect.MaxRetryDelayMs < cfg.Reconnect.RetryDelayMs {
		return fmt.Errorf("reconnect.max_retry_delay_ms must be >= retry_delay_ms")
	}

	return nil
}

func validateCapture(c *CaptureConfig) error {
	switch c.Source {
	case "":
		c.Source = SourceSynthetic
	case SourceSynthetic:
	case SourceGst:
		if c.ColorSource == "" || c.DepthSource == "" {
			return fmt.Errorf("gst source requires color_source and depth_source")
		}
	default:
		return fmt.Errorf("unknown source %q (must be %q or %q)", c.Source, SourceSynthetic, SourceGst)
	}

	if c.FPS <= 0 {
		c.FPS = streamcapture.FPS
	}

	if c.Resolution == "" {
		c.Resolution = streamcapture.Res480p.String()
	}
	res, err := streamcapture.ParseResolution(c.Resolution)
	if err != nil {
		return err
	}
	c.Res = res

	rot, err := streamcapture.ParseRotation(c.Rotation)
	if err != nil {
		return err
	}
	c.Rot = rot
	c.Rotation = rot.String()

	return nil
}

func validateTracking(t *TrackingConfig) error {
	if t.Mode == "" {
		t.Mode = posetrack.TrackSingle.String()
	}
	mode, err := posetrack.ParseTrackMode(t.Mode)
	if err != nil {
		return err
	}
	t.TrackMode = mode

	if t.Skeleton == "" {
		t.Skeleton = posetrack.Skeleton2D.String()
	}
	skeleton, err := posetrack.ParseSkeletonMode(t.Skeleton)
	if err != nil {
		return err
	}
	t.SkeletonMode = skeleton

	if t.Smoothing < posetrack.MinSmoothingFactor || t.Smoothing > posetrack.MaxSmoothingFactor {
		return fmt.Errorf("smoothing must be within [%v, %v], got %v",
			posetrack.MinSmoothingFactor, posetrack.MaxSmoothingFactor, t.Smoothing)
	}
	if t.LatencyMs < 0 {
		return fmt.Errorf("latency_ms must be >= 0")
	}
	if t.AutoStart && !t.Enabled {
		return fmt.Errorf("auto_start requires enabled")
	}
	return nil
}

func validateRender(r *RenderConfig) error {
	switch r.Sink {
	case "":
		r.Sink = SinkSixel
	case SinkSixel, SinkNone:
	case SinkPNG, SinkJPEG:
		if r.OutputDir == "" {
			return fmt.Errorf("%s sink requires output_dir", r.Sink)
		}
	default:
		return fmt.Errorf("unknown sink %q (must be sixel, png, jpeg or none)", r.Sink)
	}

	if r.JPEGQuality == 0 {
		r.JPEGQuality = 90
	}
	if r.JPEGQuality < 1 || r.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be 1-100, got %d", r.JPEGQuality)
	}
	if r.Every <= 0 {
		r.Every = 30
	}
	if r.SixelWidth <= 0 {
		r.SixelWidth = 640
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) {
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("care/control/%s", instanceID)
	}
	if m.Topics.Metrics == "" {
		m.Topics.Metrics = fmt.Sprintf("care/metrics/%s", instanceID)
	}
	if m.Topics.Events == "" {
		m.Topics.Events = fmt.Sprintf("care/events/%s", instanceID)
	}
	if m.Topics.Status == "" {
		m.Topics.Status = fmt.Sprintf("care/status/%s", instanceID)
	}

	if m.QoS == nil {
		m.QoS = map[string]byte{
			"control": 1,
			"events":  1,
			"metrics": 0,
			"status":  0,
		}
	}
}
