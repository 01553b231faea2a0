package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// Config represents the complete orion-pose configuration
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	StatsIntervalS   int    `yaml:"stats_interval_s"`   // Stats panel interval in seconds, negative disables (default: 5)

	Capture   CaptureConfig   `yaml:"capture"`
	Pool      PoolConfig      `yaml:"pool"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Render    RenderConfig    `yaml:"render"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// CaptureConfig contains capture source settings
type CaptureConfig struct {
	Source      string `yaml:"source"`       // synthetic, gst
	FPS         int    `yaml:"fps"`          // synthetic source rate
	ColorSource string `yaml:"color_source"` // GStreamer launch fragment (gst only)
	DepthSource string `yaml:"depth_source"` // GStreamer launch fragment (gst only)
	Resolution  string `yaml:"resolution"`   // 480p, 720p, 1080p
	Rotation    string `yaml:"rotation"`     // disable, cw, ccw
	Flip        bool   `yaml:"flip"`

	// Filled by Validate
	Res streamcapture.Resolution `yaml:"-"`
	Rot streamcapture.Rotation   `yaml:"-"`
}

// PoolConfig contains buffer pool settings
type PoolConfig struct {
	MaxPerChannel int `yaml:"max_per_channel"`
}

// TrackingConfig contains pose tracking settings
type TrackingConfig struct {
	Enabled   bool    `yaml:"enabled"`    // load the tracking runtime
	AutoStart bool    `yaml:"auto_start"` // start tracking once the device is attached
	Mode      string  `yaml:"mode"`       // single, multiple
	Skeleton  string  `yaml:"skeleton"`   // 2d, 3d
	Smoothing float32 `yaml:"smoothing"`  // [0, 10]
	LatencyMs int     `yaml:"latency_ms"` // simulated Process latency of the demo runtime

	// Filled by Validate
	TrackMode    posetrack.TrackMode    `yaml:"-"`
	SkeletonMode posetrack.SkeletonMode `yaml:"-"`
}

// RenderConfig contains render sink settings
type RenderConfig struct {
	Sink        string `yaml:"sink"`         // sixel, png, jpeg, none
	Disabled    bool   `yaml:"disabled"`     // start with drawing off
	DepthView   bool   `yaml:"depth_view"`   // show the depth colormap while not tracking
	OutputDir   string `yaml:"output_dir"`   // png/jpeg only
	JPEGQuality int    `yaml:"jpeg_quality"` // jpeg only (1-100)
	Every       int    `yaml:"every"`        // png/jpeg: keep every Nth surface
	SixelWidth  int    `yaml:"sixel_width"`  // sixel: scale down wider surfaces
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Metrics string `yaml:"metrics"`
	Events  string `yaml:"events"`
	Status  string `yaml:"status"`
}

// ReconnectConfig contains capture open retry settings
type ReconnectConfig struct {
	MaxRetries      int `yaml:"max_retries"`
	RetryDelayMs    int `yaml:"retry_delay_ms"`
	MaxRetryDelayMs int `yaml:"max_retry_delay_ms"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// QoSFor returns the QoS of a topic kind (0 when unset)
func (m MQTTConfig) QoSFor(kind string) byte {
	return m.QoS[kind]
}

// Backoff converts the retry settings for stream-capture
func (r ReconnectConfig) Backoff() streamcapture.ReconnectConfig {
	return streamcapture.ReconnectConfig{
		MaxRetries:    r.MaxRetries,
		RetryDelay:    time.Duration(r.RetryDelayMs) * time.Millisecond,
		MaxRetryDelay: time.Duration(r.MaxRetryDelayMs) * time.Millisecond,
	}
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StatsInterval returns the stats panel interval (0 when disabled)
func (c *Config) StatsInterval() time.Duration {
	if c.StatsIntervalS < 0 {
		return 0
	}
	return time.Duration(c.StatsIntervalS) * time.Second
}

// Default returns a validated configuration running the synthetic source
// with the sixel sink and no MQTT.
func Default() *Config {
	cfg := &Config{InstanceID: "orion-pose"}
	cfg.Tracking.Enabled = true
	cfg.Tracking.AutoStart = true
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: default configuration invalid: %v", err))
	}
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
