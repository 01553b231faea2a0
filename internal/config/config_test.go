package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
instance_id: room-12
shutdown_timeout_s: 8
stats_interval_s: -1
capture:
  source: gst
  color_source: v4l2src device=/dev/video0
  depth_source: v4l2src device=/dev/video2
  resolution: 720p
  rotation: cw
  flip: true
pool:
  max_per_channel: 3
tracking:
  enabled: true
  auto_start: true
  mode: multiple
  skeleton: 3d
  smoothing: 2.5
render:
  sink: png
  output_dir: /tmp/frames
  every: 10
mqtt:
  broker: localhost:1883
  topics:
    control: custom/control
reconnect:
  max_retries: 3
  retry_delay_ms: 500
  max_retry_delay_ms: 4000
`

func TestLoad_Full(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "room-12", cfg.InstanceID)
	assert.Equal(t, 8*time.Second, cfg.ShutdownTimeout())
	assert.Zero(t, cfg.StatsInterval(), "negative interval disables the panel")

	assert.Equal(t, SourceGst, cfg.Capture.Source)
	assert.Equal(t, streamcapture.Res720p, cfg.Capture.Res)
	assert.Equal(t, streamcapture.Rotate90Clockwise, cfg.Capture.Rot)
	assert.True(t, cfg.Capture.Flip)
	assert.Equal(t, 3, cfg.Pool.MaxPerChannel)

	assert.Equal(t, posetrack.TrackMultiple, cfg.Tracking.TrackMode)
	assert.Equal(t, posetrack.Skeleton3D, cfg.Tracking.SkeletonMode)
	assert.InDelta(t, 2.5, cfg.Tracking.Smoothing, 1e-6)

	assert.Equal(t, SinkPNG, cfg.Render.Sink)
	assert.Equal(t, 10, cfg.Render.Every)

	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "custom/control", cfg.MQTT.Topics.Control)
	assert.Equal(t, "care/metrics/room-12", cfg.MQTT.Topics.Metrics)
	assert.Equal(t, byte(1), cfg.MQTT.QoSFor("control"))

	assert.Equal(t, streamcapture.ReconnectConfig{
		MaxRetries:    3,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 4 * time.Second,
	}, cfg.Reconnect.Backoff())
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: orion-1\n"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 5*time.Second, cfg.StatsInterval())
	assert.Equal(t, SourceSynthetic, cfg.Capture.Source)
	assert.Equal(t, streamcapture.FPS, cfg.Capture.FPS)
	assert.Equal(t, streamcapture.Res480p, cfg.Capture.Res)
	assert.Equal(t, "disable", cfg.Capture.Rotation)
	assert.Equal(t, 5, cfg.Pool.MaxPerChannel)
	assert.False(t, cfg.Tracking.Enabled)
	assert.Equal(t, posetrack.TrackSingle, cfg.Tracking.TrackMode)
	assert.Equal(t, posetrack.Skeleton2D, cfg.Tracking.SkeletonMode)
	assert.Equal(t, SinkSixel, cfg.Render.Sink)
	assert.Equal(t, 640, cfg.Render.SixelWidth)
	assert.False(t, cfg.MQTT.Enabled())
	assert.Equal(t, "care/status/orion-1", cfg.MQTT.Topics.Status)
	assert.Equal(t, streamcapture.DefaultReconnectConfig(), cfg.Reconnect.Backoff())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Tracking.Enabled)
	assert.True(t, cfg.Tracking.AutoStart)
	assert.Equal(t, SourceSynthetic, cfg.Capture.Source)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing instance", "capture: {source: synthetic}\n"},
		{"bad instance", "instance_id: Room_12\n"},
		{"bad yaml", "instance_id: [\n"},
		{"unknown source", "instance_id: a\ncapture: {source: rtsp}\n"},
		{"gst without depth", "instance_id: a\ncapture: {source: gst, color_source: videotestsrc}\n"},
		{"bad resolution", "instance_id: a\ncapture: {resolution: 4k}\n"},
		{"bad rotation", "instance_id: a\ncapture: {rotation: upside}\n"},
		{"bad mode", "instance_id: a\ntracking: {mode: crowd}\n"},
		{"bad skeleton", "instance_id: a\ntracking: {skeleton: 4d}\n"},
		{"smoothing too high", "instance_id: a\ntracking: {smoothing: 11}\n"},
		{"auto start without runtime", "instance_id: a\ntracking: {auto_start: true}\n"},
		{"unknown sink", "instance_id: a\nrender: {sink: window}\n"},
		{"png without dir", "instance_id: a\nrender: {sink: png}\n"},
		{"jpeg quality", "instance_id: a\nrender: {sink: jpeg, output_dir: /tmp, jpeg_quality: 101}\n"},
		{"delay cap", "instance_id: a\nreconnect: {retry_delay_ms: 5000, max_retry_delay_ms: 1000}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
