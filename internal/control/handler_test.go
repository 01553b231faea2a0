package control

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/mqtttest"
	"github.com/e7canasta/orion-care-sensor/modules/pipeline"
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController records the calls it receives.
type fakeController struct {
	mu    sync.Mutex
	calls []string

	startErr   error
	tracking   bool
	trackMode  posetrack.TrackMode
	skeleton   posetrack.SkeletonMode
	smoothing  float32
	rotation   streamcapture.Rotation
	flip       bool
	resolution streamcapture.Resolution
	render     bool
	depthView  bool
}

func (c *fakeController) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *fakeController) StartTracking() error {
	c.record("StartTracking")
	if c.startErr != nil {
		return c.startErr
	}
	c.tracking = true
	return nil
}

func (c *fakeController) StopTracking() {
	c.record("StopTracking")
	c.tracking = false
}

func (c *fakeController) SetTrackingMode(m posetrack.TrackMode) error {
	c.record("SetTrackingMode")
	c.trackMode = m
	return nil
}

func (c *fakeController) SetSkeletonMode(m posetrack.SkeletonMode) error {
	c.record("SetSkeletonMode")
	c.skeleton = m
	return nil
}

func (c *fakeController) SetSmoothingFactor(f float32) error {
	c.record("SetSmoothingFactor")
	if f < posetrack.MinSmoothingFactor || f > posetrack.MaxSmoothingFactor {
		return posetrack.ErrInvalidSmoothing
	}
	c.smoothing = f
	return nil
}

func (c *fakeController) SetRotation(r streamcapture.Rotation) error {
	c.record("SetRotation")
	c.rotation = r
	return nil
}

func (c *fakeController) SetFlip(flip bool) {
	c.record("SetFlip")
	c.flip = flip
}

func (c *fakeController) SwitchResolution(res streamcapture.Resolution) error {
	c.record("SwitchResolution")
	c.resolution = res
	return nil
}

func (c *fakeController) SetRenderEnabled(enabled bool) {
	c.record("SetRenderEnabled")
	c.render = enabled
}

func (c *fakeController) SetDepthView(enabled bool) {
	c.record("SetDepthView")
	c.depthView = enabled
}

func (c *fakeController) Stats() pipeline.Stats {
	c.record("Stats")
	return pipeline.Stats{
		Tracking:      c.tracking,
		RenderEnabled: c.render,
		Capture:       streamcapture.Stats{IsConnected: true, Resolution: "480p", FrameSets: 90},
	}
}

func newTestHandler(t *testing.T, onShutdown func()) (*Handler, *fakeController, *mqtttest.Client, *config.Config) {
	t.Helper()
	cfg, err := config.Parse([]byte("instance_id: room-7\nmqtt: {broker: localhost:1883}\n"))
	require.NoError(t, err)

	client := mqtttest.NewClient()
	ctrl := &fakeController{}
	h := NewHandler(cfg, client, ctrl, onShutdown)
	h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return h, ctrl, client, cfg
}

func TestHandleCommand(t *testing.T) {
	h, ctrl, _, _ := newTestHandler(t, nil)

	tests := []struct {
		name   string
		cmd    Command
		status string
		check  func(t *testing.T)
	}{
		{
			name:   "start tracking",
			cmd:    Command{Command: "start_tracking"},
			status: "success",
			check:  func(t *testing.T) { assert.True(t, ctrl.tracking) },
		},
		{
			name:   "tracking mode",
			cmd:    Command{Command: "set_tracking_mode", Params: map[string]interface{}{"mode": "multiple"}},
			status: "success",
			check:  func(t *testing.T) { assert.Equal(t, posetrack.TrackMultiple, ctrl.trackMode) },
		},
		{
			name:   "skeleton mode",
			cmd:    Command{Command: "set_skeleton_mode", Params: map[string]interface{}{"mode": "3d"}},
			status: "success",
			check:  func(t *testing.T) { assert.Equal(t, posetrack.Skeleton3D, ctrl.skeleton) },
		},
		{
			name:   "smoothing",
			cmd:    Command{Command: "set_smoothing", Params: map[string]interface{}{"factor": 3.5}},
			status: "success",
			check:  func(t *testing.T) { assert.InDelta(t, 3.5, ctrl.smoothing, 1e-6) },
		},
		{
			name:   "smoothing out of range",
			cmd:    Command{Command: "set_smoothing", Params: map[string]interface{}{"factor": 12.0}},
			status: "error",
		},
		{
			name:   "rotation",
			cmd:    Command{Command: "set_rotation", Params: map[string]interface{}{"rotation": "ccw"}},
			status: "success",
			check:  func(t *testing.T) { assert.Equal(t, streamcapture.Rotate90CounterClockwise, ctrl.rotation) },
		},
		{
			name:   "bad rotation",
			cmd:    Command{Command: "set_rotation", Params: map[string]interface{}{"rotation": "45"}},
			status: "error",
		},
		{
			name:   "flip",
			cmd:    Command{Command: "set_flip", Params: map[string]interface{}{"enabled": true}},
			status: "success",
			check:  func(t *testing.T) { assert.True(t, ctrl.flip) },
		},
		{
			name:   "resolution",
			cmd:    Command{Command: "switch_resolution", Params: map[string]interface{}{"resolution": "1080p"}},
			status: "success",
			check:  func(t *testing.T) { assert.Equal(t, streamcapture.Res1080p, ctrl.resolution) },
		},
		{
			name:   "render",
			cmd:    Command{Command: "set_render", Params: map[string]interface{}{"enabled": true}},
			status: "success",
			check:  func(t *testing.T) { assert.True(t, ctrl.render) },
		},
		{
			name:   "depth view",
			cmd:    Command{Command: "set_depth_view", Params: map[string]interface{}{"enabled": true}},
			status: "success",
			check:  func(t *testing.T) { assert.True(t, ctrl.depthView) },
		},
		{
			name:   "missing param",
			cmd:    Command{Command: "set_render"},
			status: "error",
		},
		{
			name:   "wrong param type",
			cmd:    Command{Command: "set_flip", Params: map[string]interface{}{"enabled": "yes"}},
			status: "error",
		},
		{
			name:   "stop tracking",
			cmd:    Command{Command: "stop_tracking"},
			status: "success",
			check:  func(t *testing.T) { assert.False(t, ctrl.tracking) },
		},
		{
			name:   "shutdown without callback",
			cmd:    Command{Command: "shutdown"},
			status: "error",
		},
		{
			name:   "unknown",
			cmd:    Command{Command: "reboot"},
			status: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.handleCommand(tt.cmd)
			assert.Equal(t, tt.cmd.Command, resp.CommandAck)
			assert.Equal(t, tt.status, resp.Status, resp.Error)
			if tt.status == "error" {
				assert.NotEmpty(t, resp.Error)
				assert.Nil(t, resp.Data)
			}
			if tt.check != nil {
				tt.check(t)
			}
		})
	}
}

func TestHandleCommand_StartTrackingFails(t *testing.T) {
	h, ctrl, _, _ := newTestHandler(t, nil)
	ctrl.startErr = pipeline.ErrTrackingUnavailable

	resp := h.handleCommand(Command{Command: "start_tracking"})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, pipeline.ErrTrackingUnavailable.Error(), resp.Error)
}

func TestHandleCommand_Status(t *testing.T) {
	h, _, _, _ := newTestHandler(t, nil)

	resp := h.handleCommand(Command{Command: "get_status"})
	require.Equal(t, "success", resp.Status)
	assert.Equal(t, true, resp.Data["connected"])
	assert.Equal(t, "480p", resp.Data["resolution"])
	assert.Equal(t, uint64(90), resp.Data["frame_sets"])
}

func waitResponses(t *testing.T, client *mqtttest.Client, topic string, n int) []Response {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		payloads := client.PublishedTo(topic)
		if len(payloads) >= n {
			out := make([]Response, len(payloads))
			for i, p := range payloads {
				require.NoError(t, json.Unmarshal(p, &out[i]))
			}
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d responses on %s", n, topic)
	return nil
}

func TestHandler_EndToEnd(t *testing.T) {
	var shutdowns atomic.Int32
	h, ctrl, client, cfg := newTestHandler(t, func() { shutdowns.Add(1) })

	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()
	assert.True(t, client.Subscribed(cfg.MQTT.Topics.Control))
	assert.Error(t, h.Start(context.Background()), "second start")

	require.True(t, client.Deliver(cfg.MQTT.Topics.Control, []byte(`{"command":"set_render","params":{"enabled":true}}`)))
	require.True(t, client.Deliver(cfg.MQTT.Topics.Control, []byte(`not json`)))
	require.True(t, client.Deliver(cfg.MQTT.Topics.Control, []byte(`{"command":"shutdown"}`)))

	responses := waitResponses(t, client, cfg.MQTT.Topics.Status, 3)

	acks := map[string]Response{}
	for _, r := range responses {
		acks[r.CommandAck] = r
		assert.Equal(t, "2024-05-01T12:00:00Z", r.Timestamp)
	}
	assert.Equal(t, "success", acks["set_render"].Status)
	assert.Equal(t, "error", acks["unknown"].Status)
	assert.Equal(t, "invalid JSON", acks["unknown"].Error)
	assert.Equal(t, "success", acks["shutdown"].Status)

	deadline := time.Now().Add(3 * time.Second)
	for shutdowns.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(1), shutdowns.Load())
	assert.True(t, ctrl.render)

	h.Stop()
	h.Stop()
	assert.False(t, client.Subscribed(cfg.MQTT.Topics.Control))
}

func TestHandler_QueueFull(t *testing.T) {
	h, _, client, cfg := newTestHandler(t, nil)

	// No worker runs, so the queue only fills.
	require.NoError(t, client.Subscribe(cfg.MQTT.Topics.Control, 0, h.messageHandler).Error())
	for i := 0; i < commandQueueSize; i++ {
		client.Deliver(cfg.MQTT.Topics.Control, []byte(`{"command":"get_status"}`))
	}
	client.Deliver(cfg.MQTT.Topics.Control, []byte(`{"command":"stop_tracking"}`))

	responses := client.PublishedTo(cfg.MQTT.Topics.Status)
	require.Len(t, responses, 1)

	var resp Response
	require.NoError(t, json.Unmarshal(responses[0], &resp))
	assert.Equal(t, "stop_tracking", resp.CommandAck)
	assert.Equal(t, "command queue full", resp.Error)
	assert.Equal(t, commandQueueSize, h.commands.Len())
	assert.Equal(t, uint64(1), h.commands.Stats().Rejected)
}
