package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/pipeline"
	"github.com/e7canasta/orion-care-sensor/modules/posetrack"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

const (
	commandQueueSize     = 10
	commandPollTimeout   = 100 * time.Millisecond
	subscribeTimeout     = 5 * time.Second
	responseTimeout      = 2 * time.Second
	processorJoinTimeout = time.Second
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Controller is the part of the pipeline owner API driven remotely.
// *pipeline.Pipeline implements it.
type Controller interface {
	StartTracking() error
	StopTracking()
	SetTrackingMode(m posetrack.TrackMode) error
	SetSkeletonMode(m posetrack.SkeletonMode) error
	SetSmoothingFactor(f float32) error
	SetRotation(r streamcapture.Rotation) error
	SetFlip(flip bool)
	SwitchResolution(res streamcapture.Resolution) error
	SetRenderEnabled(enabled bool)
	SetDepthView(enabled bool)
	Stats() pipeline.Stats
}

var _ Controller = (*pipeline.Pipeline)(nil)

// Handler handles control plane commands. Commands are parsed on the MQTT
// callback and executed one at a time on a worker; a full queue refuses
// new commands.
type Handler struct {
	cfg        *config.Config
	client     mqtt.Client
	ctrl       Controller
	onShutdown func()
	now        func() time.Time

	commands *framebus.Mailbox[Command]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHandler creates a control plane handler. onShutdown runs after the
// shutdown command was acknowledged; nil rejects the command.
func NewHandler(cfg *config.Config, client mqtt.Client, ctrl Controller, onShutdown func()) *Handler {
	return &Handler{
		cfg:        cfg,
		client:     client,
		ctrl:       ctrl,
		onShutdown: onShutdown,
		now:        time.Now,
		commands:   framebus.NewWithPolicy[Command](commandQueueSize, framebus.DropNewest, nil),
	}
}

// Start subscribes to the control topic and starts the command worker
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return fmt.Errorf("control: handler already started")
	}

	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoSFor("control")
	slog.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.processCommands(ctx, h.done)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and joins the command worker. Pending commands are
// dropped. Idempotent.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel == nil {
		return
	}

	if h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(subscribeTimeout)
	}

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(processorJoinTimeout):
		slog.Warn("control: command worker did not stop in time")
	}
	h.cancel = nil
	h.done = nil

	if n := h.commands.Purge(); n > 0 {
		slog.Debug("control: dropped pending commands", "count", n)
	}
	slog.Info("control: handler stopped")
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	if !h.commands.TryPublish(cmd) {
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			Status:     "error",
			Error:      "command queue full",
		})
	}
}

func (h *Handler) processCommands(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		cmd, ok := h.commands.PollContext(ctx, commandPollTimeout)
		if !ok {
			continue
		}

		resp := h.handleCommand(cmd)
		h.sendResponse(resp)

		if cmd.Command == "shutdown" && resp.Status == "success" {
			slog.Warn("control: shutdown command received via MQTT control plane")
			go h.onShutdown()
		}
	}
}

// handleCommand executes cmd against the controller
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	fail := func(err error) Response {
		resp.Status = "error"
		resp.Error = err.Error()
		resp.Data = nil
		return resp
	}

	switch cmd.Command {
	case "get_status":
		resp.Data = statusData(h.ctrl.Stats())

	case "start_tracking":
		if err := h.ctrl.StartTracking(); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"tracking": true}

	case "stop_tracking":
		h.ctrl.StopTracking()
		resp.Data = map[string]interface{}{"tracking": false}

	case "set_tracking_mode":
		s, err := stringParam(cmd.Params, "mode")
		if err != nil {
			return fail(err)
		}
		mode, err := posetrack.ParseTrackMode(s)
		if err != nil {
			return fail(err)
		}
		if err := h.ctrl.SetTrackingMode(mode); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"mode": mode.String()}

	case "set_skeleton_mode":
		s, err := stringParam(cmd.Params, "mode")
		if err != nil {
			return fail(err)
		}
		mode, err := posetrack.ParseSkeletonMode(s)
		if err != nil {
			return fail(err)
		}
		if err := h.ctrl.SetSkeletonMode(mode); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"skeleton": mode.String()}

	case "set_smoothing":
		f, err := floatParam(cmd.Params, "factor")
		if err != nil {
			return fail(err)
		}
		if err := h.ctrl.SetSmoothingFactor(float32(f)); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"smoothing": f}

	case "set_rotation":
		s, err := stringParam(cmd.Params, "rotation")
		if err != nil {
			return fail(err)
		}
		rot, err := streamcapture.ParseRotation(s)
		if err != nil {
			return fail(err)
		}
		if err := h.ctrl.SetRotation(rot); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"rotation": rot.String()}

	case "set_flip":
		v, err := boolParam(cmd.Params, "enabled")
		if err != nil {
			return fail(err)
		}
		h.ctrl.SetFlip(v)
		resp.Data = map[string]interface{}{"flip": v}

	case "switch_resolution":
		s, err := stringParam(cmd.Params, "resolution")
		if err != nil {
			return fail(err)
		}
		res, err := streamcapture.ParseResolution(s)
		if err != nil {
			return fail(err)
		}
		if err := h.ctrl.SwitchResolution(res); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"resolution": res.String()}

	case "set_render":
		v, err := boolParam(cmd.Params, "enabled")
		if err != nil {
			return fail(err)
		}
		h.ctrl.SetRenderEnabled(v)
		resp.Data = map[string]interface{}{"render_enabled": v}

	case "set_depth_view":
		v, err := boolParam(cmd.Params, "enabled")
		if err != nil {
			return fail(err)
		}
		h.ctrl.SetDepthView(v)
		resp.Data = map[string]interface{}{"depth_view": v}

	case "shutdown":
		if h.onShutdown == nil {
			return fail(fmt.Errorf("shutdown not implemented"))
		}
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}

	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	return resp
}

// sendResponse publishes resp on the status topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Status
	token := h.client.Publish(topic, h.cfg.MQTT.QoSFor("status"), false, payload)
	if !token.WaitTimeout(responseTimeout) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func statusData(s pipeline.Stats) map[string]interface{} {
	return map[string]interface{}{
		"connected":      s.Capture.IsConnected,
		"resolution":     s.Capture.Resolution,
		"tracking":       s.Tracking,
		"track_state":    s.Track.State.String(),
		"render_enabled": s.RenderEnabled,
		"frame_sets":     s.Capture.FrameSets,
		"forwarded":      s.Capture.Forwarded,
		"processed":      s.Track.Processed,
		"rendered":       s.Rendered,
		"metrics":        s.Info,
	}
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok {
		return "", fmt.Errorf("missing or invalid '%s' parameter (expected string)", key)
	}
	return v, nil
}

func boolParam(params map[string]interface{}, key string) (bool, error) {
	v, ok := params[key].(bool)
	if !ok {
		return false, fmt.Errorf("missing or invalid '%s' parameter (expected bool)", key)
	}
	return v, nil
}

func floatParam(params map[string]interface{}, key string) (float64, error) {
	v, ok := params[key].(float64)
	if !ok {
		return 0, fmt.Errorf("missing or invalid '%s' parameter (expected number)", key)
	}
	return v, nil
}
