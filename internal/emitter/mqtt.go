package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/pipeline"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned by publishes while the broker is unreachable.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Event type names on the wire
const (
	TypeDeviceStatus = "device_status"
	TypeOpenFailed   = "open_failed"
	TypeMetrics      = "metrics"
)

// MetricsMessage is published on the metrics topic
type MetricsMessage struct {
	InstanceID string            `json:"instance_id"`
	Timestamp  string            `json:"timestamp"`
	Metrics    metrics.TrackInfo `json:"metrics"`
}

// EventMessage is published on the events topic
type EventMessage struct {
	InstanceID string `json:"instance_id"`
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	Connected  *bool  `json:"connected,omitempty"`
	Message    string `json:"message,omitempty"`
}

// MQTTEmitter publishes pipeline metrics and events to an MQTT broker
type MQTTEmitter struct {
	cfg    *config.Config
	client mqtt.Client
	now    func() time.Time

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter; Connect dials the broker.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		now:       time.Now,
		published: make(map[string]uint64),
	}
}

// NewWithClient wraps an existing client.
func NewWithClient(cfg *config.Config, client mqtt.Client) *MQTTEmitter {
	e := NewMQTTEmitter(cfg)
	e.client = client
	e.connected = client.IsConnected()
	return e
}

// Connect establishes the connection to the broker. Paho keeps
// reconnecting on its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	clientID := fmt.Sprintf("%s-%s", e.cfg.InstanceID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", clientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	client := mqtt.NewClient(opts)
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Client returns the underlying client, shared with the control handler
func (e *MQTTEmitter) Client() mqtt.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// PublishMetrics publishes a metrics snapshot
func (e *MQTTEmitter) PublishMetrics(info metrics.TrackInfo) error {
	payload, err := json.Marshal(MetricsMessage{
		InstanceID: e.cfg.InstanceID,
		Timestamp:  e.timestamp(),
		Metrics:    info,
	})
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal metrics: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Metrics, e.cfg.MQTT.QoSFor("metrics"), payload)
}

// PublishEvent publishes a pipeline event. Metrics events go to the
// metrics topic; the others to the events topic.
func (e *MQTTEmitter) PublishEvent(ev pipeline.Event) error {
	msg := EventMessage{
		InstanceID: e.cfg.InstanceID,
		Timestamp:  e.timestamp(),
	}

	switch ev := ev.(type) {
	case pipeline.Metrics:
		return e.PublishMetrics(ev.Info)
	case pipeline.DeviceStatus:
		connected := ev.Connected
		msg.Type = TypeDeviceStatus
		msg.Connected = &connected
	case pipeline.OpenFailed:
		msg.Type = TypeOpenFailed
		msg.Message = ev.Message
	default:
		return fmt.Errorf("emitter: unknown event %T", ev)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal event: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Events, e.cfg.MQTT.QoSFor("events"), payload)
}

// PublishStatus publishes a raw payload on the status topic
func (e *MQTTEmitter) PublishStatus(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Status, e.cfg.MQTT.QoSFor("status"), payload)
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	client := e.Client()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	client := e.Client()
	if client == nil || !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish failed on %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

func (e *MQTTEmitter) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
