package emitter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/mqtttest"
	"github.com/e7canasta/orion-care-sensor/modules/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("instance_id: room-3\nmqtt: {broker: localhost:1883}\n"))
	require.NoError(t, err)
	return cfg
}

func newTestEmitter(t *testing.T) (*MQTTEmitter, *mqtttest.Client) {
	t.Helper()
	client := mqtttest.NewClient()
	e := NewWithClient(testConfig(t), client)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return e, client
}

func TestPublishMetrics(t *testing.T) {
	e, client := newTestEmitter(t)

	info := metrics.TrackInfo{FrameRate: 29.97, TrackRate: 14.5, TrackTime: 31.25}
	require.NoError(t, e.PublishMetrics(info))

	payloads := client.PublishedTo("care/metrics/room-3")
	require.Len(t, payloads, 1)

	var msg MetricsMessage
	require.NoError(t, json.Unmarshal(payloads[0], &msg))
	assert.Equal(t, "room-3", msg.InstanceID)
	assert.Equal(t, "2024-05-01T12:00:00Z", msg.Timestamp)
	assert.Equal(t, info, msg.Metrics)

	assert.Equal(t, uint64(1), e.Stats().Published["care/metrics/room-3"])
}

func TestPublishEvent(t *testing.T) {
	e, client := newTestEmitter(t)

	require.NoError(t, e.PublishEvent(pipeline.DeviceStatus{Connected: true}))
	require.NoError(t, e.PublishEvent(pipeline.OpenFailed{Message: "no color profile"}))
	require.NoError(t, e.PublishEvent(pipeline.Metrics{Info: metrics.TrackInfo{FrameRate: 30}}))

	events := client.PublishedTo("care/events/room-3")
	require.Len(t, events, 2)

	var status EventMessage
	require.NoError(t, json.Unmarshal(events[0], &status))
	assert.Equal(t, TypeDeviceStatus, status.Type)
	require.NotNil(t, status.Connected)
	assert.True(t, *status.Connected)

	var failed EventMessage
	require.NoError(t, json.Unmarshal(events[1], &failed))
	assert.Equal(t, TypeOpenFailed, failed.Type)
	assert.Equal(t, "no color profile", failed.Message)
	assert.Nil(t, failed.Connected)

	assert.Len(t, client.PublishedTo("care/metrics/room-3"), 1, "metrics events use the metrics topic")

	for _, p := range client.Published() {
		if p.Topic == "care/events/room-3" {
			assert.Equal(t, byte(1), p.QoS)
		}
	}
}

func TestPublish_NotConnected(t *testing.T) {
	client := mqtttest.NewClient()
	client.SetConnected(false)
	e := NewWithClient(testConfig(t), client)

	assert.ErrorIs(t, e.PublishStatus([]byte("{}")), ErrNotConnected)
	assert.Empty(t, client.Published())
	assert.Equal(t, uint64(1), e.Stats().Errors)
	assert.False(t, e.Stats().Connected)
}

func TestPublish_TokenError(t *testing.T) {
	e, client := newTestEmitter(t)
	client.FailPublish(errors.New("broker rejected"))

	err := e.PublishStatus([]byte(`{"status":"ok"}`))
	assert.ErrorContains(t, err, "broker rejected")
	assert.Equal(t, uint64(1), e.Stats().Errors)
	assert.Empty(t, e.Stats().Published)
}

func TestDisconnect(t *testing.T) {
	e, client := newTestEmitter(t)
	e.Disconnect()

	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, e.PublishMetrics(metrics.TrackInfo{}), ErrNotConnected)
}
