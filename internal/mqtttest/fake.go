// Package mqtttest provides an in-memory MQTT client for tests.
package mqtttest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publishes and routes Deliver calls to subscribers.
// Methods it does not override panic through the nil embedded interface.
type Client struct {
	mqtt.Client

	mu          sync.Mutex
	connected   bool
	published   []Published
	subscribers map[string]mqtt.MessageHandler
	publishErr  error
}

// NewClient returns a connected fake client.
func NewClient() *Client {
	return &Client{
		connected:   true,
		subscribers: make(map[string]mqtt.MessageHandler),
	}
}

// SetConnected changes what IsConnected reports.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

// FailPublish makes every following Publish token carry err.
func (c *Client) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Disconnect(quiesce uint) {
	c.SetConnected(false)
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.publishErr != nil {
		return &Token{err: c.publishErr}
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	return &Token{}
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[topic] = callback
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subscribers, t)
	}
	return &Token{}
}

// Subscribed reports whether topic has a handler.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribers[topic]
	return ok
}

// Deliver hands payload to the handler subscribed to topic. It reports
// false when nobody is subscribed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.subscribers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &Message{topic: topic, payload: payload})
	return true
}

// Published returns a copy of every recorded publish.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// PublishedTo returns the payloads published to topic.
func (c *Client) PublishedTo(topic string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, p := range c.published {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

// Token is an already completed token.
type Token struct {
	err error
}

func (t *Token) Wait() bool                       { return true }
func (t *Token) WaitTimeout(_ time.Duration) bool { return true }
func (t *Token) Error() error                     { return t.err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is a delivered message.
type Message struct {
	topic   string
	payload []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}
