package testutil

import (
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type FakeMessage struct {
	TopicName string
	Body      []byte
}

func (m FakeMessage) Duplicate() bool   { return false }
func (m FakeMessage) Qos() byte         { return 0 }
func (m FakeMessage) Retained() bool    { return false }
func (m FakeMessage) Topic() string     { return m.TopicName }
func (m FakeMessage) MessageID() uint16 { return 0 }
func (m FakeMessage) Payload() []byte   { return m.Body }
func (m FakeMessage) Ack()              {}

// FakeToken completes immediately with Err, or never when Pending is set.
type FakeToken struct {
	Err     error
	Pending bool
}

func (t FakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	if !t.Pending {
		close(done)
	}
	return done
}

func (t FakeToken) Wait() bool                       { return !t.Pending }
func (t FakeToken) WaitTimeout(_ time.Duration) bool { return !t.Pending }
func (t FakeToken) Error() error                     { return t.Err }

type PublishCall struct {
	Topic   string
	QoS     byte
	Retain  bool
	Payload []byte
}

// FakeMQTTClient implements mqtt.Client and records what the code under
// test does with it.
type FakeMQTTClient struct {
	mu sync.Mutex

	Options *mqtt.ClientOptions

	ConnectErr   error
	ConnectHangs bool
	SubscribeErr error

	Connects    int
	Disconnects int
	Publishes   []PublishCall
	Subs        map[string]mqtt.MessageHandler
}

func NewFakeMQTTClient() *FakeMQTTClient {
	return &FakeMQTTClient{Subs: make(map[string]mqtt.MessageHandler)}
}

// NewClientFunc returns a constructor that hands out c and keeps the options.
func (c *FakeMQTTClient) NewClientFunc() func(*mqtt.ClientOptions) mqtt.Client {
	return func(o *mqtt.ClientOptions) mqtt.Client {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.Options = o
		return c
	}
}

func (c *FakeMQTTClient) IsConnected() bool      { return true }
func (c *FakeMQTTClient) IsConnectionOpen() bool { return true }

func (c *FakeMQTTClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connects++
	return FakeToken{Err: c.ConnectErr, Pending: c.ConnectHangs}
}

func (c *FakeMQTTClient) Disconnect(_ uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disconnects++
}

func (c *FakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		b, _ = json.Marshal(v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Publishes = append(c.Publishes, PublishCall{Topic: topic, QoS: qos, Retain: retained, Payload: b})
	return FakeToken{}
}

func (c *FakeMQTTClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return FakeToken{Err: c.SubscribeErr}
	}
	c.Subs[topic] = h
	return FakeToken{}
}

func (c *FakeMQTTClient) SubscribeMultiple(filters map[string]byte, h mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, h)
	}
	return FakeToken{}
}

func (c *FakeMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.Subs, t)
	}
	return FakeToken{}
}

func (c *FakeMQTTClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *FakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

// Deliver calls the handler subscribed to topic, if any. It reports whether
// one was found.
func (c *FakeMQTTClient) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.Subs[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, FakeMessage{TopicName: topic, Body: payload})
	return true
}

// Published returns the publishes made to topic.
func (c *FakeMQTTClient) Published(topic string) []PublishCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []PublishCall
	for _, p := range c.Publishes {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (c *FakeMQTTClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Publishes = nil
}
