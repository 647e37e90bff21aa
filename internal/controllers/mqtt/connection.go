package mqttctrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

type ConnConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	// AvailabilityTopic carries the retained online/offline flag and the
	// broker-side last will. Empty disables both.
	AvailabilityTopic string

	// for testing
	NewClientFunc func(*mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

type subscription struct {
	topic   string
	handler mqtt.MessageHandler
}

// Connection owns the paho client. It never reconnects on its own: the
// supervisor calls Connect with its own backoff.
type Connection struct {
	cfg ConnConfig
	log zerolog.Logger

	client    mqtt.Client
	connected atomic.Bool

	mu        sync.Mutex
	subs      []subscription
	onConnect []func()
}

func NewConnection(cfg ConnConfig) (*Connection, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "heatpumpbridge"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if cfg.NewClientFunc == nil {
		cfg.NewClientFunc = mqtt.NewClient
	}

	c := &Connection{cfg: cfg, log: cfg.Log}
	c.client = cfg.NewClientFunc(c.options())
	return c, nil
}

func (c *Connection) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetKeepAlive(c.cfg.KeepAlive)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.AvailabilityTopic != "" {
		opts.SetWill(c.cfg.AvailabilityTopic, availabilityOffline, c.cfg.QoS, true)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.lost(err)
	})
	return opts
}

// Handle subscribes handler to topic on every successful Connect.
func (c *Connection) Handle(topic string, handler mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, subscription{topic: topic, handler: handler})
}

// OnConnect registers fn to run after each successful Connect.
func (c *Connection) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *Connection) Name() string { return "mqtt" }

func (c *Connection) Connected() bool { return c.connected.Load() }

// Connect makes one attempt to reach the broker and subscribe.
func (c *Connection) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.BrokerURL, err)
	}

	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	for _, s := range subs {
		if err := c.wait(ctx, c.client.Subscribe(s.topic, c.cfg.QoS, s.handler)); err != nil {
			c.client.Disconnect(0)
			return fmt.Errorf("mqtt subscribe %s: %w", s.topic, err)
		}
	}

	c.connected.Store(true)
	if c.cfg.AvailabilityTopic != "" {
		c.client.Publish(c.cfg.AvailabilityTopic, c.cfg.QoS, true, availabilityOnline)
	}
	for _, fn := range hooks {
		fn()
	}
	c.log.Info().Str("broker", c.cfg.BrokerURL).Int("subscriptions", len(subs)).Msg("mqtt connected")
	return nil
}

func (c *Connection) wait(ctx context.Context, tok mqtt.Token) error {
	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) lost(err error) {
	if c.connected.Swap(false) {
		c.log.Warn().Err(err).Msg("mqtt connection lost")
	}
}

// Publish hands payload to paho without waiting for delivery. Nothing is
// queued while disconnected.
func (c *Connection) Publish(topic string, retain bool, payload []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	tok := c.client.Publish(topic, c.cfg.QoS, retain, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	default:
		return nil
	}
}

// Close marks the bridge offline and disconnects.
func (c *Connection) Close() {
	if !c.connected.Swap(false) {
		return
	}
	if c.cfg.AvailabilityTopic != "" {
		tok := c.client.Publish(c.cfg.AvailabilityTopic, c.cfg.QoS, true, availabilityOffline)
		tok.WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
}
