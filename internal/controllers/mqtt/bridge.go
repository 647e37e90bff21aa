// Package mqttctrl bridges the heat pump to an MQTT broker: settings,
// status and timers out, set commands in, raw frames mirrored on demand.
package mqttctrl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/loop"
	"github.com/Agrid-Dev/heatpumpbridge/internal/metrics"
	"github.com/Agrid-Dev/heatpumpbridge/internal/ports"
	"github.com/Agrid-Dev/heatpumpbridge/internal/protocol"
)

// Topics are full topic names. Empty fields are derived from the base topic.
type Topics struct {
	Settings     string
	Set          string
	Status       string
	Timers       string
	Debug        string
	DebugSet     string
	Availability string
}

func (t Topics) withDefaults(base string) Topics {
	base = strings.TrimRight(base, "/")
	join := func(cur, suffix string) string {
		if cur != "" {
			return cur
		}
		if suffix == "" {
			return base
		}
		return base + "/" + suffix
	}
	t.Settings = join(t.Settings, "")
	t.Set = join(t.Set, "set")
	t.Status = join(t.Status, "status")
	t.Timers = join(t.Timers, "timers")
	t.Debug = join(t.Debug, "debug")
	t.DebugSet = join(t.DebugSet, "debug/set")
	t.Availability = join(t.Availability, "availability")
	return t
}

// Publisher is the outbound half of a Connection.
type Publisher interface {
	Connected() bool
	Publish(topic string, retain bool, payload []byte) error
}

type Config struct {
	BaseTopic       string
	Topics          Topics
	Retain          bool
	PayloadMode     PayloadMode
	PublishInterval time.Duration
	Debug           bool

	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

type Bridge struct {
	svc ports.HeatPumpService
	pub Publisher
	cfg Config
	log zerolog.Logger

	debug atomic.Bool

	mu          sync.Mutex
	last        map[string]string
	pending     link.Change
	nextPublish time.Time
}

func New(svc ports.HeatPumpService, pub Publisher, cfg Config) (*Bridge, error) {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "heatpump"
	}
	if cfg.PayloadMode == "" {
		cfg.PayloadMode = PayloadJSON
	}
	if !cfg.PayloadMode.Valid() {
		return nil, fmt.Errorf("mqtt: unknown payload mode %q", cfg.PayloadMode)
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	cfg.Topics = cfg.Topics.withDefaults(cfg.BaseTopic)

	b := &Bridge{
		svc:  svc,
		pub:  pub,
		cfg:  cfg,
		log:  cfg.Log,
		last: make(map[string]string),
	}
	b.debug.Store(cfg.Debug)
	return b, nil
}

func (b *Bridge) Topics() Topics { return b.cfg.Topics }

// Subscriptions lists the inbound topics and their handlers.
func (b *Bridge) Subscriptions() map[string]mqtt.MessageHandler {
	return map[string]mqtt.MessageHandler{
		b.cfg.Topics.Set:      b.onSet,
		b.cfg.Topics.DebugSet: b.onDebugSet,
	}
}

// Attach registers the bridge's subscriptions and reconnect hook on conn.
func (b *Bridge) Attach(conn *Connection) {
	for topic, h := range b.Subscriptions() {
		conn.Handle(topic, h)
	}
	conn.OnConnect(b.ResetCache)
}

// Notify records what the link changed; the next Step publishes it.
func (b *Bridge) Notify(c link.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending |= c
}

// ResetCache forgets what was published so retained topics are refreshed
// after a reconnect.
func (b *Bridge) ResetCache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = make(map[string]string)
	b.nextPublish = time.Time{}
}

func (b *Bridge) Debug() bool { return b.debug.Load() }

// Step publishes whatever changed since the last call, and re-evaluates
// every topic once per publish interval. Nothing happens while the broker
// is unreachable.
func (b *Bridge) Step(_ context.Context, now time.Time) {
	if !b.pub.Connected() {
		return
	}

	b.mu.Lock()
	pending := b.pending
	due := !now.Before(b.nextPublish)
	b.pending = 0
	if due {
		b.nextPublish = now.Add(b.cfg.PublishInterval)
	}
	b.mu.Unlock()

	if pending == 0 && !due {
		return
	}

	snap := b.svc.Snapshot()
	if snap.Valid {
		if due || pending.Has(link.ChangeSettings) {
			b.publishJSON("settings", b.cfg.Topics.Settings, settingsPayload(snap.Settings))
		}
		if due || pending.Has(link.ChangeTimers) {
			b.publishJSON("timers", b.cfg.Topics.Timers, timersPayload(snap.Timers))
		}
	}
	b.publishJSON("status", b.cfg.Topics.Status, statusPayload(snap))
}

func (b *Bridge) publishJSON(name, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("cannot encode payload")
		return
	}
	b.publish(name, topic, b.cfg.Retain, payload, true)
}

func (b *Bridge) publish(name, topic string, retain bool, payload []byte, dedupe bool) {
	if dedupe {
		b.mu.Lock()
		same := b.last[topic] == string(payload)
		b.mu.Unlock()
		if same {
			b.cfg.Metrics.Publishes.WithLabelValues(name, "deduped").Inc()
			return
		}
	}

	if err := b.pub.Publish(topic, retain, payload); err != nil {
		b.cfg.Metrics.Publishes.WithLabelValues(name, "dropped").Inc()
		b.log.Debug().Err(err).Str("topic", topic).Msg("publish dropped")
		return
	}
	b.cfg.Metrics.Publishes.WithLabelValues(name, "sent").Inc()

	if dedupe {
		b.mu.Lock()
		b.last[topic] = string(payload)
		b.mu.Unlock()
	}
}

func (b *Bridge) onSet(_ mqtt.Client, msg mqtt.Message) {
	raw := string(msg.Payload())
	req, err := ParseRequest(msg.Payload(), b.cfg.PayloadMode)
	if err != nil {
		b.reportError(raw, err)
		return
	}

	cmd := ports.Command{
		Update:            req.Update,
		RemoteTemperature: req.RemoteTemperature,
		Source:            "mqtt",
		Done: func(err error) {
			if err != nil {
				b.reportError(raw, err)
			}
		},
	}
	if err := b.svc.Submit(cmd); err != nil {
		b.reportError(raw, err)
	}
}

func (b *Bridge) onDebugSet(_ mqtt.Client, msg mqtt.Message) {
	switch strings.ToLower(strings.TrimSpace(string(msg.Payload()))) {
	case "on", "true", "1":
		b.debug.Store(true)
	case "off", "false", "0":
		b.debug.Store(false)
	default:
		b.reportError(string(msg.Payload()), fmt.Errorf("%w: debug expects on or off", ErrInvalidPayload))
		return
	}
	b.log.Info().Bool("debug", b.debug.Load()).Msg("frame mirroring toggled")
}

// reportError publishes err on the debug topic and schedules a status
// refresh so the link state reaches subscribers.
func (b *Bridge) reportError(command string, err error) {
	b.log.Warn().Err(err).Str("command", command).Msg("command rejected")
	payload, _ := json.Marshal(errorPayload{
		Error:   err.Error(),
		Kind:    errorKind(err),
		Command: command,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
	b.publish("debug", b.cfg.Topics.Debug, false, payload, false)
	b.Notify(link.ChangeStatus)
}

// Tap mirrors raw frames to the debug topic while debugging is on.
func (b *Bridge) Tap(dir link.Direction, f protocol.Frame) {
	if !b.debug.Load() || !b.pub.Connected() {
		return
	}
	p := framePayload{Dir: string(dir), Frame: f.String()}
	if m, err := protocol.Decode(f); err == nil {
		p.Message = protocol.FormatMessage(m)
	}
	payload, _ := json.Marshal(p)
	b.publish("debug", b.cfg.Topics.Debug, false, payload, false)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, heatpump.ErrInvalidSetting):
		return "invalid_setting"
	case errors.Is(err, link.ErrAckTimeout):
		return "ack_timeout"
	case errors.Is(err, link.ErrLinkTimeout):
		return "link_timeout"
	case errors.Is(err, link.ErrNotSynced):
		return "not_synced"
	case errors.Is(err, loop.ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
