// Package loop runs the single control goroutine that owns the heat pump
// link. Controllers talk to it through ports.HeatPumpService.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/metrics"
	"github.com/Agrid-Dev/heatpumpbridge/internal/ports"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
)

var ErrBusy = errors.New("command queue full")

// Stepper is driven once per tick after the link work is done.
type Stepper interface {
	Step(ctx context.Context, now time.Time)
}

type Config struct {
	Tick         time.Duration
	QueueSize    int
	PollInterval time.Duration
	Log          zerolog.Logger
	Metrics      *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New(nil)
	}
}

type Loop struct {
	cfg Config
	log zerolog.Logger

	link     *link.Link
	sup      *supervisor.Supervisor
	steppers []Stepper
	queue    chan ports.Command

	nextPoll time.Time
	pollNow  bool
}

var _ ports.HeatPumpService = (*Loop)(nil)

// New builds a loop around lk. sup may be nil when something else keeps
// the link connected.
func New(cfg Config, lk *link.Link, sup *supervisor.Supervisor) *Loop {
	cfg.applyDefaults()
	return &Loop{
		cfg:   cfg,
		log:   cfg.Log,
		link:  lk,
		sup:   sup,
		queue: make(chan ports.Command, cfg.QueueSize),
	}
}

// AddStepper must be called before Run.
func (l *Loop) AddStepper(s Stepper) {
	l.steppers = append(l.steppers, s)
}

func (l *Loop) Snapshot() link.Snapshot { return l.link.Snapshot() }
func (l *Loop) Bounds() heatpump.Bounds { return l.link.Bounds() }

func (l *Loop) Connections() map[string]supervisor.ConnectionState {
	if l.sup == nil {
		st := supervisor.Disconnected
		if l.link.Connected() {
			st = supervisor.Connected
		}
		return map[string]supervisor.ConnectionState{l.link.Name(): st}
	}
	return l.sup.States()
}

// Submit queues cmd without blocking.
func (l *Loop) Submit(cmd ports.Command) error {
	select {
	case l.queue <- cmd:
		return nil
	default:
		l.cfg.Metrics.Commands.WithLabelValues(source(cmd), "busy").Inc()
		return ErrBusy
	}
}

// Step runs one iteration: supervisor, one queued command, a poll when due,
// then every registered stepper.
func (l *Loop) Step(ctx context.Context, now time.Time) {
	if l.sup != nil {
		l.sup.Step(ctx, now)
	}

	select {
	case cmd := <-l.queue:
		l.execute(ctx, cmd, now)
	default:
	}

	if l.link.Connected() && (l.pollNow || !now.Before(l.nextPoll)) {
		l.pollNow = false
		l.nextPoll = now.Add(l.cfg.PollInterval)
		if _, err := l.link.Poll(ctx); err != nil {
			l.log.Warn().Err(err).Msg("poll failed")
		}
	}

	for _, s := range l.steppers {
		s.Step(ctx, now)
	}
}

func (l *Loop) execute(ctx context.Context, cmd ports.Command, now time.Time) {
	if !cmd.Deadline.IsZero() && now.After(cmd.Deadline) {
		l.log.Debug().Str("source", source(cmd)).Msg("command expired in queue")
		l.cfg.Metrics.Commands.WithLabelValues(source(cmd), "expired").Inc()
		if cmd.Done != nil {
			cmd.Done(context.DeadlineExceeded)
		}
		return
	}

	err := l.apply(ctx, cmd)
	result := "ok"
	if err != nil {
		result = "error"
		l.log.Warn().Err(err).Str("source", source(cmd)).Msg("command failed")
	} else {
		l.pollNow = true
	}
	l.cfg.Metrics.Commands.WithLabelValues(source(cmd), result).Inc()
	if cmd.Done != nil {
		cmd.Done(err)
	}
}

func (l *Loop) apply(ctx context.Context, cmd ports.Command) error {
	if cmd.RemoteTemperature == nil || !cmd.Update.Empty() {
		if err := l.link.RequestUpdate(ctx, cmd.Update); err != nil {
			return err
		}
	}
	if cmd.RemoteTemperature != nil {
		if err := l.link.SetRemoteTemperature(ctx, *cmd.RemoteTemperature); err != nil {
			return fmt.Errorf("remote temperature: %w", err)
		}
	}
	return nil
}

// Run steps every tick until ctx is done, then closes the link.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	defer l.link.Close()

	l.Step(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			l.drain(ctx.Err())
			return ctx.Err()
		case now := <-ticker.C:
			l.Step(ctx, now)
		}
	}
}

// drain fails every queued command so waiters are released.
func (l *Loop) drain(err error) {
	for {
		select {
		case cmd := <-l.queue:
			if cmd.Done != nil {
				cmd.Done(err)
			}
		default:
			return
		}
	}
}

func source(cmd ports.Command) string {
	if cmd.Source == "" {
		return "unknown"
	}
	return cmd.Source
}
