// Package supervisor keeps the bridge's connections up: host network, MQTT
// broker and heat pump link, each retried with its own exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/heatpumpbridge/internal/metrics"
)

var ErrConnectivity = errors.New("endpoint unreachable")

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Endpoint is something the supervisor can (re)connect. Connect makes one
// bounded attempt.
type Endpoint interface {
	Name() string
	Connected() bool
	Connect(ctx context.Context) error
}

type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // randomization factor, 0 disables
	Log            zerolog.Logger
	Metrics        *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New(nil)
	}
}

type entry struct {
	ep          Endpoint
	deps        []string
	state       ConnectionState
	backoff     *backoff.ExponentialBackOff
	nextAttempt time.Time
	failures    int
	lastErr     error
}

type Supervisor struct {
	cfg Config
	log zerolog.Logger

	mu      sync.RWMutex
	entries []*entry
}

func New(cfg Config) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{cfg: cfg, log: cfg.Log}
}

// Add registers ep. It is only attempted while every endpoint named in deps
// is connected; endpoints are stepped in the order they were added.
func (s *Supervisor) Add(ep Endpoint, deps ...string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.Multiplier = s.cfg.Multiplier
	b.RandomizationFactor = s.cfg.Jitter
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{ep: ep, deps: deps, backoff: b})
	s.cfg.Metrics.ConnectionState.WithLabelValues(ep.Name()).Set(float64(Disconnected))
}

// Step refreshes every endpoint's state and makes at most one connect
// attempt per endpoint whose backoff has elapsed.
func (s *Supervisor) Step(ctx context.Context, now time.Time) {
	s.mu.RLock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.RUnlock()

	for _, e := range entries {
		name := e.ep.Name()
		if e.ep.Connected() {
			if s.state(e) != Connected {
				s.markConnected(e)
			}
			continue
		}
		if s.state(e) == Connected {
			s.log.Warn().Str("endpoint", name).Msg("connection lost")
			s.setState(e, Disconnected)
			e.backoff.Reset()
			e.nextAttempt = now
		}
		if dep, ok := s.blockedBy(e); ok {
			s.log.Trace().Str("endpoint", name).Str("waiting_for", dep).Msg("dependency down")
			continue
		}
		if now.Before(e.nextAttempt) {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		s.setState(e, Connecting)
		err := e.ep.Connect(ctx)
		if err == nil {
			s.cfg.Metrics.ConnectAttempts.WithLabelValues(name, "ok").Inc()
			s.markConnected(e)
			continue
		}
		s.cfg.Metrics.ConnectAttempts.WithLabelValues(name, "error").Inc()
		delay := e.backoff.NextBackOff()
		s.mu.Lock()
		e.failures++
		e.lastErr = fmt.Errorf("%w: %s: %w", ErrConnectivity, name, err)
		e.nextAttempt = now.Add(delay)
		failures := e.failures
		s.mu.Unlock()
		s.setState(e, Disconnected)
		s.log.Warn().Err(err).Str("endpoint", name).Int("attempt", failures).Dur("retry_in", delay).Msg("connect failed")
	}
}

func (s *Supervisor) markConnected(e *entry) {
	s.mu.Lock()
	e.failures = 0
	e.lastErr = nil
	s.mu.Unlock()
	e.backoff.Reset()
	s.setState(e, Connected)
	s.log.Info().Str("endpoint", e.ep.Name()).Msg("connected")
}

func (s *Supervisor) blockedBy(e *entry) (string, bool) {
	for _, dep := range e.deps {
		if s.State(dep) != Connected {
			return dep, true
		}
	}
	return "", false
}

func (s *Supervisor) state(e *entry) ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.state
}

func (s *Supervisor) setState(e *entry, st ConnectionState) {
	s.mu.Lock()
	e.state = st
	s.mu.Unlock()
	s.cfg.Metrics.ConnectionState.WithLabelValues(e.ep.Name()).Set(float64(st))
}

func (s *Supervisor) find(name string) *entry {
	for _, e := range s.entries {
		if e.ep.Name() == name {
			return e
		}
	}
	return nil
}

// State returns the last observed state of the named endpoint; unknown
// names are Disconnected.
func (s *Supervisor) State(name string) ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.find(name); e != nil {
		return e.state
	}
	return Disconnected
}

// States returns a copy of every endpoint's state.
func (s *Supervisor) States() map[string]ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ConnectionState, len(s.entries))
	for _, e := range s.entries {
		out[e.ep.Name()] = e.state
	}
	return out
}

// LastError returns the most recent connect failure of the named endpoint,
// wrapped in ErrConnectivity, or nil once it connected.
func (s *Supervisor) LastError(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.find(name); e != nil {
		return e.lastErr
	}
	return nil
}

// NextAttempt reports when the named endpoint will be tried again.
func (s *Supervisor) NextAttempt(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.find(name); e != nil {
		return e.nextAttempt
	}
	return time.Time{}
}
