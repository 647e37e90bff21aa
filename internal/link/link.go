// Package link drives the CN105 conversation with one indoor unit: the
// handshake, periodic info polls and settings writes.
//
// Connect, Poll, RequestUpdate and SetRemoteTemperature must be called from
// a single goroutine. Snapshot readers may run anywhere.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/metrics"
	"github.com/Agrid-Dev/heatpumpbridge/internal/protocol"
	"github.com/Agrid-Dev/heatpumpbridge/internal/transport"
)

type Config struct {
	Opener          transport.Opener
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	AckTimeout      time.Duration
	ReadTimeout     time.Duration // single port read; bounds how long a wait can overrun
	MaxPollFailures int
	Bounds          heatpump.Bounds
	Log             zerolog.Logger
	Metrics         *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 50 * time.Millisecond
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = 3
	}
	if c.Bounds == (heatpump.Bounds{}) {
		c.Bounds = heatpump.DefaultBounds()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New(nil)
	}
}

// Snapshot is a copy of everything the link knows about the unit.
type Snapshot struct {
	State             State
	Valid             bool // at least one full poll succeeded
	Settings          heatpump.Settings
	Status            heatpump.Status
	Timers            heatpump.Timers
	RemoteTemperature float64
	LastPoll          time.Time
}

type Link struct {
	cfg Config
	log zerolog.Logger

	port transport.Port
	asm  *protocol.Assembler
	buf  []byte

	failures int

	mu        sync.RWMutex
	snap      Snapshot
	listeners []func(Change)
	tap       func(Direction, protocol.Frame)
}

func New(cfg Config) (*Link, error) {
	if cfg.Opener == nil {
		return nil, errors.New("link: no port opener configured")
	}
	cfg.applyDefaults()
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}
	return &Link{
		cfg: cfg,
		log: cfg.Log,
		asm: protocol.NewAssembler(),
		buf: make([]byte, protocol.MaxFrameLen),
	}, nil
}

// Name identifies the link as a supervisor endpoint.
func (l *Link) Name() string { return "heatpump" }

func (l *Link) Bounds() heatpump.Bounds { return l.cfg.Bounds }

// OnChange registers fn to be called after a poll or update modified state.
// fn runs on the caller's goroutine and must not block.
func (l *Link) OnChange(fn func(Change)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// SetTap installs fn to observe every raw frame sent or received.
func (l *Link) SetTap(fn func(Direction, protocol.Frame)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tap = fn
}

func (l *Link) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap.State
}

func (l *Link) Settings() heatpump.Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap.Settings
}

func (l *Link) Status() heatpump.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap.Status
}

func (l *Link) Timers() heatpump.Timers {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap.Timers
}

// Connected reports whether the handshake completed and the link has not
// been dropped since.
func (l *Link) Connected() bool { return l.State().Connected() }

func (l *Link) setState(s State) {
	l.mu.Lock()
	prev := l.snap.State
	l.snap.State = s
	l.mu.Unlock()
	l.cfg.Metrics.LinkState.Set(float64(s))
	if prev != s {
		l.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("link state")
	}
}

// Connect opens the port if needed and performs the handshake. It makes a
// single attempt; retrying is up to the caller.
func (l *Link) Connect(ctx context.Context) error {
	if l.port == nil {
		port, err := l.cfg.Opener(ctx)
		if err != nil {
			return fmt.Errorf("%w: open: %w", ErrPortFailure, err)
		}
		l.port = port
		l.asm.Reset()
	}

	l.setState(StateHandshaking)
	if err := l.send(protocol.Connect{}); err != nil {
		return err
	}
	_, err := l.await(ctx, l.cfg.ConnectTimeout, func(m protocol.Message) bool {
		_, ok := m.(protocol.ConnectAck)
		return ok
	})
	if err != nil {
		l.drop()
		if errors.Is(err, errNoReply) {
			return fmt.Errorf("%w: no connect ack within %s", ErrLinkTimeout, l.cfg.ConnectTimeout)
		}
		return err
	}

	l.failures = 0
	l.setState(StateSynced)
	l.log.Info().Msg("heat pump connected")
	return nil
}

// Close releases the port and returns the link to idle.
func (l *Link) Close() error {
	var err error
	if l.port != nil {
		err = l.port.Close()
		l.port = nil
	}
	l.setState(StateIdle)
	return err
}

func (l *Link) drop() {
	if err := l.Close(); err != nil {
		l.log.Debug().Err(err).Msg("closing port")
	}
}

// Poll reads settings, room temperature, timers and status. State is only
// updated when all four replies decoded.
func (l *Link) Poll(ctx context.Context) (Snapshot, error) {
	if !l.State().Connected() {
		return Snapshot{}, ErrNotSynced
	}
	l.setState(StatePolling)

	prev := l.Snapshot()
	next := prev
	for _, code := range protocol.PollCodes {
		m, err := l.request(ctx, code)
		if err != nil {
			return Snapshot{}, l.pollFailed(code, err)
		}
		switch m := m.(type) {
		case protocol.SettingsReply:
			next.Settings = m.Settings
			next.Status.ISee = m.ISee
		case protocol.RoomTemperatureReply:
			next.Status.RoomTemperature = m.Temperature
		case protocol.TimersReply:
			next.Timers = m.Timers
		case protocol.StatusReply:
			next.Status.Operating = m.Operating
			next.Status.CompressorFrequency = m.CompressorFrequency
		}
	}

	l.failures = 0
	next.State = StateSynced
	next.Valid = true
	next.LastPoll = time.Now()

	var change Change
	if !prev.Valid || next.Settings != prev.Settings {
		change |= ChangeSettings
	}
	if !prev.Valid || next.Status != prev.Status {
		change |= ChangeStatus
	}
	if !prev.Valid || next.Timers != prev.Timers {
		change |= ChangeTimers
	}

	l.mu.Lock()
	next.RemoteTemperature = l.snap.RemoteTemperature
	l.snap = next
	l.mu.Unlock()
	l.cfg.Metrics.LinkState.Set(float64(StateSynced))
	l.cfg.Metrics.RoomTemperature.Set(next.Status.RoomTemperature)
	l.cfg.Metrics.Setpoint.Set(next.Settings.Temperature)
	l.cfg.Metrics.Compressor.Set(float64(next.Status.CompressorFrequency))

	l.notify(change)
	return next, nil
}

func (l *Link) request(ctx context.Context, code protocol.InfoCode) (protocol.Message, error) {
	if err := l.send(protocol.InfoRequest{Code: code}); err != nil {
		return nil, err
	}
	m, err := l.await(ctx, l.cfg.ResponseTimeout, func(m protocol.Message) bool {
		return replyCode(m) == code
	})
	if errors.Is(err, errNoReply) {
		return nil, fmt.Errorf("%w: no %s reply within %s", ErrLinkTimeout, code, l.cfg.ResponseTimeout)
	}
	return m, err
}

func replyCode(m protocol.Message) protocol.InfoCode {
	switch m.(type) {
	case protocol.SettingsReply:
		return protocol.InfoSettings
	case protocol.RoomTemperatureReply:
		return protocol.InfoRoomTemp
	case protocol.TimersReply:
		return protocol.InfoTimers
	case protocol.StatusReply:
		return protocol.InfoStatus
	}
	return 0
}

func (l *Link) pollFailed(code protocol.InfoCode, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		l.setState(StateSynced)
		return err
	}
	l.cfg.Metrics.PollFailures.Inc()
	if errors.Is(err, ErrPortFailure) {
		l.drop()
		return err
	}
	l.failures++
	l.log.Warn().Err(err).Stringer("page", code).Int("consecutive", l.failures).Msg("poll failed")
	if l.failures >= l.cfg.MaxPollFailures {
		l.log.Error().Int("failures", l.failures).Msg("heat pump stopped answering, dropping link")
		l.drop()
		return err
	}
	l.setState(StateSynced)
	return err
}

// RequestUpdate validates u, writes the fields it names and waits for the
// acknowledgement. Invalid updates are rejected before anything is sent.
func (l *Link) RequestUpdate(ctx context.Context, u heatpump.Update) error {
	u, err := u.Normalize(l.cfg.Bounds)
	if err != nil {
		return err
	}
	if !l.State().Connected() {
		return ErrNotSynced
	}
	f, err := protocol.EncodeUpdate(u)
	if err != nil {
		return err
	}

	if err := l.write(ctx, f); err != nil {
		return err
	}

	l.mu.Lock()
	prev := l.snap.Settings
	l.snap.Settings = u.Apply(prev)
	changed := l.snap.Settings != prev
	l.mu.Unlock()
	if changed {
		l.notify(ChangeSettings)
	}
	return nil
}

// SetRemoteTemperature hands the unit an external room reading. Zero
// returns control to the unit's own sensor.
func (l *Link) SetRemoteTemperature(ctx context.Context, t float64) error {
	f, err := protocol.Encode(protocol.RemoteTemperature{Temperature: t})
	if err != nil {
		return err
	}
	if !l.State().Connected() {
		return ErrNotSynced
	}
	if err := l.write(ctx, f); err != nil {
		return err
	}
	l.mu.Lock()
	l.snap.RemoteTemperature = t
	l.mu.Unlock()
	return nil
}

func (l *Link) write(ctx context.Context, f protocol.Frame) error {
	l.setState(StateUpdating)
	if err := l.sendFrame(f); err != nil {
		return err
	}
	_, err := l.await(ctx, l.cfg.AckTimeout, func(m protocol.Message) bool {
		_, ok := m.(protocol.SetAck)
		return ok
	})
	if err != nil {
		if errors.Is(err, ErrPortFailure) {
			return err
		}
		l.setState(StateSynced)
		if errors.Is(err, errNoReply) {
			return fmt.Errorf("%w within %s", ErrAckTimeout, l.cfg.AckTimeout)
		}
		return err
	}
	l.setState(StateSynced)
	return nil
}

func (l *Link) notify(c Change) {
	if c == 0 {
		return
	}
	l.mu.RLock()
	listeners := append([]func(Change){}, l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func (l *Link) tapFrame(dir Direction, f protocol.Frame) {
	l.mu.RLock()
	fn := l.tap
	l.mu.RUnlock()
	if fn != nil {
		fn(dir, f)
	}
}

func (l *Link) send(m protocol.Message) error {
	f, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return l.sendFrame(f)
}

func (l *Link) sendFrame(f protocol.Frame) error {
	if l.port == nil {
		return ErrNotSynced
	}
	l.tapFrame(DirTx, f)
	if _, err := l.port.Write(f); err != nil {
		l.drop()
		return fmt.Errorf("%w: write: %w", ErrPortFailure, err)
	}
	l.cfg.Metrics.FramesSent.Inc()
	l.log.Trace().Str("frame", f.String()).Msg("tx")
	return nil
}

// errNoReply is returned by await when the deadline passed without a match.
var errNoReply = errors.New("no matching reply")

// await reads frames until match accepts one or timeout elapses. Frames that
// do not match are stale replies and are skipped. A frame that fails to
// decode is returned as an error right away; the unit will not resend it.
func (l *Link) await(ctx context.Context, timeout time.Duration, match func(protocol.Message) bool) (protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errNoReply
		}
		if l.port == nil {
			return nil, ErrNotSynced
		}
		if err := l.port.SetReadTimeout(min(remaining, l.cfg.ReadTimeout)); err != nil {
			l.drop()
			return nil, fmt.Errorf("%w: %w", ErrPortFailure, err)
		}
		n, err := l.port.Read(l.buf)
		for _, b := range l.buf[:n] {
			f, ferr := l.asm.Feed(b)
			if ferr != nil {
				l.cfg.Metrics.FrameErrors.WithLabelValues("malformed").Inc()
				l.log.Debug().Err(ferr).Msg("discarding bytes")
				continue
			}
			if f == nil {
				continue
			}
			l.tapFrame(DirRx, f)
			l.cfg.Metrics.FramesReceived.Inc()
			m, derr := protocol.Decode(f)
			if derr != nil {
				l.cfg.Metrics.FrameErrors.WithLabelValues(errorKind(derr)).Inc()
				l.log.Debug().Err(derr).Str("frame", f.String()).Msg("bad frame")
				l.asm.Reset()
				return nil, derr
			}
			if match(m) {
				// anything after the match is noise for this exchange
				l.asm.Reset()
				return m, nil
			}
			l.log.Debug().Str("frame", f.String()).Msg("skipping unexpected frame")
		}
		if err != nil {
			l.drop()
			return nil, fmt.Errorf("%w: read: %w", ErrPortFailure, err)
		}
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrChecksum):
		return "checksum"
	case errors.Is(err, protocol.ErrUnsupportedValue):
		return "unsupported"
	default:
		return "malformed"
	}
}
