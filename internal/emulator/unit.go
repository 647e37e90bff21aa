// Package emulator simulates a CN105 indoor unit: it answers handshake,
// info and set frames and evolves a room temperature with a PID model.
package emulator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/protocol"
)

type Config struct {
	Initial         heatpump.Settings
	RoomTemperature float64
	Timers          heatpump.Timers
	ISee            bool
	PID             PIDRegulatorParams
	HeatLoss        HeatLossParams
	Tick            time.Duration // physics step used by Run
	Log             zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Initial: heatpump.Settings{
			Power:       false,
			Mode:        heatpump.ModeHeat,
			Temperature: 21,
			Fan:         heatpump.FanAuto,
			Vane:        heatpump.VaneAuto,
			WideVane:    heatpump.WideVaneCenter,
		},
		RoomTemperature: 19,
		Timers:          heatpump.Timers{Mode: heatpump.TimerNone},
		PID:             DefaultPIDRegulatorParams(),
		HeatLoss:        HeatLossParams{OutdoorTemperature: 8, Coefficient: 1e-4},
		Tick:            time.Second,
	}
}

// Faults make the unit misbehave for link tests.
type Faults struct {
	Silent         bool // ignore every frame
	DropAcks       bool // apply set frames without acknowledging them
	CorruptReplies bool // flip the checksum of every reply
}

// Unit is the simulated indoor unit. It is safe for concurrent use.
type Unit struct {
	mu        sync.Mutex
	settings  heatpump.Settings
	room      float64
	remote    float64
	timers    heatpump.Timers
	iSee      bool
	reg       *PIDRegulator
	loss      *HeatLoss
	tick      time.Duration
	timerAcc  time.Duration
	connected bool
	faults    Faults
	log       zerolog.Logger

	frames struct {
		rx, tx int
	}
}

func New(cfg Config) (*Unit, error) {
	if err := cfg.PID.Validate(); err != nil {
		return nil, err
	}
	loss, err := NewHeatLoss(cfg.HeatLoss)
	if err != nil {
		return nil, err
	}
	if err := cfg.Initial.Validate(heatpump.Bounds{Min: heatpump.MinSetpoint, Max: heatpump.MaxSetpoint, Step: 0.5}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInitialState, err)
	}
	if !cfg.Timers.Mode.Valid() {
		cfg.Timers.Mode = heatpump.TimerNone
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Unit{
		settings: cfg.Initial,
		room:     cfg.RoomTemperature,
		timers:   cfg.Timers,
		iSee:     cfg.ISee,
		reg:      NewPIDRegulator(cfg.PID),
		loss:     loss,
		tick:     cfg.Tick,
		log:      cfg.Log,
	}, nil
}

func (u *Unit) Settings() heatpump.Settings {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.settings
}

func (u *Unit) RoomTemperature() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.room
}

// RemoteTemperature returns the externally supplied reading, 0 when the
// internal sensor is in use.
func (u *Unit) RemoteTemperature() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remote
}

func (u *Unit) Timers() heatpump.Timers {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.timers
}

func (u *Unit) SetTimers(t heatpump.Timers) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timers = t
	u.timers.Mode = timerMode(t)
}

func (u *Unit) SetRoomTemperature(t float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.room = t
}

// SetSettings changes the unit as if someone used the IR remote.
func (u *Unit) SetSettings(s heatpump.Settings) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.settings = s
}

func (u *Unit) SetFaults(f Faults) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.faults = f
}

func (u *Unit) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected
}

// FrameCounts returns the number of frames received and replies sent.
func (u *Unit) FrameCounts() (rx, tx int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.frames.rx, u.frames.tx
}

// Handle applies m and returns the reply, or nil when the unit stays quiet.
func (u *Unit) Handle(m protocol.Message) protocol.Message {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.handleLocked(m)
}

func (u *Unit) handleLocked(m protocol.Message) protocol.Message {
	u.frames.rx++
	if u.faults.Silent {
		return nil
	}
	if _, ok := m.(protocol.Connect); ok {
		u.connected = true
		return protocol.ConnectAck{}
	}
	if !u.connected {
		// the unit only answers after a handshake
		return nil
	}

	switch m := m.(type) {
	case protocol.InfoRequest:
		return u.infoLocked(m.Code)
	case protocol.SettingsUpdate:
		prev := u.settings
		u.settings = applyFields(u.settings, m.Settings, m.Fields)
		if prev.Power && !u.settings.Power {
			u.reg.Stop()
		}
		u.log.Debug().Str("settings", protocol.FormatMessage(m)).Msg("settings written")
		return u.ackLocked()
	case protocol.RemoteTemperature:
		u.remote = m.Temperature
		return u.ackLocked()
	default:
		return nil
	}
}

func (u *Unit) ackLocked() protocol.Message {
	if u.faults.DropAcks {
		return nil
	}
	return protocol.SetAck{}
}

func (u *Unit) infoLocked(code protocol.InfoCode) protocol.Message {
	switch code {
	case protocol.InfoSettings:
		return protocol.SettingsReply{Settings: u.settings, ISee: u.iSee}
	case protocol.InfoRoomTemp:
		t := u.room
		if u.remote != 0 {
			t = u.remote
		}
		return protocol.RoomTemperatureReply{Temperature: math.Round(t*2) / 2}
	case protocol.InfoTimers:
		return protocol.TimersReply{Timers: u.timers}
	case protocol.InfoStatus:
		return u.statusLocked()
	default:
		return nil
	}
}

func (u *Unit) statusLocked() protocol.StatusReply {
	if !u.settings.Power || !u.reg.Active() {
		return protocol.StatusReply{}
	}
	hz := 20 + 20*math.Abs(u.settings.Temperature-u.room)
	return protocol.StatusReply{Operating: true, CompressorFrequency: int(math.Min(120, hz))}
}

func applyFields(s, w heatpump.Settings, f heatpump.Field) heatpump.Settings {
	if f.Has(heatpump.FieldPower) {
		s.Power = w.Power
	}
	if f.Has(heatpump.FieldMode) {
		s.Mode = w.Mode
	}
	if f.Has(heatpump.FieldTemperature) {
		s.Temperature = w.Temperature
	}
	if f.Has(heatpump.FieldFan) {
		s.Fan = w.Fan
	}
	if f.Has(heatpump.FieldVane) {
		s.Vane = w.Vane
	}
	if f.Has(heatpump.FieldWideVane) {
		s.WideVane = w.WideVane
	}
	return s
}

// Advance moves the simulation forward by dt.
func (u *Unit) Advance(dt time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.settings.Power {
		u.room = u.reg.Update(u.settings.Temperature, u.room, u.settings.Mode, dt)
	}
	u.room += u.loss.DeltaTemperature(u.room, dt)

	u.timerAcc += dt
	for u.timerAcc >= time.Minute {
		u.timerAcc -= time.Minute
		u.tickTimersLocked()
	}
}

func (u *Unit) tickTimersLocked() {
	t := &u.timers
	if t.OnMinutesRemaining > 0 {
		t.OnMinutesRemaining--
		if t.OnMinutesRemaining == 0 {
			u.settings.Power = true
			t.OnMinutesSet = 0
		}
	}
	if t.OffMinutesRemaining > 0 {
		t.OffMinutesRemaining--
		if t.OffMinutesRemaining == 0 {
			u.settings.Power = false
			u.reg.Stop()
			t.OffMinutesSet = 0
		}
	}
	t.Mode = timerMode(*t)
}

func timerMode(t heatpump.Timers) heatpump.TimerMode {
	on, off := t.OnMinutesRemaining > 0, t.OffMinutesRemaining > 0
	switch {
	case on && off:
		return heatpump.TimerBoth
	case on:
		return heatpump.TimerOn
	case off:
		return heatpump.TimerOff
	default:
		return heatpump.TimerNone
	}
}
