package heatpump

import (
	"fmt"
	"strings"
)

// Mode is an integer enum.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeHeat
	ModeDry
	ModeCool
	ModeFan
	ModeAuto
)

func (m Mode) Valid() bool {
	return m >= ModeHeat && m <= ModeAuto
}

func (m Mode) String() string {
	switch m {
	case ModeHeat:
		return "HEAT"
	case ModeDry:
		return "DRY"
	case ModeCool:
		return "COOL"
	case ModeFan:
		return "FAN"
	case ModeAuto:
		return "AUTO"
	default:
		return "UNKNOWN"
	}
}

// ParseMode accepts the names in any case ("cool", "COOL").
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HEAT":
		return ModeHeat, nil
	case "DRY":
		return ModeDry, nil
	case "COOL":
		return ModeCool, nil
	case "FAN":
		return ModeFan, nil
	case "AUTO":
		return ModeAuto, nil
	default:
		return ModeUnknown, fmt.Errorf("%w: mode %q", ErrInvalidSetting, s)
	}
}

// FanSpeed is an integer enum.
type FanSpeed int

const (
	FanUnknown FanSpeed = iota
	FanAuto
	FanQuiet
	Fan1
	Fan2
	Fan3
	Fan4
)

func (f FanSpeed) Valid() bool {
	return f >= FanAuto && f <= Fan4
}

func (f FanSpeed) String() string {
	switch f {
	case FanAuto:
		return "AUTO"
	case FanQuiet:
		return "QUIET"
	case Fan1:
		return "1"
	case Fan2:
		return "2"
	case Fan3:
		return "3"
	case Fan4:
		return "4"
	default:
		return "UNKNOWN"
	}
}

func ParseFanSpeed(s string) (FanSpeed, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTO":
		return FanAuto, nil
	case "QUIET":
		return FanQuiet, nil
	case "1":
		return Fan1, nil
	case "2":
		return Fan2, nil
	case "3":
		return Fan3, nil
	case "4":
		return Fan4, nil
	default:
		return FanUnknown, fmt.Errorf("%w: fan speed %q", ErrInvalidSetting, s)
	}
}

// Vane is the vertical airflow direction.
type Vane int

const (
	VaneUnknown Vane = iota
	VaneAuto
	Vane1
	Vane2
	Vane3
	Vane4
	Vane5
	VaneSwing
)

func (v Vane) Valid() bool {
	return v >= VaneAuto && v <= VaneSwing
}

func (v Vane) String() string {
	switch v {
	case VaneAuto:
		return "AUTO"
	case Vane1:
		return "1"
	case Vane2:
		return "2"
	case Vane3:
		return "3"
	case Vane4:
		return "4"
	case Vane5:
		return "5"
	case VaneSwing:
		return "SWING"
	default:
		return "UNKNOWN"
	}
}

func ParseVane(s string) (Vane, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTO":
		return VaneAuto, nil
	case "1":
		return Vane1, nil
	case "2":
		return Vane2, nil
	case "3":
		return Vane3, nil
	case "4":
		return Vane4, nil
	case "5":
		return Vane5, nil
	case "SWING":
		return VaneSwing, nil
	default:
		return VaneUnknown, fmt.Errorf("%w: vane %q", ErrInvalidSetting, s)
	}
}

// WideVane is the horizontal airflow direction. Names follow the remote
// control glyphs.
type WideVane int

const (
	WideVaneUnknown WideVane = iota
	WideVaneFarLeft
	WideVaneLeft
	WideVaneCenter
	WideVaneRight
	WideVaneFarRight
	WideVaneSplit
	WideVaneSwing
)

func (w WideVane) Valid() bool {
	return w >= WideVaneFarLeft && w <= WideVaneSwing
}

func (w WideVane) String() string {
	switch w {
	case WideVaneFarLeft:
		return "<<"
	case WideVaneLeft:
		return "<"
	case WideVaneCenter:
		return "|"
	case WideVaneRight:
		return ">"
	case WideVaneFarRight:
		return ">>"
	case WideVaneSplit:
		return "<>"
	case WideVaneSwing:
		return "SWING"
	default:
		return "UNKNOWN"
	}
}

func ParseWideVane(s string) (WideVane, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "<<":
		return WideVaneFarLeft, nil
	case "<":
		return WideVaneLeft, nil
	case "|":
		return WideVaneCenter, nil
	case ">":
		return WideVaneRight, nil
	case ">>":
		return WideVaneFarRight, nil
	case "<>":
		return WideVaneSplit, nil
	case "SWING":
		return WideVaneSwing, nil
	default:
		return WideVaneUnknown, fmt.Errorf("%w: wide vane %q", ErrInvalidSetting, s)
	}
}

// TimerMode reports which of the unit's on/off timers are armed.
type TimerMode int

const (
	TimerUnknown TimerMode = iota
	TimerNone
	TimerOff
	TimerOn
	TimerBoth
)

func (t TimerMode) Valid() bool {
	return t >= TimerNone && t <= TimerBoth
}

func (t TimerMode) String() string {
	switch t {
	case TimerNone:
		return "NONE"
	case TimerOff:
		return "OFF"
	case TimerOn:
		return "ON"
	case TimerBoth:
		return "BOTH"
	default:
		return "UNKNOWN"
	}
}

// PowerString renders power the way the MQTT payloads carry it.
func PowerString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func ParsePower(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "TRUE", "1":
		return true, nil
	case "OFF", "FALSE", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: power %q", ErrInvalidSetting, s)
	}
}
