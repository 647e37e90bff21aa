package heatpump

import (
	"fmt"
	"math"
)

// Setpoint limits the CN105 encoding can carry.
const (
	MinSetpoint = 10.0
	MaxSetpoint = 31.0
)

// Settings is the user-controllable configuration of the indoor unit.
type Settings struct {
	Power       bool
	Mode        Mode
	Temperature float64
	Fan         FanSpeed
	Vane        Vane
	WideVane    WideVane
}

// Status is read-only telemetry.
type Status struct {
	RoomTemperature     float64
	Operating           bool
	CompressorFrequency int
	ISee                bool
}

type Timers struct {
	Mode                TimerMode
	OnMinutesSet        int
	OnMinutesRemaining  int
	OffMinutesSet       int
	OffMinutesRemaining int
}

// Bounds limit the target temperature. Step is relative to Min.
type Bounds struct {
	Min  float64
	Max  float64
	Step float64
}

func DefaultBounds() Bounds {
	return Bounds{Min: 16, Max: 31, Step: 1}
}

// Validate also requires the grid Min, Min+Step, ..., Max to sit on the
// half-degree resolution of the wire encoding.
func (b Bounds) Validate() error {
	if b.Step <= 0 || !finite(b.Step) || !multipleOf(b.Step, 0.5) {
		return fmt.Errorf("%w: step %v is not a positive multiple of 0.5", ErrInvalidBounds, b.Step)
	}
	if !finite(b.Min) || !finite(b.Max) {
		return fmt.Errorf("%w: min %v, max %v", ErrInvalidBounds, b.Min, b.Max)
	}
	if b.Min > b.Max {
		return fmt.Errorf("%w: min %v > max %v", ErrInvalidBounds, b.Min, b.Max)
	}
	if b.Min < MinSetpoint || b.Max > MaxSetpoint {
		return fmt.Errorf("%w: [%v, %v] outside [%v, %v]", ErrInvalidBounds, b.Min, b.Max, MinSetpoint, MaxSetpoint)
	}
	if !multipleOf(b.Min, 0.5) {
		return fmt.Errorf("%w: min %v is not a multiple of 0.5", ErrInvalidBounds, b.Min)
	}
	if !multipleOf(b.Max-b.Min, b.Step) {
		return fmt.Errorf("%w: max %v is not min %v plus whole steps of %v", ErrInvalidBounds, b.Max, b.Min, b.Step)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func multipleOf(v, unit float64) bool {
	n := v / unit
	return math.Abs(n-math.Round(n)) < 1e-9
}

// Check rejects temperatures outside [Min, Max].
func (b Bounds) Check(t float64) error {
	if math.IsNaN(t) || t < b.Min || t > b.Max {
		return fmt.Errorf("%w: temperature %v outside [%v, %v]", ErrInvalidSetting, t, b.Min, b.Max)
	}
	return nil
}

// Snap rounds t to the nearest step and clamps it into [Min, Max].
func (b Bounds) Snap(t float64) float64 {
	n := math.Round((t - b.Min) / b.Step)
	v := b.Min + n*b.Step
	v = math.Max(b.Min, math.Min(b.Max, v))
	// keep values like 22.5 exact after the float arithmetic
	return math.Round(v*100) / 100
}

// Validate checks every field of s against the enums and b.
func (s Settings) Validate(b Bounds) error {
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: mode %d", ErrInvalidSetting, s.Mode)
	}
	if !s.Fan.Valid() {
		return fmt.Errorf("%w: fan speed %d", ErrInvalidSetting, s.Fan)
	}
	if !s.Vane.Valid() {
		return fmt.Errorf("%w: vane %d", ErrInvalidSetting, s.Vane)
	}
	if !s.WideVane.Valid() {
		return fmt.Errorf("%w: wide vane %d", ErrInvalidSetting, s.WideVane)
	}
	return b.Check(s.Temperature)
}

// Field is a bitmask naming Settings fields.
type Field uint8

const (
	FieldPower Field = 1 << iota
	FieldMode
	FieldTemperature
	FieldFan
	FieldVane
	FieldWideVane

	AllFields = FieldPower | FieldMode | FieldTemperature | FieldFan | FieldVane | FieldWideVane
)

func (f Field) Has(o Field) bool { return f&o != 0 }

// Update is a settings delta. Nil fields are left as they are.
type Update struct {
	Power       *bool
	Mode        *Mode
	Temperature *float64
	Fan         *FanSpeed
	Vane        *Vane
	WideVane    *WideVane
}

func (u Update) Fields() Field {
	var f Field
	if u.Power != nil {
		f |= FieldPower
	}
	if u.Mode != nil {
		f |= FieldMode
	}
	if u.Temperature != nil {
		f |= FieldTemperature
	}
	if u.Fan != nil {
		f |= FieldFan
	}
	if u.Vane != nil {
		f |= FieldVane
	}
	if u.WideVane != nil {
		f |= FieldWideVane
	}
	return f
}

func (u Update) Empty() bool { return u.Fields() == 0 }

// Apply returns s with the fields of u written over it.
func (u Update) Apply(s Settings) Settings {
	if u.Power != nil {
		s.Power = *u.Power
	}
	if u.Mode != nil {
		s.Mode = *u.Mode
	}
	if u.Temperature != nil {
		s.Temperature = *u.Temperature
	}
	if u.Fan != nil {
		s.Fan = *u.Fan
	}
	if u.Vane != nil {
		s.Vane = *u.Vane
	}
	if u.WideVane != nil {
		s.WideVane = *u.WideVane
	}
	return s
}

// Normalize validates the fields present in u and snaps its temperature to
// b. The returned update is safe to encode.
func (u Update) Normalize(b Bounds) (Update, error) {
	if u.Empty() {
		return u, fmt.Errorf("%w: %w", ErrInvalidSetting, ErrEmptyUpdate)
	}
	if u.Mode != nil && !u.Mode.Valid() {
		return u, fmt.Errorf("%w: mode %d", ErrInvalidSetting, *u.Mode)
	}
	if u.Fan != nil && !u.Fan.Valid() {
		return u, fmt.Errorf("%w: fan speed %d", ErrInvalidSetting, *u.Fan)
	}
	if u.Vane != nil && !u.Vane.Valid() {
		return u, fmt.Errorf("%w: vane %d", ErrInvalidSetting, *u.Vane)
	}
	if u.WideVane != nil && !u.WideVane.Valid() {
		return u, fmt.Errorf("%w: wide vane %d", ErrInvalidSetting, *u.WideVane)
	}
	if u.Temperature != nil {
		if err := b.Check(*u.Temperature); err != nil {
			return u, err
		}
		t := b.Snap(*u.Temperature)
		u.Temperature = &t
	}
	return u, nil
}

// Ptr is a small helper for building updates.
func Ptr[T any](v T) *T { return &v }
