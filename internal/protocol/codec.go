package protocol

import (
	"fmt"
	"math"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
)

// Encode serialises m into a complete frame.
func Encode(m Message) (Frame, error) {
	switch m := m.(type) {
	case Connect:
		return build(TypeConnect, connectData), nil
	case ConnectAck:
		return build(TypeConnectAck, []byte{0x00}), nil
	case SetAck:
		return build(TypeSetAck, make([]byte, DataLen)), nil
	case InfoRequest:
		if !m.Code.Valid() {
			return nil, unsupported("info code", byte(m.Code))
		}
		d := make([]byte, DataLen)
		d[0] = byte(m.Code)
		return build(TypeInfoRequest, d), nil
	case SettingsUpdate:
		return encodeSettingsUpdate(m)
	case RemoteTemperature:
		return encodeRemoteTemperature(m)
	case SettingsReply:
		return encodeSettingsReply(m)
	case RoomTemperatureReply:
		d := make([]byte, DataLen)
		d[0] = byte(InfoRoomTemp)
		d[3] = roomIndex(m.Temperature)
		d[6] = halfDegreeByte(m.Temperature)
		return build(TypeInfoReply, d), nil
	case TimersReply:
		return encodeTimersReply(m)
	case StatusReply:
		d := make([]byte, DataLen)
		d[0] = byte(InfoStatus)
		if m.CompressorFrequency < 0 || m.CompressorFrequency > 0xFF {
			return nil, fmt.Errorf("%w: compressor frequency %d", heatpump.ErrInvalidSetting, m.CompressorFrequency)
		}
		d[3] = byte(m.CompressorFrequency)
		d[4] = powerByte(m.Operating)
		return build(TypeInfoReply, d), nil
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", m)
	}
}

// EncodeUpdate builds the settings frame for the fields present in u.
func EncodeUpdate(u heatpump.Update) (Frame, error) {
	return Encode(SettingsUpdate{Settings: u.Apply(heatpump.Settings{}), Fields: u.Fields()})
}

func encodeSettingsUpdate(m SettingsUpdate) (Frame, error) {
	s := m.Settings
	d := make([]byte, DataLen)
	d[0] = setSettings
	if m.Fields.Has(heatpump.FieldPower) {
		d[1] |= flagPower
		d[3] = powerByte(s.Power)
	}
	if m.Fields.Has(heatpump.FieldMode) {
		b, ok := modeBytes[s.Mode]
		if !ok {
			return nil, fmt.Errorf("%w: mode %d", heatpump.ErrInvalidSetting, s.Mode)
		}
		d[1] |= flagMode
		d[4] = b
	}
	if m.Fields.Has(heatpump.FieldTemperature) {
		t := s.Temperature
		if t < heatpump.MinSetpoint || t > heatpump.MaxSetpoint {
			return nil, fmt.Errorf("%w: temperature %v", heatpump.ErrInvalidSetting, t)
		}
		d[1] |= flagTemp
		d[5] = setpointIndex(t)
		d[14] = halfDegreeByte(t)
	}
	if m.Fields.Has(heatpump.FieldFan) {
		b, ok := fanBytes[s.Fan]
		if !ok {
			return nil, fmt.Errorf("%w: fan speed %d", heatpump.ErrInvalidSetting, s.Fan)
		}
		d[1] |= flagFan
		d[6] = b
	}
	if m.Fields.Has(heatpump.FieldVane) {
		b, ok := vaneBytes[s.Vane]
		if !ok {
			return nil, fmt.Errorf("%w: vane %d", heatpump.ErrInvalidSetting, s.Vane)
		}
		d[1] |= flagVane
		d[7] = b
	}
	if m.Fields.Has(heatpump.FieldWideVane) {
		b, ok := wideVaneBytes[s.WideVane]
		if !ok {
			return nil, fmt.Errorf("%w: wide vane %d", heatpump.ErrInvalidSetting, s.WideVane)
		}
		d[2] |= flagWideVane
		d[13] = b
	}
	return build(TypeSet, d), nil
}

func encodeRemoteTemperature(m RemoteTemperature) (Frame, error) {
	d := make([]byte, DataLen)
	d[0] = setRemoteTemp
	t := m.Temperature
	if t == 0 {
		d[3] = halfDegreeOffset
		return build(TypeSet, d), nil
	}
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 1 || t > 63 {
		return nil, fmt.Errorf("%w: remote temperature %v", heatpump.ErrInvalidSetting, t)
	}
	d[1] = 0x01
	legacy := 3 + (t-10)*2
	if legacy < 0 {
		legacy = 0
	}
	d[2] = byte(legacy)
	d[3] = halfDegreeByte(t)
	return build(TypeSet, d), nil
}

func encodeSettingsReply(m SettingsReply) (Frame, error) {
	s := m.Settings
	mode, ok := modeBytes[s.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: mode %d", heatpump.ErrInvalidSetting, s.Mode)
	}
	if m.ISee {
		mode += 0x08
	}
	fan, ok := fanBytes[s.Fan]
	if !ok {
		return nil, fmt.Errorf("%w: fan speed %d", heatpump.ErrInvalidSetting, s.Fan)
	}
	vane, ok := vaneBytes[s.Vane]
	if !ok {
		return nil, fmt.Errorf("%w: vane %d", heatpump.ErrInvalidSetting, s.Vane)
	}
	wide, ok := wideVaneBytes[s.WideVane]
	if !ok {
		return nil, fmt.Errorf("%w: wide vane %d", heatpump.ErrInvalidSetting, s.WideVane)
	}
	d := make([]byte, DataLen)
	d[0] = byte(InfoSettings)
	d[3] = powerByte(s.Power)
	d[4] = mode
	d[5] = setpointIndex(s.Temperature)
	d[6] = fan
	d[7] = vane
	d[10] = wide
	d[11] = halfDegreeByte(s.Temperature)
	return build(TypeInfoReply, d), nil
}

func encodeTimersReply(m TimersReply) (Frame, error) {
	tm, ok := timerModeBytes[m.Timers.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: timer mode %d", heatpump.ErrInvalidSetting, m.Timers.Mode)
	}
	d := make([]byte, DataLen)
	d[0] = byte(InfoTimers)
	d[3] = tm
	for i, v := range []int{
		m.Timers.OnMinutesSet,
		m.Timers.OffMinutesSet,
		m.Timers.OnMinutesRemaining,
		m.Timers.OffMinutesRemaining,
	} {
		units := v / timerResolution
		if units < 0 || units > 0xFF {
			return nil, fmt.Errorf("%w: timer minutes %d", heatpump.ErrInvalidSetting, v)
		}
		d[4+i] = byte(units)
	}
	return build(TypeInfoReply, d), nil
}

// Decode parses one complete frame. The checksum is verified before anything
// else, so any single corrupted byte yields a *ChecksumError.
func Decode(b []byte) (Message, error) {
	if len(b) < headerLen+1 {
		return nil, malformed("shorter than header", len(b))
	}
	last := len(b) - 1
	if want := Checksum(b[:last]); want != b[last] {
		return nil, &ChecksumError{Want: want, Got: b[last]}
	}
	if b[0] != Header || b[2] != marker1 || b[3] != marker2 {
		return nil, malformed("bad header", len(b))
	}
	if int(b[4]) != len(b)-headerLen-1 {
		return nil, malformed(fmt.Sprintf("length byte %d does not match", b[4]), len(b))
	}
	d := b[headerLen:last]

	switch t := PacketType(b[1]); t {
	case TypeConnect:
		return Connect{}, nil
	case TypeConnectAck:
		return ConnectAck{}, nil
	case TypeSetAck:
		return SetAck{}, nil
	case TypeInfoRequest:
		if len(d) < 1 {
			return nil, malformed("empty info request", len(b))
		}
		code := InfoCode(d[0])
		if !code.Valid() {
			return nil, unsupported("info code", d[0])
		}
		return InfoRequest{Code: code}, nil
	case TypeSet:
		if len(d) < DataLen {
			return nil, malformed("short set payload", len(b))
		}
		switch d[0] {
		case setSettings:
			return decodeSettingsUpdate(d)
		case setRemoteTemp:
			return decodeRemoteTemperature(d), nil
		default:
			return nil, unsupported("set command", d[0])
		}
	case TypeInfoReply:
		if len(d) < DataLen {
			return nil, malformed("short info payload", len(b))
		}
		switch InfoCode(d[0]) {
		case InfoSettings:
			return decodeSettingsReply(d)
		case InfoRoomTemp:
			t, err := decodeRoomTemp(d[3], d[6])
			if err != nil {
				return nil, err
			}
			return RoomTemperatureReply{Temperature: t}, nil
		case InfoTimers:
			return decodeTimersReply(d)
		case InfoStatus:
			op, err := decodePower(d[4])
			if err != nil {
				return nil, unsupported("operating", d[4])
			}
			return StatusReply{Operating: op, CompressorFrequency: int(d[3])}, nil
		default:
			return nil, unsupported("info code", d[0])
		}
	default:
		return nil, unsupported("packet type", byte(t))
	}
}

func decodeSettingsUpdate(d []byte) (Message, error) {
	var (
		m   SettingsUpdate
		err error
	)
	s := &m.Settings
	if d[1]&flagPower != 0 {
		m.Fields |= heatpump.FieldPower
		if s.Power, err = decodePower(d[3]); err != nil {
			return nil, err
		}
	}
	if d[1]&flagMode != 0 {
		m.Fields |= heatpump.FieldMode
		if s.Mode, err = lookup(modeBytes, "mode", d[4]); err != nil {
			return nil, err
		}
	}
	if d[1]&flagTemp != 0 {
		m.Fields |= heatpump.FieldTemperature
		if s.Temperature, err = decodeSetpoint(d[5], d[14]); err != nil {
			return nil, err
		}
	}
	if d[1]&flagFan != 0 {
		m.Fields |= heatpump.FieldFan
		if s.Fan, err = lookup(fanBytes, "fan", d[6]); err != nil {
			return nil, err
		}
	}
	if d[1]&flagVane != 0 {
		m.Fields |= heatpump.FieldVane
		if s.Vane, err = lookup(vaneBytes, "vane", d[7]); err != nil {
			return nil, err
		}
	}
	if d[2]&flagWideVane != 0 {
		m.Fields |= heatpump.FieldWideVane
		if s.WideVane, err = lookup(wideVaneBytes, "wide vane", d[13]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeRemoteTemperature(d []byte) Message {
	if d[1] == 0 {
		return RemoteTemperature{}
	}
	if d[3] != 0 {
		return RemoteTemperature{Temperature: fromHalfDegree(d[3])}
	}
	return RemoteTemperature{Temperature: float64(int(d[2])-3)/2 + 10}
}

func decodeSettingsReply(d []byte) (Message, error) {
	var (
		m   SettingsReply
		err error
	)
	s := &m.Settings
	if s.Power, err = decodePower(d[3]); err != nil {
		return nil, err
	}
	mb := d[4]
	if mb > 0x08 {
		m.ISee = true
		mb -= 0x08
	}
	if s.Mode, err = lookup(modeBytes, "mode", mb); err != nil {
		return nil, err
	}
	if s.Temperature, err = decodeSetpoint(d[5], d[11]); err != nil {
		return nil, err
	}
	if s.Fan, err = lookup(fanBytes, "fan", d[6]); err != nil {
		return nil, err
	}
	if s.Vane, err = lookup(vaneBytes, "vane", d[7]); err != nil {
		return nil, err
	}
	if s.WideVane, err = lookup(wideVaneBytes, "wide vane", d[10]&0x0F); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeTimersReply(d []byte) (Message, error) {
	mode, err := lookup(timerModeBytes, "timer mode", d[3])
	if err != nil {
		return nil, err
	}
	return TimersReply{Timers: heatpump.Timers{
		Mode:                mode,
		OnMinutesSet:        int(d[4]) * timerResolution,
		OffMinutesSet:       int(d[5]) * timerResolution,
		OnMinutesRemaining:  int(d[6]) * timerResolution,
		OffMinutesRemaining: int(d[7]) * timerResolution,
	}}, nil
}
