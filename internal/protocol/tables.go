package protocol

import (
	"math"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
)

var modeBytes = map[heatpump.Mode]byte{
	heatpump.ModeHeat: 0x01,
	heatpump.ModeDry:  0x02,
	heatpump.ModeCool: 0x03,
	heatpump.ModeFan:  0x07,
	heatpump.ModeAuto: 0x08,
}

var fanBytes = map[heatpump.FanSpeed]byte{
	heatpump.FanAuto:  0x00,
	heatpump.FanQuiet: 0x01,
	heatpump.Fan1:     0x02,
	heatpump.Fan2:     0x03,
	heatpump.Fan3:     0x05,
	heatpump.Fan4:     0x06,
}

var vaneBytes = map[heatpump.Vane]byte{
	heatpump.VaneAuto:  0x00,
	heatpump.Vane1:     0x01,
	heatpump.Vane2:     0x02,
	heatpump.Vane3:     0x03,
	heatpump.Vane4:     0x04,
	heatpump.Vane5:     0x05,
	heatpump.VaneSwing: 0x07,
}

var wideVaneBytes = map[heatpump.WideVane]byte{
	heatpump.WideVaneFarLeft:  0x01,
	heatpump.WideVaneLeft:     0x02,
	heatpump.WideVaneCenter:   0x03,
	heatpump.WideVaneRight:    0x04,
	heatpump.WideVaneFarRight: 0x05,
	heatpump.WideVaneSplit:    0x08,
	heatpump.WideVaneSwing:    0x0C,
}

var timerModeBytes = map[heatpump.TimerMode]byte{
	heatpump.TimerNone: 0x00,
	heatpump.TimerOff:  0x01,
	heatpump.TimerOn:   0x02,
	heatpump.TimerBoth: 0x03,
}

// lookup is the reverse of a table above.
func lookup[T comparable](table map[T]byte, field string, b byte) (T, error) {
	for k, v := range table {
		if v == b {
			return k, nil
		}
	}
	var zero T
	return zero, unsupported(field, b)
}

func powerByte(on bool) byte {
	if on {
		return 0x01
	}
	return 0x00
}

func decodePower(b byte) (bool, error) {
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, unsupported("power", b)
	}
}

func halfDegreeByte(t float64) byte {
	return byte(math.Round(t*2) + halfDegreeOffset)
}

func fromHalfDegree(b byte) float64 {
	return float64(int(b)-halfDegreeOffset) / 2
}

// setpointIndex encodes the legacy whole-degree setpoint byte. Values outside
// the 16..31 table are clamped; the half-degree byte carries the real value.
func setpointIndex(t float64) byte {
	r := math.Max(16, math.Min(setpointIndexTop, math.Round(t)))
	return byte(setpointIndexTop - int(r))
}

func decodeSetpoint(index, half byte) (float64, error) {
	if half != 0 {
		return fromHalfDegree(half), nil
	}
	if index > 0x0F {
		return 0, unsupported("temperature", index)
	}
	return float64(setpointIndexTop - int(index)), nil
}

func roomIndex(t float64) byte {
	r := math.Max(roomIndexBase, math.Min(roomIndexBase+0x1F, math.Round(t)))
	return byte(int(r) - roomIndexBase)
}

func decodeRoomTemp(index, half byte) (float64, error) {
	if half != 0 {
		return fromHalfDegree(half), nil
	}
	if index > 0x1F {
		return 0, unsupported("room temperature", index)
	}
	return float64(roomIndexBase + int(index)), nil
}
