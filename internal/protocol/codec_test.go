package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
)

func mustEncode(t *testing.T, m Message) Frame {
	t.Helper()
	f, err := Encode(m)
	require.NoError(t, err)
	return f
}

// withChecksum fixes up the trailing byte after a test edits a frame.
func withChecksum(f Frame) Frame {
	f[len(f)-1] = Checksum(f[:len(f)-1])
	return f
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0xA8), Checksum([]byte{0xFC, 0x5A, 0x01, 0x30, 0x02, 0xCA, 0x01}))
	assert.Equal(t, byte(0x54), Checksum([]byte{0xFC, 0x7A, 0x01, 0x30, 0x01, 0x00}))
}

func TestEncodeConnect(t *testing.T) {
	f := mustEncode(t, Connect{})
	assert.Equal(t, Frame{0xFC, 0x5A, 0x01, 0x30, 0x02, 0xCA, 0x01, 0xA8}, f)
	assert.Equal(t, "fc 5a 01 30 02 ca 01 a8", f.String())
}

func TestEncodeInfoRequest(t *testing.T) {
	for _, code := range PollCodes {
		f := mustEncode(t, InfoRequest{Code: code})
		require.Len(t, f, FrameLen)
		assert.Equal(t, byte(TypeInfoRequest), f[1])
		assert.Equal(t, byte(DataLen), f[4])
		assert.Equal(t, byte(code), f[5])

		m, err := Decode(f)
		require.NoError(t, err)
		assert.Equal(t, InfoRequest{Code: code}, m)
	}

	_, err := Encode(InfoRequest{Code: 0x09})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestEncodeSettingsUpdateLayout(t *testing.T) {
	f := mustEncode(t, SettingsUpdate{
		Settings: heatpump.Settings{
			Power:       true,
			Mode:        heatpump.ModeCool,
			Temperature: 24,
			Fan:         heatpump.Fan3,
			Vane:        heatpump.VaneSwing,
			WideVane:    heatpump.WideVaneSplit,
		},
		Fields: heatpump.AllFields,
	})
	require.Len(t, f, FrameLen)
	assert.Equal(t, byte(TypeSet), f[1])
	assert.Equal(t, byte(0x01), f[5])
	assert.Equal(t, byte(0x1F), f[6], "change flags")
	assert.Equal(t, byte(0x01), f[7], "wide vane flag")
	assert.Equal(t, byte(0x01), f[8], "power")
	assert.Equal(t, byte(0x03), f[9], "mode")
	assert.Equal(t, byte(31-24), f[10], "temperature index")
	assert.Equal(t, byte(0x05), f[11], "fan")
	assert.Equal(t, byte(0x07), f[12], "vane")
	assert.Equal(t, byte(0x08), f[18], "wide vane")
	assert.Equal(t, byte(24*2+128), f[19], "half degree temperature")
	assert.Equal(t, Checksum(f[:FrameLen-1]), f[FrameLen-1])
}

func TestEncodeUpdateOnlyFlagsPresentFields(t *testing.T) {
	f, err := EncodeUpdate(heatpump.Update{Fan: heatpump.Ptr(heatpump.FanQuiet)})
	require.NoError(t, err)
	assert.Equal(t, flagFan, f[6])
	assert.Equal(t, byte(0x00), f[7])
	assert.Equal(t, byte(0x01), f[11])

	m, err := Decode(f)
	require.NoError(t, err)
	u := m.(SettingsUpdate)
	assert.Equal(t, heatpump.FieldFan, u.Fields)
	assert.Equal(t, heatpump.FanQuiet, u.Settings.Fan)
}

func TestEncodeRejectsInvalidValues(t *testing.T) {
	_, err := Encode(SettingsUpdate{Settings: heatpump.Settings{Mode: heatpump.ModeUnknown}, Fields: heatpump.FieldMode})
	assert.ErrorIs(t, err, heatpump.ErrInvalidSetting)

	_, err = Encode(SettingsUpdate{Settings: heatpump.Settings{Temperature: 40}, Fields: heatpump.FieldTemperature})
	assert.ErrorIs(t, err, heatpump.ErrInvalidSetting)

	_, err = Encode(TimersReply{Timers: heatpump.Timers{Mode: heatpump.TimerOn, OnMinutesSet: 5000}})
	assert.ErrorIs(t, err, heatpump.ErrInvalidSetting)
}

func TestSettingsRoundTrip(t *testing.T) {
	cases := []heatpump.Settings{
		{Power: true, Mode: heatpump.ModeHeat, Temperature: 21, Fan: heatpump.FanAuto, Vane: heatpump.VaneAuto, WideVane: heatpump.WideVaneCenter},
		{Power: false, Mode: heatpump.ModeDry, Temperature: 16, Fan: heatpump.FanQuiet, Vane: heatpump.Vane1, WideVane: heatpump.WideVaneFarLeft},
		{Power: true, Mode: heatpump.ModeFan, Temperature: 31, Fan: heatpump.Fan4, Vane: heatpump.Vane5, WideVane: heatpump.WideVaneSwing},
		{Power: true, Mode: heatpump.ModeAuto, Temperature: 22.5, Fan: heatpump.Fan2, Vane: heatpump.VaneSwing, WideVane: heatpump.WideVaneFarRight},
		{Power: true, Mode: heatpump.ModeCool, Temperature: 10.5, Fan: heatpump.Fan1, Vane: heatpump.Vane3, WideVane: heatpump.WideVaneLeft},
	}
	for _, s := range cases {
		t.Run(s.Mode.String(), func(t *testing.T) {
			m, err := Decode(mustEncode(t, SettingsUpdate{Settings: s, Fields: heatpump.AllFields}))
			require.NoError(t, err)
			assert.Equal(t, SettingsUpdate{Settings: s, Fields: heatpump.AllFields}, m)

			m, err = Decode(mustEncode(t, SettingsReply{Settings: s}))
			require.NoError(t, err)
			assert.Equal(t, SettingsReply{Settings: s}, m)
		})
	}
}

func TestDecodeSettingsReplyISee(t *testing.T) {
	f := mustEncode(t, SettingsReply{
		Settings: heatpump.Settings{Power: true, Mode: heatpump.ModeHeat, Temperature: 20, Fan: heatpump.FanAuto, Vane: heatpump.VaneAuto, WideVane: heatpump.WideVaneCenter},
		ISee:     true,
	})
	assert.Equal(t, byte(0x09), f[9])

	m, err := Decode(f)
	require.NoError(t, err)
	r := m.(SettingsReply)
	assert.True(t, r.ISee)
	assert.Equal(t, heatpump.ModeHeat, r.Settings.Mode)
}

func TestDecodeSettingsReplyIndexOnly(t *testing.T) {
	f := mustEncode(t, SettingsReply{
		Settings: heatpump.Settings{Power: true, Mode: heatpump.ModeCool, Temperature: 23, Fan: heatpump.FanAuto, Vane: heatpump.VaneAuto, WideVane: heatpump.WideVaneCenter},
	})
	f[5+11] = 0 // older units leave the half degree byte empty
	m, err := Decode(withChecksum(f))
	require.NoError(t, err)
	assert.Equal(t, 23.0, m.(SettingsReply).Settings.Temperature)
}

func TestRoomTemperatureReply(t *testing.T) {
	m, err := Decode(mustEncode(t, RoomTemperatureReply{Temperature: 21.5}))
	require.NoError(t, err)
	assert.Equal(t, RoomTemperatureReply{Temperature: 21.5}, m)

	f := mustEncode(t, RoomTemperatureReply{Temperature: 19})
	f[5+6] = 0
	m, err = Decode(withChecksum(f))
	require.NoError(t, err)
	assert.Equal(t, RoomTemperatureReply{Temperature: 19}, m)
}

func TestTimersReply(t *testing.T) {
	want := heatpump.Timers{Mode: heatpump.TimerBoth, OnMinutesSet: 120, OffMinutesSet: 480, OnMinutesRemaining: 60, OffMinutesRemaining: 420}
	f := mustEncode(t, TimersReply{Timers: want})
	assert.Equal(t, byte(12), f[5+4])

	m, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, TimersReply{Timers: want}, m)
}

func TestStatusReply(t *testing.T) {
	m, err := Decode(mustEncode(t, StatusReply{Operating: true, CompressorFrequency: 42}))
	require.NoError(t, err)
	assert.Equal(t, StatusReply{Operating: true, CompressorFrequency: 42}, m)
}

func TestRemoteTemperature(t *testing.T) {
	f := mustEncode(t, RemoteTemperature{Temperature: 21.5})
	assert.Equal(t, byte(0x07), f[5])
	assert.Equal(t, byte(0x01), f[6])
	assert.Equal(t, byte(3+(21.5-10)*2), f[7])
	assert.Equal(t, byte(21.5*2+128), f[8])

	m, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, RemoteTemperature{Temperature: 21.5}, m)

	f = mustEncode(t, RemoteTemperature{})
	assert.Equal(t, byte(0x00), f[6])
	assert.Equal(t, byte(0x80), f[8])
	m, err = Decode(f)
	require.NoError(t, err)
	assert.Equal(t, RemoteTemperature{}, m)
}

func TestRemoteTemperatureRejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0.5, 64} {
		f, err := Encode(RemoteTemperature{Temperature: v})
		assert.ErrorIs(t, err, heatpump.ErrInvalidSetting, "%v", v)
		assert.Nil(t, f, "%v", v)
	}
}

func TestDecodeSingleByteCorruption(t *testing.T) {
	frames := []Frame{
		mustEncode(t, Connect{}),
		mustEncode(t, InfoRequest{Code: InfoStatus}),
		mustEncode(t, SettingsReply{Settings: heatpump.Settings{Power: true, Mode: heatpump.ModeCool, Temperature: 24, Fan: heatpump.FanAuto, Vane: heatpump.VaneAuto, WideVane: heatpump.WideVaneCenter}}),
	}
	for _, orig := range frames {
		for i := range orig {
			for delta := 1; delta < 256; delta += 37 {
				f := append(Frame(nil), orig...)
				f[i] += byte(delta)
				_, err := Decode(f)
				var ce *ChecksumError
				if !errors.As(err, &ce) {
					t.Fatalf("frame %s byte %d +%d: got %v, want checksum error", orig, i, delta, err)
				}
				if !errors.Is(err, ErrChecksum) {
					t.Fatalf("errors.Is(%v, ErrChecksum) = false", err)
				}
			}
		}
	}
}

func TestDecodeUnsupportedValues(t *testing.T) {
	base := mustEncode(t, SettingsReply{Settings: heatpump.Settings{Power: true, Mode: heatpump.ModeCool, Temperature: 24, Fan: heatpump.FanAuto, Vane: heatpump.VaneAuto, WideVane: heatpump.WideVaneCenter}})
	cases := []struct {
		name  string
		index int
		value byte
		field string
	}{
		{"fan 0x04", 5 + 6, 0x04, "fan"},
		{"mode 0x05", 5 + 4, 0x05, "mode"},
		{"vane 0x06", 5 + 7, 0x06, "vane"},
		{"wide vane 0x06", 5 + 10, 0x06, "wide vane"},
		{"power 0x02", 5 + 3, 0x02, "power"},
		{"info code", 5, 0x04, "info code"},
		{"packet type", 1, 0x55, "packet type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := append(Frame(nil), base...)
			f[tc.index] = tc.value
			_, err := Decode(withChecksum(f))
			var ue *UnsupportedValueError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tc.field, ue.Field)
			assert.Equal(t, tc.value, ue.Value)
			assert.ErrorIs(t, err, ErrUnsupportedValue)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0xFC, 0x5A})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	// length byte says 3 but only 2 data bytes follow
	f := withChecksum(Frame{0xFC, 0x5A, 0x01, 0x30, 0x03, 0xCA, 0x01, 0x00})
	_, err = Decode(f)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	f = withChecksum(Frame{0xFD, 0x5A, 0x01, 0x30, 0x02, 0xCA, 0x01, 0x00})
	_, err = Decode(f)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	// info reply with a truncated payload
	f = withChecksum(Frame{0xFC, 0x62, 0x01, 0x30, 0x02, 0x02, 0x00, 0x00})
	_, err = Decode(f)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFormatFrame(t *testing.T) {
	out := FormatMessage(SettingsUpdate{Settings: heatpump.Settings{Power: true, Temperature: 22.5}, Fields: heatpump.FieldPower | heatpump.FieldTemperature})
	assert.Equal(t, "set power=ON temperature=22.5", out)
	assert.Equal(t, "request status", FormatMessage(InfoRequest{Code: InfoStatus}))
}
