package protocol

import (
	"fmt"
	"time"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
)

// FormatFrame renders a raw frame and, when it decodes, its meaning.
func FormatFrame(ts time.Time, dir string, f Frame) string {
	head := fmt.Sprintf("[%s] %s %s (0x%02X) len=%d", ts.Format("15:04:05.000"), dir, f.Type(), byte(f.Type()), len(f))
	m, err := Decode(f)
	if err != nil {
		return fmt.Sprintf("%s\n  raw: %s\n  error: %v", head, f, err)
	}
	return fmt.Sprintf("%s\n  raw: %s\n  %s", head, f, FormatMessage(m))
}

// FormatMessage renders a decoded message on one line.
func FormatMessage(m Message) string {
	switch m := m.(type) {
	case Connect:
		return "connect request"
	case ConnectAck:
		return "connect acknowledged"
	case SetAck:
		return "set acknowledged"
	case InfoRequest:
		return "request " + m.Code.String()
	case SettingsUpdate:
		return "set " + formatFields(m.Settings, m.Fields)
	case RemoteTemperature:
		if m.Temperature == 0 {
			return "remote temperature: internal sensor"
		}
		return fmt.Sprintf("remote temperature: %.1f", m.Temperature)
	case SettingsReply:
		return fmt.Sprintf("settings %s iSee=%t", formatFields(m.Settings, heatpump.AllFields), m.ISee)
	case RoomTemperatureReply:
		return fmt.Sprintf("room temperature: %.1f", m.Temperature)
	case TimersReply:
		t := m.Timers
		return fmt.Sprintf("timers mode=%s on=%d/%dmin off=%d/%dmin",
			t.Mode, t.OnMinutesRemaining, t.OnMinutesSet, t.OffMinutesRemaining, t.OffMinutesSet)
	case StatusReply:
		return fmt.Sprintf("status operating=%t compressor=%dHz", m.Operating, m.CompressorFrequency)
	default:
		return fmt.Sprintf("%T", m)
	}
}

func formatFields(s heatpump.Settings, f heatpump.Field) string {
	var out string
	add := func(k, v string) {
		if out != "" {
			out += " "
		}
		out += k + "=" + v
	}
	if f.Has(heatpump.FieldPower) {
		add("power", heatpump.PowerString(s.Power))
	}
	if f.Has(heatpump.FieldMode) {
		add("mode", s.Mode.String())
	}
	if f.Has(heatpump.FieldTemperature) {
		add("temperature", fmt.Sprintf("%.1f", s.Temperature))
	}
	if f.Has(heatpump.FieldFan) {
		add("fan", s.Fan.String())
	}
	if f.Has(heatpump.FieldVane) {
		add("vane", s.Vane.String())
	}
	if f.Has(heatpump.FieldWideVane) {
		add("wideVane", s.WideVane.String())
	}
	return out
}
