package mqttctrl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
)

// PayloadMode selects how set payloads are parsed.
type PayloadMode string

const (
	PayloadJSON PayloadMode = "json" // {"mode":"cool","temp":24}
	PayloadKV   PayloadMode = "kv"   // mode=cool temp=24
)

func (m PayloadMode) Valid() bool {
	return m == PayloadJSON || m == PayloadKV
}

// Request is a parsed set command.
type Request struct {
	Update            heatpump.Update
	RemoteTemperature *float64
}

// Canonical field names.
const (
	keyPower       = "power"
	keyMode        = "mode"
	keyTemperature = "temperature"
	keyFan         = "fan"
	keyVane        = "vane"
	keyWideVane    = "wideVane"
	keyRemoteTemp  = "remoteTemp"
)

// ParseRequest turns a set payload into a request. Unknown keys and
// malformed payloads fail with ErrInvalidPayload; bad values with
// heatpump.ErrInvalidSetting.
func ParseRequest(payload []byte, mode PayloadMode) (Request, error) {
	var (
		fields map[string]string
		err    error
	)
	switch mode {
	case PayloadKV:
		fields, err = kvFields(string(payload))
	default:
		fields, err = jsonFields(payload)
	}
	if err != nil {
		return Request{}, err
	}
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("%w: no fields", ErrInvalidPayload)
	}
	return buildRequest(fields)
}

type setRequest struct {
	Power       json.RawMessage `json:"power"`
	Mode        json.RawMessage `json:"mode"`
	Temperature json.RawMessage `json:"temperature"`
	Temp        json.RawMessage `json:"temp"`
	Fan         json.RawMessage `json:"fan"`
	Vane        json.RawMessage `json:"vane"`
	WideVane    json.RawMessage `json:"wideVane"`
	RemoteTemp  json.RawMessage `json:"remoteTemp"`
}

func jsonFields(b []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req setRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidPayload)
	}
	if req.Temperature != nil && req.Temp != nil {
		return nil, fmt.Errorf("%w: both temperature and temp given", ErrInvalidPayload)
	}
	if req.Temperature == nil {
		req.Temperature = req.Temp
	}

	fields := make(map[string]string)
	for key, raw := range map[string]json.RawMessage{
		keyPower:       req.Power,
		keyMode:        req.Mode,
		keyTemperature: req.Temperature,
		keyFan:         req.Fan,
		keyVane:        req.Vane,
		keyWideVane:    req.WideVane,
		keyRemoteTemp:  req.RemoteTemp,
	} {
		if raw == nil {
			continue
		}
		v, ok, err := scalar(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, key, err)
		}
		if ok {
			fields[key] = v
		}
	}
	return fields, nil
}

// scalar renders a JSON string, number or bool as text. null reports !ok.
func scalar(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || string(raw) == "null":
		return "", false, nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case raw[0] == '{' || raw[0] == '[':
		return "", false, fmt.Errorf("expected a scalar, got %s", raw)
	default:
		return string(raw), true, nil
	}
}

var kvKeys = map[string]string{
	"power":             keyPower,
	"mode":              keyMode,
	"temperature":       keyTemperature,
	"temp":              keyTemperature,
	"fan":               keyFan,
	"vane":              keyVane,
	"widevane":          keyWideVane,
	"remotetemp":        keyRemoteTemp,
	"remotetemperature": keyRemoteTemp,
}

func kvSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == ';' || r == '&'
}

func kvFields(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, pair := range strings.FieldsFunc(s, kvSeparator) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: %q is not key=value", ErrInvalidPayload, pair)
		}
		norm := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(k))
		key, known := kvKeys[norm]
		if !known {
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidPayload, k)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: %s given twice", ErrInvalidPayload, key)
		}
		fields[key] = v
	}
	return fields, nil
}

func buildRequest(fields map[string]string) (Request, error) {
	var (
		req Request
		u   = &req.Update
	)
	for key, v := range fields {
		var err error
		switch key {
		case keyPower:
			var p bool
			p, err = heatpump.ParsePower(v)
			u.Power = &p
		case keyMode:
			var m heatpump.Mode
			m, err = heatpump.ParseMode(v)
			u.Mode = &m
		case keyTemperature:
			var t float64
			t, err = parseTemperature(key, v)
			u.Temperature = &t
		case keyFan:
			var f heatpump.FanSpeed
			f, err = heatpump.ParseFanSpeed(v)
			u.Fan = &f
		case keyVane:
			var vn heatpump.Vane
			vn, err = heatpump.ParseVane(v)
			u.Vane = &vn
		case keyWideVane:
			var w heatpump.WideVane
			w, err = heatpump.ParseWideVane(v)
			u.WideVane = &w
		case keyRemoteTemp:
			var t float64
			t, err = parseTemperature(key, v)
			req.RemoteTemperature = &t
		}
		if err != nil {
			return Request{}, err
		}
	}
	return req, nil
}

func parseTemperature(key, v string) (float64, error) {
	t, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: %s %q", heatpump.ErrInvalidSetting, key, v)
	}
	return t, nil
}
