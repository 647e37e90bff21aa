package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "json", "warn")
	require.NoError(t, err)

	lg := Component(l, "link")
	lg.Info().Msg("hidden")
	assert.Zero(t, buf.Len(), "info is below warn")

	lg.Warn().Msg("poll failed")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "link", line["component"])
	assert.Equal(t, "heatpumpbridge", line["service"])
	assert.Equal(t, "poll failed", line["message"])
	assert.Equal(t, "warn", line["level"])
}

func TestNewConsoleDefaults(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "", "")
	require.NoError(t, err)
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, "xml", "info")
	assert.Error(t, err)
	_, err = New(nil, "json", "loud")
	assert.Error(t, err)
}
