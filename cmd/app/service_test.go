package app

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/heatpumpbridge/internal/emulator"
	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/ports"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
)

func TestServiceAgainstEmulator(t *testing.T) {
	unit, err := emulator.New(emulator.DefaultConfig())
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = unit.ServeListener(ctx, ln) }()

	cfg := Default()
	cfg.HeatPump.Port = "tcp://" + ln.Addr().String()
	cfg.Network.Interface = "lo"
	cfg.MQTT.Enabled = false
	cfg.Loop.Tick = 10 * time.Millisecond

	svc, err := NewService(cfg, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.Loop.Snapshot().Valid }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, unit.Settings(), svc.Loop.Snapshot().Settings)
	assert.Equal(t, supervisor.Connected, svc.Loop.Connections()["heatpump"])

	cmdCtx, cmdCancel := context.WithTimeout(ctx, 5*time.Second)
	defer cmdCancel()
	err = ports.SubmitAndWait(cmdCtx, svc.Loop, ports.Command{
		Update: heatpump.Update{Power: heatpump.Ptr(true), Temperature: heatpump.Ptr(23.0)},
		Source: "test",
	})
	require.NoError(t, err)
	assert.True(t, unit.Settings().Power)
	assert.Equal(t, 23.0, unit.Settings().Temperature)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	cfg := Default()
	cfg.HeatPump.MinTemp = 40
	_, err := NewService(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, heatpump.ErrInvalidBounds)

	cfg = Default()
	cfg.MQTT.PayloadMode = "xml"
	_, err = NewService(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestIsNetworkPort(t *testing.T) {
	assert.True(t, isNetworkPort("tcp://10.0.0.2:7105"))
	assert.True(t, isNetworkPort("wss://bridge.local/serial"))
	assert.False(t, isNetworkPort("/dev/ttyUSB0"))
	assert.False(t, isNetworkPort("serial:///dev/ttyAMA0"))
}

func TestParseSetpointChanges(t *testing.T) {
	got, err := parseSetpointChanges([]string{"200=24", " 500 = 19.5 "})
	require.NoError(t, err)
	assert.Equal(t, []emulator.SetpointChange{{Step: 200, Value: 24}, {Step: 500, Value: 19.5}}, got)

	for _, bad := range []string{"200", "x=1", "0=20", "5=warm"} {
		_, err := parseSetpointChanges([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_id: loft\nmqtt:\n  password: s3cret\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"config", "--config", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "device_id: loft")
	assert.NotContains(t, out.String(), "s3cret")
}
