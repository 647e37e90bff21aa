package mqttctrl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/heatpumpbridge/internal/emulator"
	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/loop"
	"github.com/Agrid-Dev/heatpumpbridge/internal/metrics"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
	fakes "github.com/Agrid-Dev/heatpumpbridge/internal/testutil"
)

// stack wires an emulated unit through link, supervisor and loop to a bridge
// publishing on a fake broker client.
type stack struct {
	unit   *emulator.Unit
	link   *link.Link
	loop   *loop.Loop
	client *fakes.FakeMQTTClient
	bridge *Bridge
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	unit, err := emulator.New(emulator.DefaultConfig())
	require.NoError(t, err)

	m := metrics.New(nil)
	lk, err := link.New(link.Config{
		Opener:          emulator.PipeOpener(ctx, unit),
		ConnectTimeout:  200 * time.Millisecond,
		ResponseTimeout: 100 * time.Millisecond,
		AckTimeout:      100 * time.Millisecond,
		ReadTimeout:     10 * time.Millisecond,
		Metrics:         m,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lk.Close() })

	client := fakes.NewFakeMQTTClient()
	conn, err := NewConnection(ConnConfig{
		AvailabilityTopic: "heatpump/availability",
		NewClientFunc:     client.NewClientFunc(),
	})
	require.NoError(t, err)

	sup := supervisor.New(supervisor.Config{Metrics: m})
	sup.Add(conn)
	sup.Add(lk)

	lp := loop.New(loop.Config{PollInterval: time.Minute, Metrics: m}, lk, sup)
	b, err := New(lp, conn, Config{Metrics: m})
	require.NoError(t, err)
	b.Attach(conn)
	lk.OnChange(b.Notify)
	lp.AddStepper(b)

	return &stack{unit: unit, link: lk, loop: lp, client: client, bridge: b}
}

func TestSetPayloadReachesUnitAndStatusTopic(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	now := time.Now()

	s.loop.Step(ctx, now)
	require.True(t, s.link.Connected())
	require.NotEmpty(t, s.client.Published("heatpump/status"))
	first := s.client.Published("heatpump")
	require.Len(t, first, 1)
	assert.Equal(t, heatpump.ModeHeat.String(), decode(t, first[0])["mode"])
	s.client.Reset()

	// the room moved since the last poll; the poll that follows the
	// command must carry it to the status topic well before the interval
	s.unit.SetRoomTemperature(21)
	require.True(t, s.client.Deliver("heatpump/set", []byte(`{"mode":"cool","temp":24}`)))
	s.loop.Step(ctx, now.Add(time.Second))

	assert.Equal(t, heatpump.ModeCool, s.unit.Settings().Mode)
	assert.Equal(t, 24.0, s.unit.Settings().Temperature)

	settings := s.client.Published("heatpump")
	require.Len(t, settings, 1)
	got := decode(t, settings[0])
	assert.Equal(t, heatpump.ModeCool.String(), got["mode"])
	assert.Equal(t, 24.0, got["temperature"])
	assert.True(t, settings[0].Retain == s.bridge.cfg.Retain)
	assert.Empty(t, s.client.Published("heatpump/debug"), "no error reported")

	status := s.client.Published("heatpump/status")
	require.Len(t, status, 1)
	st := decode(t, status[0])
	assert.Equal(t, 21.0, st["roomTemperature"])
	assert.Equal(t, link.StateSynced.String(), st["link"])
	assert.Equal(t, true, st["connected"])
}

func TestSilentUnitDropsLinkAndRecovers(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	now := time.Now()

	s.loop.Step(ctx, now)
	require.True(t, s.link.Connected())

	s.unit.SetFaults(emulator.Faults{Silent: true})
	for i := 1; i <= 3; i++ {
		now = now.Add(time.Minute)
		s.loop.Step(ctx, now)
	}
	assert.Equal(t, link.StateIdle, s.link.State())

	status := s.client.Published("heatpump/status")
	require.NotEmpty(t, status)
	assert.Equal(t, false, decode(t, status[len(status)-1])["connected"])

	s.unit.SetFaults(emulator.Faults{})
	now = now.Add(time.Minute)
	s.loop.Step(ctx, now)
	assert.Equal(t, link.StateSynced, s.link.State(), "supervisor reconnects the link")
}
