package loop

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/heatpumpbridge/internal/emulator"
	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/metrics"
	"github.com/Agrid-Dev/heatpumpbridge/internal/ports"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
)

type countingStepper struct{ steps int }

func (c *countingStepper) Step(context.Context, time.Time) { c.steps++ }

func newTestLoop(t *testing.T, cfg Config) (*Loop, *emulator.Unit) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	unit, err := emulator.New(emulator.DefaultConfig())
	require.NoError(t, err)
	lk, err := link.New(link.Config{
		Opener:          emulator.PipeOpener(ctx, unit),
		ConnectTimeout:  200 * time.Millisecond,
		ResponseTimeout: 100 * time.Millisecond,
		AckTimeout:      100 * time.Millisecond,
		ReadTimeout:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lk.Close() })
	require.NoError(t, lk.Connect(context.Background()))

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return New(cfg, lk, nil), unit
}

func TestSubmitBusy(t *testing.T) {
	l, _ := newTestLoop(t, Config{QueueSize: 1})
	cmd := ports.Command{Update: heatpump.Update{Power: heatpump.Ptr(true)}, Source: "http"}

	require.NoError(t, l.Submit(cmd))
	assert.ErrorIs(t, l.Submit(cmd), ErrBusy)
	assert.Equal(t, 1.0, testutil.ToFloat64(l.cfg.Metrics.Commands.WithLabelValues("http", "busy")))
}

func TestStepRunsCommandThenPolls(t *testing.T) {
	l, unit := newTestLoop(t, Config{})
	stepper := &countingStepper{}
	l.AddStepper(stepper)

	var got error = assert.AnError
	require.NoError(t, l.Submit(ports.Command{
		Update: heatpump.Update{Power: heatpump.Ptr(true), Mode: heatpump.Ptr(heatpump.ModeCool)},
		Source: "mqtt",
		Done:   func(err error) { got = err },
	}))

	l.Step(context.Background(), time.Now())
	require.NoError(t, got)
	assert.True(t, unit.Settings().Power)

	snap := l.Snapshot()
	assert.True(t, snap.Valid, "a poll follows the command in the same step")
	assert.Equal(t, heatpump.ModeCool, snap.Settings.Mode)
	assert.Equal(t, 1, stepper.steps)
	assert.Equal(t, 1.0, testutil.ToFloat64(l.cfg.Metrics.Commands.WithLabelValues("mqtt", "ok")))
}

func TestStepReportsCommandErrors(t *testing.T) {
	l, _ := newTestLoop(t, Config{})

	var got error
	require.NoError(t, l.Submit(ports.Command{
		Update: heatpump.Update{Temperature: heatpump.Ptr(40.0)},
		Done:   func(err error) { got = err },
	}))
	l.Step(context.Background(), time.Now())
	assert.ErrorIs(t, got, heatpump.ErrInvalidSetting)
	assert.Equal(t, 1.0, testutil.ToFloat64(l.cfg.Metrics.Commands.WithLabelValues("unknown", "error")))

	require.NoError(t, l.Submit(ports.Command{Done: func(err error) { got = err }}))
	l.Step(context.Background(), time.Now())
	assert.ErrorIs(t, got, heatpump.ErrInvalidSetting, "empty commands are rejected")
}

func TestPollCadence(t *testing.T) {
	l, unit := newTestLoop(t, Config{PollInterval: time.Minute})
	now := time.Now()

	l.Step(context.Background(), now)
	rx, _ := unit.FrameCounts()

	l.Step(context.Background(), now.Add(time.Second))
	rx2, _ := unit.FrameCounts()
	assert.Equal(t, rx, rx2, "no poll before the interval")

	l.Step(context.Background(), now.Add(time.Minute))
	rx3, _ := unit.FrameCounts()
	assert.Equal(t, rx+4, rx3, "one request per info code")
}

func TestRemoteTemperatureCommand(t *testing.T) {
	l, unit := newTestLoop(t, Config{})
	require.NoError(t, l.Submit(ports.Command{RemoteTemperature: heatpump.Ptr(22.5)}))
	l.Step(context.Background(), time.Now())
	assert.Equal(t, 22.5, unit.RemoteTemperature())
	assert.Equal(t, 22.5, l.Snapshot().Status.RoomTemperature)
}

func TestSubmitAndWaitWithRun(t *testing.T) {
	l, unit := newTestLoop(t, Config{Tick: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	err := ports.SubmitAndWait(wctx, l, ports.Command{Update: heatpump.Update{Fan: heatpump.Ptr(heatpump.Fan3)}})
	require.NoError(t, err)
	assert.Equal(t, heatpump.Fan3, unit.Settings().Fan)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStepSkipsExpiredCommand(t *testing.T) {
	l, unit := newTestLoop(t, Config{})
	now := time.Now()

	var got error
	require.NoError(t, l.Submit(ports.Command{
		Update:   heatpump.Update{Power: heatpump.Ptr(true)},
		Source:   "http",
		Deadline: now.Add(-time.Millisecond),
		Done:     func(err error) { got = err },
	}))
	l.Step(context.Background(), now)

	assert.ErrorIs(t, got, context.DeadlineExceeded)
	assert.False(t, unit.Settings().Power, "expired command is not applied")
	assert.Equal(t, 1.0, testutil.ToFloat64(l.cfg.Metrics.Commands.WithLabelValues("http", "expired")))
	assert.Equal(t, 0.0, testutil.ToFloat64(l.cfg.Metrics.Commands.WithLabelValues("http", "ok")))

	require.NoError(t, l.Submit(ports.Command{
		Update:   heatpump.Update{Power: heatpump.Ptr(true)},
		Deadline: now.Add(time.Minute),
		Done:     func(err error) { got = err },
	}))
	l.Step(context.Background(), now)
	require.NoError(t, got)
	assert.True(t, unit.Settings().Power)
}

func TestSubmitAndWaitTimeoutDropsCommand(t *testing.T) {
	l, unit := newTestLoop(t, Config{})

	wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer wcancel()
	err := ports.SubmitAndWait(wctx, l, ports.Command{Update: heatpump.Update{Power: heatpump.Ptr(true)}})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the loop catches up after the caller gave up
	l.Step(context.Background(), time.Now().Add(time.Second))
	assert.False(t, unit.Settings().Power)
	assert.Equal(t, 1.0, testutil.ToFloat64(l.cfg.Metrics.Commands.WithLabelValues("unknown", "expired")))
}

func TestConnectionsWithSupervisor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	unit, err := emulator.New(emulator.DefaultConfig())
	require.NoError(t, err)
	lk, err := link.New(link.Config{
		Opener:          emulator.PipeOpener(ctx, unit),
		ConnectTimeout:  200 * time.Millisecond,
		ResponseTimeout: 100 * time.Millisecond,
		ReadTimeout:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lk.Close() })

	sup := supervisor.New(supervisor.Config{})
	sup.Add(lk)
	l := New(Config{}, lk, sup)

	assert.Equal(t, supervisor.Disconnected, l.Connections()["heatpump"])
	l.Step(context.Background(), time.Now())
	assert.Equal(t, supervisor.Connected, l.Connections()["heatpump"])
	assert.True(t, l.Snapshot().Valid, "first poll runs as soon as the link is up")
}
