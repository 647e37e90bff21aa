package testutil

import (
	"sync"
	"time"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/ports"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
)

// FakeHeatPumpService is a reusable fake implementing ports.HeatPumpService.
// Put ONLY what multiple test packages need here.
type FakeHeatPumpService struct {
	mu sync.Mutex

	S     link.Snapshot
	B     heatpump.Bounds
	Conns map[string]supervisor.ConnectionState

	Submitted []ports.Command
	SubmitErr error

	// Result is passed to Done right away unless Hold is set.
	Result error
	Hold   bool
}

func NewFakeHeatPumpService() *FakeHeatPumpService {
	return &FakeHeatPumpService{
		S: link.Snapshot{
			State: link.StateSynced,
			Valid: true,
			Settings: heatpump.Settings{
				Power:       true,
				Mode:        heatpump.ModeCool,
				Temperature: 22,
				Fan:         heatpump.FanAuto,
				Vane:        heatpump.VaneAuto,
				WideVane:    heatpump.WideVaneCenter,
			},
			Status: heatpump.Status{
				RoomTemperature:     24.5,
				Operating:           true,
				CompressorFrequency: 42,
			},
			Timers:   heatpump.Timers{Mode: heatpump.TimerNone},
			LastPoll: time.Unix(1_700_000_000, 0),
		},
		B: heatpump.DefaultBounds(),
		Conns: map[string]supervisor.ConnectionState{
			"network":  supervisor.Connected,
			"mqtt":     supervisor.Connected,
			"heatpump": supervisor.Connected,
		},
	}
}

func (f *FakeHeatPumpService) Snapshot() link.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S
}

func (f *FakeHeatPumpService) SetSnapshot(s link.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.S = s
}

func (f *FakeHeatPumpService) Bounds() heatpump.Bounds { return f.B }

func (f *FakeHeatPumpService) Connections() map[string]supervisor.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]supervisor.ConnectionState, len(f.Conns))
	for k, v := range f.Conns {
		out[k] = v
	}
	return out
}

func (f *FakeHeatPumpService) Submit(cmd ports.Command) error {
	f.mu.Lock()
	if f.SubmitErr != nil {
		err := f.SubmitErr
		f.mu.Unlock()
		return err
	}
	f.Submitted = append(f.Submitted, cmd)
	hold, result := f.Hold, f.Result
	f.mu.Unlock()

	if !hold && cmd.Done != nil {
		cmd.Done(result)
	}
	return nil
}

// SetResult changes the outcome of later commands.
func (f *FakeHeatPumpService) SetResult(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Result = err
}

// Commands returns a copy of everything submitted so far.
func (f *FakeHeatPumpService) Commands() []ports.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.Command(nil), f.Submitted...)
}
