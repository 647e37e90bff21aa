package ports

import (
	"context"
	"time"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
)

// HeatPumpService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
// Reads return copies; writes are queued and executed by the control loop.
type HeatPumpService interface {
	Snapshot() link.Snapshot
	Bounds() heatpump.Bounds
	Connections() map[string]supervisor.ConnectionState
	Submit(Command) error
}

// Command is a write request from a controller.
type Command struct {
	Update            heatpump.Update
	RemoteTemperature *float64
	Source            string // "mqtt", "http", "modbus"

	// Deadline, when set, drops the command unexecuted once the control
	// loop reaches it after this instant.
	Deadline time.Time

	// Done receives the outcome on the control goroutine. It may be nil and
	// must not block.
	Done func(error)
}

// SubmitAndWait queues cmd and blocks until the control loop handled it or
// ctx is done. A ctx deadline is carried on the command so an abandoned
// request is not applied late.
func SubmitAndWait(ctx context.Context, svc HeatPumpService, cmd Command) error {
	if d, ok := ctx.Deadline(); ok && (cmd.Deadline.IsZero() || d.Before(cmd.Deadline)) {
		cmd.Deadline = d
	}
	res := make(chan error, 1)
	done := cmd.Done
	cmd.Done = func(err error) {
		if done != nil {
			done(err)
		}
		res <- err
	}
	if err := svc.Submit(cmd); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
