package emulator

import (
	"time"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
)

type PIDRegulatorParams struct {
	Kp                float64
	Ki                float64
	Kd                float64
	TriggerHysteresis float64 // hysteresis for heating / cooling start
	TargetHysteresis  float64 // hysteresis for heating / cooling stop (target reached)
}

func DefaultPIDRegulatorParams() PIDRegulatorParams {
	return PIDRegulatorParams{Kp: 0.1, Ki: 0.01, Kd: 0.05, TriggerHysteresis: 1, TargetHysteresis: 0.5}
}

func (params *PIDRegulatorParams) Validate() error {
	if params.TargetHysteresis > params.TriggerHysteresis {
		return ErrInvalidRegulatorHysteresis
	}
	if params.Kp < 0 || params.Ki < 0 || params.Kd < 0 {
		return ErrInvalidRegulatorCoefficients
	}
	return nil
}

// PIDRegulator drives the simulated room towards the setpoint the way the
// indoor unit's compressor would.
type PIDRegulator struct {
	params    PIDRegulatorParams
	prevError float64
	integral  float64
	isHeating bool
	isCooling bool
}

func NewPIDRegulator(params PIDRegulatorParams) *PIDRegulator {
	return &PIDRegulator{
		params: params,
	}
}

func canHeat(m heatpump.Mode) bool { return m == heatpump.ModeHeat || m == heatpump.ModeAuto }

// DRY runs the compressor in cooling.
func canCool(m heatpump.Mode) bool {
	return m == heatpump.ModeCool || m == heatpump.ModeDry || m == heatpump.ModeAuto
}

func (pid *PIDRegulator) Activate(setpoint, ambient float64, mode heatpump.Mode) {
	if !canHeat(mode) && !canCool(mode) {
		pid.Stop()
		return
	}
	if canHeat(mode) && ambient < setpoint-pid.params.TriggerHysteresis && !pid.isHeating {
		pid.isHeating = true
		pid.isCooling = false
	} else if canCool(mode) && ambient > setpoint+pid.params.TriggerHysteresis && !pid.isCooling {
		pid.isCooling = true
		pid.isHeating = false
	}
	if pid.isHeating && (!canHeat(mode) || ambient >= setpoint+pid.params.TargetHysteresis) {
		pid.isHeating = false
	} else if pid.isCooling && (!canCool(mode) || ambient <= setpoint-pid.params.TargetHysteresis) {
		pid.isCooling = false
	}
}

// Stop idles the compressor and clears the accumulated terms.
func (pid *PIDRegulator) Stop() {
	pid.isHeating = false
	pid.isCooling = false
	pid.integral = 0
	pid.prevError = 0
}

func (pid *PIDRegulator) Active() bool { return pid.isHeating || pid.isCooling }

func (pid *PIDRegulator) GetTarget(setpoint float64) float64 {
	if pid.isHeating {
		return setpoint + pid.params.TargetHysteresis
	}
	if pid.isCooling {
		return setpoint - pid.params.TargetHysteresis
	}
	return setpoint
}

func (pid *PIDRegulator) Update(setpoint, ambient float64, mode heatpump.Mode, dt time.Duration) float64 {
	pid.Activate(setpoint, ambient, mode)
	if !pid.Active() || dt <= 0 {
		return ambient
	}
	err := pid.GetTarget(setpoint) - ambient

	pid.integral += err * dt.Seconds()
	derivative := (err - pid.prevError) / dt.Seconds()
	pid.prevError = err

	output := pid.params.Kp*err + pid.params.Ki*pid.integral + pid.params.Kd*derivative
	return ambient + output
}
