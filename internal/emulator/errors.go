package emulator

import "errors"

var (
	ErrInvalidRegulatorHysteresis   = errors.New("target hysteresis must not exceed trigger hysteresis")
	ErrInvalidRegulatorCoefficients = errors.New("regulator coefficients must be non-negative")
	ErrNegativeHeatLossCoefficient  = errors.New("heat loss coefficient must be non-negative")
	ErrInvalidInitialState          = errors.New("invalid initial unit state")
)
