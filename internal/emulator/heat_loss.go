package emulator

import "time"

type HeatLossParams struct {
	OutdoorTemperature float64
	Coefficient        float64 // >= 0, represents conductivity. 0 for no loss.
}

func (params *HeatLossParams) Validate() error {
	if params.Coefficient < 0 {
		return ErrNegativeHeatLossCoefficient
	}
	return nil
}

type HeatLoss struct {
	params HeatLossParams
}

func NewHeatLoss(params HeatLossParams) (*HeatLoss, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &HeatLoss{params: params}, nil
}

func (h *HeatLoss) DeltaTemperature(indoorTemperature float64, dt time.Duration) float64 {
	diff := h.params.OutdoorTemperature - indoorTemperature
	return h.params.Coefficient * diff * dt.Seconds()
}
