package emulator

import (
	"testing"
	"time"
)

func TestValidateHeatLossParams(t *testing.T) {
	tests := []struct {
		name   string
		params HeatLossParams
		want   error
	}{
		{"Valid params", HeatLossParams{OutdoorTemperature: 10, Coefficient: 5}, nil},
		{"Negative coefficient", HeatLossParams{OutdoorTemperature: 10, Coefficient: -5}, ErrNegativeHeatLossCoefficient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Validate(); got != tt.want {
				t.Errorf("Got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeatLossDeltaTemperature(t *testing.T) {
	tests := []struct {
		name        string
		outdoorTemp float64
		indoorTemp  float64
		want        func(float64) bool
	}{
		{"Indoor temperature decreases if outdoor temperature is less", 5, 20, func(r float64) bool { return r < 0 }},
		{"Indoor temperature increases if outdoor temperature is more", 30, 20, func(r float64) bool { return r > 0 }},
		{"Indoor temperature is unchanged if equal to outdoor temperature", 20, 20, func(r float64) bool { return r == 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loss, err := NewHeatLoss(HeatLossParams{OutdoorTemperature: tt.outdoorTemp, Coefficient: 5})
			if err != nil {
				t.Fatalf("NewHeatLoss: %v", err)
			}
			if result := loss.DeltaTemperature(tt.indoorTemp, time.Second); !tt.want(result) {
				t.Errorf("got %v, initial %v", result, tt.indoorTemp)
			}
		})
	}
}
