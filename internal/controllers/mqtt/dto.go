package mqttctrl

import (
	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
)

type settingsDTO struct {
	Power       string  `json:"power"`
	Mode        string  `json:"mode"`
	Temperature float64 `json:"temperature"`
	Fan         string  `json:"fan"`
	Vane        string  `json:"vane"`
	WideVane    string  `json:"wideVane"`
}

func settingsPayload(s heatpump.Settings) settingsDTO {
	return settingsDTO{
		Power:       heatpump.PowerString(s.Power),
		Mode:        s.Mode.String(),
		Temperature: s.Temperature,
		Fan:         s.Fan.String(),
		Vane:        s.Vane.String(),
		WideVane:    s.WideVane.String(),
	}
}

type statusDTO struct {
	RoomTemperature     float64 `json:"roomTemperature"`
	Operating           bool    `json:"operating"`
	CompressorFrequency int     `json:"compressorFrequency"`
	ISee                bool    `json:"iSee"`
	Link                string  `json:"link"`
	Connected           bool    `json:"connected"`
}

func statusPayload(s link.Snapshot) statusDTO {
	return statusDTO{
		RoomTemperature:     s.Status.RoomTemperature,
		Operating:           s.Status.Operating,
		CompressorFrequency: s.Status.CompressorFrequency,
		ISee:                s.Status.ISee,
		Link:                s.State.String(),
		Connected:           s.State.Connected(),
	}
}

type timersDTO struct {
	Mode                string `json:"mode"`
	OnMinutesSet        int    `json:"onMinutesSet"`
	OnMinutesRemaining  int    `json:"onMinutesRemaining"`
	OffMinutesSet       int    `json:"offMinutesSet"`
	OffMinutesRemaining int    `json:"offMinutesRemaining"`
}

func timersPayload(t heatpump.Timers) timersDTO {
	return timersDTO{
		Mode:                t.Mode.String(),
		OnMinutesSet:        t.OnMinutesSet,
		OnMinutesRemaining:  t.OnMinutesRemaining,
		OffMinutesSet:       t.OffMinutesSet,
		OffMinutesRemaining: t.OffMinutesRemaining,
	}
}

type errorPayload struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Command string `json:"command,omitempty"`
	Time    string `json:"time"`
}

type framePayload struct {
	Dir     string `json:"dir"`
	Frame   string `json:"frame"`
	Message string `json:"message,omitempty"`
}
