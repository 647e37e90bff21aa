// Package metrics holds the prometheus collectors shared by the bridge
// components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "heatpumpbridge"

// Metrics is safe for concurrent use. A zero registerer in New keeps the
// collectors unregistered, which tests rely on.
type Metrics struct {
	FramesSent      prometheus.Counter
	FramesReceived  prometheus.Counter
	FrameErrors     *prometheus.CounterVec // kind
	PollFailures    prometheus.Counter
	LinkState       prometheus.Gauge
	Commands        *prometheus.CounterVec // source, result
	Publishes       *prometheus.CounterVec // topic, result
	ConnectionState *prometheus.GaugeVec   // endpoint
	ConnectAttempts *prometheus.CounterVec // endpoint, result
	RoomTemperature prometheus.Gauge
	Setpoint        prometheus.Gauge
	Compressor      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "CN105 frames written to the unit",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Complete CN105 frames read from the unit",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Frames rejected by the codec, by error kind",
		}, []string{"kind"}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Polls that did not complete",
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Heat pump link state (0=idle 1=handshaking 2=synced 3=polling 4=updating)",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled by the control loop",
		}, []string{"source", "result"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "MQTT publish outcomes (sent, deduped, dropped)",
		}, []string{"topic", "result"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Endpoint connection state (0=disconnected 1=connecting 2=connected)",
		}, []string{"endpoint"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Supervisor connect attempts",
		}, []string{"endpoint", "result"}),
		RoomTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_temperature_celsius",
			Help:      "Last polled room temperature",
		}),
		Setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setpoint_celsius",
			Help:      "Last polled target temperature",
		}),
		Compressor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compressor_frequency_hertz",
			Help:      "Last polled compressor frequency",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesSent, m.FramesReceived, m.FrameErrors, m.PollFailures, m.LinkState,
			m.Commands, m.Publishes, m.ConnectionState, m.ConnectAttempts,
			m.RoomTemperature, m.Setpoint, m.Compressor,
		)
	}
	return m
}
