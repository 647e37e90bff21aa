package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpctrl "github.com/Agrid-Dev/heatpumpbridge/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/heatpumpbridge/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/heatpumpbridge/internal/controllers/mqtt"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/logging"
	"github.com/Agrid-Dev/heatpumpbridge/internal/loop"
	"github.com/Agrid-Dev/heatpumpbridge/internal/metrics"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
	"github.com/Agrid-Dev/heatpumpbridge/internal/transport"
)

// Service is the assembled bridge: link, supervisor, control loop and the
// enabled controllers.
type Service struct {
	cfg Config
	log zerolog.Logger

	Registry   *prometheus.Registry
	Link       *link.Link
	Supervisor *supervisor.Supervisor
	Loop       *loop.Loop

	conn   *mqttctrl.Connection
	bridge *mqttctrl.Bridge
	http   *httpctrl.Server
	modbus *modbusctrl.Controller
}

// NewService wires every component from cfg. Nothing is opened until Run.
func NewService(cfg Config, log zerolog.Logger) (*Service, error) {
	bounds, err := cfg.Bounds()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hp := cfg.HeatPump
	lk, err := link.New(link.Config{
		Opener: transport.NewOpener(hp.Port, transport.Options{
			BaudRate:           hp.BaudRate,
			DialTimeout:        hp.DialTimeout,
			Username:           hp.WSUsername,
			Password:           hp.WSPassword,
			InsecureSkipVerify: hp.Insecure,
		}),
		ConnectTimeout:  hp.ConnectTimeout,
		ResponseTimeout: hp.ResponseTimeout,
		AckTimeout:      hp.AckTimeout,
		ReadTimeout:     hp.ReadTimeout,
		MaxPollFailures: hp.MaxPollFailures,
		Bounds:          bounds,
		Log:             logging.Component(log, "link"),
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(supervisor.Config{
		InitialBackoff: cfg.Backoff.Initial,
		MaxBackoff:     cfg.Backoff.Max,
		Jitter:         cfg.Backoff.Jitter,
		Log:            logging.Component(log, "supervisor"),
		Metrics:        m,
	})

	s := &Service{cfg: cfg, log: log, Registry: reg, Link: lk, Supervisor: sup}

	s.Loop = loop.New(loop.Config{
		Tick:         cfg.Loop.Tick,
		QueueSize:    cfg.Loop.QueueSize,
		PollInterval: hp.PollInterval,
		Log:          logging.Component(log, "loop"),
		Metrics:      m,
	}, lk, sup)

	networked := isNetworkPort(hp.Port)
	if networked || cfg.MQTT.Enabled {
		sup.Add(supervisor.NewHostNetwork(cfg.Network.Interface, cfg.Network.Reach))
	}

	if cfg.MQTT.Enabled {
		if err := s.addMQTT(m); err != nil {
			return nil, err
		}
	}

	if networked {
		sup.Add(lk, "network")
	} else {
		sup.Add(lk)
	}

	if s.bridge != nil {
		lk.OnChange(s.bridge.Notify)
		lk.SetTap(s.bridge.Tap)
		s.Loop.AddStepper(s.bridge)
	}

	if cfg.Controllers.HTTP.Enabled {
		s.http = httpctrl.New(s.Loop, httpctrl.Config{
			Addr:     cfg.Controllers.HTTP.Addr,
			DeviceID: cfg.DeviceID,
			Gatherer: reg,
			Log:      logging.Component(log, "http"),
		})
	}

	if cfg.Controllers.Modbus.Enabled {
		s.modbus, err = modbusctrl.New(s.Loop, modbusctrl.Config{
			DeviceID: cfg.DeviceID,
			Addr:     cfg.Controllers.Modbus.Addr,
			UnitID:   cfg.Controllers.Modbus.UnitID,
			Log:      logging.Component(log, "modbus"),
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) addMQTT(m *metrics.Metrics) error {
	mc := s.cfg.MQTT
	log := logging.Component(s.log, "mqtt")

	// the last will needs the availability topic before the bridge
	// derives the others
	topics := mqttctrl.Topics{
		Settings:     mc.Topics.Settings,
		Set:          mc.Topics.Set,
		Status:       mc.Topics.Status,
		Timers:       mc.Topics.Timers,
		Debug:        mc.Topics.Debug,
		DebugSet:     mc.Topics.DebugSet,
		Availability: mc.Topics.Availability,
	}
	if topics.Availability == "" {
		topics.Availability = strings.TrimRight(mc.BaseTopic, "/") + "/availability"
	}

	conn, err := mqttctrl.NewConnection(mqttctrl.ConnConfig{
		BrokerURL:         mc.BrokerURL,
		ClientID:          mc.ClientID,
		Username:          mc.Username,
		Password:          mc.Password,
		QoS:               mc.QoS,
		ConnectTimeout:    mc.ConnectTimeout,
		KeepAlive:         mc.KeepAlive,
		AvailabilityTopic: topics.Availability,
		Log:               log,
	})
	if err != nil {
		return err
	}

	b, err := mqttctrl.New(s.Loop, conn, mqttctrl.Config{
		BaseTopic:       mc.BaseTopic,
		Topics:          topics,
		Retain:          mc.Retain,
		PayloadMode:     mqttctrl.PayloadMode(mc.PayloadMode),
		PublishInterval: mc.PublishInterval,
		Debug:           mc.Debug,
		Log:             log,
		Metrics:         m,
	})
	if err != nil {
		return err
	}
	b.Attach(conn)

	s.Supervisor.Add(conn, "network")
	s.conn, s.bridge = conn, b
	return nil
}

// Run drives the loop and serves the controllers until ctx is done or one
// of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Loop.Run(ctx) })
	if s.http != nil {
		g.Go(func() error { return s.http.Run(ctx) })
	}
	if s.modbus != nil {
		g.Go(func() error { return s.modbus.Run(ctx) })
	}

	s.log.Info().
		Str("device_id", s.cfg.DeviceID).
		Str("port", s.cfg.HeatPump.Port).
		Bool("mqtt", s.conn != nil).
		Bool("http", s.http != nil).
		Bool("modbus", s.modbus != nil).
		Msg("bridge started")

	err := g.Wait()
	if s.conn != nil {
		s.conn.Close()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}

func isNetworkPort(addr string) bool {
	i := strings.Index(addr, "://")
	return i > 0 && addr[:i] != "serial"
}
