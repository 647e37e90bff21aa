package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/loop"
	"github.com/Agrid-Dev/heatpumpbridge/internal/ports"
	"github.com/Agrid-Dev/heatpumpbridge/internal/supervisor"
)

type Config struct {
	Addr     string
	DeviceID string

	// CommandTimeout bounds how long a POST waits for the control loop.
	CommandTimeout time.Duration

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	Log zerolog.Logger
}

type Server struct {
	svc ports.HeatPumpService
	cfg Config
	srv *http.Server
	log zerolog.Logger
}

// New returns a runnable server.
func New(svc ports.HeatPumpService, cfg Config) *Server {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	s := &Server{svc: svc, cfg: cfg, log: cfg.Log}

	// Read
	mux.HandleFunc("GET /v1", s.handleGet)

	// Write: one endpoint per setting
	mux.HandleFunc("POST /v1/power", s.handlePostPower)
	mux.HandleFunc("POST /v1/mode", s.handlePostMode)
	mux.HandleFunc("POST /v1/temperature", s.handlePostTemperature)
	mux.HandleFunc("POST /v1/fan", s.handlePostFan)
	mux.HandleFunc("POST /v1/vane", s.handlePostVane)
	mux.HandleFunc("POST /v1/wide_vane", s.handlePostWideVane)
	mux.HandleFunc("POST /v1/remote_temperature", s.handlePostRemoteTemperature)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type timersDTO struct {
	Mode                string `json:"mode"`
	OnMinutesSet        int    `json:"on_minutes_set"`
	OnMinutesRemaining  int    `json:"on_minutes_remaining"`
	OffMinutesSet       int    `json:"off_minutes_set"`
	OffMinutesRemaining int    `json:"off_minutes_remaining"`
}

type snapshotDTO struct {
	DeviceID          string            `json:"device_id"`
	Link              string            `json:"link"`
	Valid             bool              `json:"valid"`
	LastPoll          *time.Time        `json:"last_poll,omitempty"`
	Power             string            `json:"power"`
	Mode              string            `json:"mode"`
	Temperature       float64           `json:"temperature"`
	TemperatureMin    float64           `json:"temperature_min"`
	TemperatureMax    float64           `json:"temperature_max"`
	TemperatureStep   float64           `json:"temperature_step"`
	Fan               string            `json:"fan"`
	Vane              string            `json:"vane"`
	WideVane          string            `json:"wide_vane"`
	RoomTemperature   float64           `json:"room_temperature"`
	RemoteTemperature float64           `json:"remote_temperature"`
	Operating         bool              `json:"operating"`
	Compressor        int               `json:"compressor_frequency"`
	ISee              bool              `json:"isee"`
	Timers            timersDTO         `json:"timers"`
	Connections       map[string]string `json:"connections"`
}

func toDTO(s link.Snapshot, b heatpump.Bounds, conns map[string]supervisor.ConnectionState) snapshotDTO {
	dto := snapshotDTO{
		Link:              s.State.String(),
		Valid:             s.Valid,
		Power:             heatpump.PowerString(s.Settings.Power),
		Mode:              s.Settings.Mode.String(),
		Temperature:       s.Settings.Temperature,
		TemperatureMin:    b.Min,
		TemperatureMax:    b.Max,
		TemperatureStep:   b.Step,
		Fan:               s.Settings.Fan.String(),
		Vane:              s.Settings.Vane.String(),
		WideVane:          s.Settings.WideVane.String(),
		RoomTemperature:   s.Status.RoomTemperature,
		RemoteTemperature: s.RemoteTemperature,
		Operating:         s.Status.Operating,
		Compressor:        s.Status.CompressorFrequency,
		ISee:              s.Status.ISee,
		Timers: timersDTO{
			Mode:                s.Timers.Mode.String(),
			OnMinutesSet:        s.Timers.OnMinutesSet,
			OnMinutesRemaining:  s.Timers.OnMinutesRemaining,
			OffMinutesSet:       s.Timers.OffMinutesSet,
			OffMinutesRemaining: s.Timers.OffMinutesRemaining,
		},
		Connections: make(map[string]string, len(conns)),
	}
	if !s.LastPoll.IsZero() {
		t := s.LastPoll
		dto.LastPoll = &t
	}
	for name, st := range conns {
		dto.Connections[name] = st.String()
	}
	return dto
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.respondSnapshot(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var down []string
	for name, st := range s.svc.Connections() {
		if st != supervisor.Connected {
			down = append(down, name)
		}
	}
	if len(down) > 0 {
		sort.Strings(down)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down: " + strings.Join(down, ",")))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePostPower(w http.ResponseWriter, r *http.Request) {
	// body: {"value": true}
	postValue(s, w, r, func(v bool) (ports.Command, error) {
		return ports.Command{Update: heatpump.Update{Power: &v}}, nil
	})
}

func (s *Server) handlePostMode(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "cool"}
	postValue(s, w, r, func(v string) (ports.Command, error) {
		m, err := heatpump.ParseMode(v)
		return ports.Command{Update: heatpump.Update{Mode: &m}}, err
	})
}

func (s *Server) handlePostTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v float64) (ports.Command, error) {
		return ports.Command{Update: heatpump.Update{Temperature: &v}}, nil
	})
}

func (s *Server) handlePostFan(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v string) (ports.Command, error) {
		f, err := heatpump.ParseFanSpeed(v)
		return ports.Command{Update: heatpump.Update{Fan: &f}}, err
	})
}

func (s *Server) handlePostVane(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v string) (ports.Command, error) {
		vn, err := heatpump.ParseVane(v)
		return ports.Command{Update: heatpump.Update{Vane: &vn}}, err
	})
}

func (s *Server) handlePostWideVane(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v string) (ports.Command, error) {
		wv, err := heatpump.ParseWideVane(v)
		return ports.Command{Update: heatpump.Update{WideVane: &wv}}, err
	})
}

func (s *Server) handlePostRemoteTemperature(w http.ResponseWriter, r *http.Request) {
	// body: {"value": 21.5}, 0 hands control back to the unit's own sensor
	postValue(s, w, r, func(v float64) (ports.Command, error) {
		return ports.Command{RemoteTemperature: &v}, nil
	})
}

// ---- generic helpers ----
func (s *Server) respondSnapshot(w http.ResponseWriter) {
	dto := toDTO(s.svc.Snapshot(), s.svc.Bounds(), s.svc.Connections())
	dto.DeviceID = s.cfg.DeviceID
	writeJSON(w, http.StatusOK, dto)
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, build func(T) (ports.Command, error)) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	cmd, err := build(*req.Value)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd.Source = "http"

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
	defer cancel()
	if err := ports.SubmitAndWait(ctx, s.svc, cmd); err != nil {
		s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("command failed")
		writeErr(w, statusFor(err), err.Error())
		return
	}

	s.respondSnapshot(w)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, heatpump.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, loop.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, link.ErrNotSynced):
		return http.StatusServiceUnavailable
	case errors.Is(err, link.ErrAckTimeout), errors.Is(err, link.ErrLinkTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
