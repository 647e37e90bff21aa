package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/transport"
)

// EnvPrefix prefixes every environment override, e.g. HPB_MQTT_BROKER_URL.
const EnvPrefix = "HPB_"

type Config struct {
	DeviceID    string            `koanf:"device_id" yaml:"device_id"`
	Log         LogConfig         `koanf:"log" yaml:"log"`
	HeatPump    HeatPumpConfig    `koanf:"heatpump" yaml:"heatpump"`
	MQTT        MQTTConfig        `koanf:"mqtt" yaml:"mqtt"`
	Network     NetworkConfig     `koanf:"network" yaml:"network"`
	Backoff     BackoffConfig     `koanf:"backoff" yaml:"backoff"`
	Loop        LoopConfig        `koanf:"loop" yaml:"loop"`
	Controllers ControllersConfig `koanf:"controllers" yaml:"controllers"`
	Emulator    EmulatorConfig    `koanf:"emulator" yaml:"emulator"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "console" | "json"
}

type HeatPumpConfig struct {
	Port            string        `koanf:"port" yaml:"port"` // /dev/ttyUSB0, tcp://host:port, ws://...
	BaudRate        int           `koanf:"baud_rate" yaml:"baud_rate"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	ResponseTimeout time.Duration `koanf:"response_timeout" yaml:"response_timeout"`
	AckTimeout      time.Duration `koanf:"ack_timeout" yaml:"ack_timeout"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	DialTimeout     time.Duration `koanf:"dial_timeout" yaml:"dial_timeout"`
	PollInterval    time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	MaxPollFailures int           `koanf:"max_poll_failures" yaml:"max_poll_failures"`
	MinTemp         float64       `koanf:"min_temp" yaml:"min_temp"`
	MaxTemp         float64       `koanf:"max_temp" yaml:"max_temp"`
	TempStep        float64       `koanf:"temp_step" yaml:"temp_step"`

	// WebSocket serial bridges only.
	WSUsername string `koanf:"ws_username" yaml:"ws_username"`
	WSPassword string `koanf:"ws_password" yaml:"ws_password"`
	Insecure   bool   `koanf:"insecure" yaml:"insecure"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled" yaml:"enabled"`
	BrokerURL       string        `koanf:"broker_url" yaml:"broker_url"`
	ClientID        string        `koanf:"client_id" yaml:"client_id"`
	Username        string        `koanf:"username" yaml:"username"`
	Password        string        `koanf:"password" yaml:"password"`
	QoS             byte          `koanf:"qos" yaml:"qos"`
	Retain          bool          `koanf:"retain" yaml:"retain"`
	BaseTopic       string        `koanf:"base_topic" yaml:"base_topic"`
	Topics          TopicsConfig  `koanf:"topics" yaml:"topics"`
	PayloadMode     string        `koanf:"payload_mode" yaml:"payload_mode"` // "json" | "kv"
	PublishInterval time.Duration `koanf:"publish_interval" yaml:"publish_interval"`
	Debug           bool          `koanf:"debug" yaml:"debug"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	KeepAlive       time.Duration `koanf:"keep_alive" yaml:"keep_alive"`
}

// TopicsConfig overrides individual topics; empty ones derive from the base
// topic.
type TopicsConfig struct {
	Settings     string `koanf:"settings" yaml:"settings"`
	Set          string `koanf:"set" yaml:"set"`
	Status       string `koanf:"status" yaml:"status"`
	Timers       string `koanf:"timers" yaml:"timers"`
	Debug        string `koanf:"debug" yaml:"debug"`
	DebugSet     string `koanf:"debug_set" yaml:"debug_set"`
	Availability string `koanf:"availability" yaml:"availability"`
}

type NetworkConfig struct {
	Interface string `koanf:"interface" yaml:"interface"`
	Reach     string `koanf:"reach" yaml:"reach"` // host:port
}

type BackoffConfig struct {
	Initial time.Duration `koanf:"initial" yaml:"initial"`
	Max     time.Duration `koanf:"max" yaml:"max"`
	Jitter  float64       `koanf:"jitter" yaml:"jitter"`
}

type LoopConfig struct {
	Tick      time.Duration `koanf:"tick" yaml:"tick"`
	QueueSize int           `koanf:"queue_size" yaml:"queue_size"`
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http" yaml:"http"`
	Modbus ModbusConfig `koanf:"modbus" yaml:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	UnitID  byte   `koanf:"unit_id" yaml:"unit_id"`
}

type EmulatorConfig struct {
	Addr               string        `koanf:"addr" yaml:"addr"`
	RoomTemperature    float64       `koanf:"room_temperature" yaml:"room_temperature"`
	OutdoorTemperature float64       `koanf:"outdoor_temperature" yaml:"outdoor_temperature"`
	Tick               time.Duration `koanf:"tick" yaml:"tick"`
}

func Default() Config {
	b := heatpump.DefaultBounds()
	return Config{
		DeviceID: "heatpump",
		Log:      LogConfig{Level: "info", Format: "console"},
		HeatPump: HeatPumpConfig{
			Port:            "/dev/ttyUSB0",
			BaudRate:        transport.DefaultBaudRate,
			ConnectTimeout:  2 * time.Second,
			ResponseTimeout: time.Second,
			AckTimeout:      time.Second,
			ReadTimeout:     50 * time.Millisecond,
			DialTimeout:     10 * time.Second,
			PollInterval:    time.Minute,
			MaxPollFailures: 3,
			MinTemp:         b.Min,
			MaxTemp:         b.Max,
			TempStep:        b.Step,
		},
		MQTT: MQTTConfig{
			Enabled:         true,
			BrokerURL:       "tcp://localhost:1883",
			ClientID:        "heatpumpbridge",
			BaseTopic:       "heatpump",
			PayloadMode:     "json",
			PublishInterval: time.Minute,
			ConnectTimeout:  10 * time.Second,
			KeepAlive:       30 * time.Second,
		},
		Backoff: BackoffConfig{Initial: time.Second, Max: time.Minute, Jitter: 0.1},
		Loop:    LoopConfig{Tick: 100 * time.Millisecond, QueueSize: 8},
		Controllers: ControllersConfig{
			HTTP:   HTTPConfig{Enabled: false, Addr: ":8080"},
			Modbus: ModbusConfig{Enabled: false, Addr: "127.0.0.1:1502", UnitID: 1},
		},
		Emulator: EmulatorConfig{
			Addr:               "127.0.0.1:7105",
			RoomTemperature:    19,
			OutdoorTemperature: 8,
			Tick:               time.Second,
		},
	}
}

// LoadConfig layers defaults, the config file at path (.yaml/.yml/.json)
// and HPB_* environment variables, then validates the result. A missing
// file means defaults.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = kyaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// sections whose keys are one level deep, e.g. HEATPUMP_BAUD_RATE.
var sections = map[string]bool{
	"log":      true,
	"heatpump": true,
	"mqtt":     true,
	"network":  true,
	"backoff":  true,
	"loop":     true,
	"emulator": true,
}

// envKeyTransform maps an environment name (prefix stripped) to a koanf
// path. Underscores separate sections from keys only where the section is
// known; the rest stay part of the key name.
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "_")

	switch {
	case parts[0] == "controllers":
		if len(parts) < 3 {
			return s
		}
		return "controllers." + parts[1] + "." + strings.Join(parts[2:], "_")
	case parts[0] == "mqtt" && len(parts) >= 3 && parts[1] == "topics":
		return "mqtt.topics." + strings.Join(parts[2:], "_")
	case sections[parts[0]]:
		if len(parts) < 2 {
			return s
		}
		return parts[0] + "." + strings.Join(parts[1:], "_")
	default:
		return s
	}
}

func (c Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if c.HeatPump.Port == "" {
		return errors.New("heatpump.port is required")
	}
	if _, err := c.Bounds(); err != nil {
		return fmt.Errorf("heatpump temperature bounds: %w", err)
	}
	if c.HeatPump.PollInterval <= 0 {
		return errors.New("heatpump.poll_interval must be positive")
	}
	if c.MQTT.QoS > 1 {
		return fmt.Errorf("mqtt.qos %d not supported", c.MQTT.QoS)
	}
	if m := c.MQTT.PayloadMode; m != "json" && m != "kv" {
		return fmt.Errorf("mqtt.payload_mode %q: want json or kv", m)
	}
	if c.MQTT.Enabled && c.MQTT.BaseTopic == "" {
		return errors.New("mqtt.base_topic is required")
	}
	if c.Controllers.Modbus.Enabled && c.Controllers.Modbus.UnitID == 0 {
		return errors.New("controllers.modbus.unit_id must be set")
	}
	if !c.MQTT.Enabled && !c.Controllers.HTTP.Enabled && !c.Controllers.Modbus.Enabled {
		return errors.New("no controller enabled")
	}
	return nil
}

func (c Config) Bounds() (heatpump.Bounds, error) {
	b := heatpump.Bounds{Min: c.HeatPump.MinTemp, Max: c.HeatPump.MaxTemp, Step: c.HeatPump.TempStep}
	return b, b.Validate()
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "******"
		}
	}
	mask(&c.MQTT.Password)
	mask(&c.HeatPump.WSPassword)
	return c
}

// YAML renders the redacted config.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
