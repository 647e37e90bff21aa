package app

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/heatpumpbridge/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "heatpumpbridge",
	Short: "Mitsubishi CN105 heat pump to MQTT bridge",
	Long: `heatpumpbridge talks to a Mitsubishi indoor unit over its CN105 port and
exposes it on MQTT, with optional HTTP and Modbus TCP controllers.

The unit is reached through a local UART (/dev/ttyUSB0), a raw TCP serial
server (tcp://host:port) or a WebSocket serial bridge (ws:// or wss://).

Settings come from the config file, then HPB_* environment variables,
e.g. HPB_MQTT_BROKER_URL or HPB_CONTROLLERS_HTTP_ADDR.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file (.yaml/.yml/.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (console, json)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the config and builds the logger, applying flag overrides.
func setup(cmd *cobra.Command) (Config, zerolog.Logger, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return Config{}, zerolog.Nop(), err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	log, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return Config{}, zerolog.Nop(), err
	}
	return cfg, log, nil
}
