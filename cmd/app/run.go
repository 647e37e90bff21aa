package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Long: `Connect to the heat pump and the MQTT broker, keep both connections alive,
poll the unit and publish its state, and apply commands from MQTT, HTTP and
Modbus until interrupted.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	svc, err := NewService(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("bridge stopped")
		return err
	}
	log.Info().Msg("bridge stopped")
	return nil
}
