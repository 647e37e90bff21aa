package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/heatpumpbridge/internal/emulator"
	"github.com/Agrid-Dev/heatpumpbridge/internal/logging"
)

var emulateAddr string

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Serve an emulated indoor unit over TCP",
	Long: `Listen on emulator.addr and answer CN105 frames like an indoor unit
behind a ser2net port, with a simple room model driving the temperature.
Point heatpump.port at tcp://<addr> to run the bridge without hardware.`,
	RunE: runEmulate,
}

var (
	simulateSteps     int
	simulateDT        time.Duration
	simulateOut       string
	simulateSetpoints []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write the emulated room response as CSV",
	Long: `Run the emulated unit's room model offline and write one CSV row per step.
Setpoint changes are given as step=value, e.g. --setpoint 200=24.`,
	RunE: runSimulate,
}

func init() {
	emulateCmd.Flags().StringVar(&emulateAddr, "addr", "", "listen address, overrides emulator.addr")
	rootCmd.AddCommand(emulateCmd)

	simulateCmd.Flags().IntVar(&simulateSteps, "steps", 1000, "number of steps")
	simulateCmd.Flags().DurationVar(&simulateDT, "dt", time.Second, "simulated time per step")
	simulateCmd.Flags().StringVarP(&simulateOut, "out", "o", "", "output file, stdout when empty")
	simulateCmd.Flags().StringSliceVar(&simulateSetpoints, "setpoint", nil, "setpoint change as step=value")
	rootCmd.AddCommand(simulateCmd)
}

func emulatorConfig(cfg Config) emulator.Config {
	ec := emulator.DefaultConfig()
	ec.RoomTemperature = cfg.Emulator.RoomTemperature
	ec.HeatLoss.OutdoorTemperature = cfg.Emulator.OutdoorTemperature
	if cfg.Emulator.Tick > 0 {
		ec.Tick = cfg.Emulator.Tick
	}
	return ec
}

func runEmulate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	addr := cfg.Emulator.Addr
	if emulateAddr != "" {
		addr = emulateAddr
	}

	ec := emulatorConfig(cfg)
	ec.Log = logging.Component(log, "emulator")
	unit, err := emulator.New(ec)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return unit.Run(ctx) })
	g.Go(func() error { return unit.ListenAndServe(ctx, addr) })

	if err := g.Wait(); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	changes, err := parseSetpointChanges(simulateSetpoints)
	if err != nil {
		return err
	}

	ec := emulatorConfig(cfg)
	ec.Initial.Power = true
	unit, err := emulator.New(ec)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if simulateOut != "" {
		f, err := os.Create(simulateOut)
		if err != nil {
			return err
		}
		defer f.Close()
		bw := bufio.NewWriter(f)
		defer bw.Flush()
		out = bw
	}
	return emulator.Trace(out, unit, simulateSteps, simulateDT, changes)
}

func parseSetpointChanges(in []string) ([]emulator.SetpointChange, error) {
	out := make([]emulator.SetpointChange, 0, len(in))
	for _, s := range in {
		step, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("setpoint %q: want step=value", s)
		}
		n, err := strconv.Atoi(strings.TrimSpace(step))
		if err != nil || n < 1 {
			return nil, errors.Join(fmt.Errorf("setpoint %q: bad step", s), err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("setpoint %q: %w", s, err)
		}
		out = append(out, emulator.SetpointChange{Step: n, Value: v})
	}
	return out, nil
}
