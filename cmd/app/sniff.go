package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/heatpumpbridge/internal/protocol"
	"github.com/Agrid-Dev/heatpumpbridge/internal/transport"
)

var (
	sniffPort    string
	sniffConnect bool
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Decode CN105 frames seen on the port",
	Long: `Read the heat pump port and print every frame with its raw bytes and
decoded meaning. Use it on a passive tap or, with --connect, to send the
connect handshake and watch the unit answer.

The port defaults to heatpump.port from the config.`,
	RunE: runSniff,
}

func init() {
	sniffCmd.Flags().StringVarP(&sniffPort, "port", "p", "", "port address, overrides heatpump.port")
	sniffCmd.Flags().BoolVar(&sniffConnect, "connect", false, "send a connect request first")
	rootCmd.AddCommand(sniffCmd)
}

func runSniff(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	addr := cfg.HeatPump.Port
	if sniffPort != "" {
		addr = sniffPort
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port, err := transport.Open(ctx, addr, transport.Options{
		BaudRate:           cfg.HeatPump.BaudRate,
		DialTimeout:        cfg.HeatPump.DialTimeout,
		Username:           cfg.HeatPump.WSUsername,
		Password:           cfg.HeatPump.WSPassword,
		InsecureSkipVerify: cfg.HeatPump.Insecure,
	})
	if err != nil {
		return err
	}
	defer port.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sniffing %s, Ctrl+C to exit\n\n", addr)

	if sniffConnect {
		f, err := protocol.Encode(protocol.Connect{})
		if err != nil {
			return err
		}
		if _, err := port.Write(f); err != nil {
			return fmt.Errorf("send connect: %w", err)
		}
		fmt.Fprintln(out, protocol.FormatFrame(time.Now(), "tx", f))
	}
	return sniff(ctx, port, out)
}

// sniff prints frames read from port until ctx is done or the port closes.
func sniff(ctx context.Context, port transport.Port, out io.Writer) error {
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		return err
	}

	asm := protocol.NewAssembler()
	buf := make([]byte, 128)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			f, ferr := asm.Feed(b)
			if ferr != nil {
				fmt.Fprintf(out, "[ERROR] %v\n", ferr)
				continue
			}
			if f != nil {
				fmt.Fprintln(out, protocol.FormatFrame(time.Now(), "rx", f))
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
