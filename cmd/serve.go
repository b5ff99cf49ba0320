package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the benchmark API",
	Long: `Serves the dashboard API (POST /api/run, POST /api/prepare, GET /api/results),
the thirdweb transaction route (POST /api/thirdweb-tx), /healthz and /metrics on
LISTEN_ADDR.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ln, err := net.Listen("tcp", a.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.ListenAddr, err)
		}

		a.useLocalRoute(ln)

		orchestrator, err := a.orchestrator()
		if err != nil {
			_ = ln.Close()
			return err
		}

		a.prepare(ctx, orchestrator)

		return a.server(a.cfg.ListenAddr, orchestrator).Serve(ctx, ln)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
