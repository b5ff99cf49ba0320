package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/skylenet/aa-benchmark/config"
	"github.com/skylenet/aa-benchmark/output"
	"github.com/spf13/cobra"
)

var (
	runInteractive bool
	runPrepare     bool
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one benchmark across the enabled providers",
	Long: `Sends one sponsored transaction through every enabled provider at the same
time, waits for all of them to resolve and prints the results table.

Without THIRDWEB_TX_URL the thirdweb route is served on a loopback port for the
duration of the run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		if runInteractive {
			providers, err := selectProviders(a.cfg.Providers)
			if err != nil {
				return err
			}
			a.cfg.Providers = providers
		}

		if cmd.Flags().Changed("prepare") {
			a.cfg.Runner.Prepare = runPrepare
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if a.cfg.Enabled(config.ProviderThirdweb) && a.cfg.Thirdweb.RouteURL == "" {
			shutdown, err := serveLocalRoute(ctx, a)
			if err != nil {
				return err
			}
			defer shutdown()
		}

		orchestrator, err := a.orchestrator()
		if err != nil {
			return err
		}

		a.prepare(ctx, orchestrator)

		run, err := orchestrator.Trigger(ctx)
		if err != nil {
			return fmt.Errorf("benchmark run failed: %w", err)
		}

		if runJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		output.NewRenderer().Render(cmd.OutOrStdout(), run)

		return nil
	},
}

// serveLocalRoute serves the thirdweb route on a loopback port. The returned
// function stops the server.
func serveLocalRoute(ctx context.Context, a *app) (func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for the thirdweb route: %w", err)
	}

	a.useLocalRoute(ln)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	srv := a.server(ln.Addr().String(), nil)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	return func() {
		cancel()
		if err := <-done; err != nil {
			a.log.WithError(err).Warn("Local thirdweb route stopped with error")
		}
	}, nil
}

func init() {
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Pick the providers to run")
	runCmd.Flags().BoolVar(&runPrepare, "prepare", true, "Warm up signers, accounts and clients before the run")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run as JSON")
	rootCmd.AddCommand(runCmd)
}
