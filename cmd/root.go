// Package cmd implements the command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "aa-benchmark",
		Short: "Sponsored transaction benchmark for smart wallet providers",
		Long: `aa-benchmark sends one sponsored no-op transaction through every enabled
provider (Gelato, Alchemy, ZeroDev UltraRelay, Pimlico and thirdweb) at the same
time and compares latency, gas and fees.

Configuration is read from the environment and an optional .env file. A YAML
file passed with --config overrides the retry policy, timeouts and providers.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML file with overrides")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
