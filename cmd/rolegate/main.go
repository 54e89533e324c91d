package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rolegate",
	Short: "RoleGate - role-aware token bucket admission control",
	Long: `RoleGate decides per caller identity and role whether a request may proceed.
Each identity gets its own token bucket sized by its role: bursts up to the
role's capacity are admitted immediately, then tokens refill continuously at
the role's rate.

Commands:
  serve       Protect a sample HTTP resource with the limiter
  simulate    Replay a request loop against the limiter with a simulated clock
  version     Print version information`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "config file")
}
