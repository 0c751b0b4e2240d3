// Package main implements the franka command: the goal tracking service and
// a small client for its HTTP API.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-franka/internal/config"
)

var (
	// serverURL is the base URL of a running franka serve
	serverURL string
	// configPath is the YAML config file; empty means defaults and env only
	configPath string
	// logLevel overrides log.level from the config
	logLevel string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "franka",
	Short: "Compliant Cartesian goal tracking for a Franka arm",
	Long: `franka drives a Cartesian impedance controller towards goal poses over NATS.

"franka serve" runs the service. The other commands talk to its HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", config.APIURL("http://localhost:8080"), "franka API URL (env FRANKA_API)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(homeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(monitorCmd)
}
