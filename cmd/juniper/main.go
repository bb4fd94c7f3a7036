package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juniper-run/juniper/pkg/log"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "juniper",
	Short: "Run code snippets on remote, ephemeral Jupyter kernels",
	Long: `Juniper executes code snippets against a remote Jupyter kernel,
provisioning one on demand through a Binder-style build service,
reusing a cached session when one is still alive, or connecting to a
kernel service you point it at.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Init(log.Config{
			Level:  log.Level(logLevel),
			Format: logFormat,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", string(log.LevelInfo),
		"Log verbosity (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console",
		"Log format (console, json)")
}

func main() {
	defer func() {
		_ = log.Sync()
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
