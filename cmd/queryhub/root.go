package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/queryhub-go/internal/config"
	"github.com/comigor/queryhub-go/internal/logger"
)

var version = "dev"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "queryhub",
		Short:         "Ask questions about a CSV file in plain English",
		Long:          "queryhub turns a question into a single validated SELECT statement, runs it against the loaded dataset and keeps an audit history of every attempt.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv("CONFIG_PATH", configPath)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file (defaults to ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	load := func(logTo io.Writer) (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger.Configure(logTo, cfg.Log.Level, cfg.Log.Format)
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newAskCmd(load),
		newMCPCmd(load),
		newHistoryCmd(load),
	)
	return rootCmd
}

// configLoader loads configuration and points the logger at w.
type configLoader func(w io.Writer) (*config.Config, error)
