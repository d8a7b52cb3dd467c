package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"temperature-bench/internal/config"
	"temperature-bench/pkg/logging"
)

const (
	serviceName = "temperature-bench"
	// Version is overridden at build time with -ldflags
	Version = "1.0.0"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "bench",
	Short: "Aggregate city temperature files and benchmark parallel strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML configuration file (default: ./bench.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewAggregateCommand())
	rootCmd.AddCommand(NewVersionCommand())
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, component string) *logging.StructuredLogger {
	return logging.NewStructuredLogger(serviceName+"-"+component, Version, logging.ParseLevel(cfg.Logging.Level))
}
