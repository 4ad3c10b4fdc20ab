package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/config"
	"github.com/shizukutanaka/logpulse/internal/logging"
)

const Version = "1.0.0"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "logpulse",
	Short: "Log ingestion and windowed analytics service",
	Long: `Logpulse ingests application, access, JSON and Android logs into a
normalized entry store, then scores fixed time windows for anomalies and
clusters error messages by similarity. It serves an HTTP API with a websocket
feed and a Prometheus metrics endpoint.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig resolves the effective configuration: the --config file when
// given, built-in defaults otherwise
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// newLogger builds the process logger from config, honoring --verbose
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	return logging.New(logCfg)
}
