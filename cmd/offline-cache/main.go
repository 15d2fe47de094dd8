package main

import (
	"fmt"
	"io"
	"os"

	"github.com/always-cache/offline-cache/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string

	// loaded in the root command's pre-run
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "offline-cache",
	Short: "Offline caching proxy",
	Long: `offline-cache sits in front of a website and keeps it usable when the
origin cannot be reached: static assets are served cache-first, pages
network-first with a fallback to the last stored copy or the offline page.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFilenameFlag)
		if err != nil {
			return err
		}
		if originFlag != "" {
			cfg.Origin = originFlag
		}
		if logFilenameFlag != "" {
			cfg.Log.File = logFilenameFlag
		}
		if verbosityTraceFlag {
			cfg.Log.Level = "trace"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return setupLogging(cfg.Log)
	},
}

func init() {
	if version == "" {
		version = "DEV"
	}
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configFilenameFlag, "config", config.DefaultFilename, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	rootCmd.PersistentFlags().StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging sets up log output to stdout,
// also to the log file if specified.
func setupLogging(logConfig config.LogConfig) error {
	logLevel, err := zerolog.ParseLevel(logConfig.Level)
	if err != nil {
		return err
	}
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logConfig.File != "" {
		logFileOutput, err := os.OpenFile(logConfig.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	return nil
}
