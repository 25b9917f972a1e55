package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sjawhar/interview-live/internal/config"
)

var (
	cfgFile  string
	verbose  bool
	cfg      config.Config
	warnings []string
)

var rootCmd = &cobra.Command{
	Use:   "interview-live",
	Short: "Capture, upload and live voice daemon for mock interviews",
	Long: `interview-live owns the host's microphone and camera during a mock
interview. It records answers, uploads them to durable storage and the
transcoding ingest, and streams the microphone to a live voice model whose
replies are played back in order.

Without a subcommand it runs the control API (same as 'interview-live serve').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, warnings, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		setupLogging(cfg.LogLevel, verbose)
		for _, w := range warnings {
			slog.Warn("config: " + w)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging (overrides log_level)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(micCheckCmd)
}

// setupLogging installs a text handler on stderr.
func setupLogging(level string, verbose bool) {
	var slogLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	if verbose {
		slogLevel = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
