package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/stratforge/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stratforge",
	Short: "Client for the strategy-script generation service",
	Long: `stratforge talks to a strategy-script generation service: it submits
prompts, streams agent activity while the service works, stores the
generated scripts, and feeds quality feedback back to the service.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		filepath.Join(os.Getenv("HOME"), ".stratforge", "config.json"),
		"config file path")
}

// loadConfig loads the config file or exits. Commands call this instead
// of threading the config through cobra.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
