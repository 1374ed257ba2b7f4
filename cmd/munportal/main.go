package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"munportal/internal/app"
	"munportal/internal/config"
	"munportal/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "munportal",
	Short: "MUN conference registration and admin dashboard client",
	Long: `munportal talks to the conference backend: it serves the admin dashboard
views with cached, revalidating listings, manages the admin session and
walks delegate registrations through the multi-step form.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/munportal.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level from the config")
}

// buildApp loads the config and assembles the components for a command.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewWithWriter(os.Stderr, level)
	return app.NewBuilder(cfg, logger).Build(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
