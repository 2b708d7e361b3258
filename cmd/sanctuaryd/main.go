package main

import (
	"log/slog"
	"os"

	configloader "github.com/foxseedlab/sanctuary/external/config"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sanctuaryd",
		Short:        "Sanctuary session coordination engine",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildMigrateCmd())
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	slog.Info("startup: loading configuration")
	cfg, err := configloader.Load()
	if err != nil {
		return nil, err
	}
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "instance_id", cfg.InstanceID)
	return cfg, nil
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}
