package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	repositoryimpl "github.com/foxseedlab/sanctuary/external/repository"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/spf13/cobra"
)

const migrateTimeout = time.Minute

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.StoreDriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()

			pool, err := repositoryimpl.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repositoryimpl.RunMigration(ctx, pool); err != nil {
				return fmt.Errorf("run migration: %w", err)
			}
			slog.Info("migration applied")
			return nil
		},
	}
}
