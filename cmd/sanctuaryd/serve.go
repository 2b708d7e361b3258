package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/sanctuary/external/audio"
	classifierimpl "github.com/foxseedlab/sanctuary/external/classifier"
	"github.com/foxseedlab/sanctuary/external/discord"
	fanoutimpl "github.com/foxseedlab/sanctuary/external/fanout"
	"github.com/foxseedlab/sanctuary/external/httpserver"
	"github.com/foxseedlab/sanctuary/external/idempotency"
	mediaimpl "github.com/foxseedlab/sanctuary/external/media"
	"github.com/foxseedlab/sanctuary/external/notifier"
	"github.com/foxseedlab/sanctuary/external/redisclient"
	repositoryimpl "github.com/foxseedlab/sanctuary/external/repository"
	"github.com/foxseedlab/sanctuary/external/webhook"
	"github.com/foxseedlab/sanctuary/internal/config"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/safety"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/robfig/cron/v3"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	restoreTimeout    = 30 * time.Second
	housekeepSchedule = "@every 1s"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	redisclient.RegisterDI(injector)
	idempotency.RegisterDI(injector)
	fanout.RegisterDI(injector)
	fanoutimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	mediaimpl.RegisterDI(injector)
	classifierimpl.RegisterDI(injector)
	webhook.RegisterDI(injector)
	notifier.RegisterDI(injector)
	session.RegisterDI(injector)
	safety.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	return injector
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return fmt.Errorf("resolve session manager: %w", err)
	}
	server, err := do.Invoke[*httpserver.Server](injector)
	if err != nil {
		return fmt.Errorf("resolve http server: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	err = manager.Restore(rctx)
	cancel()
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc(housekeepSchedule, func() {
		manager.Tick(ctx)
		manager.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule housekeeping: %w", err)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	var relay *fanoutimpl.RedisRelay
	if cfg.RedisURL != "" {
		relay, err = do.Invoke[*fanoutimpl.RedisRelay](injector)
		if err != nil {
			return fmt.Errorf("resolve event relay: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, cfg.HTTPAddr)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}
	slog.Info("sanctuaryd ready", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "media", cfg.MediaTransport, "relay", cfg.RedisURL != "")

	err = g.Wait()
	slog.Info("shutting down")
	return err
}
