package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/channels"
	"github.com/nextlevelbuilder/famledger/internal/channels/telegram"
	"github.com/nextlevelbuilder/famledger/internal/channels/webhook"
	"github.com/nextlevelbuilder/famledger/internal/config"
	"github.com/nextlevelbuilder/famledger/internal/deferred"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/store/memory"
	"github.com/nextlevelbuilder/famledger/internal/store/pg"
	"github.com/nextlevelbuilder/famledger/internal/tracing"
	"github.com/nextlevelbuilder/famledger/internal/upgrade"
	"github.com/nextlevelbuilder/famledger/pkg/protocol"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant: channels, dispatcher, deferred workers and HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	stores, ping, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if stores.Close != nil {
		defer stores.Close()
	}

	msgBus := bus.New()
	queue := deferred.New(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize).WithJobTimeout(cfg.Dispatch.JobTimeout.Std())

	d, err := buildDispatcher(cfg, stores, msgBus, queue)
	if err != nil {
		return err
	}

	mgr := channels.NewManager(msgBus)
	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, channels.NewSenderLimiter(cfg.Channels.Telegram.RateLimitRPM))
		if err != nil {
			return err
		}
		mgr.RegisterChannel(tg)
	}

	mux := http.NewServeMux()
	if cfg.Channels.Webhook.Enabled {
		if cfg.Gateway.Token == "" {
			slog.Warn("webhook channel enabled without FAMLEDGER_GATEWAY_TOKEN; requests are not authenticated")
		}
		wh := webhook.New(d, msgBus, cfg.Gateway.Token, cfg.Gateway.MaxBodyBytes, channels.NewSenderLimiter(cfg.Gateway.RateLimitRPM))
		wh.RegisterRoutes(mux)
		mgr.RegisterChannel(wh)
	}
	mux.HandleFunc("GET "+protocol.PathHealth, webhook.HealthHandler(mgr.GetStatus, ping))

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Start(gctx) })
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error {
		consumeInbound(gctx, msgBus, d, cfg.Dispatch.Workers)
		return nil
	})
	g.Go(func() error {
		slog.Info("http gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	slog.Info("famledger started", "version", Version, "mode", storageMode(cfg))
	err = g.Wait()
	slog.Info("famledger stopped")
	return err
}

func storageMode(cfg *config.Config) string {
	if cfg.IsManagedMode() {
		return "managed"
	}
	return "standalone"
}

// openStores returns in-memory stores in standalone mode, or Postgres stores
// after the schema gate in managed mode. ping is nil in standalone mode.
func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, func(context.Context) error, error) {
	if !cfg.IsManagedMode() {
		if cfg.Database.Mode == "managed" {
			slog.Warn("managed mode requested but FAMLEDGER_POSTGRES_DSN is not set; using in-memory stores")
		}
		slog.Info("storage: standalone (in-memory, data is lost on restart)")
		return memory.New(), nil, nil
	}

	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := checkSchemaOrAutoMigrate(ctx, db, cfg.Database.PostgresDSN); err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("storage: managed (postgres)")
	return pg.NewStores(db), db.PingContext, nil
}

// checkSchemaOrAutoMigrate refuses to start on an incompatible schema. An
// outdated schema is migrated in place when FAMLEDGER_AUTO_MIGRATE=true.
func checkSchemaOrAutoMigrate(ctx context.Context, db *sql.DB, dsn string) error {
	s, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	if s.Compatible {
		slog.Info("schema check passed", "current", s.CurrentVersion, "required", s.RequiredVersion)
		return nil
	}
	if s.Dirty || s.CurrentVersion > s.RequiredVersion || os.Getenv("FAMLEDGER_AUTO_MIGRATE") != "true" {
		return fmt.Errorf("%w\n%s", s.Err(), upgrade.FormatError(s))
	}

	slog.Info("auto-migrate: applying migrations", "from", s.CurrentVersion, "to", s.RequiredVersion)
	if err := upgrade.Up(ctx, db, dsn, resolveMigrationsDir()); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
