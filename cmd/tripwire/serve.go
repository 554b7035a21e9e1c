package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/tripwire/internal/api"
	"github.com/opensource-finance/tripwire/internal/bus"
	"github.com/opensource-finance/tripwire/internal/cache"
	"github.com/opensource-finance/tripwire/internal/config"
	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
	"github.com/opensource-finance/tripwire/internal/history"
	"github.com/opensource-finance/tripwire/internal/report"
	"github.com/opensource-finance/tripwire/internal/repository"
	"github.com/opensource-finance/tripwire/internal/rules"
	"github.com/opensource-finance/tripwire/internal/worker"
)

func newServeCmd() *cobra.Command {
	var (
		runWorker bool
		tenants   string
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("worker") && os.Getenv(config.EnvPrefix+"ASYNC_WORKER") == "false" {
				runWorker = false
			}
			if tenants == "" {
				tenants = os.Getenv(config.EnvPrefix + "TENANTS")
			}
			return runServe(cmd.Context(), runWorker, splitList(tenants), watch)
		},
	}
	cmd.Flags().BoolVar(&runWorker, "worker", true, "Consume async scan requests in this process")
	cmd.Flags().StringVar(&tenants, "tenants", "", "Comma-separated tenants the worker serves (default all)")
	cmd.Flags().BoolVar(&watch, "watch", true, "Hot-reload the config file on change")
	return cmd
}

func runServe(parent context.Context, runWorker bool, tenants []string, watch bool) error {
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	setupLogger(os.Stdout, cfg.Logging.Format, cfg.Logging.Level)

	slog.Info("starting tripwire",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"config_path", configPath,
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	distances := geo.New(cfg.Geo, cacheImpl)
	engine, err := rules.NewEngine(distances, cfg.Engine, cfg.Detection)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()
	if err := engine.Register(rules.Builtin()...); err != nil {
		return fmt.Errorf("failed to register builtin rules: %w", err)
	}
	if n, err := api.LoadRules(ctx, repo, engine); err != nil {
		// Start with builtin rules only; expression rules can be fixed and reloaded via API.
		slog.Warn("failed to load expression rules", "error", err)
	} else {
		slog.Info("expression rules loaded", "count", n)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	pipeline := worker.NewPipeline(engine, history.NewService(repo, cfg.Engine.LookbackDays), report.NewProcessor(), repo)

	loader.OnChange(func(next *domain.Config) {
		logLevel.Set(config.LogLevel(next.Logging.Level))
		engine.SetDetectionConfig(next.Detection)
		distances.Reload(next.Geo)
		slog.Info("detection config reloaded",
			"time_zone", next.Detection.TimeZone,
			"distances", len(next.Geo.Distances),
		)
	})
	if watch && configPath != "" {
		stopWatch, err := loader.Watch()
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	var asyncWorker *worker.Worker
	if runWorker {
		asyncWorker = worker.NewWorker(busImpl, pipeline)
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, pipeline, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("tripwire is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"worker", asyncWorker != nil,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("tripwire shutdown complete")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
