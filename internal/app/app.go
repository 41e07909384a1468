package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zattra/wablast/internal/api"
	"github.com/zattra/wablast/internal/config"
	"github.com/zattra/wablast/internal/dispatch"
	"github.com/zattra/wablast/internal/gateway"
	"github.com/zattra/wablast/internal/history"
	"github.com/zattra/wablast/internal/metrics"
	"github.com/zattra/wablast/internal/pacing"
)

// App is the main application
type App struct {
	config        *config.Config
	journal       *history.Store
	manager       *dispatch.Manager
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Create outcome journal
	journal, err := history.NewStore(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome journal: %w", err)
	}

	// Register metrics
	m := metrics.New()
	metrics.SetGlobal(m)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger.With("component", "metrics"))
	}

	// Create gateway client
	gw := gateway.NewClient(&cfg.Gateway, logger.With("component", "gateway"))
	if cfg.Gateway.DryRun {
		logger.Info("gateway dry-run enabled, messages will be logged instead of sent")
	}

	// Create dispatcher and campaign manager
	dispatcher := dispatch.NewDispatcher(gw, journal, dispatch.Options{
		Pacing: pacing.Config{
			DelayBetween:        cfg.Pacing.DelayBetween,
			Jitter:              cfg.Pacing.Jitter,
			MessagesBeforeBreak: cfg.Pacing.MessagesBeforeBreak,
			BreakDuration:       cfg.Pacing.BreakDuration,
		},
		DefaultCountryCode: cfg.Phone.DefaultCountryCode,
		RetryWaitMargin:    cfg.Pacing.RetryWaitMargin,
		HostedPrefix:       cfg.Gateway.MediaPrefix,
		FetchClient:        &http.Client{Timeout: cfg.Gateway.Timeout},
	}, logger.With("component", "dispatcher"))

	manager := dispatch.NewManager(dispatcher, logger.With("component", "manager"))

	// Create API server
	apiServer := api.NewServer(manager, journal, &cfg.API, logger.With("component", "api"))

	return &App{
		config:        cfg,
		journal:       journal,
		manager:       manager,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting wablast",
		"api_addr", a.config.API.ListenAddr,
		"gateway", a.config.Gateway.BaseURL,
		"dry_run", a.config.Gateway.DryRun,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server if enabled
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Start journal cleanup loop
	go a.cleanupLoop(ctx)

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting new requests first
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Cancel any in-flight campaign and wait for it to record a
	// terminal state before closing the journal.
	a.manager.Shutdown()

	if err := a.journal.Close(); err != nil {
		a.logger.Error("journal close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// cleanupLoop periodically prunes old campaigns from the journal.
func (a *App) cleanupLoop(ctx context.Context) {
	if a.config.History.MaxAge == 0 {
		return
	}

	ticker := time.NewTicker(a.config.History.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.journal.Cleanup(a.config.History.MaxAge)
			if err != nil {
				a.logger.Error("journal cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("journal cleanup removed old campaigns", "count", n)
			}
		}
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
