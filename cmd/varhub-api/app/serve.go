package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/varhub-io/varhub/internal/api"
	"github.com/varhub-io/varhub/internal/config"
	"github.com/varhub-io/varhub/internal/normalize"
	"github.com/varhub-io/varhub/internal/scheduler"
	"github.com/varhub-io/varhub/internal/sources"
	"github.com/varhub-io/varhub/internal/status"
	"github.com/varhub-io/varhub/internal/store"
	"github.com/varhub-io/varhub/internal/telemetry"
	"github.com/varhub-io/varhub/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the variant hub API server",
	Long: `Start the variant hub API server.

The server requires a configuration file (--config) that specifies:
- The upstream sources, their formats, normalization profiles and priorities
- Refresh policies (interval or cron schedule) per source
- Scheduler limits and status persistence settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // must exceed serverRequestTimeout so the middleware answers first
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

// newStatusPersistence picks the configured status backend
func newStatusPersistence(cfg *config.Config) (status.Persistence, error) {
	switch cfg.GetStatusBackend() {
	case config.StatusBackendSQLite:
		return status.NewSQLitePersistence(cfg.GetStatusPath())
	default:
		return status.NewFilePersistence(cfg.GetStatusPath()), nil
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"server", cfg.GetServerName(),
		"sources", len(cfg.Sources))

	if err := os.MkdirAll(cfg.GetDataDir(), 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	registry, err := sources.NewRegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build source registry: %w", err)
	}

	persistence, err := newStatusPersistence(cfg)
	if err != nil {
		return fmt.Errorf("failed to create status persistence: %w", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			slog.Error("Failed to close status persistence", "error", err)
		}
	}()

	tracker, err := status.NewTracker(ctx, persistence)
	if err != nil {
		return fmt.Errorf("failed to create status tracker: %w", err)
	}

	entityStore := store.New()
	metrics := telemetry.NewMetrics()

	sched := scheduler.New(
		registry,
		sources.NewAdapterFactory(nil),
		normalize.New(),
		entityStore,
		tracker,
		cfg.GetSchedulerSettings(),
		scheduler.WithMetrics(metrics),
	)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go func() {
		if err := sched.Start(schedCtx); err != nil {
			slog.Error("Scheduler failed", "error", err)
		}
	}()

	router := api.NewServer(entityStore, registry, tracker, sched,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			metrics.HTTPMiddleware,
			api.LoggingMiddleware,
		),
		api.WithMetricsHandler(metrics.Handler()),
		api.WithVersion(versions.GetVersionInfo().Version),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	if err := sched.Stop(); err != nil {
		slog.Error("Failed to stop scheduler", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
