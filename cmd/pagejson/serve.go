package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/user/pagejson-service/internal/api"
	"github.com/user/pagejson-service/internal/cache"
	"github.com/user/pagejson-service/internal/config"
	"github.com/user/pagejson-service/internal/crawler"
	"github.com/user/pagejson-service/internal/monitoring"
	"github.com/user/pagejson-service/internal/pipeline"
	"github.com/user/pagejson-service/internal/storage"
	"github.com/user/pagejson-service/pkg/logger"
	"go.uber.org/zap"
)

var flagConfig string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&flagConfig, "config", "config.yaml", "Path to the YAML config file (optional)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	// --- Configuration ---
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	// --- Logger ---
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Invalid middleware options must stop startup, not fail per request.
	opts, err := cfg.Options()
	if err != nil {
		log.Error("invalid middleware configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Metrics ---
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	// --- Storage (optional) ---
	deps := api.Deps{Metrics: metrics, Logger: log.Named("api")}
	rc := storage.RecorderConfig{
		FailureTTL:  cfg.Storage.FailureTTL,
		Concurrency: cfg.Storage.RecorderConcurrency,
		Metrics:     metrics,
		Logger:      log.Named("recorder"),
	}
	if cfg.Storage.PostgresURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating postgres: %w", err)
		}
		rc.History = pg
		deps.History = pg
		log.Info("extraction history enabled")
	}
	if cfg.Storage.RedisAddr != "" {
		rs := storage.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			log.Warn("redis not reachable yet", zap.String("addr", cfg.Storage.RedisAddr), zap.Error(err))
		}
		rc.Failures = rs
		deps.Failures = rs
		log.Info("failure tracking enabled")
	}
	recorder := storage.NewRecorder(rc)
	defer recorder.Close()

	// --- Pipeline ---
	p := pipeline.New(opts, cache.New(), crawler.NewHTTPFetcher(nil, log.Named("fetcher"), crawler.WithMaxBodyBytes(cfg.Fetch.MaxBodyBytes)),
		pipeline.WithRecorder(recorder),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(log.Named("pipeline")),
	)
	go p.RunMaintenance(ctx, cfg.Maintenance.SweepInterval)

	// --- HTTP server ---
	server := api.NewServer(cfg, p, deps)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("server started",
		zap.String("port", cfg.Server.Port),
		zap.String("origin", cfg.Server.Origin),
		zap.String("api_prefix", opts.APIPrefix),
		zap.Bool("cache", opts.EnableCache))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("server exiting")
	return nil
}
