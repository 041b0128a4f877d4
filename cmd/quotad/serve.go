package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldset/quotad/internal/api"
	"github.com/fieldset/quotad/internal/config"
	"github.com/fieldset/quotad/internal/db"
	"github.com/fieldset/quotad/internal/engine"
	"github.com/fieldset/quotad/internal/metrics"
	"github.com/fieldset/quotad/internal/repository"
	"github.com/fieldset/quotad/internal/vendor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quota API server",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/quotad/quotad.yaml", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Setup logger
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Open storage
	database, err := db.New(cfg.Storage.Path, cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	quotas := repository.NewQuotaRepository(database.DB)
	respondents := repository.NewRespondentRepository(database.DB)
	respondents.ReserveOnQualify = cfg.Admission.ReserveOnQualify
	apiKeys := repository.NewAPIKeyRepository(database.DB)

	var notifier vendor.Notifier
	if cfg.Vendor.Enabled {
		notifier = vendor.NewHTTPNotifier(cfg.Vendor, logger)
	}

	eng := engine.New(respondents, notifier, cfg, logger)

	// Metrics
	var (
		metricsServer *metrics.Server
		collector     *metrics.Collector
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		collector = metrics.NewCollector(m, quotas, 10*time.Second)
		collector.Start(ctx)

		metricsServer = metrics.NewServer(m, cfg.Metrics, logger)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	srv := api.NewServer(eng, quotas, respondents, apiKeys, &cfg.API, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down...", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", "error", err)
	}

	// Let in-flight vendor callbacks drain before stopping the rest.
	eng.Wait()

	if collector != nil {
		collector.Stop()
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}

	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
