// Command quakeloss serves the earthquake direct-economic-loss assessment web
// interface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/quake-loss-estimator/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-loss-estimator/internal/adapter/kafka"
	"github.com/couchcryptid/quake-loss-estimator/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-loss-estimator/internal/config"
	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
	"github.com/couchcryptid/quake-loss-estimator/internal/store"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	// Result publishing is optional; runs still complete without a broker.
	var publisher pipeline.Publisher
	var kafkaPublisher *kafkaadapter.Publisher
	if cfg.PublishEnabled() {
		kafkaPublisher = kafkaadapter.NewPublisher(cfg, logger)
		publisher = kafkaPublisher
		logger.Info("result publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	p := pipeline.New(pipeline.Options{
		WorkDir:          cfg.WorkDir,
		Schema:           cfg.Schema,
		MarkerSampleSize: cfg.MarkerSampleSize,
		TiandituKey:      cfg.TiandituKey,
		MapboxToken:      cfg.MapboxToken,
		ChartFontPath:    cfg.ChartFontPath,
	}, geocoder, publisher, logger, metrics)

	runs := store.New(cfg.RunCacheSize, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Options{
		MaxUploadBytes:      cfg.MaxUploadBytes,
		DefaultCoefficients: cfg.DefaultCoefficients,
		Schema:              cfg.Schema,
	}, p, runs, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
