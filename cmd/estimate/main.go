// Command estimate runs one assessment from files on disk and writes the loss
// table, workbook, chart and map to an output directory.
//
// Usage:
//
//	go run ./cmd/estimate \
//	  -buildings data/buildings.zip \
//	  -units data/units.zip \
//	  -prices data/unit_prices.csv \
//	  -ratios data/loss_ratios.csv \
//	  -rho-b 2.68 -rho-eb 1.58 \
//	  -out out/
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/quake-loss-estimator/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-loss-estimator/internal/config"
	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
	"github.com/couchcryptid/quake-loss-estimator/internal/render"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "estimate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	buildings := flag.String("buildings", "", "zipped building inventory shapefile")
	units := flag.String("units", "", "zipped assessment unit shapefile")
	prices := flag.String("prices", "", "unit price table (CSV)")
	ratios := flag.String("ratios", "", "loss ratio table (CSV)")
	rhoB := flag.Float64("rho-b", 0, "building loss expansion coefficient (default from config)")
	rhoEB := flag.Float64("rho-eb", 0, "direct loss coefficient (default from config)")
	tiandituKey := flag.String("tianditu-key", "", "Tianditu tile key for the map")
	outDir := flag.String("out", ".", "output directory")
	flag.Parse()

	if *buildings == "" || *units == "" || *prices == "" || *ratios == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -buildings, -units, -prices, -ratios")
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())

	coeffs := cfg.DefaultCoefficients
	if *rhoB != 0 {
		coeffs.RhoB = *rhoB
	}
	if *rhoEB != 0 {
		coeffs.RhoEB = *rhoEB
	}
	if coeffs.RhoB < config.MinRhoB || coeffs.RhoB > config.MaxRhoB {
		return fmt.Errorf("-rho-b must be within [%g, %g]", config.MinRhoB, config.MaxRhoB)
	}
	if coeffs.RhoEB < config.MinRhoEB || coeffs.RhoEB > config.MaxRhoEB {
		return fmt.Errorf("-rho-eb must be within [%g, %g]", config.MinRhoEB, config.MaxRhoEB)
	}

	in := pipeline.Inputs{Coefficients: coeffs, TiandituKey: *tiandituKey}
	for _, f := range []struct {
		path   string
		upload *pipeline.Upload
	}{
		{*buildings, &in.Buildings},
		{*units, &in.Units},
		{*prices, &in.Prices},
		{*ratios, &in.Ratios},
	} {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return err
		}
		*f.upload = pipeline.Upload{Name: filepath.Base(f.path), Data: data}
	}

	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		geocoder = mapbox.NewCachedGeocoder(
			mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger),
			cfg.MapboxCacheSize, metrics)
	}

	p := pipeline.New(pipeline.Options{
		WorkDir:          cfg.WorkDir,
		Schema:           cfg.Schema,
		MarkerSampleSize: cfg.MarkerSampleSize,
		TiandituKey:      cfg.TiandituKey,
		MapboxToken:      cfg.MapboxToken,
		ChartFontPath:    cfg.ChartFontPath,
	}, geocoder, nil, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := p.Run(ctx, in)
	if err != nil {
		return err
	}
	if err := writeOutputs(*outDir, a, cfg.Schema, logger); err != nil {
		return err
	}

	for _, w := range a.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Printf("建筑物总损失（万元）: %.2f\n", a.Summary.TotalLoss)
	fmt.Printf("直接经济损失（万元）: %.2f\n", a.Summary.DirectLoss)
	return nil
}

func writeOutputs(dir string, a *pipeline.Assessment, s domain.Schema, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	csv, err := render.LossCSV(a.Summary.Units, s)
	if err != nil {
		return err
	}
	var xlsx bytes.Buffer
	if err := render.WriteLossXLSX(&xlsx, a.Workbook(), s); err != nil {
		return err
	}

	files := map[string][]byte{
		"loss.csv":  csv,
		"loss.xlsx": xlsx.Bytes(),
		"chart.png": a.Chart,
		"map.html":  a.Map,
	}
	for name, data := range files {
		if len(data) == 0 {
			logger.Warn("output skipped", "file", name)
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		logger.Info("output written", "file", path, "bytes", len(data))
	}
	if a.ChartError != "" {
		logger.Warn("chart not rendered", "error", a.ChartError)
	}
	if a.MapError != "" {
		logger.Warn("map not rendered", "error", a.MapError)
	}
	return nil
}
