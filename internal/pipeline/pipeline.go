package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/ingest"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
	"github.com/couchcryptid/quake-loss-estimator/internal/render"
)

// Publisher sends a completed assessment downstream.
type Publisher interface {
	Publish(ctx context.Context, a *Assessment) error
}

// Options configure every run of a Pipeline.
type Options struct {
	WorkDir          string
	Schema           domain.Schema
	MarkerSampleSize int
	TiandituKey      string
	MapboxToken      string
	ChartFontPath    string
}

// Pipeline runs assessments: lookup → ingest → compute → enrich → chart →
// map → publish. Only the first three stages can fail a run.
type Pipeline struct {
	opts      Options
	geocoder  domain.Geocoder
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline. A nil geocoder disables place-name enrichment and
// a nil publisher disables result publishing.
func New(opts Options, geocoder domain.Geocoder, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		opts:      opts,
		geocoder:  geocoder,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Schema returns the column names the pipeline reads and writes.
func (p *Pipeline) Schema() domain.Schema { return p.opts.Schema }

// CheckReadiness returns nil if the work directory can hold run files.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return fmt.Errorf("work dir unavailable: %w", err)
	}
	f, err := os.CreateTemp(p.opts.WorkDir, ".ready-*")
	if err != nil {
		return fmt.Errorf("work dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Run executes one assessment. Errors are *StageError values; chart, map
// and publish failures are recorded on the Assessment instead.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Assessment, error) {
	start := time.Now()
	id := uuid.New()
	a := &Assessment{RunInfo: domain.RunInfo{ID: id.String(), CreatedAt: domain.Now()}}
	logger := p.logger.With("run_id", a.ID)
	logger.Info("run started", "rho_b", in.Coefficients.RhoB, "rho_eb", in.Coefficients.RhoEB)

	if err := p.run(ctx, a, in, binary.BigEndian.Uint64(id[:8]), logger); err != nil {
		stage := StageOf(err)
		p.metrics.RunsTotal.WithLabelValues(string(stage)).Inc()
		logger.Warn("run failed", "stage", stage, "error", err)
		return nil, err
	}

	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	logger.Info("run completed",
		"units", len(a.Summary.Units),
		"buildings", a.Summary.Stats.Joined,
		"dropped", a.Summary.Stats.Dropped(),
		"total_loss", a.Summary.TotalLoss,
		"direct_loss", a.Summary.DirectLoss,
		"duration", time.Since(start),
	)
	return a, nil
}

func (p *Pipeline) run(ctx context.Context, a *Assessment, in Inputs, seed uint64, logger *slog.Logger) error {
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return &StageError{Stage: StageLookup, Err: fmt.Errorf("create work dir: %w", err)}
	}
	dir, err := os.MkdirTemp(p.opts.WorkDir, "run-"+a.ID[:8]+"-*")
	if err != nil {
		return &StageError{Stage: StageLookup, Err: fmt.Errorf("create run dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("remove run dir failed", "dir", dir, "error", err)
		}
	}()

	var buildingsShp, unitsShp string
	err = p.stage(StageLookup, func() error {
		var err error
		if buildingsShp, err = locateShapefile(in.Buildings, filepath.Join(dir, "buildings")); err != nil {
			return err
		}
		unitsShp, err = locateShapefile(in.Units, filepath.Join(dir, "units"))
		return err
	})
	if err != nil {
		return err
	}

	var (
		buildings []domain.Building
		units     []domain.Unit
		prices    domain.PriceTable
		ratios    domain.RatioTable
	)
	err = p.stage(StageIngest, func() error {
		var err error
		buildings, units, prices, ratios, err = p.ingest(a, in, buildingsShp, unitsShp)
		return err
	})
	if err != nil {
		return err
	}
	if a.UnitColumn != p.opts.Schema.UnitCode {
		logger.Info("units layer uses alternate code column", "column", a.UnitColumn)
	}

	err = p.stage(StageCompute, func() error {
		summary, err := domain.Aggregate(buildings, prices, ratios, in.Coefficients)
		p.recordJoin(summary.Stats)
		if err != nil {
			return err
		}
		a.Summary = summary
		return nil
	})
	if err != nil {
		return err
	}
	if n := a.Summary.Stats.Dropped(); n > 0 {
		logger.Warn("buildings excluded from aggregation",
			"dropped", n,
			"missing_price", a.Summary.Stats.MissingPrice,
			"missing_ratio", a.Summary.Stats.MissingRatio,
			"invalid_area", a.Summary.Stats.InvalidArea,
		)
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"%d 栋建筑未参与计算（缺少单价 %d，缺少损失比 %d，面积无效 %d）",
			n, a.Summary.Stats.MissingPrice, a.Summary.Stats.MissingRatio, a.Summary.Stats.InvalidArea))
	}

	a.Classifier = domain.NewClassifierFromSummary(a.Summary)
	a.Units = domain.MapUnits(units, a.Summary, a.Classifier)
	a.Units = domain.EnrichWithGeocoding(ctx, a.Units, p.geocoder, logger)

	p.renderChart(a, logger)
	p.renderMap(a, in, seed, logger)
	p.publish(ctx, a, logger)
	return nil
}

// stage runs fn, timing it and tagging any error with the stage.
func (p *Pipeline) stage(s Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())
	if err != nil {
		return &StageError{Stage: s, Err: err}
	}
	return nil
}

func locateShapefile(u Upload, dir string) (string, error) {
	if len(u.Data) == 0 {
		return "", fmt.Errorf("%s: empty upload", u.Name)
	}
	if err := ingest.ExtractArchive(u.Data, dir); err != nil {
		return "", fmt.Errorf("%s: %w", u.Name, err)
	}
	path, err := ingest.FindShapefile(dir)
	if err != nil {
		return "", fmt.Errorf("%w in %s", err, u.Name)
	}
	return path, nil
}

func (p *Pipeline) ingest(a *Assessment, in Inputs, buildingsShp, unitsShp string) (
	[]domain.Building, []domain.Unit, domain.PriceTable, domain.RatioTable, error,
) {
	s := p.opts.Schema

	buildings, blayer, err := ingest.ReadBuildings(buildingsShp, s)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%s: %w", in.Buildings.Name, err)
	}
	units, usedAlt, ulayer, err := ingest.ReadUnits(unitsShp, s)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%s: %w", in.Units.Name, err)
	}
	prices, ptable, err := ingest.ReadPriceTable(bytes.NewReader(in.Prices.Data), s)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%s: %w", in.Prices.Name, err)
	}
	ratios, rtable, err := ingest.ReadRatioTable(bytes.NewReader(in.Ratios.Data), s)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%s: %w", in.Ratios.Name, err)
	}

	a.UnitColumn = s.UnitCode
	if usedAlt {
		a.UnitColumn = s.UnitCodeAlt
	}
	a.Previews = Previews{
		Buildings: blayer.Preview(ingest.PreviewRows),
		Units:     ulayer.Preview(ingest.PreviewRows),
		Prices:    ptable.Head(ingest.PreviewRows),
		Ratios:    rtable.Head(ingest.PreviewRows),
	}
	return buildings, units, prices, ratios, nil
}

func (p *Pipeline) recordJoin(s domain.JoinStats) {
	p.metrics.BuildingsAssessed.Add(float64(s.Joined))
	p.metrics.BuildingsDropped.WithLabelValues("missing_price").Add(float64(s.MissingPrice))
	p.metrics.BuildingsDropped.WithLabelValues("missing_ratio").Add(float64(s.MissingRatio))
	p.metrics.BuildingsDropped.WithLabelValues("invalid_area").Add(float64(s.InvalidArea))
}

func (p *Pipeline) renderChart(a *Assessment, logger *slog.Logger) {
	chart, err := render.LossChart(a.Summary.Units, render.ChartOptions{FontPath: p.opts.ChartFontPath})
	if err != nil {
		p.metrics.ArtifactErrors.WithLabelValues("chart").Inc()
		logger.Warn("chart rendering failed", "error", err)
		a.ChartError = err.Error()
		return
	}
	a.Chart = chart
}

func (p *Pipeline) renderMap(a *Assessment, in Inputs, seed uint64, logger *slog.Logger) {
	key := p.opts.TiandituKey
	if in.TiandituKey != "" {
		key = in.TiandituKey
	}
	res, err := render.RenderMap(a.Units, a.Summary.Buildings, render.MapOptions{
		TiandituKey: key,
		MapboxToken: p.opts.MapboxToken,
		MarkerLimit: p.opts.MarkerSampleSize,
		Seed:        seed,
		Schema:      p.opts.Schema,
	})
	if err != nil {
		p.metrics.ArtifactErrors.WithLabelValues("map").Inc()
		logger.Warn("map rendering failed", "error", err)
		a.MapError = err.Error()
		return
	}
	a.Map = res.HTML
	a.MapMarkers = res.Markers
	a.Warnings = append(a.Warnings, res.Warnings...)
}

func (p *Pipeline) publish(ctx context.Context, a *Assessment, logger *slog.Logger) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, a); err != nil {
		p.metrics.PublishErrors.Inc()
		logger.Error("publish results failed", "error", err)
		return
	}
	p.metrics.MessagesPublished.Add(float64(len(a.Summary.Units) + 1))
}
