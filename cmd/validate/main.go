// Command validate runs end-to-end integrity checks over a generated dataset:
// the loss table export round-trips exactly, the full pipeline agrees with a
// direct aggregation for every input encoding, the expansion coefficients
// scale totals exactly, and map classification and marker sampling hold
// their bounds.
//
// Usage:
//
//	go run ./cmd/validate -seed 20080512 -buildings 2000
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/fixture"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
	"github.com/couchcryptid/quake-loss-estimator/internal/render"
)

var defaultCoefficients = domain.Coefficients{RhoB: 2.68, RhoEB: 1.58}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	seed := flag.Uint64("seed", fixture.DefaultOptions().Seed, "dataset random seed")
	buildings := flag.Int("buildings", 2000, "number of generated buildings")
	unpriced := flag.Int("unpriced", 25, "buildings with a type missing from the price table")
	flag.Parse()

	if *buildings <= render.MaxMarkers {
		fmt.Fprintf(os.Stderr, "-buildings must exceed %d to exercise marker sampling\n", render.MaxMarkers)
		os.Exit(1)
	}

	if code := run(*seed, *buildings, *unpriced); code != 0 {
		os.Exit(code)
	}
}

func run(seed uint64, buildings, unpriced int) int {
	// Fixed clock so run timestamps are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2008, time.May, 12, 14, 28, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== Loss Assessment Integrity Validation ===")
	fmt.Println()

	opts := fixture.DefaultOptions()
	opts.Seed, opts.Buildings, opts.Unpriced = seed, buildings, unpriced
	opts.Cols, opts.Rows = 5, 4
	d := fixture.Generate(opts)

	want, err := domain.Aggregate(d.Buildings, d.Prices, d.Ratios, defaultCoefficients)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: aggregate generated dataset: %v\n", err)
		return 1
	}

	workDir, err := os.MkdirTemp("", "quakeloss-validate-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: create work dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(workDir)

	phases := []*phase{
		validateRoundTrip(want),
		validatePipeline(d, want, workDir),
		validateScaling(d),
		validateClassification(want),
		validateMarkerCap(d, want),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Dataset: %d buildings (%d joined), %d units, total %.2f, direct %.2f\n",
		want.Stats.Input, want.Stats.Joined, len(d.Units), want.TotalLoss, want.DirectLoss)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// validateRoundTrip checks that the exported loss table parses back to the
// exact same values, including extreme magnitudes.
func validateRoundTrip(summary domain.LossSummary) *phase {
	p := &phase{name: "Loss table round-trip"}
	s := domain.DefaultSchema()

	tables := [][]domain.UnitLoss{
		summary.Units,
		{
			{Code: "tiny", Loss: math.SmallestNonzeroFloat64},
			{Code: "huge", Loss: math.MaxFloat64},
			{Code: "third", Loss: 1.0 / 3},
			{Code: "zero", Loss: 0},
			{Code: "逗号,引号\"", Loss: 0.1 + 0.2},
		},
	}
	for i, units := range tables {
		data, err := render.LossCSV(units, s)
		if err != nil {
			p.errorf("table %d: export: %v", i, err)
			continue
		}
		got, err := render.ParseLossCSV(strings.NewReader(string(data)), s)
		if err != nil {
			p.errorf("table %d: parse: %v", i, err)
			continue
		}
		if !slices.Equal(got, units) {
			p.errorf("table %d: round-trip mismatch: got %v, want %v", i, got, units)
		}
	}
	return p
}

// validatePipeline runs the full pipeline over the serialized dataset in
// every supported encoding and compares against direct aggregation.
func validatePipeline(d *fixture.Dataset, want domain.LossSummary, workDir string) *phase {
	p := &phase{name: "Pipeline matches direct aggregation"}
	s := domain.DefaultSchema()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	variants := []struct {
		name string
		opts fixture.WriteOptions
	}{
		{"utf8", fixture.WriteOptions{Schema: s}},
		{"gbk with cpg", fixture.WriteOptions{Schema: s, Encoding: fixture.GBK}},
		{"gbk detected", fixture.WriteOptions{Schema: s, Encoding: fixture.GBK, OmitCPG: true}},
		{"alternate unit column", fixture.WriteOptions{Schema: s, UnitCodeColumn: s.UnitCodeAlt}},
	}

	pl := pipeline.New(pipeline.Options{
		WorkDir:          workDir,
		Schema:           s,
		MarkerSampleSize: render.MaxMarkers,
	}, nil, nil, logger, observability.NewMetricsWithRegistry(prometheus.NewRegistry()))

	for _, v := range variants {
		files, err := d.Serialize(v.opts)
		if err != nil {
			p.errorf("%s: serialize: %v", v.name, err)
			continue
		}
		a, err := pl.Run(context.Background(), pipeline.Inputs{
			Buildings:    pipeline.Upload{Name: "buildings.zip", Data: files.BuildingsZip},
			Units:        pipeline.Upload{Name: "units.zip", Data: files.UnitsZip},
			Prices:       pipeline.Upload{Name: "unit_prices.csv", Data: files.PriceCSV},
			Ratios:       pipeline.Upload{Name: "loss_ratios.csv", Data: files.RatioCSV},
			Coefficients: defaultCoefficients,
		})
		if err != nil {
			p.errorf("%s: run: %v", v.name, err)
			continue
		}

		if !slices.Equal(a.Summary.Units, want.Units) {
			p.errorf("%s: per-unit losses differ from direct aggregation", v.name)
		}
		if a.Summary.TotalLoss != want.TotalLoss || a.Summary.DirectLoss != want.DirectLoss {
			p.errorf("%s: totals %g/%g, want %g/%g", v.name,
				a.Summary.TotalLoss, a.Summary.DirectLoss, want.TotalLoss, want.DirectLoss)
		}
		if a.Summary.Stats != want.Stats {
			p.errorf("%s: join stats %+v, want %+v", v.name, a.Summary.Stats, want.Stats)
		}
		if len(a.Units) != len(d.Units) {
			p.errorf("%s: %d mapped units, want %d", v.name, len(a.Units), len(d.Units))
		}
		if a.MapError != "" {
			p.errorf("%s: map: %s", v.name, a.MapError)
		}
	}

	if entries, err := os.ReadDir(workDir); err == nil && len(entries) > 0 {
		p.errorf("work dir holds %d leftover entries", len(entries))
	}
	return p
}

// validateScaling checks total = Σ·ρb and direct = total·ρeb exactly over a
// grid of coefficients spanning the accepted ranges.
func validateScaling(d *fixture.Dataset) *phase {
	p := &phase{name: "Coefficient scaling"}

	for _, rhoB := range []float64{1, 1.5, 2.68, 3.333, 5} {
		for _, rhoEB := range []float64{1, 1.58, 2.25, 3} {
			c := domain.Coefficients{RhoB: rhoB, RhoEB: rhoEB}
			s, err := domain.Aggregate(d.Buildings, d.Prices, d.Ratios, c)
			if err != nil {
				p.errorf("%+v: %v", c, err)
				continue
			}
			var sum float64
			for _, u := range s.Units {
				sum += u.Loss
			}
			if s.TotalLoss != sum*rhoB {
				p.errorf("%+v: total %g != %g × %g", c, s.TotalLoss, sum, rhoB)
			}
			if s.DirectLoss != s.TotalLoss*rhoEB {
				p.errorf("%+v: direct %g != %g × %g", c, s.DirectLoss, s.TotalLoss, rhoEB)
			}
		}
	}
	return p
}

// validateClassification checks the quartile thresholds and that bucket
// order follows loss order.
func validateClassification(summary domain.LossSummary) *phase {
	p := &phase{name: "Choropleth classification"}
	cls := domain.NewClassifierFromSummary(summary)

	if !(cls.Q25 <= cls.Q50 && cls.Q50 <= cls.Q75) {
		p.errorf("thresholds out of order: %+v", cls)
	}
	if b := cls.Classify(0); b != domain.BucketNoLoss {
		p.errorf("zero loss classified as %s", b)
	}

	units := slices.Clone(summary.Units)
	slices.SortFunc(units, func(a, b domain.UnitLoss) int {
		switch {
		case a.Loss < b.Loss:
			return -1
		case a.Loss > b.Loss:
			return 1
		}
		return 0
	})
	for i := 1; i < len(units); i++ {
		prev, cur := cls.Classify(units[i-1].Loss), cls.Classify(units[i].Loss)
		if cur < prev {
			p.errorf("%s (%g) is %s but %s (%g) is %s",
				units[i].Code, units[i].Loss, cur, units[i-1].Code, units[i-1].Loss, prev)
		}
	}
	return p
}

// validateMarkerCap checks the building layer never exceeds the marker cap.
func validateMarkerCap(d *fixture.Dataset, summary domain.LossSummary) *phase {
	p := &phase{name: "Map marker sampling"}
	cls := domain.NewClassifierFromSummary(summary)
	mapped := domain.MapUnits(d.Units, summary, cls)

	for _, limit := range []int{0, 10, render.MaxMarkers, render.MaxMarkers * 5} {
		res, err := render.RenderMap(mapped, summary.Buildings, render.MapOptions{
			MarkerLimit: limit,
			Seed:        7,
			Schema:      domain.DefaultSchema(),
		})
		if err != nil {
			p.errorf("limit %d: %v", limit, err)
			continue
		}
		want := min(len(summary.Buildings), render.MaxMarkers)
		if limit > 0 {
			want = min(want, limit)
		}
		if res.Markers != want {
			p.errorf("limit %d: %d markers, want %d", limit, res.Markers, want)
		}
	}
	return p
}
