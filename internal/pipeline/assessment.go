package pipeline

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/ingest"
	"github.com/couchcryptid/quake-loss-estimator/internal/render"
)

// Stage names the part of a run that failed.
type Stage string

const (
	StageLookup  Stage = "lookup"
	StageIngest  Stage = "ingest"
	StageCompute Stage = "compute"
)

// StageError tags a run failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage of a run error, or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Upload is one uploaded input file.
type Upload struct {
	Name string
	Data []byte
}

// Inputs are everything one run needs.
type Inputs struct {
	Buildings    Upload // zipped shapefile
	Units        Upload // zipped shapefile
	Prices       Upload // CSV
	Ratios       Upload // CSV
	Coefficients domain.Coefficients
	// TiandituKey overrides the configured key for this run's map.
	TiandituKey string
}

// Previews are the first rows of every input, shown back to the analyst.
type Previews struct {
	Buildings *ingest.Table
	Units     *ingest.Table
	Prices    *ingest.Table
	Ratios    *ingest.Table
}

// Assessment is the result of one completed run.
type Assessment struct {
	domain.RunInfo

	Summary    domain.LossSummary
	Classifier domain.Classifier
	Units      []domain.MappedUnit
	Previews   Previews

	// UnitColumn is the units-layer column the codes were read from.
	UnitColumn string

	Chart      []byte
	ChartError string

	Map        []byte
	MapError   string
	MapMarkers int

	// Warnings are non-fatal notes about the run.
	Warnings []string
}

// Places maps unit code to geocoded place name for units that have one.
func (a *Assessment) Places() map[string]string {
	places := make(map[string]string)
	for _, u := range a.Units {
		if u.PlaceName != "" {
			places[u.Code] = u.PlaceName
		}
	}
	return places
}

// LossRow is one row of the per-unit loss table with its place name and level.
type LossRow struct {
	domain.UnitLoss
	PlaceName string
	Bucket    domain.Bucket
}

// LossRows returns the per-unit loss table in unit-code order. These are the
// rows the CSV export writes; units without a polygon are included and
// polygons without buildings are not.
func (a *Assessment) LossRows() []LossRow {
	places := a.Places()
	rows := make([]LossRow, 0, len(a.Summary.Units))
	for _, u := range a.Summary.Units {
		rows = append(rows, LossRow{
			UnitLoss:  u,
			PlaceName: places[u.Code],
			Bucket:    a.Classifier.Classify(u.Loss),
		})
	}
	return rows
}

// Workbook returns the Excel export content.
func (a *Assessment) Workbook() render.Workbook {
	return render.Workbook{
		Run:        a.RunInfo,
		Summary:    a.Summary,
		Classifier: a.Classifier,
		Places:     a.Places(),
	}
}
