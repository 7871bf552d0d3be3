// Package fixture generates synthetic assessment inputs: a building
// inventory, an assessment-unit grid and the two reference tables, written
// as zipped shapefiles and CSV files the way survey teams deliver them.
package fixture

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

// BuildingTypes and DamageTypes are the codes used by generated data.
var (
	BuildingTypes = []string{"钢混", "框架", "砖混", "砖木", "简易"}
	DamageTypes   = []string{"基本完好", "轻微破坏", "中等破坏", "严重破坏", "部分倒塌", "倒塌"}
)

// UnpricedType is a building type deliberately absent from the price table.
const UnpricedType = "其他"

var (
	unitPrices = map[string]float64{"钢混": 2200, "框架": 1800, "砖混": 1300, "砖木": 900, "简易": 500}
	lossRatios = map[string]float64{"基本完好": 0, "轻微破坏": 5, "中等破坏": 20, "严重破坏": 50, "部分倒塌": 80, "倒塌": 100}
)

// Options control the generated dataset.
type Options struct {
	Cols, Rows int        // assessment-unit grid
	Buildings  int        // building count
	Unpriced   int        // buildings typed UnpricedType, included in Buildings
	Seed       uint64     // random seed; equal seeds give equal datasets
	Origin     geom.Coord // south-west corner, lon/lat
	CellSize   float64    // unit edge length in degrees
}

// DefaultOptions is a 3×3 grid near Wenchuan with 200 buildings.
func DefaultOptions() Options {
	return Options{
		Cols:      3,
		Rows:      3,
		Buildings: 200,
		Seed:      20080512,
		Origin:    geom.Coord{103.40, 31.00},
		CellSize:  0.02,
	}
}

// Dataset is a generated set of inputs.
type Dataset struct {
	Buildings []domain.Building
	Units     []domain.Unit
	Prices    domain.PriceTable
	Ratios    domain.RatioTable
}

// Generate builds a deterministic dataset from opts.
func Generate(opts Options) *Dataset {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	d := &Dataset{
		Prices: domain.PriceTable{},
		Ratios: domain.RatioTable{},
	}
	for k, v := range unitPrices {
		d.Prices[k] = v
	}
	for k, v := range lossRatios {
		d.Ratios[k] = v
	}

	for row := 0; row < opts.Rows; row++ {
		for col := 0; col < opts.Cols; col++ {
			x := opts.Origin[0] + float64(col)*opts.CellSize
			y := opts.Origin[1] + float64(row)*opts.CellSize
			d.Units = append(d.Units, domain.Unit{
				Code:     UnitCode(row*opts.Cols + col),
				Geometry: square(x, y, opts.CellSize),
			})
		}
	}
	if len(d.Units) == 0 {
		return d
	}

	footprint := opts.CellSize / 50
	for i := 0; i < opts.Buildings; i++ {
		cell := rng.IntN(len(d.Units))
		col, row := cell%opts.Cols, cell/opts.Cols
		x := opts.Origin[0] + (float64(col)+rng.Float64()*0.95)*opts.CellSize
		y := opts.Origin[1] + (float64(row)+rng.Float64()*0.95)*opts.CellSize

		typ := BuildingTypes[rng.IntN(len(BuildingTypes))]
		if i < opts.Unpriced {
			typ = UnpricedType
		}
		d.Buildings = append(d.Buildings, domain.Building{
			Geometry:   square(x, y, footprint),
			TypeCode:   typ,
			DamageCode: DamageTypes[rng.IntN(len(DamageTypes))],
			UnitCode:   d.Units[cell].Code,
			Area:       math.Round((40+rng.Float64()*460)*100) / 100,
		})
	}
	return d
}

// UnitCode formats the code of the i-th generated unit.
func UnitCode(i int) string {
	return fmt.Sprintf("Z%03d", i+1)
}

// square returns a clockwise ring polygon with its south-west corner at x, y.
func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x, y}, {x, y + size}, {x + size, y + size}, {x + size, y}, {x, y},
	}})
}
