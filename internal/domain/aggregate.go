package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNoMatchedBuildings is returned when no building survives both joins.
	ErrNoMatchedBuildings = errors.New("no buildings matched the unit-price and loss-ratio tables")

	// ErrInvalidCoefficient is returned for non-positive expansion coefficients.
	ErrInvalidCoefficient = errors.New("expansion coefficients must be positive")

	// ErrMissingColumn is wrapped by readers when a required column is absent.
	ErrMissingColumn = errors.New("missing required column")
)

// BuildingLoss is the per-record loss formula: area × price × ratio / 100.
func BuildingLoss(area, unitPrice, lossRatio float64) float64 {
	return area * unitPrice * lossRatio / 100
}

// Aggregate joins buildings to the reference tables, computes per-building
// loss, sums it per assessment unit and applies the expansion coefficients.
//
// Both joins are inner joins: a building whose type code is missing from
// prices, or whose damage code is missing from ratios, is excluded without
// error and counted in the returned JoinStats. Buildings with a NaN or
// infinite area are excluded the same way.
func Aggregate(buildings []Building, prices PriceTable, ratios RatioTable, c Coefficients) (LossSummary, error) {
	if !(c.RhoB > 0) || !(c.RhoEB > 0) {
		return LossSummary{}, fmt.Errorf("%w: rho_b=%g rho_eb=%g", ErrInvalidCoefficient, c.RhoB, c.RhoEB)
	}

	stats := JoinStats{Input: len(buildings)}
	assessed := make([]AssessedBuilding, 0, len(buildings))
	byUnit := make(map[string]float64)

	for _, b := range buildings {
		price, ok := prices[b.TypeCode]
		if !ok {
			stats.MissingPrice++
			continue
		}
		ratio, ok := ratios[b.DamageCode]
		if !ok {
			stats.MissingRatio++
			continue
		}
		if math.IsNaN(b.Area) || math.IsInf(b.Area, 0) {
			stats.InvalidArea++
			continue
		}

		loss := BuildingLoss(b.Area, price, ratio)
		assessed = append(assessed, AssessedBuilding{
			Building:  b,
			UnitPrice: price,
			LossRatio: ratio,
			Loss:      loss,
		})
		byUnit[b.UnitCode] += loss
	}
	stats.Joined = len(assessed)

	if len(assessed) == 0 {
		return LossSummary{Stats: stats, Coefficients: c}, ErrNoMatchedBuildings
	}

	units := make([]UnitLoss, 0, len(byUnit))
	for code, loss := range byUnit {
		units = append(units, UnitLoss{Code: code, Loss: loss})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Code < units[j].Code })

	var sum float64
	for _, u := range units {
		sum += u.Loss
	}
	total := sum * c.RhoB

	return LossSummary{
		Buildings:    assessed,
		Units:        units,
		TotalLoss:    total,
		DirectLoss:   total * c.RhoEB,
		Coefficients: c,
		Stats:        stats,
	}, nil
}

// MapUnits left-joins the unit polygons to the per-unit loss table. Units
// without buildings get zero loss. Each unit is bucketed with cls and gets
// its centroid when the geometry is not empty.
func MapUnits(units []Unit, summary LossSummary, cls Classifier) []MappedUnit {
	losses := summary.UnitLossByCode()
	out := make([]MappedUnit, 0, len(units))
	for _, u := range units {
		loss := losses[u.Code]
		mu := MappedUnit{
			Unit:   u,
			Loss:   loss,
			Bucket: cls.Classify(loss),
		}
		if c, ok := Centroid(u.Geometry); ok {
			mu.Centroid = c
		}
		out = append(out, mu)
	}
	return out
}
