package domain

import (
	"time"

	"github.com/twpayne/go-geom"
)

// Building is one structure from the building inventory.
type Building struct {
	Geometry   geom.T // nil when the shapefile record has a null shape
	TypeCode   string
	DamageCode string
	UnitCode   string
	Area       float64
}

// AssessedBuilding is a building that survived both reference joins.
type AssessedBuilding struct {
	Building
	UnitPrice float64
	LossRatio float64 // 0–100 scale
	Loss      float64
}

// Unit is an assessment unit polygon.
type Unit struct {
	Geometry geom.T
	Code     string
}

// PriceTable maps building-type code to replacement unit price.
type PriceTable map[string]float64

// RatioTable maps damage-type code to loss ratio on a 0–100 scale.
type RatioTable map[string]float64

// Coefficients are the two empirical expansion factors applied to the raw
// building-damage sum.
type Coefficients struct {
	// RhoB expands assessed building loss to total building loss.
	RhoB float64 `json:"rho_b" validate:"gt=0"`
	// RhoEB expands total building loss to direct economic loss.
	RhoEB float64 `json:"rho_eb" validate:"gt=0"`
}

// UnitLoss is one row of the per-unit loss table.
type UnitLoss struct {
	Code string  `json:"unit_code"`
	Loss float64 `json:"loss"`
}

// JoinStats counts how the building inventory fared in the joins.
type JoinStats struct {
	Input        int `json:"input"`
	Joined       int `json:"joined"`
	MissingPrice int `json:"missing_price"`
	MissingRatio int `json:"missing_ratio"`
	InvalidArea  int `json:"invalid_area"`
}

// Dropped returns the number of buildings excluded from every aggregate.
func (s JoinStats) Dropped() int {
	return s.Input - s.Joined
}

// LossSummary is the output of Aggregate.
type LossSummary struct {
	Buildings    []AssessedBuilding `json:"-"`
	Units        []UnitLoss         `json:"units"`
	TotalLoss    float64            `json:"total_loss"`
	DirectLoss   float64            `json:"direct_loss"`
	Coefficients Coefficients       `json:"coefficients"`
	Stats        JoinStats          `json:"stats"`
}

// UnitLossByCode returns the per-unit table as a map.
func (s LossSummary) UnitLossByCode() map[string]float64 {
	m := make(map[string]float64, len(s.Units))
	for _, u := range s.Units {
		m[u.Code] = u.Loss
	}
	return m
}

// MappedUnit is an assessment unit joined to the loss table for display.
// Units without buildings carry zero loss.
type MappedUnit struct {
	Unit
	Loss      float64
	Bucket    Bucket
	Centroid  geom.Coord // nil when the geometry is empty
	PlaceName string     // filled by geocoding enrichment
	GeoSource string     // "reverse", "original", "failed" or "" when disabled
}

// RunInfo identifies a single assessment run.
type RunInfo struct {
	ID        string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}
