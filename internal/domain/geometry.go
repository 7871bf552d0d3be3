package domain

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Centroid returns the centroid of g, or false when g is nil or empty.
func Centroid(g geom.T) (geom.Coord, bool) {
	if IsEmpty(g) {
		return nil, false
	}
	c, err := xy.Centroid(g)
	if err != nil || len(c) < 2 {
		return nil, false
	}
	return c, true
}

// IsEmpty reports whether g is nil or has no coordinates.
func IsEmpty(g geom.T) bool {
	return g == nil || len(g.FlatCoords()) == 0
}

// AllEmpty reports whether every geometry in gs is empty (true for no geometries).
func AllEmpty(gs []geom.T) bool {
	for _, g := range gs {
		if !IsEmpty(g) {
			return false
		}
	}
	return true
}

// TotalBounds returns the bounding box of all non-empty geometries, or nil if there are none.
func TotalBounds(gs []geom.T) *geom.Bounds {
	var b *geom.Bounds
	for _, g := range gs {
		if IsEmpty(g) {
			continue
		}
		if b == nil {
			b = geom.NewBounds(geom.XY)
		}
		b.Extend(g)
	}
	return b
}

// LooksGeographic reports whether c could be a WGS-84 lon/lat pair.
func LooksGeographic(c geom.Coord) bool {
	if len(c) < 2 {
		return false
	}
	return c[0] >= -180 && c[0] <= 180 && c[1] >= -90 && c[1] <= 90
}

// MaxLossUnit returns the index of the unit with the largest loss among
// units that have a centroid, or -1 if none do. Ties keep the first unit.
func MaxLossUnit(units []MappedUnit) int {
	best := -1
	for i, u := range units {
		if u.Centroid == nil {
			continue
		}
		if best < 0 || u.Loss > units[best].Loss {
			best = i
		}
	}
	return best
}
