package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestCentroid(t *testing.T) {
	pt := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{103.5, 31.0})
	c, ok := Centroid(pt)
	require.True(t, ok)
	assert.Equal(t, 103.5, c[0])
	assert.Equal(t, 31.0, c[1])

	_, ok = Centroid(nil)
	assert.False(t, ok)

	_, ok = Centroid(geom.NewPolygon(geom.XY))
	assert.False(t, ok)
}

func TestAllEmpty(t *testing.T) {
	assert.True(t, AllEmpty(nil))
	assert.True(t, AllEmpty([]geom.T{nil, geom.NewPolygon(geom.XY)}))
	assert.False(t, AllEmpty([]geom.T{nil, geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2})}))
}

func TestTotalBounds(t *testing.T) {
	a := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}})
	b := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{5, -2})

	bounds := TotalBounds([]geom.T{a, nil, b})
	require.NotNil(t, bounds)
	assert.Equal(t, 0.0, bounds.Min(0))
	assert.Equal(t, -2.0, bounds.Min(1))
	assert.Equal(t, 5.0, bounds.Max(0))
	assert.Equal(t, 1.0, bounds.Max(1))

	assert.Nil(t, TotalBounds([]geom.T{nil}))
}

func TestLooksGeographic(t *testing.T) {
	assert.True(t, LooksGeographic(geom.Coord{103.5, 31.0}))
	assert.True(t, LooksGeographic(geom.Coord{-180, -90}))
	assert.False(t, LooksGeographic(geom.Coord{435000, 3435000}))
	assert.False(t, LooksGeographic(geom.Coord{1}))
}

func TestMaxLossUnit(t *testing.T) {
	units := []MappedUnit{
		{Unit: Unit{Code: "A"}, Loss: 5, Centroid: geom.Coord{0, 0}},
		{Unit: Unit{Code: "B"}, Loss: 50}, // no centroid, ignored
		{Unit: Unit{Code: "C"}, Loss: 9, Centroid: geom.Coord{1, 1}},
		{Unit: Unit{Code: "D"}, Loss: 9, Centroid: geom.Coord{2, 2}},
	}
	assert.Equal(t, 2, MaxLossUnit(units))
	assert.Equal(t, -1, MaxLossUnit(nil))
}
