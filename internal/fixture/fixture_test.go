package fixture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(DefaultOptions())
	b := Generate(DefaultOptions())

	require.Len(t, a.Units, 9)
	require.Len(t, a.Buildings, 200)
	assert.Equal(t, a.Buildings, b.Buildings)
}

func TestGenerate_Unpriced(t *testing.T) {
	opts := DefaultOptions()
	opts.Unpriced = 7
	d := Generate(opts)

	var unpriced int
	for _, b := range d.Buildings {
		if b.TypeCode == UnpricedType {
			unpriced++
		}
		_, ok := d.Ratios[b.DamageCode]
		assert.True(t, ok, "every damage code has a ratio")
	}
	assert.Equal(t, 7, unpriced)
	assert.NotContains(t, d.Prices, UnpricedType)
}

func TestGenerate_BuildingsInsideTheirUnit(t *testing.T) {
	d := Generate(DefaultOptions())
	units := make(map[string]domain.Unit, len(d.Units))
	for _, u := range d.Units {
		units[u.Code] = u
	}
	for _, b := range d.Buildings {
		u, ok := units[b.UnitCode]
		require.True(t, ok)
		c, ok := domain.Centroid(b.Geometry)
		require.True(t, ok)
		assert.True(t, u.Geometry.Bounds().OverlapsPoint(u.Geometry.Layout(), c), "building %v outside unit %s", c, b.UnitCode)
	}
}

func TestSerialize(t *testing.T) {
	files, err := Generate(DefaultOptions()).Serialize(WriteOptions{Schema: domain.DefaultSchema()})
	require.NoError(t, err)

	assert.NotEmpty(t, files.BuildingsZip)
	assert.NotEmpty(t, files.UnitsZip)
	assert.Contains(t, string(files.PriceCSV), "建筑类,单价\n")
	assert.Contains(t, string(files.RatioCSV), "倒塌,100\n")
}

func TestWriteDir(t *testing.T) {
	files := &Files{BuildingsZip: []byte("b"), UnitsZip: []byte("u"), PriceCSV: []byte("p"), RatioCSV: []byte("r")}
	dir := t.TempDir()
	require.NoError(t, files.WriteDir(dir))
	assert.FileExists(t, dir+"/buildings.zip")
	assert.FileExists(t, dir+"/loss_ratios.csv")
}
