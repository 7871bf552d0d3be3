package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math/rand/v2"
	"sort"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

// MaxMarkers caps the building markers drawn on a map.
const MaxMarkers = 1000

const (
	defaultZoom  = 12
	fallbackZoom = 10
)

// ErrNoGeometry is returned when no assessment unit has a usable geometry.
var ErrNoGeometry = errors.New("assessment units have no geometry to display")

//go:embed templates/map.html.tmpl
var templateFS embed.FS

var mapTemplate = template.Must(template.ParseFS(templateFS, "templates/map.html.tmpl"))

// MapOptions control the interactive map.
type MapOptions struct {
	Title       string
	TiandituKey string
	MapboxToken string
	// MarkerLimit is the building sample size, capped at MaxMarkers. Zero means MaxMarkers.
	MarkerLimit int
	// Seed makes the building sample reproducible.
	Seed   uint64
	Schema domain.Schema
}

// MapResult is a rendered map and the non-fatal issues met while building it.
type MapResult struct {
	HTML     []byte
	Warnings []string
	Markers  int
}

type marker struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Color string  `json:"color"`
	Popup string  `json:"popup"`
}

type legendEntry struct {
	Color string
	Label string
}

type mapView struct {
	Title    string
	Legend   []legendEntry
	Warnings []string
	Data     template.JS
}

type mapData struct {
	Center        [2]float64      `json:"center"`
	Zoom          int             `json:"zoom"`
	Bounds        [2][2]float64   `json:"bounds"`
	Layers        []BaseLayer     `json:"layers"`
	Fallback      BaseLayer       `json:"fallback"`
	Units         json.RawMessage `json:"units"`
	Markers       []marker        `json:"markers"`
	TooltipFields [2]string       `json:"tooltip_fields"`
}

// RenderMap builds a self-contained Leaflet page: a choropleth of units,
// a clustered sample of building markers, a legend and a layer switcher.
func RenderMap(units []domain.MappedUnit, buildings []domain.AssessedBuilding, opts MapOptions) (*MapResult, error) {
	geoms := make([]geom.T, len(units))
	for i, u := range units {
		geoms[i] = u.Geometry
	}
	bounds := domain.TotalBounds(geoms)
	if bounds == nil {
		return nil, ErrNoGeometry
	}

	res := &MapResult{}
	layers, warning := BaseLayers(opts.TiandituKey, opts.MapboxToken)
	zoom := defaultZoom
	if warning != "" {
		res.Warnings = append(res.Warnings, warning)
		zoom = fallbackZoom
	}

	center := [2]float64{
		(bounds.Min(1) + bounds.Max(1)) / 2,
		(bounds.Min(0) + bounds.Max(0)) / 2,
	}
	if i := domain.MaxLossUnit(units); i >= 0 {
		c := units[i].Centroid
		center = [2]float64{c[1], c[0]}
	}
	if !domain.LooksGeographic(geom.Coord{bounds.Min(0), bounds.Min(1)}) ||
		!domain.LooksGeographic(geom.Coord{bounds.Max(0), bounds.Max(1)}) {
		res.Warnings = append(res.Warnings, "评估单元坐标不是经纬度 (WGS-84)，地图位置可能不正确")
	}

	fc, err := unitFeatures(units)
	if err != nil {
		return nil, err
	}

	markers := buildingMarkers(SampleBuildings(buildings, opts.MarkerLimit, opts.Seed), opts.Schema)
	res.Markers = len(markers)

	data, err := json.Marshal(mapData{
		Center:        center,
		Zoom:          zoom,
		Bounds:        [2][2]float64{{bounds.Min(1), bounds.Min(0)}, {bounds.Max(1), bounds.Max(0)}},
		Layers:        layers,
		Fallback:      FallbackLayer,
		Units:         fc,
		Markers:       markers,
		TooltipFields: [2]string{"评估单元: ", "损失(万元): "},
	})
	if err != nil {
		return nil, fmt.Errorf("encode map data: %w", err)
	}

	view := mapView{
		Title:    opts.Title,
		Warnings: res.Warnings,
		Data:     template.JS(data), //nolint:gosec // JSON produced by encoding/json
	}
	for _, b := range domain.LegendBuckets() {
		view.Legend = append(view.Legend, legendEntry{Color: b.Color(), Label: b.Label()})
	}

	var buf bytes.Buffer
	if err := mapTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render map: %w", err)
	}
	res.HTML = buf.Bytes()
	return res, nil
}

// WriteMap renders the map into w.
func WriteMap(w io.Writer, units []domain.MappedUnit, buildings []domain.AssessedBuilding, opts MapOptions) (*MapResult, error) {
	res, err := RenderMap(units, buildings, opts)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(res.HTML); err != nil {
		return nil, fmt.Errorf("write map: %w", err)
	}
	return res, nil
}

func unitFeatures(units []domain.MappedUnit) (json.RawMessage, error) {
	fc := &geojson.FeatureCollection{}
	for _, u := range units {
		if domain.IsEmpty(u.Geometry) {
			continue
		}
		props := map[string]any{
			"code":      u.Code,
			"loss":      u.Loss,
			"loss_text": fmt.Sprintf("%.2f", u.Loss),
			"color":     u.Bucket.Color(),
			"level":     u.Bucket.String(),
		}
		if u.PlaceName != "" {
			props["place"] = u.PlaceName
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         u.Code,
			Geometry:   u.Geometry,
			Properties: props,
		})
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode unit geometries: %w", err)
	}
	return data, nil
}

// SampleBuildings returns at most limit buildings with a geometry, chosen
// uniformly at random with a seeded source and kept in input order.
func SampleBuildings(buildings []domain.AssessedBuilding, limit int, seed uint64) []domain.AssessedBuilding {
	if limit <= 0 || limit > MaxMarkers {
		limit = MaxMarkers
	}
	located := make([]int, 0, len(buildings))
	for i, b := range buildings {
		if !domain.IsEmpty(b.Geometry) {
			located = append(located, i)
		}
	}
	if len(located) > limit {
		rng := rand.New(rand.NewPCG(seed, seed>>1|1))
		rng.Shuffle(len(located), func(i, j int) { located[i], located[j] = located[j], located[i] })
		located = located[:limit]
		sort.Ints(located)
	}
	out := make([]domain.AssessedBuilding, len(located))
	for i, idx := range located {
		out[i] = buildings[idx]
	}
	return out
}

func buildingMarkers(buildings []domain.AssessedBuilding, s domain.Schema) []marker {
	out := make([]marker, 0, len(buildings))
	for _, b := range buildings {
		c, ok := domain.Centroid(b.Geometry)
		if !ok {
			continue
		}
		out = append(out, marker{
			Lat:   c[1],
			Lon:   c[0],
			Color: s.DamageColor(b.DamageCode),
			Popup: fmt.Sprintf("建筑类型: %s<br>破坏类型: %s<br>损失: %.2f万元",
				template.HTMLEscapeString(b.TypeCode), template.HTMLEscapeString(b.DamageCode), b.Loss),
		})
	}
	return out
}
