package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

// GeometryColumn is the preview column that holds each record's geometry as WKT.
const GeometryColumn = "geometry"

const previewWKTLength = 60

// Layer is a shapefile read into memory: one geometry and one attribute row per record.
type Layer struct {
	Fields     []string
	Geometries []geom.T
	Attributes [][]string
}

// ReadLayer reads every record of the shapefile at path. DBF text is
// decoded to UTF-8 according to the sibling .cpg file, or detected per value.
func ReadLayer(path string) (*Layer, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	decode := decoderForShapefile(path)
	fields := r.Fields()
	layer := &Layer{Fields: make([]string, len(fields))}
	for i, f := range fields {
		layer.Fields[i] = decode(strings.TrimRight(string(f.Name[:]), "\x00 "))
	}

	for r.Next() {
		n, shape := r.Shape()
		g, err := toGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		attrs := make([]string, len(fields))
		for i := range fields {
			attrs[i] = decode(strings.Trim(r.ReadAttribute(n, i), " \x00"))
		}
		layer.Geometries = append(layer.Geometries, g)
		layer.Attributes = append(layer.Attributes, attrs)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return layer, nil
}

// Len returns the number of records.
func (l *Layer) Len() int { return len(l.Attributes) }

// FieldIndex returns the position of the named attribute, or -1.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// Preview returns the first n records as a table with a trailing WKT geometry column.
func (l *Layer) Preview(n int) *Table {
	if n > l.Len() {
		n = l.Len()
	}
	t := &Table{
		Columns: append(append([]string{}, l.Fields...), GeometryColumn),
		Total:   l.Len(),
	}
	for i := 0; i < n; i++ {
		row := append(append([]string{}, l.Attributes[i]...), previewWKT(l.Geometries[i]))
		t.Rows = append(t.Rows, row)
	}
	return t
}

func previewWKT(g geom.T) string {
	if g == nil {
		return ""
	}
	s, err := wkt.Marshal(g)
	if err != nil {
		return ""
	}
	if r := []rune(s); len(r) > previewWKTLength {
		return string(r[:previewWKTLength]) + "…"
	}
	return s
}

func (l *Layer) requireFields(layerName string, names ...string) ([]int, error) {
	idx := make([]int, len(names))
	var missing []string
	for i, name := range names {
		idx[i] = l.FieldIndex(name)
		if idx[i] < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s layer: %w: %s", layerName, domain.ErrMissingColumn, strings.Join(missing, ", "))
	}
	return idx, nil
}

// Buildings converts the layer into building records using the schema's
// column names. An unparsable area becomes NaN so the aggregator can count it.
func (l *Layer) Buildings(s domain.Schema) ([]domain.Building, error) {
	idx, err := l.requireFields("buildings", s.BuildingType, s.DamageType, s.UnitCode, s.Area)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Building, l.Len())
	for i, attrs := range l.Attributes {
		out[i] = domain.Building{
			Geometry:   l.Geometries[i],
			TypeCode:   attrs[idx[0]],
			DamageCode: attrs[idx[1]],
			UnitCode:   attrs[idx[2]],
			Area:       parseArea(attrs[idx[3]]),
		}
	}
	return out, nil
}

// Units converts the layer into assessment units. When the unit-code column
// is absent the schema's alternate column is used instead, and usedAlt is true.
func (l *Layer) Units(s domain.Schema) (units []domain.Unit, usedAlt bool, err error) {
	col := s.UnitCode
	if l.FieldIndex(col) < 0 && s.UnitCodeAlt != "" && l.FieldIndex(s.UnitCodeAlt) >= 0 {
		col = s.UnitCodeAlt
		usedAlt = true
	}
	idx, err := l.requireFields("units", col)
	if err != nil {
		return nil, false, err
	}
	units = make([]domain.Unit, l.Len())
	for i, attrs := range l.Attributes {
		units[i] = domain.Unit{Geometry: l.Geometries[i], Code: attrs[idx[0]]}
	}
	return units, usedAlt, nil
}

func parseArea(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// toGeometry converts a shapefile shape into a go-geom geometry. Null
// shapes become nil. Z and M values are dropped.
func toGeometry(shape shp.Shape) (geom.T, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return geom.NewPoint(geom.XY).SetCoords(geom.Coord{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPoint(geom.XY).SetCoords(geom.Coord{s.X, s.Y})
	case *shp.PointM:
		return geom.NewPoint(geom.XY).SetCoords(geom.Coord{s.X, s.Y})
	case *shp.MultiPoint:
		return geom.NewMultiPoint(geom.XY).SetCoords(toCoords(s.Points))
	case *shp.MultiPointZ:
		return geom.NewMultiPoint(geom.XY).SetCoords(toCoords(s.Points))
	case *shp.PolyLine:
		return geom.NewMultiLineString(geom.XY).SetCoords(splitParts(s.Parts, s.Points))
	case *shp.PolyLineZ:
		return geom.NewMultiLineString(geom.XY).SetCoords(splitParts(s.Parts, s.Points))
	case *shp.Polygon:
		return assemblePolygons(splitParts(s.Parts, s.Points))
	case *shp.PolygonZ:
		return assemblePolygons(splitParts(s.Parts, s.Points))
	default:
		return nil, fmt.Errorf("unsupported shape type %T", shape)
	}
}

func toCoords(points []shp.Point) []geom.Coord {
	out := make([]geom.Coord, len(points))
	for i, p := range points {
		out[i] = geom.Coord{p.X, p.Y}
	}
	return out
}

func splitParts(parts []int32, points []shp.Point) [][]geom.Coord {
	out := make([][]geom.Coord, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		out = append(out, toCoords(points[start:end]))
	}
	return out
}

// assemblePolygons groups shapefile rings into polygons. Clockwise rings
// start a new polygon; counter-clockwise rings are holes of the preceding one.
func assemblePolygons(rings [][]geom.Coord) (geom.T, error) {
	var polys [][][]geom.Coord
	for _, ring := range rings {
		if len(ring) < 4 {
			continue
		}
		if signedArea(ring) <= 0 || len(polys) == 0 {
			polys = append(polys, [][]geom.Coord{ring})
			continue
		}
		last := len(polys) - 1
		polys[last] = append(polys[last], ring)
	}
	switch len(polys) {
	case 0:
		return geom.NewPolygon(geom.XY), nil
	case 1:
		return geom.NewPolygon(geom.XY).SetCoords(polys[0])
	default:
		return geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	}
}

// signedArea is the shoelace area; negative for clockwise rings.
func signedArea(ring []geom.Coord) float64 {
	var a float64
	for i := 0; i+1 < len(ring); i++ {
		a += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return a / 2
}

// ReadBuildings reads the building inventory shapefile at path.
func ReadBuildings(path string, s domain.Schema) ([]domain.Building, *Layer, error) {
	layer, err := ReadLayer(path)
	if err != nil {
		return nil, nil, err
	}
	buildings, err := layer.Buildings(s)
	if err != nil {
		return nil, nil, err
	}
	return buildings, layer, nil
}

// ReadUnits reads the assessment-unit shapefile at path.
func ReadUnits(path string, s domain.Schema) ([]domain.Unit, bool, *Layer, error) {
	layer, err := ReadLayer(path)
	if err != nil {
		return nil, false, nil, err
	}
	units, usedAlt, err := layer.Units(s)
	if err != nil {
		return nil, false, nil, err
	}
	return units, usedAlt, layer, nil
}
