package fixture

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jonas-p/go-shp"
	"github.com/klauspost/compress/zip"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

// Encoding selects the text encoding of written attribute and CSV files.
type Encoding int

const (
	UTF8 Encoding = iota
	GBK
)

// WriteOptions control how a dataset is serialized.
type WriteOptions struct {
	Schema   domain.Schema
	Encoding Encoding
	// OmitCPG skips the .cpg code page file so readers must detect the encoding.
	OmitCPG bool
	// UnitCodeColumn overrides the unit layer's code column, e.g. to exercise
	// the alternate column fallback.
	UnitCodeColumn string
}

// Files are the four serialized inputs of one assessment.
type Files struct {
	BuildingsZip []byte
	UnitsZip     []byte
	PriceCSV     []byte
	RatioCSV     []byte
}

// Serialize writes the dataset as two zipped shapefiles and two CSV tables.
func (d *Dataset) Serialize(opts WriteOptions) (*Files, error) {
	tmp, err := os.MkdirTemp("", "quakeloss-fixture-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	s := opts.Schema
	enc := encoder(opts.Encoding)

	bdir := filepath.Join(tmp, "buildings")
	if err := d.WriteBuildings(filepath.Join(bdir, "buildings.shp"), opts); err != nil {
		return nil, err
	}
	udir := filepath.Join(tmp, "units")
	if err := d.WriteUnits(filepath.Join(udir, "units.shp"), opts); err != nil {
		return nil, err
	}

	files := &Files{}
	if files.BuildingsZip, err = ZipDir(bdir); err != nil {
		return nil, err
	}
	if files.UnitsZip, err = ZipDir(udir); err != nil {
		return nil, err
	}
	if files.PriceCSV, err = tableCSV(s.BuildingType, s.UnitPrice, d.Prices, enc); err != nil {
		return nil, err
	}
	if files.RatioCSV, err = tableCSV(s.DamageType, s.LossRatio, d.Ratios, enc); err != nil {
		return nil, err
	}
	return files, nil
}

// WriteBuildings writes the building inventory as a polygon shapefile at path.
func (d *Dataset) WriteBuildings(path string, opts WriteOptions) error {
	s := opts.Schema
	fields := []shp.Field{
		shp.StringField(s.BuildingType, 20),
		shp.StringField(s.DamageType, 20),
		shp.StringField(s.UnitCode, 20),
		shp.FloatField(s.Area, 14, 2),
	}
	w, err := createShapefile(path, fields, opts)
	if err != nil {
		return err
	}
	defer w.Close()

	enc := encoder(opts.Encoding)
	for _, b := range d.Buildings {
		row := int(w.Write(toShape(b.Geometry)))
		values := []any{enc(b.TypeCode), enc(b.DamageCode), enc(b.UnitCode), b.Area}
		if err := writeAttributes(w, row, values); err != nil {
			return err
		}
	}
	return nil
}

// WriteUnits writes the assessment units as a polygon shapefile at path.
func (d *Dataset) WriteUnits(path string, opts WriteOptions) error {
	col := opts.Schema.UnitCode
	if opts.UnitCodeColumn != "" {
		col = opts.UnitCodeColumn
	}
	w, err := createShapefile(path, []shp.Field{shp.StringField(col, 20)}, opts)
	if err != nil {
		return err
	}
	defer w.Close()

	enc := encoder(opts.Encoding)
	for _, u := range d.Units {
		row := int(w.Write(toShape(u.Geometry)))
		if err := writeAttributes(w, row, []any{enc(u.Code)}); err != nil {
			return err
		}
	}
	return nil
}

func createShapefile(path string, fields []shp.Field, opts WriteOptions) (*shp.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	enc := encoder(opts.Encoding)
	for i := range fields {
		name := enc(string(bytes.TrimRight(fields[i].Name[:], "\x00")))
		fields[i].Name = [11]byte{}
		copy(fields[i].Name[:], name)
	}

	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return nil, fmt.Errorf("create shapefile: %w", err)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return nil, fmt.Errorf("set fields: %w", err)
	}
	if !opts.OmitCPG {
		cp := "UTF-8"
		if opts.Encoding == GBK {
			cp = "GBK"
		}
		base := path[:len(path)-len(filepath.Ext(path))]
		if err := os.WriteFile(base+".cpg", []byte(cp), 0o600); err != nil {
			w.Close()
			return nil, fmt.Errorf("write code page: %w", err)
		}
	}
	return w, nil
}

func writeAttributes(w *shp.Writer, row int, values []any) error {
	for i, v := range values {
		if err := w.WriteAttribute(row, i, v); err != nil {
			return fmt.Errorf("write attribute %d of row %d: %w", i, row, err)
		}
	}
	return nil
}

func toShape(g geom.T) shp.Shape {
	p, ok := g.(*geom.Polygon)
	if !ok {
		return &shp.Null{}
	}
	var parts [][]shp.Point
	for i := 0; i < p.NumLinearRings(); i++ {
		ring := p.LinearRing(i).Coords()
		pts := make([]shp.Point, len(ring))
		for j, c := range ring {
			pts[j] = shp.Point{X: c[0], Y: c[1]}
		}
		parts = append(parts, pts)
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly
}

func tableCSV(keyCol, valueCol string, m map[string]float64, enc func(string) string) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{enc(keyCol), enc(valueCol)}); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := w.Write([]string{enc(k), strconv.FormatFloat(m[k], 'f', -1, 64)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func encoder(e Encoding) func(string) string {
	if e != GBK {
		return func(s string) string { return s }
	}
	return func(s string) string {
		out, err := simplifiedchinese.GBK.NewEncoder().String(s)
		if err != nil {
			return s
		}
		return out
	}
}

// ZipDir archives every regular file under dir, with paths relative to dir.
func ZipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("zip %s: %w", dir, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip %s: %w", dir, err)
	}
	return buf.Bytes(), nil
}

// WriteDir writes the serialized files into dir as buildings.zip, units.zip,
// unit_prices.csv and loss_ratios.csv.
func (f *Files) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, data := range map[string][]byte{
		"buildings.zip":   f.BuildingsZip,
		"units.zip":       f.UnitsZip,
		"unit_prices.csv": f.PriceCSV,
		"loss_ratios.csv": f.RatioCSV,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
