package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

// ReadTable parses a CSV reference table. A UTF-8 byte order mark is
// stripped and non-UTF-8 input is decoded as GBK. Ragged rows are padded.
func ReadTable(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(decodeTableBytes(data)))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("parse csv: empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	t := &Table{Columns: make([]string, len(header))}
	for i, c := range header {
		t.Columns[i] = strings.TrimSpace(c)
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if isBlank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		row := make([]string, len(t.Columns))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
		t.Lines = append(t.Lines, line)
	}
	t.Total = len(t.Rows)
	return t, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ReadPriceTable reads the building-type → unit-price table.
func ReadPriceTable(r io.Reader, s domain.Schema) (domain.PriceTable, *Table, error) {
	t, err := ReadTable(r)
	if err != nil {
		return nil, nil, fmt.Errorf("unit-price table: %w", err)
	}
	m, err := lookup(t, "unit-price", s.BuildingType, s.UnitPrice)
	if err != nil {
		return nil, nil, err
	}
	return domain.PriceTable(m), t, nil
}

// ReadRatioTable reads the damage-type → loss-ratio table.
func ReadRatioTable(r io.Reader, s domain.Schema) (domain.RatioTable, *Table, error) {
	t, err := ReadTable(r)
	if err != nil {
		return nil, nil, fmt.Errorf("loss-ratio table: %w", err)
	}
	m, err := lookup(t, "loss-ratio", s.DamageType, s.LossRatio)
	if err != nil {
		return nil, nil, err
	}
	return domain.RatioTable(m), t, nil
}

// lookup builds a key → value map from two columns of t. Rows with an empty
// key are skipped; a repeated key is an error.
func lookup(t *Table, name, keyCol, valueCol string) (map[string]float64, error) {
	ki, vi := t.ColumnIndex(keyCol), t.ColumnIndex(valueCol)
	var missing []string
	if ki < 0 {
		missing = append(missing, keyCol)
	}
	if vi < 0 {
		missing = append(missing, valueCol)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s table: %w: %s", name, domain.ErrMissingColumn, strings.Join(missing, ", "))
	}

	m := make(map[string]float64, len(t.Rows))
	for i, row := range t.Rows {
		key := strings.TrimSpace(row[ki])
		if key == "" {
			continue
		}
		line := t.Line(i)
		v, err := strconv.ParseFloat(strings.TrimSpace(row[vi]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s table line %d: invalid %s %q", name, line, valueCol, row[vi])
		}
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("%s table line %d: duplicate %s %q", name, line, keyCol, key)
		}
		m[key] = v
	}
	return m, nil
}
