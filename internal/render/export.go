package render

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

const (
	lossSheet    = "Loss"
	summarySheet = "Summary"
)

// FormatLoss renders a loss with the shortest representation that parses
// back to the same float64.
func FormatLoss(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteLossCSV writes the per-unit loss table with a "<unit>,<loss>" header.
func WriteLossCSV(w io.Writer, units []domain.UnitLoss, s domain.Schema) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{s.UnitCode, s.LossColumn}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, u := range units {
		if err := cw.Write([]string{u.Code, FormatLoss(u.Loss)}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LossCSV returns the per-unit loss table as CSV bytes.
func LossCSV(units []domain.UnitLoss, s domain.Schema) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteLossCSV(&buf, units, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseLossCSV reads a table written by WriteLossCSV.
func ParseLossCSV(r io.Reader, s domain.Schema) ([]domain.UnitLoss, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse loss csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse loss csv: empty file")
	}
	header := records[0]
	if len(header) != 2 || strings.TrimPrefix(header[0], "\ufeff") != s.UnitCode || header[1] != s.LossColumn {
		return nil, fmt.Errorf("parse loss csv: unexpected header %q", header)
	}

	units := make([]domain.UnitLoss, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != 2 {
			return nil, fmt.Errorf("parse loss csv line %d: expected 2 fields, got %d", i+2, len(rec))
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse loss csv line %d: %w", i+2, err)
		}
		units = append(units, domain.UnitLoss{Code: rec[0], Loss: v})
	}
	return units, nil
}

// Workbook is the content of the Excel export.
type Workbook struct {
	Run        domain.RunInfo
	Summary    domain.LossSummary
	Classifier domain.Classifier
	// Places maps unit code to a geocoded place name, when available.
	Places map[string]string
}

// WriteLossXLSX writes a workbook with the per-unit table and a run summary.
func WriteLossXLSX(w io.Writer, wb Workbook, s domain.Schema) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", lossSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFEDA0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	columns := []any{s.UnitCode, s.LossColumn, "level"}
	if len(wb.Places) > 0 {
		columns = append(columns, "place")
	}
	if err := f.SetSheetRow(lossSheet, "A1", &columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(columns), 1)
	if err := f.SetCellStyle(lossSheet, "A1", last, header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, u := range wb.Summary.Units {
		row := []any{u.Code, u.Loss, wb.Classifier.Classify(u.Loss).String()}
		if len(wb.Places) > 0 {
			row = append(row, wb.Places[u.Code])
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(lossSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(lossSheet, "A", "D", 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetPanes(lossSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	sum := wb.Summary
	rows := [][]any{
		{"run_id", wb.Run.ID},
		{"created_at", wb.Run.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
		{"rho_b", sum.Coefficients.RhoB},
		{"rho_eb", sum.Coefficients.RhoEB},
		{"total_loss", sum.TotalLoss},
		{"direct_loss", sum.DirectLoss},
		{"units", len(sum.Units)},
		{"buildings_input", sum.Stats.Input},
		{"buildings_joined", sum.Stats.Joined},
		{"missing_price", sum.Stats.MissingPrice},
		{"missing_ratio", sum.Stats.MissingRatio},
		{"invalid_area", sum.Stats.InvalidArea},
		{"q25", wb.Classifier.Q25},
		{"q50", wb.Classifier.Q50},
		{"q75", wb.Classifier.Q75},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &r); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "B", 22); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
