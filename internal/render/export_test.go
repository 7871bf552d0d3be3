package render

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

func TestLossCSV_Format(t *testing.T) {
	units := []domain.UnitLoss{{Code: "Z001", Loss: 10000}, {Code: "Z002", Loss: 0.1 + 0.2}}

	data, err := LossCSV(units, domain.DefaultSchema())
	require.NoError(t, err)
	assert.Equal(t, "评估区,OneLoss\nZ001,10000\nZ002,0.30000000000000004\n", string(data))
}

func TestLossCSV_RoundTripIsExact(t *testing.T) {
	units := []domain.UnitLoss{
		{Code: "Z001", Loss: 1.0 / 3},
		{Code: "Z002", Loss: 123456789.123456789},
		{Code: "Z003", Loss: 0},
		{Code: "Z004", Loss: 5e-324},
		{Code: "a,b", Loss: math.MaxFloat64},
	}
	s := domain.DefaultSchema()

	data, err := LossCSV(units, s)
	require.NoError(t, err)

	parsed, err := ParseLossCSV(bytes.NewReader(data), s)
	require.NoError(t, err)
	assert.Equal(t, units, parsed)
}

func TestParseLossCSV_Errors(t *testing.T) {
	s := domain.DefaultSchema()
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "empty file"},
		{"wrong header", "unit,loss\nA,1\n", "unexpected header"},
		{"bad number", "评估区,OneLoss\nA,x\n", "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLossCSV(strings.NewReader(tt.input), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteLossXLSX(t *testing.T) {
	summary := domain.LossSummary{
		Units:        []domain.UnitLoss{{Code: "Z001", Loss: 10}, {Code: "Z002", Loss: 30}},
		TotalLoss:    107.2,
		DirectLoss:   169.376,
		Coefficients: domain.Coefficients{RhoB: 2.68, RhoEB: 1.58},
		Stats:        domain.JoinStats{Input: 3, Joined: 2, MissingPrice: 1},
	}
	wb := Workbook{
		Run:        domain.RunInfo{ID: "run-1", CreatedAt: time.Date(2026, 5, 12, 14, 28, 0, 0, time.UTC)},
		Summary:    summary,
		Classifier: domain.NewClassifierFromSummary(summary),
		Places:     map[string]string{"Z001": "映秀镇"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLossXLSX(&buf, wb, domain.DefaultSchema()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Loss", "Summary"}, f.GetSheetList())

	rows, err := f.GetRows("Loss")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"评估区", "OneLoss", "level", "place"}, rows[0])
	assert.Equal(t, []string{"Z001", "10", "slight", "映秀镇"}, rows[1])
	assert.Equal(t, "extreme", rows[2][2])

	runID, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	missing, err := f.GetCellValue("Summary", "B10")
	require.NoError(t, err)
	assert.Equal(t, "1", missing)
}
