package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/xuri/excelize/v2"

	httpadapter "github.com/couchcryptid/quake-loss-estimator/internal/adapter/http"
	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/ingest"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
	"github.com/couchcryptid/quake-loss-estimator/internal/render"
	"github.com/couchcryptid/quake-loss-estimator/internal/store"
)

// --- mocks ---

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockRunner struct {
	result *pipeline.Assessment
	err    error
	calls  int
	got    pipeline.Inputs
}

func (m *mockRunner) Run(_ context.Context, in pipeline.Inputs) (*pipeline.Assessment, error) {
	m.calls++
	m.got = in
	return m.result, m.err
}

// --- helpers ---

const testRunID = "3f2b8c1e-0000-4000-8000-000000000001"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAssessment() *pipeline.Assessment {
	summary := domain.LossSummary{
		Units:        []domain.UnitLoss{{Code: "Z001", Loss: 1234.5}, {Code: "Z002", Loss: 10}},
		TotalLoss:    1244.5 * 2.68,
		DirectLoss:   1244.5 * 2.68 * 1.58,
		Coefficients: domain.Coefficients{RhoB: 2.68, RhoEB: 1.58},
		Stats:        domain.JoinStats{Input: 12, Joined: 10, MissingPrice: 2},
	}
	cls := domain.NewClassifierFromSummary(summary)
	return &pipeline.Assessment{
		RunInfo:    domain.RunInfo{ID: testRunID, CreatedAt: time.Date(2008, 5, 12, 14, 28, 0, 0, time.UTC)},
		Summary:    summary,
		Classifier: cls,
		Units: []domain.MappedUnit{
			{Unit: domain.Unit{Code: "Z001"}, Loss: 1234.5, Bucket: cls.Classify(1234.5), Centroid: geom.Coord{103.49, 31.06}, PlaceName: "映秀镇"},
			{Unit: domain.Unit{Code: "Z002"}, Loss: 10, Bucket: cls.Classify(10)},
		},
		Previews: pipeline.Previews{
			Prices: &ingest.Table{Columns: []string{"建筑类", "单价"}, Rows: [][]string{{"砖混", "1300"}}, Total: 1},
		},
		UnitColumn: "评估区",
		Chart:      []byte("\x89PNG fake"),
		Map:        []byte("<html>map</html>"),
		MapMarkers: 10,
		Warnings:   []string{"2 栋建筑未参与计算"},
	}
}

func newTestServer(t *testing.T, runner httpadapter.Runner, readyErr error) (*httpadapter.Server, *store.Store) {
	t.Helper()
	runs := store.New(4, observability.NewMetricsForTesting())
	opts := httpadapter.Options{
		MaxUploadBytes:      1 << 20,
		DefaultCoefficients: domain.Coefficients{RhoB: 2.68, RhoEB: 1.58},
		Schema:              domain.DefaultSchema(),
	}
	if runner == nil {
		runner = &mockRunner{}
	}
	return httpadapter.NewServer(":0", opts, runner, runs, &mockReadiness{err: readyErr}, discardLogger()), runs
}

func get(srv http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// uploadRequest builds a multipart POST /runs. Files with nil content are omitted.
func uploadRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, data := range files {
		if data == nil {
			continue
		}
		fw, err := mw.CreateFormFile(field, field+".bin")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/runs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func allFiles() map[string][]byte {
	return map[string][]byte{
		"buildings": []byte("bzip"),
		"units":     []byte("uzip"),
		"prices":    []byte("建筑类,单价\n"),
		"ratios":    []byte("破坏类,损失比\n"),
	}
}

// --- health ---

func TestHealthzReturns200(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := get(srv, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := get(srv, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv, _ := newTestServer(t, nil, fmt.Errorf("work dir not writable"))
	rec := get(srv, "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "work dir not writable", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := get(srv, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// --- form ---

func TestIndexShowsFormWithDefaults(t *testing.T) {
	srv, runs := newTestServer(t, nil, nil)
	runs.Put(testAssessment())

	rec := get(srv, "/")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="rho_b"`)
	assert.Contains(t, body, `value="2.68"`)
	assert.Contains(t, body, `value="1.58"`)
	assert.Contains(t, body, `href="/runs/`+testRunID+`"`, "recent runs listed")
}

func TestUnknownPathIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(srv, "/nope").Code)
}

func TestCreateRun_Success(t *testing.T) {
	runner := &mockRunner{result: testAssessment()}
	srv, runs := newTestServer(t, runner, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, map[string]string{
		"rho_b":        "3",
		"rho_eb":       "1.2",
		"tianditu_key": "0123456789abcdef0123456789abcdef",
	}, allFiles()))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/runs/"+testRunID, rec.Header().Get("Location"))

	require.Equal(t, 1, runner.calls)
	assert.Equal(t, domain.Coefficients{RhoB: 3, RhoEB: 1.2}, runner.got.Coefficients)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", runner.got.TiandituKey)
	assert.Equal(t, []byte("bzip"), runner.got.Buildings.Data)
	assert.Equal(t, "buildings.bin", runner.got.Buildings.Name)
	assert.Equal(t, []byte("破坏类,损失比\n"), runner.got.Ratios.Data)

	_, ok := runs.Get(testRunID)
	assert.True(t, ok, "completed run is stored")
}

func TestCreateRun_DefaultCoefficients(t *testing.T) {
	runner := &mockRunner{result: testAssessment()}
	srv, _ := newTestServer(t, runner, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, nil, allFiles()))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, domain.Coefficients{RhoB: 2.68, RhoEB: 1.58}, runner.got.Coefficients)
}

func TestCreateRun_InvalidForm(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		files   func(map[string][]byte)
		wantMsg string
	}{
		{
			name:    "rho_b above range",
			fields:  map[string]string{"rho_b": "5.01"},
			wantMsg: "建筑物损失扩展系数必须在 1 到 5 之间",
		},
		{
			name:    "rho_eb below range",
			fields:  map[string]string{"rho_eb": "0.5"},
			wantMsg: "直接损失系数必须在 1 到 3 之间",
		},
		{
			name:    "rho_b not a number",
			fields:  map[string]string{"rho_b": "abc"},
			wantMsg: "建筑物损失扩展系数必须是数字",
		},
		{
			name:    "missing building archive",
			files:   func(f map[string][]byte) { f["buildings"] = nil },
			wantMsg: "请上传建筑物数据（ZIP）",
		},
		{
			name:    "empty ratio table",
			files:   func(f map[string][]byte) { f["ratios"] = []byte{} },
			wantMsg: "请上传损失比表（CSV）",
		},
		{
			name:    "key with control characters",
			fields:  map[string]string{"tianditu_key": "abc\x01def"},
			wantMsg: "天地图密钥格式无效",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{result: testAssessment()}
			srv, _ := newTestServer(t, runner, nil)
			files := allFiles()
			if tt.files != nil {
				tt.files(files)
			}

			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, uploadRequest(t, tt.fields, files))

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
			assert.Equal(t, 0, runner.calls)
		})
	}
}

func TestCreateRun_StageError(t *testing.T) {
	runner := &mockRunner{err: &pipeline.StageError{Stage: pipeline.StageCompute, Err: domain.ErrNoMatchedBuildings}}
	srv, runs := newTestServer(t, runner, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, map[string]string{"rho_b": "2"}, allFiles()))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "计算损失失败")
	assert.Contains(t, body, domain.ErrNoMatchedBuildings.Error())
	assert.Contains(t, body, `value="2"`, "submitted values are kept")
	assert.Equal(t, 0, runs.Len())
}

func TestCreateRun_UnexpectedError(t *testing.T) {
	srv, _ := newTestServer(t, &mockRunner{err: errors.New("disk full")}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, nil, allFiles()))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestCreateRun_TooLarge(t *testing.T) {
	runner := &mockRunner{result: testAssessment()}
	srv, _ := newTestServer(t, runner, nil)
	files := allFiles()
	files["buildings"] = bytes.Repeat([]byte{'x'}, 2<<20)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, nil, files))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, runner.calls)
}

// --- results ---

func TestRunPage(t *testing.T) {
	srv, runs := newTestServer(t, nil, nil)
	runs.Put(testAssessment())

	rec := get(srv, "/runs/"+testRunID)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "3335.26", "total loss")
	assert.Contains(t, body, "5269.71", "direct loss")
	assert.Contains(t, body, "映秀镇")
	assert.Contains(t, body, "2 栋建筑未参与计算")
	assert.Contains(t, body, `src="/runs/`+testRunID+`/chart.png"`)
	assert.Contains(t, body, `src="/runs/`+testRunID+`/map"`)
	assert.Contains(t, body, "<td>砖混</td>", "price table preview")
	assert.Contains(t, body, domain.BucketExtreme.Color())
}

var lossRowPattern = regexp.MustCompile(`<tr data-unit="([^"]+)" data-loss="([^"]+)">`)

// pageLossTable reads the per-unit loss table rows from a rendered report.
func pageLossTable(t *testing.T, body string) []domain.UnitLoss {
	t.Helper()
	var rows []domain.UnitLoss
	for _, m := range lossRowPattern.FindAllStringSubmatch(body, -1) {
		loss, err := strconv.ParseFloat(m[2], 64)
		require.NoError(t, err)
		rows = append(rows, domain.UnitLoss{Code: m[1], Loss: loss})
	}
	return rows
}

func TestRunPage_LossTableMatchesCSV(t *testing.T) {
	srv, runs := newTestServer(t, nil, nil)
	a := testAssessment()
	// Z002 has buildings but no polygon; Z003 is a polygon without buildings.
	a.Summary.Units = []domain.UnitLoss{{Code: "Z001", Loss: 1234.5}, {Code: "Z002", Loss: 0.1 + 0.2}}
	a.Units = []domain.MappedUnit{
		{Unit: domain.Unit{Code: "Z003"}, Bucket: domain.BucketNoLoss},
		{Unit: domain.Unit{Code: "Z001"}, Loss: 1234.5, Bucket: a.Classifier.Classify(1234.5), PlaceName: "映秀镇"},
	}
	runs.Put(a)

	page := get(srv, "/runs/"+testRunID)
	require.Equal(t, http.StatusOK, page.Code)
	onScreen := pageLossTable(t, page.Body.String())

	csvRec := get(srv, "/runs/"+testRunID+"/loss.csv")
	require.Equal(t, http.StatusOK, csvRec.Code)
	parsed, err := render.ParseLossCSV(csvRec.Body, domain.DefaultSchema())
	require.NoError(t, err)

	assert.Equal(t, parsed, onScreen)
	assert.Equal(t, a.Summary.Units, onScreen)
	assert.NotContains(t, page.Body.String(), `data-unit="Z003"`)
	assert.Contains(t, page.Body.String(), "映秀镇")
}

func TestRunPage_ArtifactErrors(t *testing.T) {
	srv, runs := newTestServer(t, nil, nil)
	a := testAssessment()
	a.Chart, a.ChartError = nil, "nothing to chart"
	a.Map, a.MapError = nil, render.ErrNoGeometry.Error()
	runs.Put(a)

	body := get(srv, "/runs/"+testRunID).Body.String()
	assert.Contains(t, body, "nothing to chart")
	assert.Contains(t, body, render.ErrNoGeometry.Error())
	assert.NotContains(t, body, "<iframe")

	assert.Equal(t, http.StatusNotFound, get(srv, "/runs/"+testRunID+"/chart.png").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/runs/"+testRunID+"/map").Code)
}

func TestRunPage_Unknown(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	for _, path := range []string{"/runs/missing", "/runs/missing/loss.csv", "/runs/missing/loss.xlsx", "/runs/missing/map"} {
		assert.Equal(t, http.StatusNotFound, get(srv, path).Code, path)
	}
}

func TestLossCSVDownload(t *testing.T) {
	srv, runs := newTestServer(t, nil, nil)
	a := testAssessment()
	runs.Put(a)

	rec := get(srv, "/runs/"+testRunID+"/loss.csv")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "地震损失评估结果.csv", params["filename"])

	want, err := render.LossCSV(a.Summary.Units, domain.DefaultSchema())
	require.NoError(t, err)
	assert.Equal(t, want, rec.Body.Bytes())

	parsed, err := render.ParseLossCSV(rec.Body, domain.DefaultSchema())
	require.NoError(t, err)
	assert.Equal(t, a.Summary.Units, parsed)
}

func TestLossXLSXDownload(t *testing.T) {
	srv, runs := newTestServer(t, nil, nil)
	runs.Put(testAssessment())

	rec := get(srv, "/runs/"+testRunID+"/loss.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Loss")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Z001", rows[1][0])
}

func TestChartAndMap(t *testing.T) {
	srv, runs := newTestServer(t, nil, nil)
	runs.Put(testAssessment())

	rec := get(srv, "/runs/"+testRunID+"/chart.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = get(srv, "/runs/"+testRunID+"/map")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Equal(t, "<html>map</html>", rec.Body.String())
}
