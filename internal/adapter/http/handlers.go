package http

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strconv"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
	"github.com/couchcryptid/quake-loss-estimator/internal/render"
)

const recentRuns = 10

// Download file names.
const (
	lossCSVName  = "地震损失评估结果.csv"
	lossXLSXName = "地震损失评估结果.xlsx"
)

var stageLabels = map[pipeline.Stage]string{
	pipeline.StageLookup:  "读取上传文件",
	pipeline.StageIngest:  "解析数据",
	pipeline.StageCompute: "计算损失",
}

type indexPage struct {
	Form     formValues
	Errors   map[string]string
	RunError string
	Recent   []*pipeline.Assessment
}

type resultPage struct {
	*pipeline.Assessment
	Schema domain.Schema
}

var templateFuncs = template.FuncMap{
	"fixed2": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	"exact":  func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
	"short":  shortID,
	"when":   func(a *pipeline.Assessment) string { return a.CreatedAt.Format("2006-01-02 15:04:05") },
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.renderPage(w, http.StatusOK, "index", s.indexPage(formValues{
		RhoB:  strconv.FormatFloat(s.opts.DefaultCoefficients.RhoB, 'f', -1, 64),
		RhoEB: strconv.FormatFloat(s.opts.DefaultCoefficients.RhoEB, 'f', -1, 64),
	}))
}

func (s *Server) indexPage(values formValues) indexPage {
	return indexPage{Form: values, Recent: s.runs.Recent(recentRuns)}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	in, values, fieldErrs, err := s.parseRunForm(w, r)
	if errors.Is(err, errTooLarge) {
		page := s.indexPage(values)
		page.RunError = fmt.Sprintf("上传文件总大小超过限制（%d MB）", s.opts.MaxUploadBytes>>20)
		s.renderPage(w, http.StatusRequestEntityTooLarge, "index", page)
		return
	}
	if err != nil {
		s.logger.Warn("bad run request", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(fieldErrs) > 0 {
		page := s.indexPage(values)
		page.Errors = fieldErrs
		s.renderPage(w, http.StatusUnprocessableEntity, "index", page)
		return
	}

	a, err := s.runner.Run(r.Context(), in)
	if err != nil {
		stage := pipeline.StageOf(err)
		if stage == "" {
			s.logger.Error("run failed", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		page := s.indexPage(values)
		page.RunError = fmt.Sprintf("%s失败：%v", stageLabels[stage], errors.Unwrap(err))
		s.renderPage(w, http.StatusUnprocessableEntity, "index", page)
		return
	}

	s.runs.Put(a)
	http.Redirect(w, r, "/runs/"+a.ID, http.StatusSeeOther)
}

// lookupRun writes a not-found page and returns false for unknown IDs.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*pipeline.Assessment, bool) {
	a, ok := s.runs.Get(r.PathValue("id"))
	if !ok {
		s.renderPage(w, http.StatusNotFound, "notfound", nil)
	}
	return a, ok
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.renderPage(w, http.StatusOK, "result", resultPage{Assessment: a, Schema: s.opts.Schema})
}

func (s *Server) handleLossCSV(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	data, err := render.LossCSV(a.Summary.Units, s.opts.Schema)
	if err != nil {
		s.logger.Error("write loss csv failed", "run_id", a.ID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeDownload(w, "text/csv; charset=utf-8", lossCSVName, data)
}

func (s *Server) handleLossXLSX(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.WriteLossXLSX(&buf, a.Workbook(), s.opts.Schema); err != nil {
		s.logger.Error("write loss workbook failed", "run_id", a.ID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeDownload(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", lossXLSXName, buf.Bytes())
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if len(a.Chart) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(a.Chart) //nolint:errcheck // client went away
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if len(a.Map) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(a.Map) //nolint:errcheck // client went away
}

func writeDownload(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data) //nolint:errcheck // client went away
}
