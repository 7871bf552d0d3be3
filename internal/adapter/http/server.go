// Package http serves the assessment web interface: the upload form, result
// pages, downloads, and the health, readiness and metrics endpoints.
package http

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
	"github.com/couchcryptid/quake-loss-estimator/internal/store"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// Runner executes one assessment run.
type Runner interface {
	Run(ctx context.Context, in pipeline.Inputs) (*pipeline.Assessment, error)
}

// Options configure request handling.
type Options struct {
	MaxUploadBytes      int64
	DefaultCoefficients domain.Coefficients
	Schema              domain.Schema
}

// Server exposes the assessment UI plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	opts       Options
	runner     Runner
	runs       *store.Store
	pages      *template.Template
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the UI routes and /healthz, /readyz,
// and /metrics.
func NewServer(addr string, opts Options, runner Runner, runs *store.Store, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
			// Uploads and runs are slow compared to health probes.
			ReadTimeout:  2 * time.Minute,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		opts:     opts,
		runner:   runner,
		runs:     runs,
		pages:    template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html.tmpl")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /runs/{id}/loss.csv", s.handleLossCSV)
	mux.HandleFunc("GET /runs/{id}/loss.xlsx", s.handleLossXLSX)
	mux.HandleFunc("GET /runs/{id}/chart.png", s.handleChart)
	mux.HandleFunc("GET /runs/{id}/map", s.handleMap)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// renderPage executes a page template into a buffer so a template error never
// leaves a half-written response.
func (s *Server) renderPage(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render page failed", "page", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes()) //nolint:errcheck // client went away
}
