// Package api exposes the HTTP surface: company and document management,
// analysis job control, and the market data endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/filing-analyzer/internal/analysis"
	"github.com/sells-group/filing-analyzer/internal/config"
	"github.com/sells-group/filing-analyzer/internal/docstore"
	"github.com/sells-group/filing-analyzer/internal/store"
)

const version = "1.0.0"

// Server bundles the handler dependencies.
type Server struct {
	store    store.Store
	docs     *docstore.Dirs
	runner   *analysis.Runner
	registry *analysis.Registry
	upload   config.UploadConfig
}

// New assembles the server.
func New(st store.Store, docs *docstore.Dirs, runner *analysis.Runner, registry *analysis.Registry, upload config.UploadConfig) *Server {
	return &Server{
		store:    st,
		docs:     docs,
		runner:   runner,
		registry: registry,
		upload:   upload,
	}
}

// Router builds the route table with CORS and request logging applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/", s.handleRoot)
	r.Get("/api/health", s.handleHealth)

	r.Post("/api/companies", s.handleCreateCompany)
	r.Get("/api/companies", s.handleListCompanies)

	r.Post("/api/documents/upload", s.handleUploadDocument)
	r.Get("/api/documents/{company_symbol}", s.handleListDocuments)

	r.Post("/api/analysis/risk-evolution", s.handleTriggerAnalysis)
	r.Get("/api/analysis/status/{job_id}", s.handleJobStatus)
	r.Get("/api/results/risk-evolution/{company_symbol}", s.handleResults)

	r.Post("/upload-csv", s.handleUploadCSV)
	r.Post("/compute-indicators", s.handleComputeIndicators)
	r.Post("/backtest", s.handleBacktest)
	r.Post("/upload-image", s.handleUploadImage)

	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
