package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/config"
	"github.com/dgallion1/docrank/internal/embedding"
	"github.com/dgallion1/docrank/internal/pipeline"
)

// StatsSource reports embedding latency aggregates.
type StatsSource interface {
	Stats() embedding.StatsSnapshot
}

// Server is the HTTP API server for docrank.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        StatsSource
	log          *zap.Logger
	cfg          config.ServerConfig
	docDir       string
}

// NewServer creates and configures the HTTP server. Instructions submitted
// over HTTP resolve their documents under docDir.
func NewServer(orch *pipeline.Orchestrator, stats StatsSource, log *zap.Logger, cfg config.ServerConfig, docDir string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		log:          log,
		cfg:          cfg,
		docDir:       docDir,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		}

		r.Post("/api/rank", s.handleRank)
		r.Post("/api/rank/batch", s.handleBatchRank)
		r.Get("/api/rank/{runID}/status", s.handleRankStatus)
		r.Get("/api/rank/{runID}/result", s.handleRankResult)
		r.Get("/api/stats/embedding", s.handleEmbeddingStats)

		r.Get("/api/documents", s.handleListDocuments)
		r.Post("/api/documents", s.handleUploadDocument)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
