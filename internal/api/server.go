package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dgallion1/docenrich/internal/config"
	"github.com/dgallion1/docenrich/internal/llm"
	"github.com/dgallion1/docenrich/internal/pathstore"
	"github.com/dgallion1/docenrich/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ExportStore reads back and removes chunks a job exported.
type ExportStore interface {
	ExportedChunks(ctx context.Context, jobID string) ([]pathstore.ChunkRecord, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Deps are the collaborators the API serves.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Model        llm.Model
	Stats        *llm.Stats
	// Exports is nil when no export target is configured.
	Exports  ExportStore
	Defaults config.DocumentDefaults
}

// Server is the HTTP API server for docenrich.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(cfg config.Config, deps Deps, log *slog.Logger) *Server {
	s := &Server{
		deps: deps,
		log:  log,
		cfg:  cfg,
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

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.DocenrichAPIKey, s.log))

		r.Get("/api/stages", s.handleStages)
		r.Post("/api/render", s.handleRender)

		r.Route("/api/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Post("/upload", s.handleUploadRun)
			r.Get("/{jobID}", s.handleRunStatus)
			r.Delete("/{jobID}", s.handleCancelRun)
			r.Get("/{jobID}/chunks", s.handleRunChunks)
			r.Get("/{jobID}/export", s.handleExportedChunks)
			r.Delete("/{jobID}/export", s.handleDeleteExport)
		})

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stages": s.deps.Orchestrator.StageNames()})
}
