package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dgallion1/irdigest/internal/config"
	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/extract"
	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Records is the ledger surface the API reads and deletes through.
type Records interface {
	GetByFilename(ctx context.Context, filename string) (*deck.Record, error)
	GetByID(ctx context.Context, id int64) (*deck.Record, error)
	ListAll(ctx context.Context) ([]deck.Record, error)
	DeleteByID(ctx context.Context, id int64) error
}

// Jobs accepts uploads for background analysis.
type Jobs interface {
	Submit(job *pipeline.Job) error
	GetJob(id string) *pipeline.Job
	QueueDepth() int
}

// Deliverer re-publishes a stored record.
type Deliverer interface {
	Deliver(ctx context.Context, rec deck.Record) error
}

type Deps struct {
	Records  Records
	Jobs     Jobs
	Delivery Deliverer       // optional
	LLM      *extract.Client // optional, for /api/stats/llm
}

// Server is the HTTP API server for irdigest.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
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
		r.Use(AuthMiddleware(s.cfg.Server.APIKey, s.log))

		r.Post("/api/analyses", s.handleUpload)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)

		r.Get("/api/analyses", s.handleListAnalyses)
		r.Get("/api/analyses/export.csv", s.handleExportCSV)
		r.Get("/api/analyses/{id}", s.handleGetAnalysis)
		r.Get("/api/analyses/{id}/report", s.handleReport)
		r.Delete("/api/analyses/{id}", s.handleDeleteAnalysis)
		r.Post("/api/analyses/{id}/deliver", s.handleDeliver)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
