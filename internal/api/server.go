// Package api exposes the graph over HTTP: ingestion and review for the
// discovery queue, consent-filtered entity reads, rankings, and research
// sessions.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/discovery"
	"github.com/open-justice/intervention-graph/internal/entity"
	"github.com/open-justice/intervention-graph/internal/model"
	"github.com/open-justice/intervention-graph/internal/research"
	"github.com/open-justice/intervention-graph/internal/scorer"
)

// Server wires the HTTP handlers over the domain components.
type Server struct {
	entities entity.Store
	pipeline *discovery.Pipeline
	queue    discovery.Store
	ranker   *scorer.Ranker
	engine   *research.Engine
	sessions research.Store
	router   chi.Router
}

// NewServer builds the router.
func NewServer(
	entities entity.Store,
	pipeline *discovery.Pipeline,
	queue discovery.Store,
	ranker *scorer.Ranker,
	engine *research.Engine,
	sessions research.Store,
	allowedOrigins []string,
) *Server {
	s := &Server{
		entities: entities,
		pipeline: pipeline,
		queue:    queue,
		ranker:   ranker,
		engine:   engine,
		sessions: sessions,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/discovery/items", func(r chi.Router) {
			r.Post("/", s.handleIngest)
			r.Get("/", s.handleListItems)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/merge", s.handleMerge)
		})

		r.Route("/interventions", func(r chi.Router) {
			r.Get("/", s.handleListInterventions)
			r.Get("/rankings", s.handleRankings)
			r.Get("/{id}", s.handleGetIntervention)
			r.Get("/{id}/score", s.handleScore)
			r.Get("/{id}/evidence", s.handleListEvidence)
			r.Post("/{id}/evidence", s.handleAttachEvidence)
			r.Get("/{id}/outcomes", s.handleListOutcomes)
			r.Post("/{id}/outcomes", s.handleAttachOutcome)
		})

		r.Route("/evidence", func(r chi.Router) {
			r.Get("/{id}", s.handleGetEvidence)
			r.Post("/{id}/articles", s.handleLinkArticle)
		})

		r.Route("/contexts", func(r chi.Router) {
			r.Post("/", s.handleCreateContext)
			r.Get("/", s.handleListContexts)
		})

		r.Route("/research/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Get("/{id}/tool-logs", s.handleToolLogs)
			r.Post("/{id}/feedback", s.handleFeedback)
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	zap.L().Info("api listening", zap.Int("port", port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

// writeError maps the domain error taxonomy onto status codes. A consent
// violation is reported exactly like a missing record so the existence of
// gated data never leaks.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var message string
	switch {
	case model.IsValidation(err):
		status, message = http.StatusBadRequest, err.Error()
	case model.IsConsentViolation(err), model.IsNotFound(err):
		status, message = http.StatusNotFound, "not found"
	case model.IsConflict(err):
		status, message = http.StatusConflict, err.Error()
	default:
		status, message = http.StatusInternalServerError, "internal error"
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// ceilingParam parses the required consent ceiling query parameter. The
// admin sentinel is not accepted here: the HTTP boundary never exposes an
// unfiltered read path.
func ceilingParam(r *http.Request) (model.ConsentLevel, error) {
	raw := r.URL.Query().Get("ceiling")
	if raw == "" {
		return "", model.NewValidationError("ceiling", "must be provided")
	}
	level, err := model.ParseConsentLevel(raw)
	if err != nil || level == model.ConsentAdminCeiling {
		return "", model.NewValidationError("ceiling", "unknown level")
	}
	return level, nil
}
