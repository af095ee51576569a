// Package api exposes the HTTP interface for the aggregator service.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fedjobs/aggregator/internal/config"
	"github.com/fedjobs/aggregator/internal/ingest"
	"github.com/fedjobs/aggregator/internal/jobs"
	"github.com/fedjobs/aggregator/internal/metrics"
)

// Ingestor triggers background ingestion runs.
type Ingestor interface {
	Trigger(opts ingest.Options) string
}

// Server wires HTTP handlers to the job store and the ingestion
// orchestrator.
type Server struct {
	router   chi.Router
	store    jobs.Store
	ingestor Ingestor
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store jobs.Store, ingestor Ingestor, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	s := &Server{
		store:    store,
		ingestor: ingestor,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/ingest", s.triggerIngest)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.searchJobs)
			r.Get("/stats", s.jobStats)
			r.Get("/organizations", s.listOrganizations)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only downstream; a cheap aggregate doubles as a
	// liveness probe for it.
	if _, err := s.store.AggregateStats(r.Context(), jobs.SearchQuery{}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerIngest starts a background run and returns immediately. Run
// failures surface through logs and counters only.
func (s *Server) triggerIngest(w http.ResponseWriter, r *http.Request) {
	smoke := false
	if raw := r.URL.Query().Get("smoke"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "smoke must be a boolean")
			return
		}
		smoke = parsed
	}

	runID := s.ingestor.Trigger(ingest.Options{Smoke: smoke})
	s.logger.Info("ingestion run accepted", zap.String("run_id", runID), zap.Bool("smoke", smoke))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"run_id": runID,
		"smoke":  smoke,
	})
}

func (s *Server) searchJobs(w http.ResponseWriter, r *http.Request) {
	query, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.store.SearchJobs(r.Context(), query)
	if err != nil {
		s.logger.Error("job search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	results := page.Results
	if results == nil {
		results = []jobs.JobRecord{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Results:    results,
		Count:      len(results),
		NextCursor: page.NextCursor,
	})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	query, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.store.AggregateStats(r.Context(), query)
	if err != nil {
		s.logger.Error("job stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	query, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orgs, err := s.store.ListOrganizations(r.Context(), query)
	if err != nil {
		s.logger.Error("organization listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "organization listing failed")
		return
	}
	if orgs.Organizations == nil {
		orgs.Organizations = []string{}
	}
	writeJSON(w, http.StatusOK, orgs)
}

// parseSearchQuery maps query parameters onto a store query. The keyword
// parameter repeats, city and state are single-valued.
func parseSearchQuery(r *http.Request) (jobs.SearchQuery, error) {
	values := r.URL.Query()
	query := jobs.SearchQuery{
		Keywords: values["keyword"],
		City:     values.Get("city"),
		State:    values.Get("state"),
		Cursor:   values.Get("cursor"),
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return jobs.SearchQuery{}, errInvalidLimit
		}
		query.Limit = limit
	}
	return query, nil
}

type searchResponse struct {
	Results    []jobs.JobRecord `json:"results"`
	Count      int              `json:"count"`
	NextCursor string           `json:"next_cursor,omitempty"`
}
