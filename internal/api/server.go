// Package api exposes the HTTP interface for the batch service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbrapp1/sourcebatch/internal/batch"
	"github.com/kbrapp1/sourcebatch/internal/config"
	"github.com/kbrapp1/sourcebatch/internal/metrics"
	"github.com/kbrapp1/sourcebatch/internal/processor/crawl"
	"github.com/kbrapp1/sourcebatch/internal/publisher"
	"github.com/kbrapp1/sourcebatch/internal/store"
)

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the orchestrator and run store.
type Server struct {
	router       chi.Router
	orchestrator *batch.Orchestrator
	processor    batch.Processor
	runStore     store.Store
	publisher    publisher.Publisher
	idGen        IDGenerator
	clock        batch.Clock
	cfg          config.Config
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orchestrator *batch.Orchestrator,
	processor batch.Processor,
	runStore store.Store,
	pub publisher.Publisher,
	idGen IDGenerator,
	clock batch.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: orchestrator,
		processor:    processor,
		runStore:     runStore,
		publisher:    pub,
		idGen:        idGen,
		clock:        clock,
		cfg:          cfg,
		logger:       logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(5 * time.Minute))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.runBatch)
			r.Get("/", s.listRuns)
			r.Get("/{run_id}", s.getRun)
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runBatchRequest struct {
	Items          []runItemRequest `json:"items"`
	ForceRefresh   *bool            `json:"force_refresh"`
	MaxConcurrency *int             `json:"max_concurrency"`
}

type runItemRequest struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
	URL    string `json:"url"`
}

type runBatchResponse struct {
	RunID   string        `json:"run_id"`
	Summary batch.Summary `json:"summary"`
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	var req runBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	items, err := validateItems(req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := s.buildOptions(req)

	summary, err := s.orchestrator.Run(r.Context(), items, opts, s.processor)
	if err != nil {
		var admission *batch.AdmissionError
		if errors.As(err, &admission) {
			writeError(w, http.StatusBadRequest, admission.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.ObserveRun(
		summary.OverallSuccess,
		summary.SuccessfulItems,
		summary.FailedItems,
		summary.SkippedItems,
		time.Duration(summary.ProcessingTimeMs)*time.Millisecond,
	)

	runID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate run id failed")
		return
	}
	record := store.RunRecord{
		ID:        runID,
		CreatedAt: s.clock.Now(),
		Summary:   summary,
	}
	if err := s.runStore.SaveRun(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("save run: %v", err))
		return
	}
	s.publishSummary(r.Context(), record)

	// Partial failure is a domain outcome, not a transport error: the
	// caller inspects overall_success and errors in the body.
	writeJSON(w, http.StatusOK, runBatchResponse{RunID: runID, Summary: summary})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	record, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "fetch run failed")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	query := store.ListQuery{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		query.Limit = limit
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		query.Before = before
	}

	records, err := s.runStore.ListRuns(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

// validateItems is the request-shape gate: it runs before the orchestrator
// is touched and turns a malformed list into a 400.
func validateItems(items []runItemRequest) ([]batch.Item, error) {
	if len(items) == 0 {
		return nil, errors.New("at least one item required")
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]batch.Item, 0, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("items[%d].id is required", i)
		}
		if item.URL == "" {
			return nil, fmt.Errorf("items[%d].url is required", i)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("duplicate item id %q", item.ID)
		}
		seen[item.ID] = struct{}{}
		out = append(out, batch.Item{
			ID:      item.ID,
			Active:  item.Active,
			Payload: crawl.Source{URL: item.URL},
		})
	}
	return out, nil
}

func (s *Server) buildOptions(req runBatchRequest) batch.Options {
	opts := s.cfg.BatchOptions()
	if req.ForceRefresh != nil {
		opts.ForceRefresh = *req.ForceRefresh
	}
	if req.MaxConcurrency != nil {
		opts.MaxConcurrency = *req.MaxConcurrency
	}
	return opts
}

func (s *Server) publishSummary(ctx context.Context, record store.RunRecord) {
	if s.publisher == nil || s.cfg.PubSub.TopicName == "" {
		return
	}
	id, err := s.publisher.Publish(ctx, s.cfg.PubSub.TopicName, record)
	if err != nil {
		s.logger.Warn("publish run summary failed",
			zap.String("run_id", record.ID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("run summary published",
		zap.String("run_id", record.ID),
		zap.String("message_id", id),
	)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
