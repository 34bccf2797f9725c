package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/prashant21b/kreditbee/internal/pipeline"
	"github.com/prashant21b/kreditbee/internal/ratelimit"
	"github.com/prashant21b/kreditbee/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSyncTrigger starts a pipeline run. The run itself is asynchronous;
// 202 only means the trigger was accepted.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	mode := pipeline.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = pipeline.ModeFull
	}

	err := s.deps.Pipeline.Trigger(r.Context(), mode)
	switch {
	case errors.Is(err, pipeline.ErrInvalidMode):
		s.respondError(w, http.StatusBadRequest, "mode must be full or incremental")
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		s.respondError(w, http.StatusConflict, "a pipeline run is already in progress")
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, "failed to trigger sync")
	default:
		s.respondJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"mode":   string(mode),
		})
	}
}

type syncStatusResponse struct {
	Pipeline    *store.PipelineStatus    `json:"pipeline"`
	SyncCounts  []store.StatusCount      `json:"sync_counts"`
	RateLimiter []ratelimit.BucketStatus `json:"rate_limiter,omitempty"`
}

// handleSyncStatus combines the pipeline row, the sync-state histogram, and a
// non-consuming peek of the admission buckets. A limiter store outage only
// drops the limiter section.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Status.Get(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read pipeline status")
		return
	}

	counts, err := s.deps.Sync.Histogram(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read sync counts")
		return
	}

	buckets, err := s.deps.Limiter.Status(r.Context())
	if err != nil {
		s.logger.WarnContext(r.Context(), "rate limiter status unavailable", "error", err)
		buckets = nil
	}

	s.respondJSON(w, http.StatusOK, syncStatusResponse{
		Pipeline:    status,
		SyncCounts:  counts,
		RateLimiter: buckets,
	})
}
