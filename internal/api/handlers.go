package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/user/pagejson-service/internal/domain"
	"github.com/user/pagejson-service/internal/storage"
	"go.uber.org/zap"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Entries   int               `json:"cacheEntries"`
	SizeBytes int64             `json:"cacheSizeBytes"`
}

type sweepResponse struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

type failuresResponse struct {
	Path                string `json:"path"`
	ConsecutiveFailures int64  `json:"consecutiveFailures"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	check := func(name string, p Pinger) {
		if err := p.Ping(ctx); err != nil {
			checks[name] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed", zap.String("store", name), zap.Error(err))
			return
		}
		checks[name] = "healthy"
	}
	if s.history != nil {
		check("postgres", s.history)
	}
	if s.failures != nil {
		check("redis", s.failures)
	}

	stats := s.pipeline.Stats()
	resp := healthResponse{Status: "ok", Checks: checks, Entries: stats.EntryCount, SizeBytes: stats.TotalSizeBytes}
	if !healthy {
		resp.Status = "degraded"
		s.respondWithJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.pipeline.Stats())
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	removed := s.pipeline.SweepExpired()
	s.logger.Info("manual cache sweep", zap.Int("removed", removed))
	s.respondWithJSON(w, http.StatusOK, sweepResponse{Removed: removed, Remaining: s.pipeline.Stats().EntryCount})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if s.failures == nil {
		s.respondWithError(w, http.StatusNotFound, s.errorBody(domain.KindFetch, "failure tracking is not configured", http.StatusNotFound))
		return
	}
	path, ok := s.requirePath(w, r)
	if !ok {
		return
	}
	count, err := s.failures.FailureCount(r.Context(), path)
	if err != nil {
		s.logger.Error("failed to read failure count", zap.String("path", path), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, s.errorBody(domain.KindFetch, "could not read failure count", http.StatusInternalServerError))
		return
	}
	s.respondWithJSON(w, http.StatusOK, failuresResponse{Path: path, ConsecutiveFailures: count})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondWithError(w, http.StatusNotFound, s.errorBody(domain.KindFetch, "extraction history is not configured", http.StatusNotFound))
		return
	}
	path, ok := s.requirePath(w, r)
	if !ok {
		return
	}
	h, err := s.history.GetHistory(r.Context(), path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, s.errorBody(domain.KindFetch, "no history for "+path, http.StatusNotFound))
			return
		}
		s.logger.Error("failed to get history", zap.String("path", path), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, s.errorBody(domain.KindFetch, "could not retrieve history", http.StatusInternalServerError))
		return
	}
	s.respondWithJSON(w, http.StatusOK, h)
}

func (s *Server) requirePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondWithError(w, http.StatusBadRequest, s.errorBody(domain.KindInvalidConfig, "path query parameter is required", http.StatusBadRequest))
		return "", false
	}
	return path, true
}
