package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lvonguyen/osintforge/internal/engine"
	"github.com/lvonguyen/osintforge/internal/investigation"
	"github.com/lvonguyen/osintforge/internal/source"
)

// SubmitResponse is returned by POST /api/v1/investigations.
type SubmitResponse struct {
	Fingerprint string                     `json:"fingerprint"`
	ID          string                     `json:"id"`
	Status      investigation.RequestState `json:"status"`
	Report      *investigation.Report      `json:"report,omitempty"`
}

// Health and readiness handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.config.Version,
	})
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Status  string          `json:"status"`
	Error   string          `json:"error,omitempty"`
	Sources []source.Status `json:"sources"`
}

// handleReady reports ready when at least one source answers its health
// check and the report store, if any, is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.config.HealthCheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.HealthCheckTimeout)
		defer cancel()
	}

	resp := ReadyResponse{Status: "ready", Sources: s.registry.Check(ctx)}
	switch {
	case len(resp.Sources) == 0:
		resp.Error = "no sources registered"
	case !source.AnyHealthy(resp.Sources):
		resp.Error = "no healthy sources"
	default:
		if err := s.investigations.Ready(ctx); err != nil {
			resp.Error = err.Error()
		}
	}

	if resp.Error != "" {
		resp.Status = "not ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Investigation handlers

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	var q investigation.Query
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, span := s.startSpan(r.Context(), "api.submit")
	defer span.End()

	sub, err := s.investigations.Submit(ctx, q)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	resp := SubmitResponse{
		Fingerprint: sub.Fingerprint,
		ID:          sub.Run.ID(),
		Status:      sub.Status,
	}
	if sub.Report != nil {
		resp.Report = sub.Report
		writeJSON(w, http.StatusOK, resp)
		return
	}
	w.Header().Set("Location", "/api/v1/investigations/"+sub.Fingerprint)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	run, err := s.investigations.Run(r.Context(), fp)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, investigation.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "investigation not found")
	case errors.Is(err, engine.ErrGone):
		writeError(w, http.StatusGone, "investigation expired")
	default:
		fields := []zap.Field{zap.String("path", r.URL.Path), zap.Error(err)}
		if s.telemetry != nil {
			s.telemetry.RecordError(r.Context(), err, fields...)
		} else {
			s.logger.Error("request failed", fields...)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
