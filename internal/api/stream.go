package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// SSE event names.
const (
	EventSnapshot = "snapshot"
	EventComplete = "complete"
	EventPing     = "ping"
)

// handleStream pushes a snapshot event for every merge step and a final
// complete event once the investigation is terminal.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	run, err := s.investigations.Run(r.Context(), fp)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, unsubscribe := run.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := s.config.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	seq := 0
	send := func(event string, data interface{}) bool {
		seq++
		err := sse.Encode(w, sse.Event{
			Event: event,
			Id:    fp + "-" + strconv.Itoa(seq),
			Data:  data,
		})
		if err != nil {
			s.logger.Debug("stream write failed", zap.String("fingerprint", fp), zap.Error(err))
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case report, ok := <-updates:
			if !ok {
				send(EventComplete, run.Snapshot())
				return
			}
			if !send(EventSnapshot, report) {
				return
			}
		case <-ticker.C:
			if !send(EventPing, map[string]investigation.RequestState{"status": run.Status()}) {
				return
			}
		}
	}
}
