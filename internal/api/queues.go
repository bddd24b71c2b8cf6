package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleQueueStatusAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queues": s.queue.StatusAll()})
}

func (s *Server) handleQueueConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"configs": s.queue.ConfigSummary()})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	st, ok := s.queue.Status(key)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("queue %q not found", key))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := s.queue.Status(key); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("queue %q not found", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queueKey": key, "cleared": s.queue.Clear(key)})
}

func (s *Server) handleClearAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cleared": s.queue.ClearAll()})
}

// handleMirror returns what the Redis mirror holds for key, which includes
// lanes served by other instances. ?errors=n bounds the failure list.
func (s *Server) handleMirror(w http.ResponseWriter, r *http.Request) {
	if s.mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "stats mirror not configured")
		return
	}
	key := chi.URLParam(r, "key")
	n := int64(10)
	if v := r.URL.Query().Get("errors"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "errors must be a positive integer")
			return
		}
		n = parsed
	}

	snap, err := s.mirror.Snapshot(r.Context(), key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if len(snap) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("queue %q not mirrored", key))
		return
	}
	recent, err := s.mirror.RecentErrors(r.Context(), key, n)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if recent == nil {
		recent = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queueKey": key, "mirror": snap, "recentErrors": recent})
}
