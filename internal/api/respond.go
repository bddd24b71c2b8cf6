package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/SirClappington/edgeq/internal/storage"
	"github.com/SirClappington/edgeq/internal/taskqueue"
	"github.com/SirClappington/edgeq/internal/upstream"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps err onto an HTTP status.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Sugar().Errorw("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var se *upstream.StatusError
	switch {
	case errors.Is(err, taskqueue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, taskqueue.ErrProcessingTimeout), errors.Is(err, errGaveUp):
		return http.StatusGatewayTimeout
	case errors.Is(err, taskqueue.ErrNoProcessor), errors.Is(err, taskqueue.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrEmptyData), errors.Is(err, storage.ErrEmptyWhere), errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrTableNotFound):
		return http.StatusNotFound
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var errBadBody = errors.New("request body must be a JSON object")

// decodeObject reads a JSON object body. A body that is empty or not
// declared as JSON decodes to an empty object.
func decodeObject(r *http.Request) (map[string]any, error) {
	out := map[string]any{}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "application/json" {
		return out, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, errBadBody
	}
	if out == nil {
		return nil, errBadBody
	}
	return out, nil
}
