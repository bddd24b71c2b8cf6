package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SirClappington/edgeq/internal/domain"
)

// defaultRecordID is the record GET /api/user reads.
const defaultRecordID = "2"

func (s *Server) token(r *http.Request, body map[string]any) string {
	if t, ok := body["token"].(string); ok && t != "" {
		return t
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return s.upstream.DefaultToken()
}

// handleGetUser proxies the default visit record. When the record's
// description holds JSON, the decoded description is returned instead of
// the envelope.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.upstream.GetVisitRecord(r.Context(), defaultRecordID, s.token(r, nil))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	desc, ok := description(res)
	if !ok {
		writeJSON(w, http.StatusOK, res)
		return
	}
	var parsed any
	if err := json.Unmarshal([]byte(desc), &parsed); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"error":      "failed to parse description",
			"raw":        desc,
			"parseError": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, parsed)
}

func description(res any) (string, bool) {
	env, ok := res.(map[string]any)
	if !ok {
		return "", false
	}
	data, ok := env["data"].(map[string]any)
	if !ok {
		return "", false
	}
	desc, ok := data["description"].(string)
	return desc, ok && desc != ""
}

// handleUpdateUser stores the request body on visit record {id}. Updates
// are serialized on the user-api lane and paced by its processing delay.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	update := domain.VisitUpdate{
		RecordID: chi.URLParam(r, "id"),
		Token:    s.token(r, body),
		Body:     body,
	}
	delete(update.Body, "token")

	res, err := s.enqueue(r, domain.UserAPIQueue, update, s.processVisitUpdate, s.userLane)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) processVisitUpdate(ctx context.Context, payload any) (any, error) {
	u, ok := payload.(domain.VisitUpdate)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T on %s", payload, domain.UserAPIQueue)
	}
	return s.upstream.PatchVisitRecord(ctx, u.RecordID, u.Token, u.Body)
}
