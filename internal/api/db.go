package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SirClappington/edgeq/internal/domain"
	"github.com/SirClappington/edgeq/internal/storage"
)

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.Tables(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleTableSchema(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	cols, err := s.store.TableSchema(r.Context(), table)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": cols})
}

// handleSelect filters on every query parameter except limit.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	table, ok := s.existingTable(w, r)
	if !ok {
		return
	}
	where := queryFilter(r)
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rows, err := s.store.Select(r.Context(), table, where, limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if rows == nil {
		rows = []storage.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rows, "count": len(rows)})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	table, ok := s.existingTable(w, r)
	if !ok {
		return
	}
	body, err := decodeObject(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.write(w, r, http.StatusCreated, domain.TableWrite{Op: domain.OpInsert, Table: table, Data: body})
}

// handleUpdate expects {"data": {...}, "where": {...}}.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table, ok := s.existingTable(w, r)
	if !ok {
		return
	}
	body, err := decodeObject(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	data, _ := body["data"].(map[string]any)
	where, _ := body["where"].(map[string]any)
	s.write(w, r, http.StatusOK, domain.TableWrite{Op: domain.OpUpdate, Table: table, Data: data, Where: where})
}

// handleDelete takes its conditions from the query string.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table, ok := s.existingTable(w, r)
	if !ok {
		return
	}
	s.write(w, r, http.StatusOK, domain.TableWrite{Op: domain.OpDelete, Table: table, Where: queryFilter(r)})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, tw domain.TableWrite) {
	res, err := s.enqueue(r, domain.TableQueue(tw.Table), tw, s.processTableWrite, s.dbLane)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, status, res)
}

func (s *Server) processTableWrite(ctx context.Context, payload any) (any, error) {
	tw, ok := payload.(domain.TableWrite)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T on table lane", payload)
	}
	switch tw.Op {
	case domain.OpInsert:
		return s.store.Insert(ctx, tw.Table, tw.Data)
	case domain.OpUpdate:
		return s.store.Update(ctx, tw.Table, tw.Data, tw.Where)
	case domain.OpDelete:
		return s.store.Delete(ctx, tw.Table, tw.Where)
	default:
		return nil, fmt.Errorf("unknown write op %q", tw.Op)
	}
}

func (s *Server) existingTable(w http.ResponseWriter, r *http.Request) (string, bool) {
	table := chi.URLParam(r, "table")
	ok, err := s.store.TableExists(r.Context(), table)
	if err != nil {
		s.writeFailure(w, r, err)
		return "", false
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("table %q not found", table))
		return "", false
	}
	return table, true
}

func queryFilter(r *http.Request) storage.Row {
	where := storage.Row{}
	for k, vs := range r.URL.Query() {
		if k == "limit" || k == "token" || len(vs) == 0 {
			continue
		}
		where[k] = vs[0]
	}
	return where
}
