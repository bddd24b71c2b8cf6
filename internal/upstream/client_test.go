package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVisitRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/admin/voter/visitRecord/2", r.URL.Path)
		assert.Equal(t, "Bearer default-token", r.Header.Get("Authorization"))
		assert.Equal(t, "edgeq/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"data":{"description":"{\"a\":1}"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/admin/voter/", "default-token", time.Second)
	got, err := c.GetVisitRecord(context.Background(), "2", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"data": map[string]any{"description": `{"a":1}`}}, got)
}

func TestPatchVisitRecordWrapsBodyAsDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/visitRecord/42", r.URL.Path)
		assert.Equal(t, "Bearer caller-token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `{"name":"amy","visits":3}`, body["description"])

		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := New(srv.URL, "default-token", time.Second)
	got, err := c.PatchVisitRecord(context.Background(), "42", "caller-token",
		map[string]any{"name": "amy", "visits": 3})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second).GetVisitRecord(context.Background(), "1", "")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Body, "nope")
	assert.Contains(t, err.Error(), "401")
}

func TestTransportErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := New(srv.URL, "", time.Second).GetVisitRecord(context.Background(), "1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET "+srv.URL+"/visitRecord/1")
}
