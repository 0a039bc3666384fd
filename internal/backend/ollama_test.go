package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		assert.Equal(t, false, req["stream"])
		opts, ok := req["options"].(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, 128, opts["num_predict"])

		_ = json.NewEncoder(w).Encode(map[string]string{"response": "hello back"})
	})

	c := NewOllamaClient(srv.URL, "test-model", OllamaOptions{})
	out, err := c.Generate(context.Background(), "hello", 128)
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
}

func TestGenerateErrorBody(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	})

	c := NewOllamaClient(srv.URL, "test-model", OllamaOptions{})
	_, err := c.Generate(context.Background(), "hello", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestGenerateNon200(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := NewOllamaClient(srv.URL, "test-model", OllamaOptions{})
	_, err := c.Generate(context.Background(), "hello", 0)
	assert.Error(t, err)
}

func TestStatsProbe(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/stats", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Stats{Utilization: 0.42, FreeResourceMB: 4096})
	})

	c := NewOllamaClient(srv.URL, "test-model", OllamaOptions{})
	s, err := c.StatsProbe(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.42, s.Utilization, 1e-9)
	assert.InDelta(t, 4096, s.FreeResourceMB, 1e-9)
}

func TestStatsProbeRejectsBadUtilization(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Stats{Utilization: 42})
	})

	c := NewOllamaClient(srv.URL, "test-model", OllamaOptions{})
	_, err := c.StatsProbe(context.Background())
	assert.Error(t, err)
}

func TestStatsProbeCustomPath(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agent/stats", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Stats{Utilization: 0.1, FreeResourceMB: 1024})
	})

	c := NewOllamaClient(srv.URL, "test-model", OllamaOptions{ProbePath: "/agent/stats"})
	_, err := c.StatsProbe(context.Background())
	assert.NoError(t, err)
}
