package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyujaq/hearth/internal/coordinator"
	"github.com/kyujaq/hearth/internal/memory/store"
	"github.com/kyujaq/hearth/internal/model"
)

type fakeTurns struct {
	resp coordinator.TurnResponse
	err  error
}

func (f *fakeTurns) HandleTurn(_ context.Context, req coordinator.TurnRequest) (coordinator.TurnResponse, error) {
	if f.err != nil {
		return coordinator.TurnResponse{}, f.err
	}
	return f.resp, nil
}

type fakeStore struct {
	records map[string]*model.MemoryRecord
	turns   map[string]*model.Turn
	hits    []model.SearchHit
	runtime store.Runtime
	pins    map[string]bool
	tiers   map[string]model.Tier
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: map[string]*model.MemoryRecord{},
		turns:   map[string]*model.Turn{},
		runtime: store.Runtime{Autosave: true, MinScore: 0.3, TopK: 5},
		pins:    map[string]bool{},
		tiers:   map[string]model.Tier{},
	}
}

func (f *fakeStore) Add(_ context.Context, req store.AddRequest) (store.AddResult, error) {
	if req.Text == "" {
		return store.AddResult{}, fmt.Errorf("%w: empty text", model.ErrValidation)
	}
	if !model.ValidKind(req.Kind) {
		return store.AddResult{}, fmt.Errorf("%w: unknown kind", model.ErrValidation)
	}
	id := fmt.Sprintf("rec-%d", len(f.records)+1)
	f.records[id] = &model.MemoryRecord{ID: id, Text: req.Text, Kind: req.Kind}
	return store.AddResult{ID: id, Hash: "h"}, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*model.MemoryRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Search(_ context.Context, query string, topK int, kinds []model.Kind) ([]model.SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", model.ErrValidation)
	}
	return f.hits, nil
}

func (f *fakeStore) SetPin(_ context.Context, id string, pinned bool) error {
	if _, ok := f.records[id]; !ok {
		return model.ErrNotFound
	}
	f.pins[id] = pinned
	return nil
}

func (f *fakeStore) PromoteTier(_ context.Context, id string, tier model.Tier) error {
	if !model.ValidTier(tier) {
		return fmt.Errorf("%w: unknown tier", model.ErrValidation)
	}
	if _, ok := f.records[id]; !ok {
		return model.ErrNotFound
	}
	f.tiers[id] = tier
	return nil
}

func (f *fakeStore) GetTurn(_ context.Context, id string) (*model.Turn, error) {
	t, ok := f.turns[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) Runtime() store.Runtime { return f.runtime }

func (f *fakeStore) SetRuntime(_ context.Context, r store.Runtime) error {
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("%w: min_score out of range", model.ErrValidation)
	}
	f.runtime = r
	return nil
}

func (f *fakeStore) Stats(context.Context) (model.Stats, error) {
	return model.Stats{TotalRecords: len(f.records)}, nil
}

func newTestServer(t *testing.T, turns TurnService, mem MemoryStore) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(RouterDeps{
		Turns:       turns,
		Memory:      mem,
		IsHealthy:   func() bool { return true },
		TurnTimeout: 5 * time.Second,
		Log:         zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func putJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateTurn(t *testing.T) {
	turns := &fakeTurns{resp: coordinator.TurnResponse{TurnID: "01ABC", Reply: "hi", Backend: "fast-1"}}
	srv := newTestServer(t, turns, newFakeStore())

	resp := postJSON(t, srv.URL+"/api/turns", coordinator.TurnRequest{ConversationID: "c1", Input: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[coordinator.TurnResponse](t, resp)
	assert.Equal(t, "01ABC", body.TurnID)
	assert.Equal(t, "hi", body.Reply)
}

func TestCreateTurnErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", model.ErrValidation, http.StatusBadRequest},
		{"unavailable", model.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeTurns{err: tc.err}, newFakeStore())
			resp := postJSON(t, srv.URL+"/api/turns", coordinator.TurnRequest{ConversationID: "c1", Input: "x"})
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestGetTurn(t *testing.T) {
	mem := newFakeStore()
	mem.turns["01ABC"] = &model.Turn{TurnID: "01ABC", Input: "hello", Output: "hi"}
	srv := newTestServer(t, &fakeTurns{}, mem)

	resp, err := http.Get(srv.URL + "/api/turns/01ABC")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	turn := decode[model.Turn](t, resp)
	assert.Equal(t, "hello", turn.Input)

	resp, err = http.Get(srv.URL + "/api/turns/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAndGetMemory(t *testing.T) {
	mem := newFakeStore()
	srv := newTestServer(t, &fakeTurns{}, mem)

	resp := postJSON(t, srv.URL+"/api/memories", addMemoryRequest{Text: "the wifi password is hunter2", Kind: model.KindNote})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[store.AddResult](t, resp)
	require.NotEmpty(t, res.ID)

	getResp, err := http.Get(srv.URL + "/api/memories/" + res.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	rec := decode[model.MemoryRecord](t, getResp)
	assert.Equal(t, "the wifi password is hunter2", rec.Text)
}

func TestCreateMemoryRedactsSensitiveText(t *testing.T) {
	mem := newFakeStore()
	srv := newTestServer(t, &fakeTurns{}, mem)

	resp := postJSON(t, srv.URL+"/api/memories", addMemoryRequest{Text: "reach me at jane@example.com", Kind: model.KindNote})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[store.AddResult](t, resp)

	assert.NotContains(t, mem.records[res.ID].Text, "jane@example.com")
}

func TestCreateMemoryValidation(t *testing.T) {
	srv := newTestServer(t, &fakeTurns{}, newFakeStore())

	resp := postJSON(t, srv.URL+"/api/memories", addMemoryRequest{Text: "", Kind: model.KindNote})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchMemories(t *testing.T) {
	mem := newFakeStore()
	mem.hits = []model.SearchHit{{ID: "rec-1", Text: "cable in drawer", Score: 0.9}}
	srv := newTestServer(t, &fakeTurns{}, mem)

	resp := postJSON(t, srv.URL+"/api/memories/search", searchRequest{Query: "cable"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[searchResponse](t, resp)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "cable in drawer", body.Results[0].Text)

	resp = postJSON(t, srv.URL+"/api/memories/search", searchRequest{Query: ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPinAndTier(t *testing.T) {
	mem := newFakeStore()
	mem.records["rec-1"] = &model.MemoryRecord{ID: "rec-1"}
	srv := newTestServer(t, &fakeTurns{}, mem)

	resp := putJSON(t, srv.URL+"/api/memories/rec-1/pin", pinRequest{Pinned: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.True(t, mem.pins["rec-1"])

	resp = putJSON(t, srv.URL+"/api/memories/rec-1/tier", tierRequest{Tier: model.TierLong})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, model.TierLong, mem.tiers["rec-1"])

	resp = putJSON(t, srv.URL+"/api/memories/missing/pin", pinRequest{Pinned: true})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	mem := newFakeStore()
	srv := newTestServer(t, &fakeTurns{}, mem)

	resp, err := http.Get(srv.URL + "/api/config")
	require.NoError(t, err)
	rt := decode[store.Runtime](t, resp)
	assert.Equal(t, 5, rt.TopK)

	rt.TopK = 8
	rt.MinScore = 0.5
	resp = putJSON(t, srv.URL+"/api/config", rt)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 8, mem.runtime.TopK)

	rt.MinScore = 7
	resp = putJSON(t, srv.URL+"/api/config", rt)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndHealth(t *testing.T) {
	mem := newFakeStore()
	mem.records["rec-1"] = &model.MemoryRecord{ID: "rec-1"}
	srv := newTestServer(t, &fakeTurns{}, mem)

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	stats := decode[model.Stats](t, resp)
	assert.Equal(t, 1, stats.TotalRecords)

	resp, err = http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	body := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t, &fakeTurns{}, newFakeStore())

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
