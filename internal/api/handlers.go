// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/api/respond"
	"github.com/kyujaq/hearth/internal/coordinator"
	"github.com/kyujaq/hearth/internal/memory/policy"
	"github.com/kyujaq/hearth/internal/memory/store"
	"github.com/kyujaq/hearth/internal/model"
)

// TurnService runs conversational turns.
type TurnService interface {
	HandleTurn(ctx context.Context, req coordinator.TurnRequest) (coordinator.TurnResponse, error)
}

// MemoryStore is the store surface the handlers need.
type MemoryStore interface {
	Add(ctx context.Context, req store.AddRequest) (store.AddResult, error)
	Get(ctx context.Context, id string) (*model.MemoryRecord, error)
	Search(ctx context.Context, query string, topK int, kinds []model.Kind) ([]model.SearchHit, error)
	SetPin(ctx context.Context, id string, pinned bool) error
	PromoteTier(ctx context.Context, id string, tier model.Tier) error
	GetTurn(ctx context.Context, id string) (*model.Turn, error)
	Runtime() store.Runtime
	SetRuntime(ctx context.Context, r store.Runtime) error
	Stats(ctx context.Context) (model.Stats, error)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, model.ErrConflict):
		respond.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrBackendUnavailable):
		respond.WriteServiceUnavailable(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respond.WriteError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}

// TurnHandler serves the turn endpoints.
type TurnHandler struct {
	turns   TurnService
	memory  MemoryStore
	timeout time.Duration
	log     zerolog.Logger
}

// NewTurnHandler builds a TurnHandler. timeout bounds one whole turn.
func NewTurnHandler(turns TurnService, memory MemoryStore, timeout time.Duration, log zerolog.Logger) *TurnHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TurnHandler{turns: turns, memory: memory, timeout: timeout, log: log}
}

// CreateTurn handles POST /api/turns.
func (h *TurnHandler) CreateTurn(w http.ResponseWriter, r *http.Request) {
	var req coordinator.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.turns.HandleTurn(ctx, req)
	if err != nil {
		h.log.Warn().Err(err).Str("conversation", req.ConversationID).Msg("turn failed")
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

// GetTurn handles GET /api/turns/{turnId}.
func (h *TurnHandler) GetTurn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["turnId"]
	turn, err := h.memory.GetTurn(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, turn)
}

// MemoryHandler serves the memory record endpoints.
type MemoryHandler struct {
	memory MemoryStore
	log    zerolog.Logger
}

func NewMemoryHandler(memory MemoryStore, log zerolog.Logger) *MemoryHandler {
	return &MemoryHandler{memory: memory, log: log}
}

type addMemoryRequest struct {
	Text   string            `json:"text"`
	Kind   model.Kind        `json:"kind"`
	Tier   model.Tier        `json:"tier,omitempty"`
	Source string            `json:"source,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// CreateMemory handles POST /api/memories.
func (h *MemoryHandler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req addMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}

	// External producers go through the same redaction as conversation turns.
	res, err := h.memory.Add(r.Context(), store.AddRequest{
		Text:   policy.Redact(req.Text),
		Kind:   req.Kind,
		Tier:   req.Tier,
		Source: req.Source,
		Meta:   req.Meta,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Deduped {
		status = http.StatusOK
	}
	respond.WriteJSON(w, status, res)
}

// GetMemory handles GET /api/memories/{memoryId}.
func (h *MemoryHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.memory.Get(r.Context(), mux.Vars(r)["memoryId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, rec)
}

type searchRequest struct {
	Query string       `json:"query"`
	TopK  int          `json:"topK,omitempty"`
	Kinds []model.Kind `json:"kinds,omitempty"`
}

type searchResponse struct {
	Results []model.SearchHit `json:"results"`
	Count   int               `json:"count"`
}

// SearchMemories handles POST /api/memories/search.
func (h *MemoryHandler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.TopK <= 0 {
		req.TopK = h.memory.Runtime().TopK
	}

	hits, err := h.memory.Search(r.Context(), req.Query, req.TopK, req.Kinds)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if hits == nil {
		hits = []model.SearchHit{}
	}
	respond.WriteJSON(w, http.StatusOK, searchResponse{Results: hits, Count: len(hits)})
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

// PinMemory handles PUT /api/memories/{memoryId}/pin.
func (h *MemoryHandler) PinMemory(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	id := mux.Vars(r)["memoryId"]
	if err := h.memory.SetPin(r.Context(), id, req.Pinned); err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "pinned": req.Pinned})
}

type tierRequest struct {
	Tier model.Tier `json:"tier"`
}

// SetMemoryTier handles PUT /api/memories/{memoryId}/tier.
func (h *MemoryHandler) SetMemoryTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	id := mux.Vars(r)["memoryId"]
	if err := h.memory.PromoteTier(r.Context(), id, req.Tier); err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "tier": req.Tier})
}

// ConfigHandler serves the runtime-tunable settings.
type ConfigHandler struct {
	memory MemoryStore
	log    zerolog.Logger
}

func NewConfigHandler(memory MemoryStore, log zerolog.Logger) *ConfigHandler {
	return &ConfigHandler{memory: memory, log: log}
}

// GetConfig handles GET /api/config.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.memory.Runtime())
}

// PutConfig handles PUT /api/config. The full runtime document is replaced.
func (h *ConfigHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var rt store.Runtime
	if err := json.NewDecoder(r.Body).Decode(&rt); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := h.memory.SetRuntime(r.Context(), rt); err != nil {
		writeDomainError(w, err)
		return
	}
	h.log.Info().Interface("runtime", rt).Msg("runtime config updated")
	respond.WriteJSON(w, http.StatusOK, rt)
}

// StatsHandler serves GET /api/stats.
type StatsHandler struct {
	memory MemoryStore
}

func NewStatsHandler(memory MemoryStore) *StatsHandler { return &StatsHandler{memory: memory} }

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.memory.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, stats)
}

// HealthHandler serves GET /api/health. The body always reports status; the
// code stays 200 so probes distinguish handler failure from dependency
// failure.
type HealthHandler struct {
	isHealthy func() bool
}

func NewHealthHandler(isHealthy func() bool) *HealthHandler {
	return &HealthHandler{isHealthy: isHealthy}
}

func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	if h.isHealthy() {
		status = "healthy"
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
