package api

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/api/recovery"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Turns       TurnService
	Memory      MemoryStore
	IsHealthy   func() bool
	TurnTimeout time.Duration
	Log         zerolog.Logger
}

// NewRouter wires all API routes.
func NewRouter(deps RouterDeps) *mux.Router {
	r := mux.NewRouter()
	r.Use(recovery.Middleware)

	turnHandler := NewTurnHandler(deps.Turns, deps.Memory, deps.TurnTimeout, deps.Log)
	memoryHandler := NewMemoryHandler(deps.Memory, deps.Log)
	configHandler := NewConfigHandler(deps.Memory, deps.Log)
	statsHandler := NewStatsHandler(deps.Memory)
	healthHandler := NewHealthHandler(deps.IsHealthy)

	r.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	r.HandleFunc("/api/turns", turnHandler.CreateTurn).Methods("POST")
	r.HandleFunc("/api/turns/{turnId}", turnHandler.GetTurn).Methods("GET")

	r.HandleFunc("/api/memories", memoryHandler.CreateMemory).Methods("POST")
	r.HandleFunc("/api/memories/search", memoryHandler.SearchMemories).Methods("POST")
	r.HandleFunc("/api/memories/{memoryId}", memoryHandler.GetMemory).Methods("GET")
	r.HandleFunc("/api/memories/{memoryId}/pin", memoryHandler.PinMemory).Methods("PUT")
	r.HandleFunc("/api/memories/{memoryId}/tier", memoryHandler.SetMemoryTier).Methods("PUT")

	r.HandleFunc("/api/config", configHandler.GetConfig).Methods("GET")
	r.HandleFunc("/api/config", configHandler.PutConfig).Methods("PUT")
	r.HandleFunc("/api/stats", statsHandler.GetStats).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
