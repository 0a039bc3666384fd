// Package model holds the shared domain types of the orchestrator.
package model

import "time"

// Kind classifies a memory record for retention and retrieval filtering.
type Kind string

const (
	KindNote          Kind = "note"
	KindTask          Kind = "task"
	KindChatTurn      Kind = "chat_turn"
	KindChatEphemeral Kind = "chat_ephemeral"
	KindObservation   Kind = "observation"
)

// ValidKind reports whether k is one of the closed set of record kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindNote, KindTask, KindChatTurn, KindChatEphemeral, KindObservation:
		return true
	}
	return false
}

// Tier is a retention class. Unpinned records are evicted once their
// last_used_at falls outside the tier's retention window.
type Tier string

const (
	TierShort  Tier = "short"
	TierMedium Tier = "medium"
	TierLong   Tier = "long"
)

// ValidTier reports whether t names a known retention tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierShort, TierMedium, TierLong:
		return true
	}
	return false
}

// BackendClass is the capability class of a computation backend.
type BackendClass string

const (
	ClassFast   BackendClass = "fast"
	ClassDeep   BackendClass = "deep"
	ClassVision BackendClass = "vision"
)

// MemoryRecord is one deduplicated row in the memory store. The dedup hash is
// globally unique; inserting matching normalized text upserts in place.
type MemoryRecord struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Kind       Kind              `json:"kind"`
	DedupHash  string            `json:"dedupHash"`
	Tier       Tier              `json:"tier"`
	Source     string            `json:"source"`
	Meta       map[string]string `json:"meta,omitempty"`
	Pinned     bool              `json:"pinned"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	LastUsedAt time.Time         `json:"lastUsedAt"`
}

// Turn records one completed request/response exchange. Immutable once the
// response has been returned; kept for tracing only.
type Turn struct {
	TurnID         string    `json:"turnId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Input          string    `json:"input"`
	Output         string    `json:"output"`
	Backend        string    `json:"backend"`
	MemoryHits     int       `json:"memoryHits"`
	ContextChars   int       `json:"contextChars"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SearchHit is one scored result from the memory store.
type SearchHit struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Kind      Kind      `json:"kind"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats summarizes the memory store for the stats endpoint.
type Stats struct {
	TotalRecords  int            `json:"totalRecords"`
	ByKind        map[Kind]int   `json:"byKind"`
	ByTier        map[Tier]int   `json:"byTier"`
	PinnedRecords int            `json:"pinnedRecords"`
	LastQueryHits int            `json:"lastQueryHits"`
	MemoryUsed    bool           `json:"memoryUsed"`
}
