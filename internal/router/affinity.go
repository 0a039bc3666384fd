package router

import (
	"sync"
	"time"
)

// affinityEntry tracks which backend a conversation was last placed on. The
// per-entry mutex keeps check-then-update sequences atomic without a global
// lock over the whole table.
type affinityEntry struct {
	mu        sync.Mutex
	backend   string
	expiresAt time.Time
}

// AffinityTable maps conversation ids to their sticky backend with a TTL.
type AffinityTable struct {
	ttl     time.Duration
	entries sync.Map // conversation id -> *affinityEntry
	now     func() time.Time
}

// NewAffinityTable builds a table whose bindings expire after ttl.
func NewAffinityTable(ttl time.Duration) *AffinityTable {
	return &AffinityTable{ttl: ttl, now: time.Now}
}

// Get returns the bound backend for conversationID, or false when no live
// binding exists. Expired entries are removed on the way out.
func (t *AffinityTable) Get(conversationID string) (string, bool) {
	v, ok := t.entries.Load(conversationID)
	if !ok {
		return "", false
	}
	e := v.(*affinityEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.now().After(e.expiresAt) {
		t.entries.Delete(conversationID)
		return "", false
	}
	return e.backend, true
}

// Bind records backend for conversationID and starts a fresh TTL.
func (t *AffinityTable) Bind(conversationID, backend string) {
	v, _ := t.entries.LoadOrStore(conversationID, &affinityEntry{})
	e := v.(*affinityEntry)
	e.mu.Lock()
	e.backend = backend
	e.expiresAt = t.now().Add(t.ttl)
	e.mu.Unlock()
}

// Extend refreshes the TTL of an existing binding. A missing or expired entry
// is left alone.
func (t *AffinityTable) Extend(conversationID string) {
	v, ok := t.entries.Load(conversationID)
	if !ok {
		return
	}
	e := v.(*affinityEntry)
	e.mu.Lock()
	if !t.now().After(e.expiresAt) {
		e.expiresAt = t.now().Add(t.ttl)
	}
	e.mu.Unlock()
}

// Clear drops the binding for conversationID.
func (t *AffinityTable) Clear(conversationID string) {
	t.entries.Delete(conversationID)
}
