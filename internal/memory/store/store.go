// Package store is the durable memory system of record: a SQLite table with
// dedup and retention guarantees plus an embedded vector index for
// similarity search.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/embeddings"
	"github.com/kyujaq/hearth/internal/memory/policy"
	"github.com/kyujaq/hearth/internal/model"
)

// Runtime holds the runtime-tunable settings persisted in the config table.
type Runtime struct {
	Autosave bool    `json:"autosave"`
	MinScore float64 `json:"min_score"`
	TopK     int     `json:"top_k"`
}

// AddRequest describes one record to upsert.
type AddRequest struct {
	Text   string
	Kind   model.Kind
	Tier   model.Tier
	Source string
	Meta   map[string]string
	// Hash is the dedup key. Computed from Text when empty.
	Hash string
	// Embedding may be precomputed; the store embeds Text otherwise.
	Embedding []float32
}

// AddResult reports the outcome of an Add.
type AddResult struct {
	ID      string `json:"id"`
	Hash    string `json:"hash"`
	Deduped bool   `json:"deduped"`
}

// Store combines the SQLite system of record with the vector index.
type Store struct {
	db  *sql.DB
	idx *VectorIndex
	emb embeddings.Provider
	log zerolog.Logger

	mu      sync.RWMutex
	runtime Runtime

	lastQueryHits atomic.Int64
	memoryUsed    atomic.Bool
}

// Open opens the store at dbPath, applies the schema, and loads runtime
// config, seeding defaults for keys not yet present. indexPath may be empty
// for an in-memory vector index.
func Open(dbPath, indexPath string, emb embeddings.Provider, defaults Runtime, log zerolog.Logger) (*Store, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	for _, stmt := range ddlStatements() {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	idx, err := NewVectorIndex(indexPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, idx: idx, emb: emb, log: log}
	if err := s.loadRuntime(context.Background(), defaults); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- Records ---

// Add upserts a record by dedup hash. If a record with the hash exists, its
// last_used_at is refreshed and the existing id is returned with
// Deduped=true. Two callers racing on the same hash both succeed: the loser
// of the INSERT retries once and lands on the dedup path.
func (s *Store) Add(ctx context.Context, req AddRequest) (AddResult, error) {
	text := strings.TrimSpace(req.Text)
	if policy.Normalize(text) == "" {
		return AddResult{}, fmt.Errorf("%w: empty text", model.ErrValidation)
	}
	if !model.ValidKind(req.Kind) {
		return AddResult{}, fmt.Errorf("%w: unknown kind %q", model.ErrValidation, req.Kind)
	}
	if req.Tier == "" {
		req.Tier = model.TierMedium
	}
	if !model.ValidTier(req.Tier) {
		return AddResult{}, fmt.Errorf("%w: unknown tier %q", model.ErrValidation, req.Tier)
	}
	hash := req.Hash
	if hash == "" {
		hash = policy.DedupHash(text)
	}

	for attempt := 0; ; attempt++ {
		res, err := s.tryInsert(ctx, text, hash, req)
		if err == nil {
			return res, nil
		}
		if !isUniqueViolation(err) {
			return AddResult{}, err
		}

		// Dedup path: refresh last_used_at on the existing record.
		res, derr := s.touchExisting(ctx, hash)
		if derr == nil {
			return res, nil
		}
		// The winner may have been deleted between our INSERT and SELECT;
		// retry the insert once.
		if errors.Is(derr, sql.ErrNoRows) && attempt == 0 {
			continue
		}
		return AddResult{}, derr
	}
}

func (s *Store) tryInsert(ctx context.Context, text, hash string, req AddRequest) (AddResult, error) {
	now := time.Now().UTC()
	id := uuid.New().String()
	metaJSON, _ := json.Marshal(req.Meta)

	_, err := s.db.ExecContext(ctx, `INSERT INTO memories
		(id, text, kind, dedup_hash, tier, source, meta, pinned, created_at, updated_at, last_used_at)
		VALUES (?,?,?,?,?,?,?,0,?,?,?)`,
		id, text, string(req.Kind), hash, string(req.Tier), req.Source, string(metaJSON), now, now, now)
	if err != nil {
		return AddResult{}, err
	}

	s.indexRecord(ctx, id, text, req.Embedding, req.Kind)
	return AddResult{ID: id, Hash: hash, Deduped: false}, nil
}

// indexRecord upserts into the vector index, best-effort: a failed embed or
// index write leaves the SQL row authoritative and is only logged.
func (s *Store) indexRecord(ctx context.Context, id, text string, vec []float32, kind model.Kind) {
	if vec == nil && s.emb != nil {
		var err error
		vec, err = s.emb.Embed(ctx, text)
		if err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("embed failed; record stored without index entry")
			return
		}
	}
	if vec == nil {
		return
	}
	if err := s.idx.Upsert(ctx, id, text, vec, kind); err != nil {
		s.log.Warn().Err(err).Str("id", id).Msg("vector index upsert failed")
	}
}

func (s *Store) touchExisting(ctx context.Context, hash string) (AddResult, error) {
	var id string
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM memories WHERE dedup_hash = ?`, hash).Scan(&id); err != nil {
		return AddResult{}, err
	}
	now := time.Now().UTC()
	// last_used_at only moves forward.
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_used_at = ?, updated_at = ? WHERE id = ? AND last_used_at < ?`,
		now, now, id, now)
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{ID: id, Hash: hash, Deduped: true}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Get returns a record by id without counting as a use.
func (s *Store) Get(ctx context.Context, id string) (*model.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, text, kind, dedup_hash, tier, source, meta, pinned,
		created_at, updated_at, last_used_at FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", model.ErrNotFound, id)
	}
	return rec, err
}

// Search embeds the query, ranks candidates by cosine similarity with
// recency as tiebreak, optionally restricted to kinds, and refreshes
// last_used_at of the returned hits.
func (s *Store) Search(ctx context.Context, query string, topK int, kinds []model.Kind) ([]model.SearchHit, error) {
	for _, k := range kinds {
		if !model.ValidKind(k) {
			return nil, fmt.Errorf("%w: unknown kind filter %q", model.ErrValidation, k)
		}
	}
	if topK <= 0 {
		topK = s.Runtime().TopK
	}

	vec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so a kind filter can still fill topK.
	raw, err := s.idx.Query(ctx, vec, topK*4)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		s.recordQueryHits(0)
		return nil, nil
	}

	scores := make(map[string]float64, len(raw))
	ids := make([]string, 0, len(raw))
	for _, h := range raw {
		scores[h.ID] = h.Score
		ids = append(ids, h.ID)
	}

	recs, err := s.getRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	allowed := make(map[model.Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	hits := make([]model.SearchHit, 0, topK)
	for _, rec := range recs {
		if len(allowed) > 0 && !allowed[rec.Kind] {
			continue
		}
		hits = append(hits, model.SearchHit{
			ID:        rec.ID,
			Text:      rec.Text,
			Kind:      rec.Kind,
			Score:     scores[rec.ID],
			CreatedAt: rec.CreatedAt,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	if len(hits) > 0 {
		hitIDs := make([]string, len(hits))
		for i, h := range hits {
			hitIDs[i] = h.ID
		}
		if err := s.touchAll(ctx, hitIDs); err != nil {
			s.log.Warn().Err(err).Msg("failed to refresh last_used_at for search hits")
		}
	}
	s.recordQueryHits(len(hits))
	return hits, nil
}

func (s *Store) recordQueryHits(n int) {
	s.lastQueryHits.Store(int64(n))
	s.memoryUsed.Store(n > 0)
}

func (s *Store) getRecords(ctx context.Context, ids []string) ([]*model.MemoryRecord, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, kind, dedup_hash, tier, source, meta, pinned,
		created_at, updated_at, last_used_at FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) touchAll(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := []interface{}{now, now}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_used_at = ? WHERE last_used_at < ? AND id IN (`+placeholders+`)`, args...)
	return err
}

// Evict deletes unpinned records whose last_used_at is older than their
// tier's retention window and returns per-tier deletion counts. Running it
// twice with no new activity deletes nothing the second time.
func (s *Store) Evict(ctx context.Context, retention map[model.Tier]time.Duration) (map[model.Tier]int, error) {
	now := time.Now().UTC()
	counts := make(map[model.Tier]int, len(retention))

	for tier, window := range retention {
		cutoff := now.Add(-window)
		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM memories WHERE tier = ? AND pinned = 0 AND last_used_at < ?`,
			string(tier), cutoff)
		if err != nil {
			return counts, err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return counts, err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return counts, err
		}
		if len(ids) == 0 {
			counts[tier] = 0
			continue
		}

		n, err := s.deleteEvictable(ctx, cutoff, ids)
		if err != nil {
			return counts, err
		}
		counts[tier] = int(n)

		evicted := ids
		if int(n) != len(ids) {
			evicted, err = s.filterMissing(ctx, ids)
			if err != nil {
				return counts, err
			}
		}
		if len(evicted) == 0 {
			continue
		}
		if err := s.idx.Delete(ctx, evicted...); err != nil {
			s.log.Warn().Err(err).Str("tier", string(tier)).Msg("vector index delete failed during eviction")
		}
	}
	return counts, nil
}

// deleteEvictable removes the given candidates. Pin state and recency are
// re-checked so a record pinned or touched after candidate selection
// survives.
func (s *Store) deleteEvictable(ctx context.Context, cutoff time.Time, ids []string) (int64, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, cutoff)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE pinned = 0 AND last_used_at < ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// filterMissing returns the subset of ids that no longer exist in the
// memories table.
func (s *Store) filterMissing(ctx context.Context, ids []string) ([]string, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		present[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	missing := make([]string, 0, len(ids)-len(present))
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// SetPin flips a record's pin flag. Counts as a use.
func (s *Store) SetPin(ctx context.Context, id string, pinned bool) error {
	return s.mutateRecord(ctx, `pinned = ?`, boolToInt(pinned), id)
}

// PromoteTier moves a record to a new retention tier. Counts as a use.
func (s *Store) PromoteTier(ctx context.Context, id string, tier model.Tier) error {
	if !model.ValidTier(tier) {
		return fmt.Errorf("%w: unknown tier %q", model.ErrValidation, tier)
	}
	return s.mutateRecord(ctx, `tier = ?`, string(tier), id)
}

func (s *Store) mutateRecord(ctx context.Context, setClause string, value interface{}, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET `+setClause+`, updated_at = ?, last_used_at = max(last_used_at, ?) WHERE id = ?`,
		value, now, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: record %s", model.ErrNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Turns ---

// PutTurn persists a completed turn for tracing.
func (s *Store) PutTurn(ctx context.Context, t model.Turn) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO turns
		(turn_id, conversation_id, input, output, backend, memory_hits, context_chars, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.TurnID, t.ConversationID, t.Input, t.Output, t.Backend, t.MemoryHits, t.ContextChars, t.CreatedAt.UTC())
	return err
}

// GetTurn looks up a turn by id. A malformed id is a validation error, never
// retried.
func (s *Store) GetTurn(ctx context.Context, id string) (*model.Turn, error) {
	if _, err := ulid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: malformed turn id %q", model.ErrValidation, id)
	}
	row := s.db.QueryRowContext(ctx, `SELECT turn_id, conversation_id, input, output, backend,
		memory_hits, context_chars, created_at FROM turns WHERE turn_id = ?`, id)
	var t model.Turn
	err := row.Scan(&t.TurnID, &t.ConversationID, &t.Input, &t.Output, &t.Backend,
		&t.MemoryHits, &t.ContextChars, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: turn %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Runtime config ---

// Runtime returns the cached runtime-tunable settings.
func (s *Store) Runtime() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime
}

// SetRuntime validates, persists, and caches new runtime settings.
func (s *Store) SetRuntime(ctx context.Context, r Runtime) error {
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("%w: min_score out of range [0,1]: %v", model.ErrValidation, r.MinScore)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive: %d", model.ErrValidation, r.TopK)
	}

	for key, value := range map[string]string{
		"autosave":  fmt.Sprintf("%t", r.Autosave),
		"min_score": fmt.Sprintf("%g", r.MinScore),
		"top_k":     fmt.Sprintf("%d", r.TopK),
	} {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO config (key, value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.runtime = r
	s.mu.Unlock()
	return nil
}

func (s *Store) loadRuntime(ctx context.Context, defaults Runtime) error {
	r := defaults
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case "autosave":
			r.Autosave = value == "true"
		case "min_score":
			fmt.Sscanf(value, "%g", &r.MinScore)
		case "top_k":
			fmt.Sscanf(value, "%d", &r.TopK)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.runtime = r
	s.mu.Unlock()
	// Persist so config reads reflect effective values from the start.
	return s.SetRuntime(ctx, r)
}

// --- Stats ---

// Stats summarizes the store. Reads here never refresh last_used_at.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	st := model.Stats{
		ByKind: make(map[model.Kind]int),
		ByTier: make(map[model.Tier]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, tier, pinned, count(*) FROM memories GROUP BY kind, tier, pinned`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, tier string
		var pinned, n int
		if err := rows.Scan(&kind, &tier, &pinned, &n); err != nil {
			return st, err
		}
		st.TotalRecords += n
		st.ByKind[model.Kind(kind)] += n
		st.ByTier[model.Tier(tier)] += n
		if pinned == 1 {
			st.PinnedRecords += n
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	st.LastQueryHits = int(s.lastQueryHits.Load())
	st.MemoryUsed = s.memoryUsed.Load()
	return st, nil
}

// --- scanning helpers ---

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanRecord(row rowScanner) (*model.MemoryRecord, error) {
	var rec model.MemoryRecord
	var kind, tier, metaJSON string
	var pinned int
	if err := row.Scan(&rec.ID, &rec.Text, &kind, &rec.DedupHash, &tier, &rec.Source, &metaJSON,
		&pinned, &rec.CreatedAt, &rec.UpdatedAt, &rec.LastUsedAt); err != nil {
		return nil, err
	}
	rec.Kind = model.Kind(kind)
	rec.Tier = model.Tier(tier)
	rec.Pinned = pinned == 1
	if metaJSON != "" && metaJSON != "null" {
		_ = json.Unmarshal([]byte(metaJSON), &rec.Meta)
	}
	return &rec, nil
}
