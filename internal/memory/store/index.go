package store

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kyujaq/hearth/internal/model"
)

// VectorIndex wraps an embedded chromem-go collection holding one document
// per memory record, keyed by record id. Embeddings are always supplied by
// the store, never computed by the index.
type VectorIndex struct {
	col *chromem.Collection
}

// indexHit is one similarity result.
type indexHit struct {
	ID    string
	Score float64
}

// NewVectorIndex creates the index. An empty path keeps everything in memory;
// otherwise documents are persisted under path and reloaded on open.
func NewVectorIndex(path string) (*VectorIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection("memories", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &VectorIndex{col: col}, nil
}

// Upsert adds or replaces the document for a record.
func (v *VectorIndex) Upsert(ctx context.Context, id, text string, vec []float32, kind model.Kind) error {
	return v.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: vec,
		Metadata:  map[string]string{"kind": string(kind)},
	})
}

// Query returns up to n hits ranked by cosine similarity. n is clamped to the
// collection size; an empty collection yields no hits.
func (v *VectorIndex) Query(ctx context.Context, vec []float32, n int) ([]indexHit, error) {
	count := v.col.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}
	if n <= 0 {
		n = 1
	}

	results, err := v.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	hits := make([]indexHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, indexHit{ID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// Delete removes documents by record id. Missing ids are ignored.
func (v *VectorIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return v.col.Delete(ctx, nil, nil, ids...)
}

// Count reports the number of indexed documents.
func (v *VectorIndex) Count() int { return v.col.Count() }
