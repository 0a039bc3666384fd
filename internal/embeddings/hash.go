package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashProvider is a deterministic, dependency-free provider used in tests and
// local development. It embeds the bag of lowercased tokens into a fixed-size
// vector, so texts sharing words score high on cosine similarity. It is not a
// semantic model and must not be used in production.
type HashProvider struct {
	Dim int
}

// NewHashProvider returns a HashProvider with a 64-dimension default.
func NewHashProvider() *HashProvider { return &HashProvider{Dim: 64} }

// Embed maps each token to a bucket and L2-normalizes the resulting counts.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	dim := p.Dim
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
