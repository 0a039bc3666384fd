// Package embeddings defines the embedding provider contract.
package embeddings

import "context"

// Provider produces dense vector representations for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
