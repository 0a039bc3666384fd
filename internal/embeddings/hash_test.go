package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider()
	a, err := p.Embed(context.Background(), "the spare cable is in the left drawer")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the spare cable is in the left drawer")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestHashProviderNormalized(t *testing.T) {
	p := NewHashProvider()
	v, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestOverlappingTextsScoreHigherThanDisjoint(t *testing.T) {
	p := NewHashProvider()
	doc, _ := p.Embed(context.Background(), "the spare cable is in the left drawer")
	related, _ := p.Embed(context.Background(), "where is the cable?")
	unrelated, _ := p.Embed(context.Background(), "quarterly revenue projections")

	require.Greater(t, cosine(doc, related), cosine(doc, unrelated))
}
