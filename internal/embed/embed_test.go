package embed

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder(256)
	defer e.Close()

	a, err := e.Embed(context.Background(), "tiered cache eviction policy")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "tiered cache eviction policy")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	e := NewStaticEmbedder(128)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "budget packing under constraints")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 0.001)
}

func TestStaticEmbedder_EmptyTextZeroVector(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_SimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder(256)
	defer e.Close()

	ctx := context.Background()
	query, _ := e.Embed(ctx, "cache eviction scoring")
	near, _ := e.Embed(ctx, "scoring entries for cache eviction")
	far, _ := e.Embed(ctx, "grocery shopping list bananas milk")

	assert.Greater(t, cosine(query, near), cosine(query, far))
}

func TestStaticEmbedder_ClosedErrors(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
}

func TestStaticEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer e.Close()

	ctx := context.Background()
	texts := []string{"one two", "three four", "five"}
	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

// countingEmbedder records how many times the inner embedder runs.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_AvoidsRecomputation(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached := NewCachedEmbedder(inner, 10)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedder_BatchPartialHits(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached := NewCachedEmbedder(inner, 10)
	defer cached.Close()

	ctx := context.Background()
	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// "warm" came from cache; only "cold" hit the inner embedder.
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := NewStaticEmbedder(96)
	cached := NewCachedEmbedder(inner, 0)
	defer cached.Close()

	assert.Equal(t, 96, cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
