package embedding

import (
	"context"
	"sync"
	"testing"

	"github.com/hyperjump/kioku/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())

	a, err := e.Embed(ctx, "pipeline uptime this quarter")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "pipeline uptime this quarter")
	require.NoError(t, err)
	assert.Equal(t, a, b, "embedding must be deterministic")
	assert.InDelta(t, 1.0, vector.L2Norm(a), 1e-5)

	related, _ := e.Embed(ctx, "Pipeline uptime")
	unrelated, _ := e.Embed(ctx, "hiring plan for marketing")
	assert.Greater(t, vector.Cosine(a, related), vector.Cosine(a, unrelated))

	empty, err := e.Embed(ctx, "")
	require.NoError(t, err)
	assert.Len(t, empty, DefaultDimensions)

	batch, err := e.EmbedBatch(ctx, []string{"a b", "c d"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Embed(cancelled, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	e, err := New(Options{Backend: BackendHash, Dimensions: 16})
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dimensions())

	e, err = New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDimensions, e.Dimensions())

	_, err = New(Options{Backend: "word2vec"})
	assert.Error(t, err)

	_, err = New(Options{Backend: BackendONNX, ModelPath: "/nonexistent/model.onnx", Dimensions: 8})
	assert.Error(t, err)
}

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, v)

	c.Set("b", []float32{4, 5})
	c.Get("a")
	c.Set("c", []float32{6}) // evicts b, a was used more recently
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	disabled := NewEmbeddingCache(0)
	disabled.Set("x", []float32{1})
	assert.Equal(t, 0, disabled.Len())
}

type countingEmbedder struct {
	*HashEmbedder
	mu    sync.Mutex
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.HashEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8)}
	e := WithCache(inner, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Embed(ctx, "same text")
		}()
	}
	wg.Wait()
	_, err := e.EmbedBatch(ctx, []string{"same text", "same text"})
	require.NoError(t, err)
	assert.LessOrEqual(t, inner.calls, 8)
	assert.Equal(t, 8, e.Dimensions())
}

func TestSimpleTokenizer(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	assert.Len(t, ids, 10)
	assert.Len(t, types, 10)
	assert.Equal(t, int64(tokenCLS), ids[0])
	assert.Equal(t, int64(tokenSEP), ids[3])
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0, 0, 0, 0, 0}, attn)

	ids, _, _ = tok.Tokenize("a b c d e f", 4)
	assert.Len(t, ids, 4)
	assert.GreaterOrEqual(t, HashString("anything"), 0)
}

func TestPooledOutput(t *testing.T) {
	pooled := modelOutput{Name: "sentence_embedding", Shape: []int64{-1, 384}}
	tokens := modelOutput{Name: "last_hidden_state", Shape: []int64{-1, -1, 384}}

	got, err := pooledOutput([]modelOutput{tokens, pooled}, 384)
	require.NoError(t, err)
	assert.Equal(t, "sentence_embedding", got.Name)

	got, err = pooledOutput([]modelOutput{{Name: "embeddings", Shape: []int64{1, 16}}}, 16)
	require.NoError(t, err)
	assert.Equal(t, "embeddings", got.Name, "a single output is used whatever its name")

	_, err = pooledOutput([]modelOutput{pooled}, 768)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index stores 768")
	assert.Contains(t, err.Error(), "migrate-embeddings --dimensions 384")

	_, err = pooledOutput([]modelOutput{tokens, {Name: "logits", Shape: []int64{1, 2}}}, 384)
	assert.Error(t, err, "no pooled output among several")

	_, err = pooledOutput([]modelOutput{{Name: "output", Shape: []int64{-1, -1, 384}}}, 384)
	assert.Error(t, err, "token-level output is not pooled")

	_, err = pooledOutput([]modelOutput{{Name: "output", Shape: []int64{-1, -1}}}, 384)
	assert.Error(t, err, "dynamic width")
}
