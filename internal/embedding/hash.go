package embedding

import (
	"context"
	"crypto/md5"
	"encoding/binary"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/pkg/utils"
)

// DefaultDimensions is the dimension used when none is configured.
const DefaultDimensions = 384

// HashEmbedder is a deterministic bag-of-words embedder. Each unigram and bigram is hashed
// into one of the vector's buckets and the result is L2-normalized, so texts sharing words
// have positive cosine similarity. It needs no model and is always available.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing embedder of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the hashed, normalized embedding of text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	tokens := keyword.Tokenize(text)
	for i, tok := range tokens {
		vec[e.bucket(tok)] += 1
		if i > 0 {
			vec[e.bucket(tokens[i-1]+" "+tok)] += 0.5
		}
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

func (e *HashEmbedder) bucket(s string) int {
	sum := md5.Sum([]byte(s))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(e.dimensions))
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
