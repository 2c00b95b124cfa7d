// Package enrich computes semantic enrichment for stored records and writes
// it back through the store, using a bounded pool of workers.
package enrich

import (
	"context"
	"fmt"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
)

// Enricher computes the enrichment fields for one record. Implementations
// may call remote services and must honor ctx.
type Enricher interface {
	Enrich(ctx context.Context, rec models.Record) (*models.Enrichment, error)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, rec models.Record) (*models.Enrichment, error)

// Enrich calls f.
func (f EnricherFunc) Enrich(ctx context.Context, rec models.Record) (*models.Enrichment, error) {
	return f(ctx, rec)
}

type embeddingTexter interface {
	EmbeddingText() string
}

// EmbeddingEnricher supplies only an embedding, computed from the record's
// embedding text.
type EmbeddingEnricher struct {
	embedder embedding.Embedder
}

// NewEmbeddingEnricher returns an Enricher backed by embedder.
func NewEmbeddingEnricher(embedder embedding.Embedder) *EmbeddingEnricher {
	return &EmbeddingEnricher{embedder: embedder}
}

// Enrich embeds the record's embedding text.
func (e *EmbeddingEnricher) Enrich(ctx context.Context, rec models.Record) (*models.Enrichment, error) {
	t, ok := rec.(embeddingTexter)
	if !ok {
		return nil, fmt.Errorf("record %s has no embedding text", rec.RecordID())
	}
	vec, err := e.embedder.Embed(ctx, t.EmbeddingText())
	if err != nil {
		return nil, err
	}
	return &models.Enrichment{Embedding: vec}, nil
}
