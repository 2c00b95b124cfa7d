package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

func benchCandidates(b *testing.B, n int) ([]*Candidate, []float32, []storage.KeywordHit, []string) {
	b.Helper()
	e := embedding.NewHashEmbedder(384)
	ctx := context.Background()
	query, err := e.Embed(ctx, "quarterly uptime metrics")
	if err != nil {
		b.Fatal(err)
	}
	cands := make([]*Candidate, n)
	hits := make([]storage.KeywordHit, 0, n/2)
	ids := make([]string, n)
	for i := range cands {
		id := fmt.Sprintf("slide-%04d", i)
		vec, err := e.Embed(ctx, fmt.Sprintf("slide %d about metric %d", i, i%17))
		if err != nil {
			b.Fatal(err)
		}
		cands[i] = newCandidate(&models.SlideRecord{ID: id, Type: models.SectionStat, Embedding: vec})
		ids[i] = id
		if i%2 == 0 {
			hits = append(hits, storage.KeywordHit{ID: id, Score: float64(i%13) + 1})
		}
	}
	return cands, query, hits, ids
}

func BenchmarkFuseAndRank(b *testing.B) {
	cands, query, hits, ids := benchCandidates(b, 500)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		kw := NormalizeKeywordScores(hits, ids)
		Fuse(cands, query, kw, models.DefaultWeights)
		Rank(cands)
	}
}

func BenchmarkHashEmbedder_Embed(b *testing.B) {
	e := embedding.NewHashEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
