// Package search implements the read-only hybrid retriever over the design index.
package search

import (
	"sort"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

// Candidate is one record that survived the structural pre-filter, with its
// component scores.
type Candidate struct {
	Record    models.Record
	Embedding []float32
	Keep      int
	Regen     int
	Quality   float64
	CreatedAt time.Time

	SemanticScore   float64
	StructuralScore float64
	KeywordScore    float64
	Score           float64
}

// ID returns the record id.
func (c *Candidate) ID() string { return c.Record.RecordID() }

func newCandidate(r models.Record) *Candidate {
	c := &Candidate{Record: r, Quality: models.QualityScore(0, 0), StructuralScore: 1.0}
	switch rec := r.(type) {
	case *models.DeckRecord:
		c.Embedding, c.CreatedAt = rec.Embedding, rec.CreatedAt
	case *models.SlideRecord:
		c.Embedding, c.CreatedAt = rec.Embedding, rec.CreatedAt
		c.Keep, c.Regen = rec.Counters.KeepCount, rec.Counters.RegenCount
		c.Quality = rec.QualityScore()
	case *models.ElementRecord:
		c.Embedding, c.CreatedAt = rec.Embedding, rec.CreatedAt
	}
	return c
}

// NormalizeKeywordScores min-max normalizes full-text scores to [0,1] across
// the candidate ids. Candidates without a hit count as 0 in the range. When
// every candidate has the same positive score they all get 1.
func NormalizeKeywordScores(hits []storage.KeywordHit, candidateIDs []string) map[string]float64 {
	raw := make(map[string]float64, len(hits))
	for _, h := range hits {
		raw[h.ID] = h.Score
	}
	normalized := make(map[string]float64, len(candidateIDs))
	if len(candidateIDs) == 0 || len(raw) == 0 {
		return normalized
	}

	first := true
	var lo, hi float64
	for _, id := range candidateIDs {
		s := raw[id]
		if first {
			lo, hi, first = s, s, false
			continue
		}
		lo, hi = min(lo, s), max(hi, s)
	}
	for _, id := range candidateIDs {
		s := raw[id]
		switch {
		case hi == lo && hi > 0:
			normalized[id] = 1
		case hi == lo:
			normalized[id] = 0
		default:
			normalized[id] = (s - lo) / (hi - lo)
		}
	}
	return normalized
}

// Fuse fills each candidate's semantic, keyword and combined scores.
func Fuse(cands []*Candidate, queryEmbedding []float32, keywordScores map[string]float64, w models.Weights) {
	for _, c := range cands {
		c.SemanticScore = 0
		if len(queryEmbedding) > 0 && len(c.Embedding) > 0 {
			c.SemanticScore = vector.SemanticScore(queryEmbedding, c.Embedding)
		}
		c.KeywordScore = keywordScores[c.ID()]
		c.Score = w.Semantic*c.SemanticScore + w.Structural*c.StructuralScore + w.Keyword*c.KeywordScore
	}
}

// Rank sorts by combined score, then quality, then recency, newest first.
// The id breaks any remaining tie so output is stable.
func Rank(cands []*Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Quality != b.Quality {
			return a.Quality > b.Quality
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID() < b.ID()
	})
}

// DropBelow removes candidates scoring under minScore. Zero keeps everything.
func DropBelow(cands []*Candidate, minScore float64) []*Candidate {
	if minScore <= 0 {
		return cands
	}
	kept := cands[:0]
	for _, c := range cands {
		if c.Score >= minScore {
			kept = append(kept, c)
		}
	}
	return kept
}
