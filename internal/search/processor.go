package search

import (
	"fmt"
	"math"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
)

// ProcessQuery validates q and fills in the configured defaults. It never
// touches the store, so a rejected query costs nothing.
func ProcessQuery(q *models.SearchQuery, cfg *config.SearchConfig) (models.Weights, error) {
	if q == nil {
		return models.Weights{}, &models.QueryError{Reason: "query is required"}
	}
	if q.Granularity == "" {
		q.Granularity = cfg.DefaultGranularity
		if q.Granularity == "" {
			q.Granularity = models.KindSlide
		}
	}
	if !q.Granularity.Valid() {
		return models.Weights{}, &models.QueryError{Field: "granularity", Reason: fmt.Sprintf("unknown granularity %q", q.Granularity)}
	}

	switch {
	case q.Limit < 0:
		return models.Weights{}, &models.QueryError{Field: "limit", Reason: "must not be negative"}
	case q.Limit == 0:
		q.Limit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 && q.Limit > cfg.MaxLimit {
		q.Limit = cfg.MaxLimit
	}

	if q.MinScore == nil {
		minScore := cfg.MinScore
		q.MinScore = &minScore
	}
	if ms := *q.MinScore; ms < 0 || ms > 1 || math.IsNaN(ms) {
		return models.Weights{}, &models.QueryError{Field: "min_score", Reason: "must be between 0 and 1"}
	}

	w := cfg.Weights
	if q.Weights != nil {
		w = *q.Weights
	}
	if w == (models.Weights{}) {
		w = models.DefaultWeights
	}
	if w.Semantic < 0 || w.Structural < 0 || w.Keyword < 0 {
		return models.Weights{}, &models.QueryError{Field: "weights", Reason: "weights must not be negative"}
	}
	if w.Semantic+w.Structural+w.Keyword <= 0 {
		return models.Weights{}, &models.QueryError{Field: "weights", Reason: "at least one weight must be positive"}
	}

	if len(q.QueryEmbedding) == 0 && q.Query == "" && len(q.Keywords) == 0 && len(q.Filters) == 0 {
		return models.Weights{}, &models.QueryError{Field: "query", Reason: "query, keywords, filters or query_embedding is required"}
	}
	return w, nil
}
