package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestProcessQuery_minScore(t *testing.T) {
	cfg := config.Default().Search
	cfg.MinScore = 0.5

	tests := []struct {
		name     string
		minScore *float64
		want     float64
	}{
		{"absent uses config default", nil, 0.5},
		{"explicit zero keeps everything", ptr(0.0), 0},
		{"explicit value wins", ptr(0.8), 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &models.SearchQuery{Query: "uptime", MinScore: tt.minScore}
			_, err := ProcessQuery(q, &cfg)
			require.NoError(t, err)
			require.NotNil(t, q.MinScore)
			assert.Equal(t, tt.want, *q.MinScore)
		})
	}
}

func TestProcessQuery_defaults(t *testing.T) {
	cfg := config.Default().Search
	q := &models.SearchQuery{Query: "uptime"}
	w, err := ProcessQuery(q, &cfg)
	require.NoError(t, err)
	assert.Equal(t, models.KindSlide, q.Granularity)
	assert.Equal(t, cfg.DefaultLimit, q.Limit)
	assert.Equal(t, models.DefaultWeights, w)
}
