package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

const testDim = 32

type fixture struct {
	store     *storage.SQLiteStorage
	embedder  embedding.Embedder
	retriever *Retriever
	chunker   *chunker.Chunker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewHashEmbedder(testDim)
	cfg := config.Default().Search
	return &fixture{
		store:     store,
		embedder:  emb,
		retriever: NewRetriever(store, emb, &cfg),
		chunker:   chunker.NewChunker(),
	}
}

// ingest chunks, persists and embeds every slide of tree.
func (f *fixture) ingest(t *testing.T, tree *models.DeckTree) *models.RecordGraph {
	t.Helper()
	ctx := context.Background()
	g, err := f.chunker.Chunk(tree)
	require.NoError(t, err)
	require.NoError(t, f.store.Persist(ctx, g))
	for _, s := range g.Slides {
		vec, err := f.embedder.Embed(ctx, s.EmbeddingText())
		require.NoError(t, err)
		require.NoError(t, f.store.UpsertEnrichment(ctx, models.KindSlide, s.ID, &models.Enrichment{Embedding: vec}))
	}
	return g
}

func q3Tree() *models.DeckTree {
	return &models.DeckTree{
		Meta: models.DeckMeta{Title: "Q3 Review", Author: "Ops"},
		Sections: []models.Section{
			{Name: "Opening", Type: models.SectionTitle},
			{
				Name: "Reliability",
				Type: models.SectionStat,
				Stats: []models.Stat{
					{Value: "99.95%", Label: "Pipeline Uptime"},
					{Value: "12ms", Label: "P50 Latency"},
					{Value: "3", Label: "Incidents"},
				},
			},
			{Name: "Thanks", Type: models.SectionClosing},
		},
	}
}

func salesTree() *models.DeckTree {
	return &models.DeckTree{
		Meta: models.DeckMeta{Title: "Sales Kickoff"},
		Sections: []models.Section{
			{Name: "Kickoff", Type: models.SectionTitle},
			{
				Name: "Pipeline",
				Type: models.SectionBullets,
				Bullets: []models.Bullet{
					{Text: "Grow pipeline coverage"},
					{Text: "Shorten sales cycles"},
				},
			},
			{Name: "Bye", Type: models.SectionClosing},
		},
	}
}

func TestSearch_structuralFilterScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.ingest(t, q3Tree())
	f.ingest(t, salesTree())

	resp, err := f.retriever.Search(ctx, &models.SearchQuery{
		Query:       "pipeline uptime",
		Granularity: models.KindSlide,
		Filters:     map[string]any{"type": "stat"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	got := resp.Results[0]
	assert.Equal(t, g.Slides[1].ID, got.ChunkID)
	assert.Equal(t, models.KindSlide, got.Kind)
	assert.Equal(t, 1.0, got.StructuralScore)
	assert.Equal(t, 1.0, got.KeywordScore)
	assert.Equal(t, "Q3 Review", got.Context.DeckTitle)
	assert.Equal(t, models.PositionMiddle, got.Context.DeckPosition)
	assert.Equal(t, 0.5, got.QualityScore)
	assert.Contains(t, got.SourceText, "Pipeline Uptime")
	assert.False(t, resp.SemanticDegraded)
}

func TestSearch_unsatisfiableFilterIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, q3Tree())

	resp, err := f.retriever.Search(context.Background(), &models.SearchQuery{
		Query:   "pipeline uptime",
		Filters: map[string]any{"type": "timeline"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestSearch_rankingAndTieBreaks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, q3Tree())
	f.ingest(t, salesTree())

	resp, err := f.retriever.Search(ctx, &models.SearchQuery{
		Keywords: []string{"pipeline"},
		Filters:  map[string]any{"deck_position": "middle"},
		Weights:  &models.Weights{Structural: 0.5, Keyword: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
	assert.Equal(t, 0.0, resp.Results[0].SemanticScore)
}

func TestSearch_excludeIDsAndLimit(t *testing.T) {
	f := newFixture(t)
	g := f.ingest(t, q3Tree())

	resp, err := f.retriever.Search(context.Background(), &models.SearchQuery{
		Query:      "review",
		Limit:      1,
		ExcludeIDs: []string{g.Slides[0].ID},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.NotEqual(t, g.Slides[0].ID, resp.Results[0].ChunkID)
}

func TestSearch_elementGranularity(t *testing.T) {
	f := newFixture(t)
	g := f.ingest(t, q3Tree())

	resp, err := f.retriever.Search(context.Background(), &models.SearchQuery{
		Keywords:    []string{"latency"},
		Granularity: models.KindElement,
		Filters:     map[string]any{"element_type": "stat"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, models.KindElement, top.Kind)
	assert.Equal(t, g.Slides[1].ID, top.Context.SlideID)
	assert.Equal(t, 1, top.Context.Position)
	require.NotNil(t, top.Payload)
	assert.Contains(t, top.Payload.Text(), "P50 Latency")
}

func TestSearch_minScoreDropsResults(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, q3Tree())

	resp, err := f.retriever.Search(context.Background(), &models.SearchQuery{
		Keywords: []string{"uptime"},
		MinScore: ptr(0.99),
		Weights:  &models.Weights{Keyword: 0.5, Structural: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, models.SectionStat, resp.Results[0].Context.SlideType)
}

func TestSearch_spellingSuggestions(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, q3Tree())

	resp, err := f.retriever.Search(context.Background(), &models.SearchQuery{Keywords: []string{"uptme"}})
	require.NoError(t, err)
	assert.Contains(t, resp.Suggestions, "uptime")

	resp, err = f.retriever.Search(context.Background(), &models.SearchQuery{
		Keywords: []string{"uptme"},
		Weights:  &models.Weights{Semantic: 0.5, Structural: 0.5},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Suggestions, "no full-text search ran, so nothing to correct")
}

// untouchedStore fails the test on any store access.
type untouchedStore struct {
	storage.Storage
	t *testing.T
}

func (s untouchedStore) EmbeddingDim() int {
	s.t.Fatal("store accessed")
	return 0
}

func TestSearch_queryErrorsBeforeStoreAccess(t *testing.T) {
	cfg := config.Default().Search
	r := NewRetriever(untouchedStore{t: t}, nil, &cfg)

	tests := []struct {
		name  string
		query *models.SearchQuery
	}{
		{"unknown granularity", &models.SearchQuery{Query: "x", Granularity: "page"}},
		{"unknown filter", &models.SearchQuery{Query: "x", Filters: map[string]any{"colour": "red"}}},
		{"filter not valid for granularity", &models.SearchQuery{Query: "x", Granularity: models.KindDeck, Filters: map[string]any{"type": "stat"}}},
		{"bad enum value", &models.SearchQuery{Query: "x", Filters: map[string]any{"type": "chart"}}},
		{"bad bool", &models.SearchQuery{Query: "x", Filters: map[string]any{"has_stats": "maybe"}}},
		{"negative limit", &models.SearchQuery{Query: "x", Limit: -1}},
		{"min score out of range", &models.SearchQuery{Query: "x", MinScore: ptr(1.5)}},
		{"negative weight", &models.SearchQuery{Query: "x", Weights: &models.Weights{Semantic: -1, Keyword: 1}}},
		{"empty", &models.SearchQuery{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Search(context.Background(), tt.query)
			require.Error(t, err)
			assert.True(t, models.IsQuery(err), "expected QueryError, got %v", err)
		})
	}
}

func TestSearch_queryEmbeddingDimensionMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.retriever.Search(context.Background(), &models.SearchQuery{QueryEmbedding: []float32{1, 0}})
	assert.True(t, models.IsQuery(err))
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func TestSearch_degradesWithoutEmbedder(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, q3Tree())
	cfg := config.Default().Search
	r := NewRetriever(f.store, failingEmbedder{}, &cfg)

	resp, err := r.Search(context.Background(), &models.SearchQuery{
		Query:   "pipeline uptime",
		Filters: map[string]any{"type": "stat"},
	})
	require.NoError(t, err)
	assert.True(t, resp.SemanticDegraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0.0, resp.Results[0].SemanticScore)
	assert.Equal(t, 1.0, resp.Results[0].KeywordScore)
}

func TestSearch_pendingEmbeddingStillReachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.chunker.Chunk(q3Tree())
	require.NoError(t, err)
	require.NoError(t, f.store.Persist(ctx, g))

	resp, err := f.retriever.Search(ctx, &models.SearchQuery{Query: "pipeline uptime", Filters: map[string]any{"type": "stat"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0.0, resp.Results[0].SemanticScore)
}

func TestFindSimilarSlides(t *testing.T) {
	f := newFixture(t)
	g := f.ingest(t, q3Tree())
	f.ingest(t, salesTree())
	stat := q3Tree().Sections[1]

	resp, err := f.retriever.FindSimilarSlides(context.Background(), &stat, "", 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, g.Slides[1].ID, resp.Results[0].ChunkID)
	assert.Greater(t, resp.Results[0].SemanticScore, 0.5)

	resp, err = f.retriever.FindSimilarSlides(context.Background(), &stat, g.Slides[1].ID, 5)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestFindSimilarSlides_invalidSection(t *testing.T) {
	f := newFixture(t)
	_, err := f.retriever.FindSimilarSlides(context.Background(), &models.Section{Name: "no type"}, "", 5)
	assert.True(t, models.IsValidation(err))
}

func TestSuggestNextSlide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.retriever.SuggestNextSlide(ctx, []models.SectionType{models.SectionTitle}, 3)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	f.ingest(t, q3Tree())
	f.ingest(t, salesTree())
	q3 := f.ingest(t, q3Tree())

	got, err = f.retriever.SuggestNextSlide(ctx, []models.SectionType{models.SectionTitle}, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.SectionStat, got[0].Type)
	assert.Equal(t, 2, got[0].Occurrences)
	assert.InDelta(t, 1.0, got[0].Weight, 1e-9)
	assert.Equal(t, models.SectionBullets, got[1].Type)
	assert.Equal(t, q3.Slides[1].ID, got[0].ExampleSlideID)

	got, err = f.retriever.SuggestNextSlide(ctx, []models.SectionType{models.SectionTitle, models.SectionStat}, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.SectionClosing, got[0].Type)

	got, err = f.retriever.SuggestNextSlide(ctx, []models.SectionType{models.SectionQuote}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.retriever.SuggestNextSlide(ctx, nil, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSuggestNextSlide_unknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.retriever.SuggestNextSlide(context.Background(), []models.SectionType{"chart"}, 3)
	assert.True(t, models.IsQuery(err))
}

func TestGetBestDesignFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	best, err := f.retriever.GetBestDesignFor(ctx, models.SectionStat, "uptime", "")
	require.NoError(t, err)
	assert.Nil(t, best)

	older := f.ingest(t, q3Tree())
	newer := f.ingest(t, q3Tree())

	best, err = f.retriever.GetBestDesignFor(ctx, models.SectionStat, "uptime", "")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, newer.Slides[1].ID, best.ID)

	err = f.store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := tx.IncrementCounters(ctx, older.Slides[1].ID, models.CounterDelta{Keep: 2, Use: 2})
		return err
	})
	require.NoError(t, err)

	best, err = f.retriever.GetBestDesignFor(ctx, models.SectionStat, "uptime", "")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, older.Slides[1].ID, best.ID)

	best, err = f.retriever.GetBestDesignFor(ctx, models.SectionStat, "", "")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, older.Slides[1].ID, best.ID)

	best, err = f.retriever.GetBestDesignFor(ctx, models.SectionTimeline, "uptime", "")
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestGetBestDesignFor_matchesDeckAudience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.ingest(t, q3Tree())
	audience := "board members"
	require.NoError(t, f.store.UpsertEnrichment(ctx, models.KindDeck, g.Deck.ID, &models.Enrichment{Audience: &audience}))

	best, err := f.retriever.GetBestDesignFor(ctx, models.SectionClosing, "", "board")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, g.Slides[2].ID, best.ID)
}

func TestGetSlideContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.ingest(t, q3Tree())

	sc, err := f.retriever.GetSlideContext(ctx, g.Slides[1].ID)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, g.Deck.ID, sc.DeckID)
	assert.Equal(t, "Q3 Review", sc.DeckTitle)
	assert.Equal(t, 1, sc.SlideIndex)
	assert.Equal(t, 3, sc.TotalSlides)
	require.NotNil(t, sc.Previous)
	require.NotNil(t, sc.Next)
	assert.Equal(t, models.SectionTitle, sc.Previous.Type)
	assert.Equal(t, models.SectionClosing, sc.Next.Type)
	assert.Equal(t, models.PositionMiddle, sc.DeckPosition)

	first, err := f.retriever.GetSlideContext(ctx, g.Slides[0].ID)
	require.NoError(t, err)
	assert.Nil(t, first.Previous)

	missing, err := f.retriever.GetSlideContext(ctx, "no-such-slide")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRank_tieBreaks(t *testing.T) {
	now := time.Now()
	mk := func(id string, score, quality float64, created time.Time) *Candidate {
		return &Candidate{Record: &models.SlideRecord{ID: id}, Score: score, Quality: quality, CreatedAt: created}
	}
	cands := []*Candidate{
		mk("d", 0.5, 0.5, now),
		mk("c", 0.5, 0.5, now.Add(time.Second)),
		mk("b", 0.5, 0.9, now),
		mk("a", 0.9, 0.1, now),
		mk("e", 0.5, 0.5, now),
	}
	Rank(cands)
	var ids []string
	for _, c := range cands {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
}

func TestNormalizeKeywordScores(t *testing.T) {
	hits := []storage.KeywordHit{{ID: "a", Score: 4}, {ID: "b", Score: 2}}
	got := NormalizeKeywordScores(hits, []string{"a", "b", "c"})
	assert.Equal(t, 1.0, got["a"])
	assert.Equal(t, 0.5, got["b"])
	assert.Equal(t, 0.0, got["c"])

	got = NormalizeKeywordScores([]storage.KeywordHit{{ID: "a", Score: 3}}, []string{"a"})
	assert.Equal(t, 1.0, got["a"])

	assert.Empty(t, NormalizeKeywordScores(nil, []string{"a"}))
}
