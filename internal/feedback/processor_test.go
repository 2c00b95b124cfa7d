package feedback

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

const testDim = 4

func setup(t *testing.T) (*storage.SQLiteStorage, *Processor, *models.RecordGraph) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	g, err := chunker.NewChunker().Chunk(&models.DeckTree{
		Meta: models.DeckMeta{Title: "Q3 Review", Company: "Acme"},
		Sections: []models.Section{
			{Name: "Opening", Type: models.SectionTitle},
			{
				Name:  "Reliability",
				Type:  models.SectionStat,
				Stats: []models.Stat{{Value: "99.95%", Label: "Pipeline Uptime"}},
			},
			{Name: "Thanks", Type: models.SectionClosing},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Persist(context.Background(), g))

	return store, NewProcessor(store, &config.FeedbackConfig{BoostRate: 0.1, ReviewRatio: 3}), g
}

func TestRecordKeepThenRegen_quality(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()
	id := g.Slides[1].ID

	for i := 0; i < 5; i++ {
		_, err := p.RecordKeep(ctx, id, nil)
		require.NoError(t, err)
	}
	counters, flagged, err := p.RecordRegen(ctx, id)
	require.NoError(t, err)
	assert.False(t, flagged)
	assert.Equal(t, 5, counters.KeepCount)
	assert.Equal(t, 1, counters.RegenCount)
	assert.Equal(t, 5, counters.UseCount, "regen does not count as a use")

	slide, err := store.GetSlide(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 5.0/6.0, slide.QualityScore(), 1e-9)

	events, err := store.FeedbackFor(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, models.SignalKeep, events[0].Signal)
	assert.Equal(t, models.SignalRegen, events[5].Signal)
}

func TestRecordKeep_concurrentNoLostUpdates(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()
	id := g.Slides[1].ID
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.RecordKeep(ctx, id, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	slide, err := store.GetSlide(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, n, slide.Counters.KeepCount)
	assert.Equal(t, n, slide.Counters.UseCount)
}

func TestRecordKeep_nudgesEmbedding(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()
	id := g.Slides[1].ID
	require.NoError(t, store.UpsertEnrichment(ctx, models.KindSlide, id,
		&models.Enrichment{Embedding: []float32{1, 0, 0, 0}}))

	query := []float32{0, 1, 0, 0}
	_, err := p.RecordKeep(ctx, id, query)
	require.NoError(t, err)

	slide, err := store.GetSlide(ctx, id)
	require.NoError(t, err)
	require.Len(t, slide.Embedding, testDim)
	assert.InDelta(t, 1.0, vector.L2Norm(slide.Embedding), 1e-5)
	assert.Greater(t, slide.Embedding[1], float32(0))
	assert.Greater(t, slide.Embedding[0], slide.Embedding[1])
	assert.Greater(t, vector.Cosine(slide.Embedding, query), 0.0)
}

func TestRecordKeep_withoutStoredEmbeddingLeavesItPending(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()
	id := g.Slides[1].ID

	_, err := p.RecordKeep(ctx, id, []float32{0, 1, 0, 0})
	require.NoError(t, err)
	slide, err := store.GetSlide(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, slide.Embedding)
	assert.True(t, slide.EmbeddingPending)
}

func TestRecordKeep_rejections(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()

	_, err := p.RecordKeep(ctx, "missing", nil)
	assert.True(t, models.IsIntegrity(err))

	_, err = p.RecordKeep(ctx, g.Deck.ID, nil)
	assert.True(t, models.IsIntegrity(err))

	_, err = p.RecordKeep(ctx, g.Slides[1].ID, []float32{1, 0})
	assert.True(t, models.IsValidation(err))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FeedbackEvents)
}

func TestRecordEdit(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()
	original := g.Slides[1]

	edited := models.Section{
		Name: "Reliability v2",
		Type: models.SectionStat,
		Stats: []models.Stat{
			{Value: "99.99%", Label: "Pipeline Uptime"},
			{Value: "0", Label: "Sev1 Incidents"},
		},
	}
	derived, err := p.RecordEdit(ctx, original.ID, &edited)
	require.NoError(t, err)
	require.Len(t, derived.Slides, 1)
	require.Len(t, derived.Elements, 2)

	oldIDs := make(map[string]struct{})
	for _, id := range g.IDs() {
		oldIDs[id] = struct{}{}
	}
	for _, id := range derived.IDs() {
		_, clash := oldIDs[id]
		assert.False(t, clash, "id %s reused", id)
	}

	fresh, err := store.GetSlide(ctx, derived.Slides[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Counters.KeepCount)
	assert.Equal(t, 0, fresh.Counters.RegenCount)
	assert.Equal(t, 1.0, fresh.QualityScore())
	assert.Equal(t, original.ID, fresh.DerivedFrom)

	deck, err := store.GetDeck(ctx, derived.Deck.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Deck.ID, deck.DerivedFrom)
	assert.Equal(t, "Q3 Review", deck.Title)

	orig, err := store.GetSlide(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, orig.Counters.EditCount)
}

func TestRecordEdit_invalidSectionWritesNothing(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()

	_, err := p.RecordEdit(ctx, g.Slides[1].ID, &models.Section{Name: "untyped"})
	assert.True(t, models.IsValidation(err))

	orig, err := store.GetSlide(ctx, g.Slides[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, orig.Counters.EditCount)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Decks)
	assert.Equal(t, 0, stats.FeedbackEvents)

	_, err = p.RecordEdit(ctx, "missing", &models.Section{Type: models.SectionQuote, Quote: "hi"})
	assert.True(t, models.IsIntegrity(err))
}

type recordingEnricher struct{ graphs []*models.RecordGraph }

func (r *recordingEnricher) EnrichGraph(_ context.Context, g *models.RecordGraph) error {
	r.graphs = append(r.graphs, g)
	return nil
}

func TestRecordEdit_enrichesDerivedGraph(t *testing.T) {
	store, _, g := setup(t)
	rec := &recordingEnricher{}
	p := NewProcessor(store, nil, WithEnricher(rec))

	derived, err := p.RecordEdit(context.Background(), g.Slides[0].ID,
		&models.Section{Name: "New opening", Type: models.SectionTitle})
	require.NoError(t, err)
	require.Len(t, rec.graphs, 1)
	assert.Equal(t, derived.Deck.ID, rec.graphs[0].Deck.ID)
}

func TestRecordRegen_flagsForReview(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()
	id := g.Slides[1].ID

	_, err := p.RecordKeep(ctx, id, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, flagged, err := p.RecordRegen(ctx, id)
		require.NoError(t, err)
		assert.False(t, flagged, "regen %d", i+1)
	}
	counters, flagged, err := p.RecordRegen(ctx, id)
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, 4, counters.RegenCount)

	queue, err := store.ListFlaggedForReview(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, id, queue[0].ID)

	require.NoError(t, p.ResolveReview(ctx, id))
	queue, err = store.ListFlaggedForReview(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, queue)

	_, err = store.GetSlide(ctx, id)
	require.NoError(t, err, "flagged slides are never deleted")

	events, err := store.FeedbackFor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SignalReview, events[len(events)-1].Signal)

	assert.True(t, models.IsIntegrity(p.ResolveReview(ctx, "missing")))
	_, _, err = p.RecordRegen(ctx, "missing")
	assert.True(t, models.IsIntegrity(err))
}

func TestRecordPhraseHit_normalizes(t *testing.T) {
	store, p, g := setup(t)
	ctx := context.Background()
	id := g.Slides[1].ID

	first, err := p.RecordPhraseHit(ctx, "Make a stat slide about uptime", id)
	require.NoError(t, err)
	assert.Equal(t, 1, first.HitCount)
	assert.Equal(t, models.DefaultPhraseConfidence, first.Confidence)
	assert.Equal(t, models.KindSlide, first.MatchedKind)

	second, err := p.RecordPhraseHit(ctx, "make a   STAT slide about uptime", id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.HitCount)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PhraseTriggers)

	found, err := p.LookupPhrase(ctx, "MAKE a stat slide about uptime")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.MatchedID)

	none, err := p.LookupPhrase(ctx, "something else entirely")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRecordPhraseHit_rejections(t *testing.T) {
	_, p, g := setup(t)
	ctx := context.Background()

	_, err := p.RecordPhraseHit(ctx, "   ", g.Slides[1].ID)
	assert.True(t, models.IsValidation(err))

	_, err = p.RecordPhraseHit(ctx, "stat slide", "missing")
	assert.True(t, models.IsIntegrity(err))

	_, err = p.RecordPhraseHit(ctx, "stat slide", g.Deck.ID)
	assert.True(t, models.IsIntegrity(err))

	trigger, err := p.RecordPhraseHit(ctx, "uptime number", g.Elements[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindElement, trigger.MatchedKind)
}
