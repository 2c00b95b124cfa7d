package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// FindSimilarSlides ranks stored slides of the same type as sec. The section
// is chunked into an ephemeral slide whose embedding text becomes the query.
// selfID, when set, is excluded from the results.
func (r *Retriever) FindSimilarSlides(ctx context.Context, sec *models.Section, selfID string, limit int) (*models.SearchResponse, error) {
	start := time.Now()
	if sec == nil {
		return nil, &models.QueryError{Field: "section", Reason: "section is required"}
	}
	slide, _, err := r.chunker.ChunkSection(sec)
	if err != nil {
		return nil, err
	}

	q := &models.SearchQuery{
		Query:       slide.EmbeddingText(),
		Granularity: models.KindSlide,
		Filters:     map[string]any{"type": string(slide.Type)},
		Limit:       limit,
	}
	if slide.Name != "" {
		q.Keywords = []string{slide.Name}
	}
	if selfID != "" {
		q.ExcludeIDs = []string{selfID}
	}
	weights, err := ProcessQuery(q, r.config)
	if err != nil {
		return nil, err
	}
	filters, err := CompileFilters(q.Granularity, q.Filters)
	if err != nil {
		return nil, err
	}
	resp, err := r.search(ctx, q, weights, filters)
	if err != nil {
		return nil, err
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	metrics.ObserveSearch("find_similar", string(models.KindSlide), start, resp.Total)
	return resp, nil
}

// SuggestNextSlide proposes section types to follow seq, based on stored
// decks whose type sequence starts with seq. Each deck votes for the type
// at the position after the prefix, weighted by that slide's quality.
// An empty seq or no matching history yields an empty list.
func (r *Retriever) SuggestNextSlide(ctx context.Context, seq []models.SectionType, limit int) ([]*models.NextSlideSuggestion, error) {
	start := time.Now()
	for i, t := range seq {
		if !t.Valid() {
			return nil, &models.QueryError{Field: fmt.Sprintf("sequence[%d]", i), Reason: fmt.Sprintf("unknown section type %q", t)}
		}
	}
	if limit <= 0 {
		limit = r.config.DefaultLimit
	}
	out := []*models.NextSlideSuggestion{}
	if len(seq) == 0 {
		return out, nil
	}

	matches, err := r.store.DeckSequences(ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to match deck sequences: %w", err)
	}

	byType := make(map[models.SectionType]*models.NextSlideSuggestion)
	bestQuality := make(map[models.SectionType]float64)
	for _, m := range matches {
		quality := m.NextCounters.QualityScore()
		s, ok := byType[m.NextType]
		if !ok {
			s = &models.NextSlideSuggestion{Type: m.NextType}
			byType[m.NextType] = s
			out = append(out, s)
		}
		s.Weight += quality
		s.Occurrences++
		if m.DeckCreated.After(s.LastSeen) {
			s.LastSeen = m.DeckCreated
		}
		// matches arrive newest first, so the first slide at a given quality wins
		if !ok || quality > bestQuality[m.NextType] {
			s.ExampleSlideID = m.NextSlideID
			bestQuality[m.NextType] = quality
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.Type < b.Type
	})
	if len(out) > limit {
		out = out[:limit]
	}
	metrics.ObserveSearch("suggest_next", string(models.KindSlide), start, len(out))
	return out, nil
}

// GetBestDesignFor returns the highest quality slide of contentType whose own
// text matches topic, or whose deck matches topic or audience. With neither
// topic nor audience every slide of the type is eligible. Returns nil when
// nothing qualifies.
func (r *Retriever) GetBestDesignFor(ctx context.Context, contentType models.SectionType, topic, audience string) (*models.SlideRecord, error) {
	start := time.Now()
	if !contentType.Valid() {
		return nil, &models.QueryError{Field: "content_type", Reason: fmt.Sprintf("unknown section type %q", contentType)}
	}
	filters, err := CompileFilters(models.KindSlide, map[string]any{"type": string(contentType)})
	if err != nil {
		return nil, err
	}

	var pool []*models.SlideRecord
	terms := keyword.Terms(strings.TrimSpace(topic+" "+audience), nil)
	if len(terms) == 0 {
		pool, err = r.store.ListSlides(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list slides: %w", err)
		}
	} else {
		pool, err = r.matchingSlides(ctx, contentType, keyword.MatchExpression(terms), filters)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if qa, qb := a.QualityScore(), b.QualityScore(); qa != qb {
			return qa > qb
		}
		if a.Counters.RegenCount != b.Counters.RegenCount {
			return a.Counters.RegenCount < b.Counters.RegenCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	var best *models.SlideRecord
	if len(pool) > 0 {
		best = pool[0]
	}
	metrics.ObserveSearch("best_design", string(models.KindSlide), start, len(pool))
	return best, nil
}

// matchingSlides unions slide full-text hits with the slides of decks whose
// own fields match.
func (r *Retriever) matchingSlides(ctx context.Context, contentType models.SectionType, match string, filters []storage.Filter) ([]*models.SlideRecord, error) {
	seen := make(map[string]struct{})
	var pool []*models.SlideRecord

	slideHits, err := r.store.FullTextSearch(ctx, models.KindSlide, match, filters, r.config.TopKCandidates)
	if err != nil {
		return nil, fmt.Errorf("slide keyword search failed: %w", err)
	}
	for _, h := range slideHits {
		s, err := r.store.GetSlide(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load slide %s: %w", h.ID, err)
		}
		seen[s.ID] = struct{}{}
		pool = append(pool, s)
	}

	deckHits, err := r.store.FullTextSearch(ctx, models.KindDeck, match, nil, r.config.TopKCandidates)
	if err != nil {
		return nil, fmt.Errorf("deck keyword search failed: %w", err)
	}
	for _, h := range deckHits {
		slides, err := r.store.SlidesForDeck(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load slides of deck %s: %w", h.ID, err)
		}
		for _, s := range slides {
			if s.Type != contentType {
				continue
			}
			if _, dup := seen[s.ID]; dup {
				continue
			}
			seen[s.ID] = struct{}{}
			pool = append(pool, s)
		}
	}
	return pool, nil
}

// GetSlideContext returns the neighborhood of a stored slide, or nil when no
// slide has that id.
func (r *Retriever) GetSlideContext(ctx context.Context, slideID string) (*models.SlideContext, error) {
	slide, err := r.store.GetSlide(ctx, slideID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load slide: %w", err)
	}
	deck, err := r.store.GetDeck(ctx, slide.DeckID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deck: %w", err)
	}
	siblings, err := r.store.SlidesForDeck(ctx, slide.DeckID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sibling slides: %w", err)
	}

	sc := &models.SlideContext{
		DeckID:       deck.ID,
		DeckTitle:    deck.Title,
		DeckSummary:  deck.Summary,
		Slide:        summarize(slide),
		SlideIndex:   slide.Position,
		TotalSlides:  len(siblings),
		SectionName:  slide.SectionName,
		DeckPosition: slide.DeckPosition,
	}
	for i, s := range siblings {
		if s.ID != slide.ID {
			continue
		}
		if i > 0 {
			sc.Previous = summarize(siblings[i-1])
		}
		if i+1 < len(siblings) {
			sc.Next = summarize(siblings[i+1])
		}
		break
	}
	return sc, nil
}

func summarize(s *models.SlideRecord) *models.SlideSummary {
	return &models.SlideSummary{
		ID:       s.ID,
		Position: s.Position,
		Name:     s.Name,
		Type:     s.Type,
		Summary:  s.Summary,
	}
}
