package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Retriever answers read-only queries over the design index.
type Retriever struct {
	store    storage.Storage
	embedder embedding.Embedder
	config   *config.SearchConfig
	chunker  *chunker.Chunker
	speller  *keyword.SpellChecker
	logger   *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = utils.OrNop(l) }
}

// WithChunker sets the chunker used to build ephemeral slides for similarity queries.
func WithChunker(c *chunker.Chunker) RetrieverOption {
	return func(r *Retriever) {
		if c != nil {
			r.chunker = c
		}
	}
}

// NewRetriever creates a retriever. embedder may be nil, in which case text
// queries run without a semantic component.
func NewRetriever(store storage.Storage, embedder embedding.Embedder, cfg *config.SearchConfig, opts ...RetrieverOption) *Retriever {
	if cfg == nil {
		cfg = &config.Default().Search
	}
	r := &Retriever{
		store:    store,
		embedder: embedder,
		config:   cfg,
		chunker:  chunker.NewChunker(),
		speller:  keyword.NewSpellChecker(store),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search runs a hybrid search: a hard structural pre-filter, then semantic
// and keyword scoring blended by the query weights.
func (r *Retriever) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	weights, err := ProcessQuery(q, r.config)
	if err != nil {
		return nil, err
	}
	filters, err := CompileFilters(q.Granularity, q.Filters)
	if err != nil {
		return nil, err
	}
	if n := len(q.QueryEmbedding); n > 0 && n != r.store.EmbeddingDim() {
		return nil, &models.QueryError{
			Field:  "query_embedding",
			Reason: fmt.Sprintf("dimension %d does not match index dimension %d", n, r.store.EmbeddingDim()),
		}
	}

	resp, err := r.search(ctx, q, weights, filters)
	if err != nil {
		return nil, err
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	metrics.ObserveSearch("search", string(q.Granularity), start, resp.Total)
	return resp, nil
}

func (r *Retriever) search(ctx context.Context, q *models.SearchQuery, w models.Weights, filters []storage.Filter) (*models.SearchResponse, error) {
	terms := keyword.Terms(q.Query, q.Keywords)
	match := keyword.MatchExpression(terms)

	var (
		records        []models.Record
		hits           []storage.KeywordHit
		queryEmbedding = q.QueryEmbedding
		degraded       bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = r.listCandidates(gctx, q.Granularity, filters)
		if err != nil {
			return fmt.Errorf("failed to list candidates: %w", err)
		}
		return nil
	})
	if match != "" && w.Keyword > 0 {
		g.Go(func() error {
			var err error
			hits, err = r.store.FullTextSearch(gctx, q.Granularity, match, filters, r.config.TopKCandidates)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			return nil
		})
	}
	if len(queryEmbedding) == 0 && q.Query != "" && w.Semantic > 0 {
		g.Go(func() error {
			vec, err := r.embedQuery(gctx, q.Query)
			if err != nil {
				r.logger.Warn("Semantic scoring unavailable", zap.Error(err))
				degraded = true
				return nil
			}
			queryEmbedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if degraded {
		metrics.SemanticDegraded()
	}

	excluded := make(map[string]struct{}, len(q.ExcludeIDs))
	for _, id := range q.ExcludeIDs {
		excluded[id] = struct{}{}
	}
	cands := make([]*Candidate, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if _, skip := excluded[rec.RecordID()]; skip {
			continue
		}
		c := newCandidate(rec)
		cands = append(cands, c)
		ids = append(ids, c.ID())
	}

	Fuse(cands, queryEmbedding, NormalizeKeywordScores(hits, ids), w)
	cands = DropBelow(cands, *q.MinScore)
	Rank(cands)
	if len(cands) > q.Limit {
		cands = cands[:q.Limit]
	}

	resp := &models.SearchResponse{
		Results:          make([]*models.ScoredResult, 0, len(cands)),
		Query:            q.Query,
		Granularity:      q.Granularity,
		SemanticDegraded: degraded,
	}
	if match != "" && w.Keyword > 0 && len(hits) == 0 {
		resp.Suggestions = r.suggest(ctx, terms)
	}

	rb := newResultBuilder(r.store)
	for _, c := range cands {
		res, err := rb.build(ctx, c)
		if err != nil {
			return nil, err
		}
		resp.Results = append(resp.Results, res)
	}
	resp.Total = len(resp.Results)
	return resp, nil
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, &models.EmbeddingUnavailableError{Err: errors.New("no embedder configured")}
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &models.EmbeddingUnavailableError{Err: err}
	}
	if len(vec) != r.store.EmbeddingDim() {
		return nil, &models.EmbeddingUnavailableError{
			Err: fmt.Errorf("embedder produced %d dimensions, index has %d", len(vec), r.store.EmbeddingDim()),
		}
	}
	return vec, nil
}

func (r *Retriever) listCandidates(ctx context.Context, kind models.ChunkKind, filters []storage.Filter) ([]models.Record, error) {
	var out []models.Record
	switch kind {
	case models.KindDeck:
		decks, err := r.store.ListDecks(ctx, filters)
		if err != nil {
			return nil, err
		}
		for _, d := range decks {
			out = append(out, d)
		}
	case models.KindSlide:
		slides, err := r.store.ListSlides(ctx, filters)
		if err != nil {
			return nil, err
		}
		for _, s := range slides {
			out = append(out, s)
		}
	case models.KindElement:
		elems, err := r.store.ListElements(ctx, filters)
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			out = append(out, e)
		}
	default:
		return nil, &models.QueryError{Field: "granularity", Reason: fmt.Sprintf("unknown granularity %q", kind)}
	}
	return out, nil
}

// suggest returns spelling corrections for terms the vocabulary does not know.
func (r *Retriever) suggest(ctx context.Context, terms []string) []string {
	corrected, changed, err := r.speller.Correct(ctx, terms)
	if err != nil {
		r.logger.Debug("Spelling suggestions unavailable", zap.Error(err))
		return nil
	}
	if !changed {
		return nil
	}
	var out []string
	for i, t := range corrected {
		if t != terms[i] {
			out = append(out, t)
		}
	}
	return out
}

// resultBuilder turns candidates into scored results, caching the deck and
// slide lookups needed for navigational context.
type resultBuilder struct {
	store  storage.Storage
	decks  map[string]*models.DeckRecord
	slides map[string]*models.SlideRecord
}

func newResultBuilder(store storage.Storage) *resultBuilder {
	return &resultBuilder{
		store:  store,
		decks:  make(map[string]*models.DeckRecord),
		slides: make(map[string]*models.SlideRecord),
	}
}

func (b *resultBuilder) deckTitle(ctx context.Context, id string) (string, error) {
	if d, ok := b.decks[id]; ok {
		return d.Title, nil
	}
	d, err := b.store.GetDeck(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to load deck %s: %w", id, err)
	}
	b.decks[id] = d
	return d.Title, nil
}

func (b *resultBuilder) slide(ctx context.Context, id string) (*models.SlideRecord, error) {
	if s, ok := b.slides[id]; ok {
		return s, nil
	}
	s, err := b.store.GetSlide(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load slide %s: %w", id, err)
	}
	b.slides[id] = s
	return s, nil
}

func (b *resultBuilder) build(ctx context.Context, c *Candidate) (*models.ScoredResult, error) {
	res := &models.ScoredResult{
		ChunkID:         c.ID(),
		Kind:            c.Record.Kind(),
		Score:           c.Score,
		SemanticScore:   c.SemanticScore,
		StructuralScore: c.StructuralScore,
		KeywordScore:    c.KeywordScore,
		KeepCount:       c.Keep,
		RegenCount:      c.Regen,
		QualityScore:    c.Quality,
		CreatedAt:       c.CreatedAt,
	}
	switch rec := c.Record.(type) {
	case *models.DeckRecord:
		b.decks[rec.ID] = rec
		res.Title = rec.Title
		res.Summary = rec.Summary
		res.TopicTags = rec.TopicTags
		res.Context = models.ResultContext{DeckID: rec.ID, DeckTitle: rec.Title}
	case *models.SlideRecord:
		title, err := b.deckTitle(ctx, rec.DeckID)
		if err != nil {
			return nil, err
		}
		res.Title = rec.Name
		res.SourceText = rec.SourceText
		res.Summary = rec.Summary
		res.TopicTags = rec.TopicTags
		res.Context = models.ResultContext{
			DeckID:       rec.DeckID,
			DeckTitle:    title,
			SlideID:      rec.ID,
			SlideType:    rec.Type,
			Position:     rec.Position,
			DeckPosition: rec.DeckPosition,
		}
	case *models.ElementRecord:
		title, err := b.deckTitle(ctx, rec.DeckID)
		if err != nil {
			return nil, err
		}
		owner, err := b.slide(ctx, rec.SlideID)
		if err != nil {
			return nil, err
		}
		res.Title = owner.Name
		res.Payload = rec.Payload
		res.Summary = rec.Summary
		res.TopicTags = rec.TopicTags
		res.Context = models.ResultContext{
			DeckID:       rec.DeckID,
			DeckTitle:    title,
			SlideID:      rec.SlideID,
			SlideType:    rec.SlideType,
			Position:     owner.Position,
			DeckPosition: owner.DeckPosition,
		}
	}
	return res, nil
}
