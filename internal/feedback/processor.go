// Package feedback turns user signals on generated slides into counter
// updates, embedding nudges, derived records and learned phrase triggers.
package feedback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

// DefaultBoostRate is the EMA rate used when none is configured.
const DefaultBoostRate = 0.1

// DefaultReviewRatio flags a slide once regen_count exceeds this multiple of keep_count.
const DefaultReviewRatio = 3

// GraphEnricher computes enrichment for a freshly persisted graph.
type GraphEnricher interface {
	EnrichGraph(ctx context.Context, g *models.RecordGraph) error
}

// Processor applies feedback signals. Each signal is logged and aggregated
// in the same store transaction.
type Processor struct {
	store       storage.Storage
	chunker     *chunker.Chunker
	enricher    GraphEnricher
	boostRate   float64
	reviewRatio int
	logger      *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = utils.OrNop(l) }
}

// WithChunker sets the chunker used to re-chunk edited sections.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Processor) {
		if c != nil {
			p.chunker = c
		}
	}
}

// WithEnricher enriches graphs created by RecordEdit after they are committed.
func WithEnricher(e GraphEnricher) Option {
	return func(p *Processor) { p.enricher = e }
}

// NewProcessor creates a feedback processor. A nil cfg uses the defaults.
func NewProcessor(store storage.Storage, cfg *config.FeedbackConfig, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		chunker:     chunker.NewChunker(),
		boostRate:   DefaultBoostRate,
		reviewRatio: DefaultReviewRatio,
		logger:      zap.NewNop(),
	}
	if cfg != nil {
		if cfg.BoostRate > 0 && cfg.BoostRate < 1 {
			p.boostRate = cfg.BoostRate
		}
		if cfg.ReviewRatio > 0 {
			p.reviewRatio = cfg.ReviewRatio
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RecordKeep counts an accepted slide and, when queryEmbedding is given and
// the slide is embedded, moves its embedding toward the query.
func (p *Processor) RecordKeep(ctx context.Context, slideID string, queryEmbedding []float32) (models.Counters, error) {
	var counters models.Counters
	if n := len(queryEmbedding); n > 0 && n != p.store.EmbeddingDim() {
		err := &models.ValidationError{
			Field:  "query_embedding",
			Reason: fmt.Sprintf("dimension %d does not match index dimension %d", n, p.store.EmbeddingDim()),
		}
		metrics.FeedbackSignal(string(models.SignalKeep), err)
		return counters, err
	}

	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := requireSlide(ctx, tx, "keep", slideID); err != nil {
			return err
		}
		nudged := false
		if len(queryEmbedding) > 0 {
			cur, err := tx.Embedding(ctx, models.KindSlide, slideID)
			if err != nil {
				return err
			}
			if cur != nil {
				next, err := vector.Nudge(cur, queryEmbedding, p.boostRate)
				if err != nil {
					return fmt.Errorf("failed to nudge embedding: %w", err)
				}
				if err := tx.SetEmbedding(ctx, models.KindSlide, slideID, next); err != nil {
					return err
				}
				nudged = true
			}
		}
		if err := tx.AppendFeedback(ctx, &models.FeedbackEvent{
			ChunkID:   slideID,
			ChunkKind: models.KindSlide,
			Signal:    models.SignalKeep,
			Context:   map[string]any{"nudged": nudged},
		}); err != nil {
			return err
		}
		var err error
		counters, err = tx.IncrementCounters(ctx, slideID, models.CounterDelta{Use: 1, Keep: 1})
		return err
	})
	metrics.FeedbackSignal(string(models.SignalKeep), err)
	if err != nil {
		return models.Counters{}, err
	}
	p.logger.Debug("Recorded keep", zap.String("slide_id", slideID), zap.Int("keep_count", counters.KeepCount))
	return counters, nil
}

// RecordEdit counts an edit on the original slide and stores the edited
// section as a new single-slide deck derived from the original. The new slide
// starts with one keep and no regens.
func (p *Processor) RecordEdit(ctx context.Context, slideID string, edited *models.Section) (*models.RecordGraph, error) {
	graph, err := p.recordEdit(ctx, slideID, edited)
	metrics.FeedbackSignal(string(models.SignalEdit), err)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Recorded edit",
		zap.String("slide_id", slideID),
		zap.String("derived_slide_id", graph.Slides[0].ID))

	if p.enricher != nil {
		if err := p.enricher.EnrichGraph(ctx, graph); err != nil {
			p.logger.Warn("Enrichment of edited slide failed", zap.String("deck_id", graph.Deck.ID), zap.Error(err))
		}
	}
	return graph, nil
}

func (p *Processor) recordEdit(ctx context.Context, slideID string, edited *models.Section) (*models.RecordGraph, error) {
	if edited == nil {
		return nil, &models.ValidationError{Field: "section", Reason: "edited content is required"}
	}
	var graph *models.RecordGraph
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		original, err := tx.GetSlide(ctx, slideID)
		if errors.Is(err, models.ErrNotFound) {
			return &models.IntegrityError{Op: "edit", ID: slideID, Reason: "unknown slide"}
		}
		if err != nil {
			return err
		}
		deck, err := tx.GetDeck(ctx, original.DeckID)
		if err != nil {
			return err
		}

		graph, err = p.chunker.Chunk(&models.DeckTree{
			Meta: models.DeckMeta{
				Title:    deck.Title,
				Author:   deck.Author,
				Company:  deck.Company,
				Template: deck.Template,
			},
			Sections: []models.Section{*edited},
		})
		if err != nil {
			return err
		}
		graph.Deck.BrandColors = deck.BrandColors
		graph.Deck.DerivedFrom = deck.ID
		derived := graph.Slides[0]
		derived.DerivedFrom = original.ID
		derived.Counters = models.Counters{UseCount: 1, KeepCount: 1}
		if derived.Name == "" {
			derived.Name = original.Name
		}

		if err := tx.AppendFeedback(ctx, &models.FeedbackEvent{
			ChunkID:   slideID,
			ChunkKind: models.KindSlide,
			Signal:    models.SignalEdit,
			Context:   map[string]any{"derived_slide_id": derived.ID, "derived_deck_id": graph.Deck.ID},
		}); err != nil {
			return err
		}
		if _, err := tx.IncrementCounters(ctx, slideID, models.CounterDelta{Edit: 1}); err != nil {
			return err
		}
		return tx.Persist(ctx, graph)
	})
	if err != nil {
		return nil, err
	}
	return graph, nil
}

// RecordRegen counts a rejected slide and flags it for review once its regen
// count exceeds the review ratio times its keep count. Flagged slides are
// never removed automatically.
func (p *Processor) RecordRegen(ctx context.Context, slideID string) (models.Counters, bool, error) {
	var (
		counters     models.Counters
		flagged      bool
		newlyFlagged bool
	)
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		slide, err := tx.GetSlide(ctx, slideID)
		if errors.Is(err, models.ErrNotFound) {
			return &models.IntegrityError{Op: "regen", ID: slideID, Reason: "unknown slide"}
		}
		if err != nil {
			return err
		}
		if err := tx.AppendFeedback(ctx, &models.FeedbackEvent{
			ChunkID:   slideID,
			ChunkKind: models.KindSlide,
			Signal:    models.SignalRegen,
		}); err != nil {
			return err
		}
		counters, err = tx.IncrementCounters(ctx, slideID, models.CounterDelta{Regen: 1})
		if err != nil {
			return err
		}

		flagged = slide.NeedsReview
		if !flagged && counters.RegenCount > p.reviewRatio*counters.KeepCount {
			if err := tx.SetReviewFlag(ctx, slideID, true); err != nil {
				return err
			}
			flagged, newlyFlagged = true, true
			return tx.AppendFeedback(ctx, &models.FeedbackEvent{
				ChunkID:   slideID,
				ChunkKind: models.KindSlide,
				Signal:    models.SignalReview,
				Context: map[string]any{
					"flagged":     true,
					"keep_count":  counters.KeepCount,
					"regen_count": counters.RegenCount,
				},
			})
		}
		return nil
	})
	metrics.FeedbackSignal(string(models.SignalRegen), err)
	if err != nil {
		return models.Counters{}, false, err
	}
	if newlyFlagged {
		metrics.ReviewFlagged()
		p.logger.Info("Slide flagged for review",
			zap.String("slide_id", slideID),
			zap.Int("keep_count", counters.KeepCount),
			zap.Int("regen_count", counters.RegenCount))
	}
	return counters, flagged, nil
}

// ResolveReview clears a slide's review flag.
func (p *Processor) ResolveReview(ctx context.Context, slideID string) error {
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := requireSlide(ctx, tx, "review", slideID); err != nil {
			return err
		}
		if err := tx.AppendFeedback(ctx, &models.FeedbackEvent{
			ChunkID:   slideID,
			ChunkKind: models.KindSlide,
			Signal:    models.SignalReview,
			Context:   map[string]any{"flagged": false},
		}); err != nil {
			return err
		}
		return tx.SetReviewFlag(ctx, slideID, false)
	})
	metrics.FeedbackSignal(string(models.SignalReview), err)
	return err
}

// RecordPhraseHit learns that phrase led to matchedID, a slide or element.
// Phrases that normalize equally share one trigger whose hit count grows.
func (p *Processor) RecordPhraseHit(ctx context.Context, phrase, matchedID string) (*models.PhraseTrigger, error) {
	normalized := keyword.NormalizePhrase(phrase)
	if normalized == "" {
		err := &models.ValidationError{Field: "phrase", Reason: "phrase has no indexable words"}
		metrics.FeedbackSignal(string(models.SignalPhraseHit), err)
		return nil, err
	}

	var trigger *models.PhraseTrigger
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		kind, err := tx.Kind(ctx, matchedID)
		if errors.Is(err, models.ErrNotFound) {
			return &models.IntegrityError{Op: "phrase_hit", ID: matchedID, Reason: "unknown record"}
		}
		if err != nil {
			return err
		}
		if kind == models.KindDeck {
			return &models.IntegrityError{Op: "phrase_hit", ID: matchedID, Reason: "phrases map to slides or elements"}
		}
		if err := tx.AppendFeedback(ctx, &models.FeedbackEvent{
			ChunkID:   matchedID,
			ChunkKind: kind,
			Signal:    models.SignalPhraseHit,
			Context:   map[string]any{"phrase": normalized},
		}); err != nil {
			return err
		}
		trigger, err = tx.UpsertPhraseTrigger(ctx, &models.PhraseTrigger{
			Phrase:           phrase,
			NormalizedPhrase: normalized,
			MatchedID:        matchedID,
			MatchedKind:      kind,
			Confidence:       models.DefaultPhraseConfidence,
		})
		return err
	})
	metrics.FeedbackSignal(string(models.SignalPhraseHit), err)
	if err != nil {
		return nil, err
	}
	return trigger, nil
}

// LookupPhrase returns the trigger learned for phrase, or nil when none is.
func (p *Processor) LookupPhrase(ctx context.Context, phrase string) (*models.PhraseTrigger, error) {
	normalized := keyword.NormalizePhrase(phrase)
	if normalized == "" {
		return nil, nil
	}
	t, err := p.store.LookupPhrase(ctx, normalized)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func requireSlide(ctx context.Context, tx storage.Tx, op, id string) error {
	kind, err := tx.Kind(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return &models.IntegrityError{Op: op, ID: id, Reason: "unknown record"}
	}
	if err != nil {
		return err
	}
	if kind != models.KindSlide {
		return &models.IntegrityError{Op: op, ID: id, Reason: fmt.Sprintf("counters are kept on slides, not %ss", kind)}
	}
	return nil
}
