// Package storage defines the persistence interface for the design index and
// its SQLite implementation.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// Filter is an exact-match predicate on a whitelisted record field.
// A nil Value matches NULL.
type Filter struct {
	Field string
	Value any
}

// KeywordHit is one full-text match. Score is the negated bm25 rank, so
// larger is better.
type KeywordHit struct {
	ID    string
	Score float64
}

// SequenceMatch is a stored deck whose type sequence starts with a queried
// prefix, together with the slide that immediately follows the prefix.
type SequenceMatch struct {
	DeckID       string
	DeckCreated  time.Time
	NextSlideID  string
	NextType     models.SectionType
	NextCounters models.Counters
}

// Storage is the design index persistence contract. Every mutation runs in a
// single serialized transaction; readers only observe committed state.
type Storage interface {
	// WithTx runs fn inside one write transaction. Any error rolls back.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Persist writes a deck graph atomically.
	Persist(ctx context.Context, graph *models.RecordGraph) error
	Get(ctx context.Context, kind models.ChunkKind, id string) (models.Record, error)
	GetDeck(ctx context.Context, id string) (*models.DeckRecord, error)
	GetSlide(ctx context.Context, id string) (*models.SlideRecord, error)
	GetElement(ctx context.Context, id string) (*models.ElementRecord, error)
	SlidesForDeck(ctx context.Context, deckID string) ([]*models.SlideRecord, error)
	ElementsForSlide(ctx context.Context, slideID string) ([]*models.ElementRecord, error)

	// Candidate listing for the retriever.
	ListDecks(ctx context.Context, filters []Filter) ([]*models.DeckRecord, error)
	ListSlides(ctx context.Context, filters []Filter) ([]*models.SlideRecord, error)
	ListElements(ctx context.Context, filters []Filter) ([]*models.ElementRecord, error)
	FullTextSearch(ctx context.Context, kind models.ChunkKind, match string, filters []Filter, limit int) ([]KeywordHit, error)
	DeckSequences(ctx context.Context, prefix []models.SectionType) ([]SequenceMatch, error)
	Terms(ctx context.Context) (map[string]int, error)

	// Enrichment
	UpsertEnrichment(ctx context.Context, kind models.ChunkKind, id string, fields *models.Enrichment) error
	MarkEnrichmentFailed(ctx context.Context, kind models.ChunkKind, id, reason string) error
	PendingEmbeddings(ctx context.Context, kind models.ChunkKind, limit int) ([]string, error)

	// Administration
	FindDeckBySource(ctx context.Context, sourceFile, sourceHash string) (*models.DeckRecord, error)
	Purge(ctx context.Context, deckID string) error
	LookupPhrase(ctx context.Context, normalized string) (*models.PhraseTrigger, error)
	ListFlaggedForReview(ctx context.Context, limit int) ([]*models.SlideRecord, error)
	FeedbackFor(ctx context.Context, chunkID string) ([]*models.FeedbackEvent, error)
	Stats(ctx context.Context) (*models.Stats, error)
	EmbeddingDim() int
	MigrateEmbeddingDimension(ctx context.Context, dim int) error

	Close() error
}

// Tx is the set of operations available inside a write transaction.
type Tx interface {
	Kind(ctx context.Context, id string) (models.ChunkKind, error)
	GetDeck(ctx context.Context, id string) (*models.DeckRecord, error)
	GetSlide(ctx context.Context, id string) (*models.SlideRecord, error)
	Persist(ctx context.Context, graph *models.RecordGraph) error
	AppendFeedback(ctx context.Context, ev *models.FeedbackEvent) error
	IncrementCounters(ctx context.Context, slideID string, delta models.CounterDelta) (models.Counters, error)
	SetReviewFlag(ctx context.Context, slideID string, flagged bool) error
	Embedding(ctx context.Context, kind models.ChunkKind, id string) ([]float32, error)
	SetEmbedding(ctx context.Context, kind models.ChunkKind, id string, vec []float32) error
	UpsertPhraseTrigger(ctx context.Context, trigger *models.PhraseTrigger) (*models.PhraseTrigger, error)
}
