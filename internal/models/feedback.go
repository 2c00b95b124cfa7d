package models

import "time"

// PhraseTrigger is a learned mapping from a normalized phrase to a matched design.
type PhraseTrigger struct {
	ID               string    `json:"id"`
	Phrase           string    `json:"phrase"`
	NormalizedPhrase string    `json:"normalized_phrase"`
	MatchedID        string    `json:"matched_id"`
	MatchedKind      ChunkKind `json:"matched_kind"`
	Confidence       float64   `json:"confidence"`
	HitCount         int       `json:"hit_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultPhraseConfidence is the confidence assigned to a newly learned phrase.
const DefaultPhraseConfidence = 0.5

// FeedbackEvent is one row of the append-only feedback log.
type FeedbackEvent struct {
	ID        int64          `json:"id"`
	ChunkID   string         `json:"chunk_id"`
	ChunkKind ChunkKind      `json:"chunk_kind"`
	Signal    SignalKind     `json:"signal"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CounterDelta is an increment applied to slide counters.
type CounterDelta struct {
	Use   int
	Keep  int
	Edit  int
	Regen int
}

// Enrichment is the set of fields the enrichment collaborator may supply.
// Nil pointers and nil slices leave the stored value untouched.
type Enrichment struct {
	Summary       *string          `json:"summary,omitempty"`
	TopicTags     []string         `json:"topic_tags,omitempty"`
	ContentDomain *string          `json:"content_domain,omitempty"`
	Audience      *string          `json:"audience,omitempty"`
	Purpose       *string          `json:"purpose,omitempty"`
	Visual        *VisualTreatment `json:"visual,omitempty"`
	Embedding     []float32        `json:"embedding,omitempty"`
}

// Empty reports whether e carries no fields.
func (e *Enrichment) Empty() bool {
	return e.Summary == nil && e.TopicTags == nil && e.ContentDomain == nil &&
		e.Audience == nil && e.Purpose == nil && e.Visual == nil && e.Embedding == nil
}

// Stats summarises the contents of the index.
type Stats struct {
	Decks             int   `json:"decks"`
	Slides            int   `json:"slides"`
	Elements          int   `json:"elements"`
	PhraseTriggers    int   `json:"phrase_triggers"`
	FeedbackEvents    int   `json:"feedback_events"`
	PendingEmbeddings int   `json:"pending_embeddings"`
	FlaggedForReview  int   `json:"flagged_for_review"`
	EmbeddingDim      int   `json:"embedding_dim"`
	DiskUsageBytes    int64 `json:"disk_usage_bytes,omitempty"`
}
