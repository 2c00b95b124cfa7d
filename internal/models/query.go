package models

import "time"

// Weights are the blend weights of the three score components.
type Weights struct {
	Semantic   float64 `json:"semantic" yaml:"semantic"`
	Structural float64 `json:"structural" yaml:"structural"`
	Keyword    float64 `json:"keyword" yaml:"keyword"`
}

// DefaultWeights is 0.6 semantic, 0.2 structural, 0.2 keyword.
var DefaultWeights = Weights{Semantic: 0.6, Structural: 0.2, Keyword: 0.2}

// SearchQuery is a hybrid search request.
type SearchQuery struct {
	Query          string         `json:"query"`
	Granularity    ChunkKind      `json:"granularity,omitempty"`
	Filters        map[string]any `json:"filters,omitempty"`
	Keywords       []string       `json:"keywords,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	MinScore       *float64       `json:"min_score,omitempty"`
	Weights        *Weights       `json:"weights,omitempty"`
	QueryEmbedding []float32      `json:"query_embedding,omitempty"`

	// ExcludeIDs are dropped from the candidate set.
	ExcludeIDs []string `json:"exclude_ids,omitempty"`
}

// ResultContext is the navigational context of a result.
type ResultContext struct {
	DeckID       string       `json:"deck_id,omitempty"`
	DeckTitle    string       `json:"deck_title,omitempty"`
	SlideID      string       `json:"slide_id,omitempty"`
	SlideType    SectionType  `json:"slide_type,omitempty"`
	Position     int          `json:"position"`
	DeckPosition DeckPosition `json:"deck_position,omitempty"`
}

// ScoredResult is one ranked hit.
type ScoredResult struct {
	ChunkID         string        `json:"chunk_id"`
	Kind            ChunkKind     `json:"kind"`
	Score           float64       `json:"score"`
	SemanticScore   float64       `json:"semantic_score"`
	StructuralScore float64       `json:"structural_score"`
	KeywordScore    float64       `json:"keyword_score"`
	Title           string        `json:"title,omitempty"`
	SourceText      string        `json:"source_text,omitempty"`
	Payload         Payload       `json:"payload,omitempty"`
	Summary         string        `json:"summary,omitempty"`
	TopicTags       []string      `json:"topic_tags,omitempty"`
	Context         ResultContext `json:"context"`
	KeepCount       int           `json:"keep_count"`
	RegenCount      int           `json:"regen_count"`
	QualityScore    float64       `json:"quality_score"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SearchResponse wraps results for API consumers.
type SearchResponse struct {
	Results     []*ScoredResult `json:"results"`
	Total       int             `json:"total"`
	Query       string          `json:"query"`
	Granularity ChunkKind       `json:"granularity"`
	QueryTime   int64           `json:"query_time_ms"`

	// Suggestions holds spelling corrections when the keyword terms matched nothing.
	Suggestions []string `json:"suggestions,omitempty"`

	// SemanticDegraded is set when the query embedding could not be computed.
	SemanticDegraded bool `json:"semantic_degraded,omitempty"`
}

// SlideSummary is a compact view of a slide used in navigation.
type SlideSummary struct {
	ID       string      `json:"id"`
	Position int         `json:"position"`
	Name     string      `json:"name,omitempty"`
	Type     SectionType `json:"type"`
	Summary  string      `json:"summary,omitempty"`
}

// SlideContext is the neighborhood of a stored slide.
type SlideContext struct {
	DeckID       string        `json:"deck_id"`
	DeckTitle    string        `json:"deck_title"`
	DeckSummary  string        `json:"deck_summary,omitempty"`
	Slide        *SlideSummary `json:"slide"`
	SlideIndex   int           `json:"slide_index"`
	TotalSlides  int           `json:"total_slides"`
	Previous     *SlideSummary `json:"previous,omitempty"`
	Next         *SlideSummary `json:"next,omitempty"`
	SectionName  string        `json:"section_name,omitempty"`
	DeckPosition DeckPosition  `json:"deck_position"`
}

// NextSlideSuggestion is one candidate for the type of the next slide.
type NextSlideSuggestion struct {
	Type           SectionType `json:"type"`
	Weight         float64     `json:"weight"`
	Occurrences    int         `json:"occurrences"`
	ExampleSlideID string      `json:"example_slide_id"`
	LastSeen       time.Time   `json:"last_seen"`
}
