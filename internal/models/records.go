// Package models defines the record graph, input tree, queries, results, and errors of the design index.
package models

import (
	"encoding/json"
	"time"
)

// Record is implemented by all three record levels.
type Record interface {
	RecordID() string
	Kind() ChunkKind
}

// DeckRecord is the top-level record of one ingested deck.
type DeckRecord struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Author           string        `json:"author,omitempty"`
	Company          string        `json:"company,omitempty"`
	Template         string        `json:"template,omitempty"`
	BrandColors      []string      `json:"brand_colors,omitempty"`
	SourceFile       string        `json:"source_file,omitempty"`
	SourceHash       string        `json:"source_hash,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	TypeSequence     []SectionType `json:"type_sequence"`
	TopicTags        []string      `json:"topic_tags,omitempty"`
	Summary          string        `json:"summary,omitempty"`
	Audience         string        `json:"audience,omitempty"`
	Purpose          string        `json:"purpose,omitempty"`
	Embedding        []float32     `json:"-"`
	EmbeddingPending bool          `json:"embedding_pending"`
	SlideCount       int           `json:"slide_count"`
	SlideIDs         []string      `json:"slide_ids"`
	DerivedFrom      string        `json:"derived_from,omitempty"`
}

func (d *DeckRecord) RecordID() string { return d.ID }
func (d *DeckRecord) Kind() ChunkKind  { return KindDeck }

// Fingerprint describes which substructures a slide contains.
type Fingerprint struct {
	HasStats      bool `json:"has_stats"`
	StatCount     int  `json:"stat_count"`
	HasBullets    bool `json:"has_bullets"`
	BulletCount   int  `json:"bullet_count"`
	HasColumns    bool `json:"has_columns"`
	ColumnCount   int  `json:"column_count"`
	HasTimeline   bool `json:"has_timeline"`
	StepCount     int  `json:"step_count"`
	HasComparison bool `json:"has_comparison"`
	HasImage      bool `json:"has_image"`
	HasIcons      bool `json:"has_icons"`
	HasSource     bool `json:"has_source"`
	HasExhibit    bool `json:"has_exhibit"`
	HasNextSteps  bool `json:"has_next_steps"`
}

// Counters are the feedback aggregates carried by a slide.
type Counters struct {
	UseCount   int `json:"use_count"`
	KeepCount  int `json:"keep_count"`
	EditCount  int `json:"edit_count"`
	RegenCount int `json:"regen_count"`
}

// QualityScore is keep/(keep+regen), or 0.5 when no keep or regen has been seen.
func (c Counters) QualityScore() float64 {
	return QualityScore(c.KeepCount, c.RegenCount)
}

// QualityScore is keep/(keep+regen), or 0.5 when the denominator is zero.
func QualityScore(keep, regen int) float64 {
	if keep+regen <= 0 {
		return 0.5
	}
	return float64(keep) / float64(keep+regen)
}

// SlideRecord is the mid-level record of one section.
type SlideRecord struct {
	ID               string        `json:"id"`
	DeckID           string        `json:"deck_id"`
	Position         int           `json:"position"`
	Name             string        `json:"name,omitempty"`
	Type             SectionType   `json:"type"`
	Background       Background    `json:"background"`
	LayoutVariant    string        `json:"layout_variant,omitempty"`
	Summary          string        `json:"summary,omitempty"`
	TopicTags        []string      `json:"topic_tags,omitempty"`
	ContentDomain    string        `json:"content_domain,omitempty"`
	Fingerprint      Fingerprint   `json:"fingerprint"`
	SourceText       string        `json:"source_text"`
	PrevType         *SectionType  `json:"prev_type"`
	NextType         *SectionType  `json:"next_type"`
	DeckPosition     DeckPosition  `json:"deck_position"`
	SectionName      string        `json:"section_name,omitempty"`
	Counters         Counters      `json:"counters"`
	NeedsReview      bool          `json:"needs_review"`
	Embedding        []float32     `json:"-"`
	EmbeddingPending bool          `json:"embedding_pending"`
	CreatedAt        time.Time     `json:"created_at"`
	ElementIDs       []string      `json:"element_ids"`
	DerivedFrom      string        `json:"derived_from,omitempty"`
}

func (s *SlideRecord) RecordID() string { return s.ID }
func (s *SlideRecord) Kind() ChunkKind  { return KindSlide }

// QualityScore is the slide's derived quality.
func (s *SlideRecord) QualityScore() float64 { return s.Counters.QualityScore() }

// VisualTreatment is rendering metadata attached to an element after layout.
type VisualTreatment struct {
	FontSize      float64 `json:"font_size,omitempty"`
	ColorRef      string  `json:"color_ref,omitempty"`
	PositionClass string  `json:"position_class,omitempty"`
}

// ElementRecord is the leaf record of one substructure of a section.
type ElementRecord struct {
	ID               string          `json:"id"`
	SlideID          string          `json:"slide_id"`
	DeckID           string          `json:"deck_id"`
	Type             ElementType     `json:"element_type"`
	SlideType        SectionType     `json:"slide_type"`
	Payload          Payload         `json:"payload"`
	Summary          string          `json:"summary,omitempty"`
	TopicTags        []string        `json:"topic_tags,omitempty"`
	Visual           VisualTreatment `json:"visual"`
	OrderIndex       int             `json:"order_index"`
	SiblingCount     int             `json:"sibling_count"`
	Embedding        []float32       `json:"-"`
	EmbeddingPending bool            `json:"embedding_pending"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (e *ElementRecord) RecordID() string { return e.ID }
func (e *ElementRecord) Kind() ChunkKind  { return KindElement }

// MarshalJSON includes the payload variant under its own type tag.
func (e *ElementRecord) MarshalJSON() ([]byte, error) {
	type alias ElementRecord
	return json.Marshal(&struct {
		*alias
		Content string `json:"content_text"`
	}{alias: (*alias)(e), Content: e.ContentText()})
}

// ContentText is the payload flattened to text.
func (e *ElementRecord) ContentText() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Text()
}

// RecordGraph is the output of chunking one deck: persisted as one unit.
type RecordGraph struct {
	Deck     *DeckRecord      `json:"deck"`
	Slides   []*SlideRecord   `json:"slides"`
	Elements []*ElementRecord `json:"elements"`
}

// IDs returns every record id in the graph.
func (g *RecordGraph) IDs() []string {
	ids := make([]string, 0, 1+len(g.Slides)+len(g.Elements))
	if g.Deck != nil {
		ids = append(ids, g.Deck.ID)
	}
	for _, s := range g.Slides {
		ids = append(ids, s.ID)
	}
	for _, e := range g.Elements {
		ids = append(ids, e.ID)
	}
	return ids
}

// ElementsOf returns the elements of the graph owned by slideID, in order.
func (g *RecordGraph) ElementsOf(slideID string) []*ElementRecord {
	var out []*ElementRecord
	for _, e := range g.Elements {
		if e.SlideID == slideID {
			out = append(out, e)
		}
	}
	return out
}

// Records returns the deck, slides and elements of the graph as one list.
func (g *RecordGraph) Records() []Record {
	out := make([]Record, 0, 1+len(g.Slides)+len(g.Elements))
	if g.Deck != nil {
		out = append(out, g.Deck)
	}
	for _, s := range g.Slides {
		out = append(out, s)
	}
	for _, e := range g.Elements {
		out = append(out, e)
	}
	return out
}
