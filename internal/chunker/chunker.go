// Package chunker decomposes a validated deck tree into the deck, slide, and element record graph.
package chunker

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hyperjump/kioku/internal/models"
)

// Chunker builds record graphs. It performs no I/O; the only inputs besides the tree
// are the id generator and the clock.
type Chunker struct {
	newID    func() string
	now      func() time.Time
	validate *validator.Validate
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithIDFunc sets the identifier generator. Each call must return a fresh id.
func WithIDFunc(fn func() string) Option {
	return func(c *Chunker) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithClock sets the clock used for creation timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *Chunker) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewChunker creates a chunker with uuid identifiers and the wall clock.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{
		newID:    uuid.NewString,
		now:      time.Now,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk validates tree and decomposes it into one deck record, one slide record per
// section, and one element record per substructure. Identifiers are fresh on every call.
func (c *Chunker) Chunk(tree *models.DeckTree) (*models.RecordGraph, error) {
	if err := c.Validate(tree); err != nil {
		return nil, err
	}
	now := c.now().UTC()
	n := len(tree.Sections)

	deck := &models.DeckRecord{
		ID:               c.newID(),
		Title:            tree.Meta.Title,
		Author:           tree.Meta.Author,
		Company:          tree.Meta.Company,
		Template:         tree.Meta.Template,
		BrandColors:      tree.Meta.Brand.Colors(),
		CreatedAt:        now,
		TypeSequence:     make([]models.SectionType, n),
		EmbeddingPending: true,
		SlideCount:       n,
		SlideIDs:         make([]string, 0, n),
	}
	for i := range tree.Sections {
		deck.TypeSequence[i] = tree.Sections[i].Type
	}

	graph := &models.RecordGraph{Deck: deck, Slides: make([]*models.SlideRecord, 0, n)}
	sectionName := ""
	for i := range tree.Sections {
		sec := &tree.Sections[i]
		if sec.Type == models.SectionDivider {
			sectionName = sec.DisplayName()
		}
		slide := c.buildSlide(sec, deck.ID, i, n, now)
		slide.SectionName = sectionName
		if i > 0 {
			prev := tree.Sections[i-1].Type
			slide.PrevType = &prev
		}
		if i < n-1 {
			next := tree.Sections[i+1].Type
			slide.NextType = &next
		}
		elements := c.buildElements(sec, slide, now)

		deck.SlideIDs = append(deck.SlideIDs, slide.ID)
		graph.Slides = append(graph.Slides, slide)
		graph.Elements = append(graph.Elements, elements...)
	}
	return graph, nil
}

// ChunkSection builds an ephemeral slide record and its elements for a single section
// that belongs to no deck. It is used to query for similar slides.
func (c *Chunker) ChunkSection(sec *models.Section) (*models.SlideRecord, []*models.ElementRecord, error) {
	if err := c.validateSection(sec); err != nil {
		return nil, nil, err
	}
	now := c.now().UTC()
	slide := c.buildSlide(sec, "", 0, 1, now)
	return slide, c.buildElements(sec, slide, now), nil
}

func (c *Chunker) buildSlide(sec *models.Section, deckID string, position, total int, now time.Time) *models.SlideRecord {
	background := sec.Background
	if background == "" {
		background = models.BackgroundLight
	}
	name := sec.DisplayName()
	if name == "" {
		name = fmt.Sprintf("Slide %d", position+1)
	}
	return &models.SlideRecord{
		ID:               c.newID(),
		DeckID:           deckID,
		Position:         position,
		Name:             Preprocess(name),
		Type:             sec.Type,
		Background:       background,
		LayoutVariant:    sec.Layout,
		Fingerprint:      Fingerprint(sec),
		SourceText:       Serialize(sec),
		DeckPosition:     ClassifyPosition(position, total),
		EmbeddingPending: true,
		CreatedAt:        now,
	}
}

func (c *Chunker) buildElements(sec *models.Section, slide *models.SlideRecord, now time.Time) []*models.ElementRecord {
	payloads := Payloads(sec)
	elements := make([]*models.ElementRecord, 0, len(payloads))
	slide.ElementIDs = make([]string, 0, len(payloads))
	for i, p := range payloads {
		e := &models.ElementRecord{
			ID:               c.newID(),
			SlideID:          slide.ID,
			DeckID:           slide.DeckID,
			Type:             p.ElementType(),
			SlideType:        sec.Type,
			Payload:          p,
			OrderIndex:       i,
			SiblingCount:     len(payloads),
			EmbeddingPending: true,
			CreatedAt:        now,
		}
		elements = append(elements, e)
		slide.ElementIDs = append(slide.ElementIDs, e.ID)
	}
	return elements
}

// Payloads lists the typed element payloads of a section in reading order:
// heading, stats, bullet group, columns, timeline steps, comparison rows, image.
func Payloads(sec *models.Section) []models.Payload {
	var out []models.Payload
	if sec.Heading != "" {
		out = append(out, models.HeadingPayload{
			Heading:    Preprocess(sec.Heading),
			Subheading: Preprocess(sec.Subheading),
		})
	}
	for i, st := range sec.Stats {
		out = append(out, models.StatPayload{
			Value:        st.Value,
			Label:        st.Label,
			Description:  st.Description,
			IndexInGroup: i,
			GroupSize:    len(sec.Stats),
		})
	}
	if len(sec.Bullets) > 0 {
		items := make([]models.BulletItem, len(sec.Bullets))
		for i, b := range sec.Bullets {
			items[i] = models.BulletItem{Text: b.Text, Level: b.Level, Icon: b.Icon}
		}
		if hasIcons(sec.Bullets) {
			out = append(out, models.IconBulletPayload{Items: items})
		} else {
			out = append(out, models.BulletGroupPayload{Items: items})
		}
	}
	for _, col := range sec.Columns {
		bullets := make([]string, len(col.Bullets))
		for i, b := range col.Bullets {
			bullets[i] = b.Text
		}
		out = append(out, models.ColumnPayload{Title: col.Title, Body: col.Body, Bullets: bullets})
	}
	for _, step := range sec.Timeline {
		out = append(out, models.TimelineStepPayload{Time: step.Time, Title: step.Title, Description: step.Description})
	}
	if sec.Compare != nil {
		for _, row := range sec.Compare.Rows {
			out = append(out, models.ComparisonRowPayload{
				Headers: append([]string(nil), sec.Compare.Headers...),
				Row:     append([]string(nil), row...),
			})
		}
	}
	if sec.Image != "" {
		out = append(out, models.ImagePayload{Ref: sec.Image})
	}
	return out
}
