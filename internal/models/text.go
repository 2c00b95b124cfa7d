package models

import (
	"fmt"
	"strings"
)

// EmbeddingText is the text an enricher embeds for the deck.
func (d *DeckRecord) EmbeddingText() string {
	parts := []string{d.Title}
	if d.Summary != "" {
		parts = append(parts, d.Summary)
	}
	if d.Audience != "" {
		parts = append(parts, "Audience: "+d.Audience)
	}
	if d.Purpose != "" {
		parts = append(parts, "Purpose: "+d.Purpose)
	}
	if len(d.TopicTags) > 0 {
		parts = append(parts, "Topics: "+strings.Join(d.TopicTags, ", "))
	}
	if len(d.TypeSequence) > 0 {
		seq := make([]string, len(d.TypeSequence))
		for i, t := range d.TypeSequence {
			seq[i] = string(t)
		}
		parts = append(parts, "Flow: "+strings.Join(seq, " -> "))
	}
	return strings.Join(parts, ". ")
}

// EmbeddingText is the text an enricher embeds for the slide.
func (s *SlideRecord) EmbeddingText() string {
	var parts []string
	if s.Name != "" {
		parts = append(parts, s.Name)
	}
	if s.Summary != "" {
		parts = append(parts, s.Summary)
	}
	parts = append(parts, "Type: "+string(s.Type))
	if s.LayoutVariant != "" {
		parts = append(parts, "Layout: "+s.LayoutVariant)
	}
	if len(s.TopicTags) > 0 {
		parts = append(parts, "Topics: "+strings.Join(s.TopicTags, ", "))
	}
	if c := s.Fingerprint.describe(); c != "" {
		parts = append(parts, "Contains: "+c)
	}
	parts = append(parts, "Position: "+string(s.DeckPosition))
	if s.ContentDomain != "" {
		parts = append(parts, "Domain: "+s.ContentDomain)
	}
	return strings.Join(parts, ". ")
}

// EmbeddingText is the text an enricher embeds for the element.
func (e *ElementRecord) EmbeddingText() string {
	parts := []string{fmt.Sprintf("%s in %s slide", e.Type, e.SlideType)}
	if t := e.ContentText(); t != "" {
		parts = append(parts, t)
	}
	if e.Summary != "" {
		parts = append(parts, e.Summary)
	}
	if len(e.TopicTags) > 0 {
		parts = append(parts, "Topics: "+strings.Join(e.TopicTags, ", "))
	}
	return strings.Join(parts, ". ")
}

func (f Fingerprint) describe() string {
	var parts []string
	if f.HasStats {
		parts = append(parts, fmt.Sprintf("%d stats", f.StatCount))
	}
	if f.HasBullets {
		parts = append(parts, fmt.Sprintf("%d bullets", f.BulletCount))
	}
	if f.HasColumns {
		parts = append(parts, fmt.Sprintf("%d columns", f.ColumnCount))
	}
	if f.HasTimeline {
		parts = append(parts, fmt.Sprintf("%d timeline steps", f.StepCount))
	}
	if f.HasComparison {
		parts = append(parts, "comparison table")
	}
	if f.HasImage {
		parts = append(parts, "image")
	}
	if f.HasIcons {
		parts = append(parts, "icons")
	}
	return strings.Join(parts, ", ")
}
