package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the typed content of an element, one variant per ElementType.
type Payload interface {
	ElementType() ElementType
	// Text flattens the payload into plain text for indexing and embedding.
	Text() string
}

// StatPayload is a single stat.
type StatPayload struct {
	Value        string `json:"value"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	IndexInGroup int    `json:"index_in_group"`
	GroupSize    int    `json:"group_size"`
}

func (StatPayload) ElementType() ElementType { return ElementStat }

func (p StatPayload) Text() string {
	return joinNonEmpty(p.Value, p.Label, p.Description)
}

// BulletItem is one entry of a bullet group.
type BulletItem struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
	Icon  string `json:"icon,omitempty"`
}

// BulletGroupPayload is every bullet of a section without icons.
type BulletGroupPayload struct {
	Items []BulletItem `json:"items"`
}

func (BulletGroupPayload) ElementType() ElementType { return ElementBulletGroup }

func (p BulletGroupPayload) Text() string { return bulletText(p.Items) }

// IconBulletPayload is every bullet of a section where at least one bullet carries an icon.
type IconBulletPayload struct {
	Items []BulletItem `json:"items"`
}

func (IconBulletPayload) ElementType() ElementType { return ElementIconBullet }

func (p IconBulletPayload) Text() string { return bulletText(p.Items) }

// ColumnPayload is one column block.
type ColumnPayload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body,omitempty"`
	Bullets []string `json:"bullets"`
}

func (ColumnPayload) ElementType() ElementType { return ElementColumn }

func (p ColumnPayload) Text() string {
	return joinNonEmpty(append([]string{p.Title, p.Body}, p.Bullets...)...)
}

// TimelineStepPayload is one timeline step.
type TimelineStepPayload struct {
	Time        string `json:"time"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (TimelineStepPayload) ElementType() ElementType { return ElementTimelineStep }

func (p TimelineStepPayload) Text() string {
	return joinNonEmpty(p.Time, p.Title, p.Description)
}

// ComparisonRowPayload is one row of a comparison with the table headers.
type ComparisonRowPayload struct {
	Headers []string `json:"headers"`
	Row     []string `json:"row_data"`
}

func (ComparisonRowPayload) ElementType() ElementType { return ElementComparisonRow }

func (p ComparisonRowPayload) Text() string {
	return joinNonEmpty(append(append([]string{}, p.Headers...), p.Row...)...)
}

// HeadingPayload is the section heading.
type HeadingPayload struct {
	Heading    string `json:"heading"`
	Subheading string `json:"subheading,omitempty"`
}

func (HeadingPayload) ElementType() ElementType { return ElementHeading }

func (p HeadingPayload) Text() string { return joinNonEmpty(p.Heading, p.Subheading) }

// ImagePayload is an image reference.
type ImagePayload struct {
	Ref string `json:"ref"`
}

func (ImagePayload) ElementType() ElementType { return ElementImage }

func (p ImagePayload) Text() string { return p.Ref }

// EncodePayload serializes a payload for storage. The element type is stored separately.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload")
	}
	return json.Marshal(p)
}

// DecodePayload restores the variant selected by t from data.
func DecodePayload(t ElementType, data []byte) (Payload, error) {
	switch t {
	case ElementStat:
		return decodeAs[StatPayload](t, data)
	case ElementBulletGroup:
		return decodeAs[BulletGroupPayload](t, data)
	case ElementIconBullet:
		return decodeAs[IconBulletPayload](t, data)
	case ElementColumn:
		return decodeAs[ColumnPayload](t, data)
	case ElementTimelineStep:
		return decodeAs[TimelineStepPayload](t, data)
	case ElementComparisonRow:
		return decodeAs[ComparisonRowPayload](t, data)
	case ElementHeading:
		return decodeAs[HeadingPayload](t, data)
	case ElementImage:
		return decodeAs[ImagePayload](t, data)
	}
	return nil, fmt.Errorf("unknown element type %q", t)
}

func decodeAs[T Payload](t ElementType, data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return v, nil
}

func bulletText(items []BulletItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.Text)
	}
	return joinNonEmpty(parts...)
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}
