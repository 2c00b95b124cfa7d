package models

// ChunkKind is the record level a chunk lives at.
type ChunkKind string

const (
	KindDeck    ChunkKind = "deck"
	KindSlide   ChunkKind = "slide"
	KindElement ChunkKind = "element"
)

// Valid reports whether k is one of the three record levels.
func (k ChunkKind) Valid() bool {
	switch k {
	case KindDeck, KindSlide, KindElement:
		return true
	}
	return false
}

// SectionType is the closed set of section (slide) types a tree may carry.
type SectionType string

const (
	SectionTitle      SectionType = "title"
	SectionDivider    SectionType = "section_divider"
	SectionStat       SectionType = "stat"
	SectionBullets    SectionType = "bullets"
	SectionTwoColumn  SectionType = "two_column"
	SectionTimeline   SectionType = "timeline"
	SectionComparison SectionType = "comparison"
	SectionImageText  SectionType = "image_text"
	SectionQuote      SectionType = "quote"
	SectionClosing    SectionType = "closing"
	SectionFreeform   SectionType = "freeform"
)

// SectionTypes lists every valid section type in declaration order.
var SectionTypes = []SectionType{
	SectionTitle, SectionDivider, SectionStat, SectionBullets, SectionTwoColumn,
	SectionTimeline, SectionComparison, SectionImageText, SectionQuote,
	SectionClosing, SectionFreeform,
}

// Valid reports whether t is a known section type.
func (t SectionType) Valid() bool {
	for _, v := range SectionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Background is the closed set of slide backgrounds.
type Background string

const (
	BackgroundLight    Background = "light"
	BackgroundDark     Background = "dark"
	BackgroundGradient Background = "gradient"
	BackgroundImage    Background = "image"
)

// Valid reports whether b is a known background.
func (b Background) Valid() bool {
	switch b {
	case BackgroundLight, BackgroundDark, BackgroundGradient, BackgroundImage:
		return true
	}
	return false
}

// DeckPosition classifies where a slide sits within its deck.
type DeckPosition string

const (
	PositionOpening DeckPosition = "opening"
	PositionMiddle  DeckPosition = "middle"
	PositionClosing DeckPosition = "closing"
)

// Valid reports whether p is a known deck position.
func (p DeckPosition) Valid() bool {
	switch p {
	case PositionOpening, PositionMiddle, PositionClosing:
		return true
	}
	return false
}

// ElementType tags the variant carried by an element payload.
type ElementType string

const (
	ElementStat          ElementType = "stat"
	ElementBulletGroup   ElementType = "bullet_group"
	ElementIconBullet    ElementType = "icon_bullet"
	ElementColumn        ElementType = "column"
	ElementTimelineStep  ElementType = "timeline_step"
	ElementComparisonRow ElementType = "comparison_row"
	ElementHeading       ElementType = "heading"
	ElementImage         ElementType = "image"
)

// ElementTypes lists every valid element type.
var ElementTypes = []ElementType{
	ElementStat, ElementBulletGroup, ElementIconBullet, ElementColumn,
	ElementTimelineStep, ElementComparisonRow, ElementHeading, ElementImage,
}

// Valid reports whether t is a known element type.
func (t ElementType) Valid() bool {
	for _, v := range ElementTypes {
		if v == t {
			return true
		}
	}
	return false
}

// SignalKind is the closed set of feedback signals written to the event log.
type SignalKind string

const (
	SignalKeep      SignalKind = "keep"
	SignalEdit      SignalKind = "edit"
	SignalRegen     SignalKind = "regen"
	SignalDelete    SignalKind = "delete"
	SignalPhraseHit SignalKind = "phrase_hit"
	SignalReview    SignalKind = "review"
)

// Valid reports whether s is a known signal kind.
func (s SignalKind) Valid() bool {
	switch s {
	case SignalKeep, SignalEdit, SignalRegen, SignalDelete, SignalPhraseHit, SignalReview:
		return true
	}
	return false
}
