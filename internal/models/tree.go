package models

// DeckTree is the validated document tree produced upstream and consumed by the chunker.
// It is read-only input.
type DeckTree struct {
	Meta     DeckMeta  `json:"presentation" yaml:"presentation"`
	Sections []Section `json:"slides" yaml:"slides" validate:"required,min=1,dive"`
}

// DeckMeta is deck-level metadata.
type DeckMeta struct {
	Title      string      `json:"title" yaml:"title" validate:"required"`
	Author     string      `json:"author,omitempty" yaml:"author,omitempty"`
	Company    string      `json:"company,omitempty" yaml:"company,omitempty"`
	Date       string      `json:"date,omitempty" yaml:"date,omitempty"`
	Template   string      `json:"template,omitempty" yaml:"template,omitempty"`
	Output     string      `json:"output,omitempty" yaml:"output,omitempty" validate:"omitempty,oneof=pptx pdf html"`
	Brand      BrandConfig `json:"brand" yaml:"brand"`
	Confidence string      `json:"confidentiality,omitempty" yaml:"confidentiality,omitempty"`
}

// BrandConfig holds brand colours (six hex digits, no leading #) and fonts.
type BrandConfig struct {
	Primary    string `json:"primary,omitempty" yaml:"primary,omitempty" validate:"omitempty,hexadecimal,len=6"`
	Secondary  string `json:"secondary,omitempty" yaml:"secondary,omitempty" validate:"omitempty,hexadecimal,len=6"`
	Accent     string `json:"accent,omitempty" yaml:"accent,omitempty" validate:"omitempty,hexadecimal,len=6"`
	HeaderFont string `json:"header_font,omitempty" yaml:"header_font,omitempty"`
	BodyFont   string `json:"body_font,omitempty" yaml:"body_font,omitempty"`
	Logo       string `json:"logo,omitempty" yaml:"logo,omitempty"`
}

// Colors returns the non-empty brand colours in primary, secondary, accent order.
func (b BrandConfig) Colors() []string {
	var out []string
	for _, c := range []string{b.Primary, b.Secondary, b.Accent} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Section is one slide of the tree.
type Section struct {
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type        SectionType    `json:"type" yaml:"type" validate:"required,section_type"`
	Background  Background     `json:"background,omitempty" yaml:"background,omitempty" validate:"omitempty,background"`
	Layout      string         `json:"layout,omitempty" yaml:"layout,omitempty"`
	Heading     string         `json:"heading,omitempty" yaml:"heading,omitempty"`
	Subheading  string         `json:"subheading,omitempty" yaml:"subheading,omitempty"`
	Body        string         `json:"body,omitempty" yaml:"body,omitempty"`
	Stats       []Stat         `json:"stats,omitempty" yaml:"stats,omitempty" validate:"dive"`
	Bullets     []Bullet       `json:"bullets,omitempty" yaml:"bullets,omitempty" validate:"dive"`
	Columns     []Column       `json:"columns,omitempty" yaml:"columns,omitempty" validate:"dive"`
	Timeline    []TimelineStep `json:"timeline,omitempty" yaml:"timeline,omitempty" validate:"dive"`
	Compare     *Comparison    `json:"compare,omitempty" yaml:"compare,omitempty"`
	Image       string         `json:"image,omitempty" yaml:"image,omitempty"`
	Quote       string         `json:"quote,omitempty" yaml:"quote,omitempty"`
	Attribution string         `json:"attribution,omitempty" yaml:"attribution,omitempty"`
	Source      string         `json:"source,omitempty" yaml:"source,omitempty"`
	Exhibit     string         `json:"exhibit,omitempty" yaml:"exhibit,omitempty"`
	NextSteps   []string       `json:"next_steps,omitempty" yaml:"next_steps,omitempty"`
	Notes       string         `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// DisplayName is the section name, falling back to its heading.
func (s *Section) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Heading
}

// Stat is a single headline number.
type Stat struct {
	Value       string `json:"value" yaml:"value" validate:"required"`
	Label       string `json:"label" yaml:"label" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Bullet is one bullet entry. Level is the nesting depth (0 is top level).
type Bullet struct {
	Text  string `json:"text" yaml:"text" validate:"required"`
	Level int    `json:"level,omitempty" yaml:"level,omitempty" validate:"min=0,max=2"`
	Icon  string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Column is one block of a multi-column section.
type Column struct {
	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
	Body    string   `json:"body,omitempty" yaml:"body,omitempty"`
	Bullets []Bullet `json:"bullets,omitempty" yaml:"bullets,omitempty" validate:"dive"`
}

// TimelineStep is one step of a timeline.
type TimelineStep struct {
	Time        string `json:"time" yaml:"time" validate:"required"`
	Title       string `json:"title" yaml:"title" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Comparison is a table with a header row.
// Every row must have the same arity as Headers.
type Comparison struct {
	Headers []string   `json:"headers" yaml:"headers" validate:"required,min=1"`
	Rows    [][]string `json:"rows,omitempty" yaml:"rows,omitempty"`
}
