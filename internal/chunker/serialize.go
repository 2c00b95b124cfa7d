package chunker

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// Serialize renders a section into the line-oriented source text stored on its slide record.
func Serialize(s *models.Section) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	if name := s.DisplayName(); name != "" {
		line("# %s", Preprocess(name))
	}
	line("@type: %s", s.Type)
	if s.Background != "" {
		line("@background: %s", s.Background)
	}
	if s.Layout != "" {
		line("@layout: %s", s.Layout)
	}
	if s.Image != "" {
		line("@image: %s", s.Image)
	}
	if s.Heading != "" {
		line("## %s", Preprocess(s.Heading))
	}
	if s.Subheading != "" {
		line("### %s", Preprocess(s.Subheading))
	}
	if s.Body != "" {
		line("%s", strings.TrimSpace(s.Body))
	}
	for _, st := range s.Stats {
		line("@stat: %s", pipeJoin(st.Value, st.Label, st.Description))
	}
	writeBullets(&b, s.Bullets)
	for _, col := range s.Columns {
		line("@col: %s", col.Title)
		if col.Body != "" {
			line("%s", strings.TrimSpace(col.Body))
		}
		writeBullets(&b, col.Bullets)
	}
	for _, step := range s.Timeline {
		line("@step: %s", pipeJoin(step.Time, step.Title, step.Description))
	}
	if s.Compare != nil {
		line("@compare: %s", strings.Join(s.Compare.Headers, " | "))
		for _, row := range s.Compare.Rows {
			line("@row: %s", strings.Join(row, " | "))
		}
	}
	if s.Quote != "" {
		line("> %s", Preprocess(s.Quote))
		if s.Attribution != "" {
			line("@attribution: %s", s.Attribution)
		}
	}
	if s.Source != "" {
		line("@source: %s", s.Source)
	}
	if s.Exhibit != "" {
		line("@exhibit: %s", s.Exhibit)
	}
	for _, step := range s.NextSteps {
		line("@next: %s", step)
	}
	if s.Notes != "" {
		line("@notes:")
		line("%s", strings.TrimSpace(s.Notes))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeBullets(b *strings.Builder, bullets []models.Bullet) {
	for _, bl := range bullets {
		b.WriteString(strings.Repeat("  ", bl.Level))
		if bl.Icon != "" {
			fmt.Fprintf(b, "- @icon: %s | %s\n", bl.Icon, bl.Text)
			continue
		}
		fmt.Fprintf(b, "- %s\n", bl.Text)
	}
}

// pipeJoin joins fields with " | ", dropping trailing empty fields.
func pipeJoin(fields ...string) string {
	end := len(fields)
	for end > 0 && strings.TrimSpace(fields[end-1]) == "" {
		end--
	}
	return strings.Join(fields[:end], " | ")
}
