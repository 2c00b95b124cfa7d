// Package cli renders design index results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a search response in the given format.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d %s results in %dms\n", resp.Total, resp.Granularity, resp.QueryTime)
	if resp.SemanticDegraded {
		fmt.Fprintln(w, "(semantic scoring unavailable; ranked by structure and keywords)")
	}
	if len(resp.Suggestions) > 0 {
		fmt.Fprintf(w, "Did you mean: %s\n", strings.Join(resp.Suggestions, " "))
	}
	fmt.Fprintln(w)
	for i, r := range resp.Results {
		writeResult(w, i+1, r)
	}
	return nil
}

func writeResult(w io.Writer, rank int, r *models.ScoredResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "#%d %s %s | Score: %.4f (semantic %.3f, structural %.3f, keyword %.3f)\n",
		rank, r.Kind, r.ChunkID, r.Score, r.SemanticScore, r.StructuralScore, r.KeywordScore)
	title := r.Title
	if title == "" {
		title = utils.FirstLine(r.Summary)
	}
	if title != "" {
		fmt.Fprintf(w, "Title: %s\n", title)
	}
	if r.Context.DeckTitle != "" {
		fmt.Fprintf(w, "Deck: %s", r.Context.DeckTitle)
		if r.Kind != models.KindDeck {
			fmt.Fprintf(w, " (slide %d, %s)", r.Context.Position+1, r.Context.DeckPosition)
		}
		fmt.Fprintln(w)
	}
	if r.Kind != models.KindDeck {
		fmt.Fprintf(w, "Quality: %.2f (%d keeps, %d regens)\n", r.QualityScore, r.KeepCount, r.RegenCount)
	}
	text := r.SourceText
	if text == "" && r.Payload != nil {
		text = r.Payload.Text()
	}
	if text == "" {
		text = r.Summary
	}
	if text != "" {
		fmt.Fprintf(w, "\n%s\n", Truncate(text, 200))
	}
	fmt.Fprintln(w)
}

// WriteSuggestions writes next-slide suggestions.
func WriteSuggestions(w io.Writer, suggestions []*models.NextSlideSuggestion, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, suggestions)
	}
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "No stored deck continues this sequence.")
		return nil
	}
	for i, s := range suggestions {
		fmt.Fprintf(w, "%d. %-12s weight %.2f over %d decks (example %s)\n",
			i+1, s.Type, s.Weight, s.Occurrences, s.ExampleSlideID)
	}
	return nil
}

// WriteSlide writes a single stored slide, or a notice when slide is nil.
func WriteSlide(w io.Writer, slide *models.SlideRecord, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]any{"slide": slide})
	}
	if slide == nil {
		fmt.Fprintln(w, "No matching design.")
		return nil
	}
	fmt.Fprintf(w, "%s [%s] %s\n", slide.ID, slide.Type, slide.Name)
	fmt.Fprintf(w, "Quality: %.2f (%d keeps, %d regens, %d edits)\n",
		slide.QualityScore(), slide.Counters.KeepCount, slide.Counters.RegenCount, slide.Counters.EditCount)
	if slide.NeedsReview {
		fmt.Fprintln(w, "Flagged for review")
	}
	if slide.SourceText != "" {
		fmt.Fprintf(w, "\n%s\n", Truncate(slide.SourceText, 400))
	}
	return nil
}

// WriteSlideContext writes the neighborhood of a slide.
func WriteSlideContext(w io.Writer, sc *models.SlideContext, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, sc)
	}
	if sc == nil {
		fmt.Fprintln(w, "Slide not found.")
		return nil
	}
	fmt.Fprintf(w, "Deck: %s (%s)\n", sc.DeckTitle, sc.DeckID)
	fmt.Fprintf(w, "Slide %d of %d, %s\n", sc.SlideIndex+1, sc.TotalSlides, sc.DeckPosition)
	writeSummary(w, "Previous", sc.Previous)
	writeSummary(w, "Current", sc.Slide)
	writeSummary(w, "Next", sc.Next)
	return nil
}

func writeSummary(w io.Writer, label string, s *models.SlideSummary) {
	if s == nil {
		fmt.Fprintf(w, "%-9s -\n", label+":")
		return
	}
	fmt.Fprintf(w, "%-9s %s [%s] %s\n", label+":", s.ID, s.Type, s.Name)
}

// WriteIngestResults writes one line per ingested deck.
func WriteIngestResults(w io.Writer, results []*indexer.Result, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, results)
	}
	for _, r := range results {
		status := "ingested"
		if r.Unchanged {
			status = "unchanged"
		}
		fmt.Fprintf(w, "%-9s %s %s (%d slides, %d elements, %d pending)\n",
			status, r.DeckID, r.SourceFile, r.Slides, r.Elements, r.Pending)
	}
	return nil
}

// WriteStats writes index statistics.
func WriteStats(w io.Writer, st *models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "Decks:               %d\n", st.Decks)
	fmt.Fprintf(w, "Slides:              %d\n", st.Slides)
	fmt.Fprintf(w, "Elements:            %d\n", st.Elements)
	fmt.Fprintf(w, "Phrase triggers:     %d\n", st.PhraseTriggers)
	fmt.Fprintf(w, "Feedback events:     %d\n", st.FeedbackEvents)
	fmt.Fprintf(w, "Pending embeddings:  %d\n", st.PendingEmbeddings)
	fmt.Fprintf(w, "Flagged for review:  %d\n", st.FlaggedForReview)
	fmt.Fprintf(w, "Embedding dimension: %d\n", st.EmbeddingDim)
	fmt.Fprintf(w, "Disk usage:          %s\n", FormatBytes(st.DiskUsageBytes))
	return nil
}

// WriteReviewQueue writes slides flagged for curation.
func WriteReviewQueue(w io.Writer, slides []*models.SlideRecord, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, slides)
	}
	if len(slides) == 0 {
		fmt.Fprintln(w, "Review queue is empty.")
		return nil
	}
	for _, s := range slides {
		fmt.Fprintf(w, "%s [%s] %s: %d regens / %d keeps\n",
			s.ID, s.Type, TruncateWords(s.Name, 8), s.Counters.RegenCount, s.Counters.KeepCount)
	}
	return nil
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate shortens s to maxLen runes and appends "..." if it was cut.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
