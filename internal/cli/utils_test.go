package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:       "uptime",
		Granularity: models.KindSlide,
		QueryTime:   42,
		Total:       1,
		Results: []*models.ScoredResult{{
			ChunkID:         "slide-1",
			Kind:            models.KindSlide,
			Score:           0.9,
			SemanticScore:   0.8,
			StructuralScore: 1,
			KeywordScore:    1,
			Title:           "Reliability",
			SourceText:      "99.95% Uptime",
			Context: models.ResultContext{
				DeckID:       "deck-1",
				DeckTitle:    "Q3 Review",
				Position:     1,
				DeckPosition: models.PositionMiddle,
			},
			KeepCount:    3,
			QualityScore: 1,
			CreatedAt:    time.Now(),
		}},
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "JSON": OutputJSON} {
		got, err := ParseOutputFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOutputFormat("xml")
	assert.Error(t, err)
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSearchResults(&buf, sampleResponse(), OutputJSON))

	var decoded models.SearchResponse
	require.NoError(t, json.NewDecoder(&buf).Decode(&decoded))
	assert.Equal(t, "uptime", decoded.Query)
	assert.EqualValues(t, 42, decoded.QueryTime)
	require.Len(t, decoded.Results, 1)
	assert.Equal(t, "slide-1", decoded.Results[0].ChunkID)
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	resp := sampleResponse()
	resp.SemanticDegraded = true
	resp.Suggestions = []string{"uptime"}
	require.NoError(t, WriteSearchResults(&buf, resp, OutputText))

	out := buf.String()
	assert.Contains(t, out, "Found 1 slide results in 42ms")
	assert.Contains(t, out, "semantic scoring unavailable")
	assert.Contains(t, out, "Did you mean: uptime")
	assert.Contains(t, out, "#1 slide slide-1")
	assert.Contains(t, out, "Deck: Q3 Review (slide 2, middle)")
	assert.Contains(t, out, "Quality: 1.00 (3 keeps, 0 regens)")
	assert.Contains(t, out, "99.95% Uptime")
}

func TestWriteSearchResults_elementPayloadText(t *testing.T) {
	var buf bytes.Buffer
	resp := &models.SearchResponse{Granularity: models.KindElement, Total: 1, Results: []*models.ScoredResult{{
		ChunkID: "el-1",
		Kind:    models.KindElement,
		Payload: models.StatPayload{Value: "12ms", Label: "Latency"},
	}}}
	require.NoError(t, WriteSearchResults(&buf, resp, OutputText))
	assert.Contains(t, buf.String(), "12ms")
}

func TestWriteSuggestions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSuggestions(&buf, nil, OutputText))
	assert.Contains(t, buf.String(), "No stored deck")

	buf.Reset()
	require.NoError(t, WriteSuggestions(&buf, []*models.NextSlideSuggestion{
		{Type: models.SectionStat, Weight: 1.5, Occurrences: 2, ExampleSlideID: "s-9"},
	}, OutputText))
	assert.Contains(t, buf.String(), "1. stat")
	assert.Contains(t, buf.String(), "weight 1.50 over 2 decks (example s-9)")
}

func TestWriteSlideAndContext(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSlide(&buf, nil, OutputText))
	assert.Contains(t, buf.String(), "No matching design")

	buf.Reset()
	slide := &models.SlideRecord{ID: "s-1", Name: "Reliability", Type: models.SectionStat, NeedsReview: true,
		Counters: models.Counters{KeepCount: 1, RegenCount: 3}}
	require.NoError(t, WriteSlide(&buf, slide, OutputText))
	assert.Contains(t, buf.String(), "s-1 [stat] Reliability")
	assert.Contains(t, buf.String(), "Quality: 0.25")
	assert.Contains(t, buf.String(), "Flagged for review")

	buf.Reset()
	sc := &models.SlideContext{
		DeckID: "d-1", DeckTitle: "Q3 Review", SlideIndex: 0, TotalSlides: 3,
		DeckPosition: models.PositionOpening,
		Slide:        &models.SlideSummary{ID: "s-0", Type: models.SectionTitle, Name: "Opening"},
		Next:         &models.SlideSummary{ID: "s-1", Type: models.SectionStat, Name: "Reliability"},
	}
	require.NoError(t, WriteSlideContext(&buf, sc, OutputText))
	out := buf.String()
	assert.Contains(t, out, "Slide 1 of 3, opening")
	assert.Contains(t, out, "Previous: -")
	assert.Contains(t, out, "Next:     s-1 [stat] Reliability")
}

func TestWriteIngestAndStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIngestResults(&buf, []*indexer.Result{
		{DeckID: "d-1", SourceFile: "/decks/q3.yaml", Slides: 3, Elements: 3},
		{DeckID: "d-2", SourceFile: "/decks/old.yaml", Unchanged: true},
	}, OutputText))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ingested"))
	assert.True(t, strings.HasPrefix(lines[1], "unchanged"))

	buf.Reset()
	require.NoError(t, WriteStats(&buf, &models.Stats{Decks: 2, Slides: 7, DiskUsageBytes: 3 << 20}, OutputText))
	assert.Contains(t, buf.String(), "Slides:              7")
	assert.Contains(t, buf.String(), "3.0 MiB")
}

func TestWriteReviewQueue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReviewQueue(&buf, nil, OutputText))
	assert.Contains(t, buf.String(), "empty")

	buf.Reset()
	require.NoError(t, WriteReviewQueue(&buf, []*models.SlideRecord{{ID: "s-1", Name: "Metrics", Type: models.SectionStat,
		Counters: models.Counters{RegenCount: 4}}}, OutputJSON))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "s-1", decoded[0]["id"])
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(3<<19))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s      string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello..."},
		{"", 5, ""},
		{"abc", 0, "abc"},
		{"héllo wörld", 4, "héll..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.s, tt.maxLen), "Truncate(%q, %d)", tt.s, tt.maxLen)
	}
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "one two", TruncateWords("one two", 3))
	assert.Equal(t, "one two...", TruncateWords("one two three", 2))
	assert.Equal(t, "", TruncateWords("", 2))
}
