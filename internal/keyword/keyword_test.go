package keyword

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhrase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Make a stat slide about uptime", "stat slide uptime"},
		{"make a STAT slide about uptime", "stat slide uptime"},
		{"  make   a stat\tslide about   uptime ", "stat slide uptime"},
		{"Show me the roadmap", "roadmap"},
		{"the a an", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhrase(tt.in))
		})
	}
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"pipeline", "uptime"}, Terms("The pipeline uptime", nil))
	assert.Equal(t, []string{"revenue", "growth", "q3"}, Terms("ignored", []string{"Revenue growth", "Q3", "growth"}))
	assert.Empty(t, Terms("the of", nil))
}

func TestMatchExpression(t *testing.T) {
	assert.Equal(t, `"pipeline" OR "uptime"`, MatchExpression([]string{"pipeline", "uptime"}))
	assert.Equal(t, `"a""b"`, MatchExpression([]string{`a"b`}))
	assert.Equal(t, "", MatchExpression(nil))
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"cat", "bat", 1},
		{"kitten", "sitting", 3},
		{"uptime", "uptiem", 1},
		{"ab", "ba", 1},
		{"café", "cafe", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EditDistance(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestWithinDistance(t *testing.T) {
	d, ok := WithinDistance("uptiem", "uptime", 2)
	assert.True(t, ok)
	assert.Equal(t, 1, d)

	d, ok = WithinDistance("kitten", "sitting", 3)
	assert.True(t, ok)
	assert.Equal(t, 3, d)

	_, ok = WithinDistance("kitten", "sitting", 2)
	assert.False(t, ok)

	_, ok = WithinDistance("kpi", "pipeline", 2)
	assert.False(t, ok, "length gap alone exceeds the limit")

	d, ok = WithinDistance("", "ab", 2)
	assert.True(t, ok)
	assert.Equal(t, 2, d)

	d, ok = WithinDistance("metrics", "lyrics", -1)
	assert.True(t, ok)
	assert.Equal(t, EditDistance("metrics", "lyrics"), d)
}

type fakeDictionary struct {
	terms map[string]int
	err   error
	calls int
}

func (f *fakeDictionary) Terms(context.Context) (map[string]int, error) {
	f.calls++
	return f.terms, f.err
}

func TestSpellChecker(t *testing.T) {
	dict := &fakeDictionary{terms: map[string]int{"uptime": 10, "upkeep": 1, "pipeline": 4, "runtime": 2}}
	sc := NewSpellChecker(dict)
	ctx := context.Background()

	sugg, err := sc.Suggest(ctx, "uptiem")
	require.NoError(t, err)
	require.NotEmpty(t, sugg)
	assert.Equal(t, "uptime", sugg[0].Term)

	corrected, changed, err := sc.Correct(ctx, []string{"pipelne", "uptime", "zzzzzz"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"pipeline", "uptime", "zzzzzz"}, corrected)

	_, changed, err = sc.Correct(ctx, []string{"uptime"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, dict.calls, "vocabulary is cached")
}

func TestSpellChecker_Options(t *testing.T) {
	dict := &fakeDictionary{terms: map[string]int{"stat": 1, "stats": 5, "start": 3, "state": 2}}
	sc := NewSpellChecker(dict, WithMaxDistance(1), WithMinFrequency(2), WithMaxSuggestions(2))
	sugg, err := sc.Suggest(context.Background(), "stat")
	require.NoError(t, err)
	require.Len(t, sugg, 2)
	assert.Equal(t, "stats", sugg[0].Term)
	assert.Equal(t, "start", sugg[1].Term)
}

func TestSpellChecker_DictionaryError(t *testing.T) {
	sc := NewSpellChecker(&fakeDictionary{err: errors.New("boom")})
	_, err := sc.Suggest(context.Background(), "x")
	assert.Error(t, err)
	_, _, err = sc.Correct(context.Background(), []string{"x"})
	assert.Error(t, err)
}
