package keyword

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TermDictionary exposes the indexed vocabulary with document frequencies.
type TermDictionary interface {
	Terms(ctx context.Context) (map[string]int, error)
}

// Suggestion is a candidate correction for one term.
type Suggestion struct {
	Term      string
	Distance  int
	Frequency int
	Score     float64
}

// SpellChecker suggests corrections for terms missing from the vocabulary.
type SpellChecker struct {
	dictionary     TermDictionary
	maxDistance    int
	minFreq        int
	maxSuggestions int
	maxAge         time.Duration

	mu       sync.RWMutex
	terms    map[string]int
	loadedAt time.Time
}

// SpellCheckerOption is a functional option for configuring SpellChecker.
type SpellCheckerOption func(*SpellChecker)

// WithMaxDistance sets the maximum edit distance for suggestions.
func WithMaxDistance(d int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMinFrequency ignores vocabulary terms seen in fewer than f documents.
func WithMinFrequency(f int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if f >= 0 {
			s.minFreq = f
		}
	}
}

// WithMaxSuggestions caps the suggestions returned per term.
func WithMaxSuggestions(n int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if n > 0 {
			s.maxSuggestions = n
		}
	}
}

// WithCacheAge sets how long a loaded vocabulary is reused before reloading.
func WithCacheAge(d time.Duration) SpellCheckerOption {
	return func(s *SpellChecker) {
		s.maxAge = d
	}
}

// NewSpellChecker creates a SpellChecker over dict.
func NewSpellChecker(dict TermDictionary, opts ...SpellCheckerOption) *SpellChecker {
	s := &SpellChecker{
		dictionary:     dict,
		maxDistance:    2,
		minFreq:        1,
		maxSuggestions: 5,
		maxAge:         time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SpellChecker) vocabulary(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	terms, loadedAt := s.terms, s.loadedAt
	s.mu.RUnlock()
	if terms != nil && time.Since(loadedAt) < s.maxAge {
		return terms, nil
	}
	fresh, err := s.dictionary.Terms(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.terms, s.loadedAt = fresh, time.Now()
	s.mu.Unlock()
	return fresh, nil
}

// Suggest returns corrections for term, best first.
func (s *SpellChecker) Suggest(ctx context.Context, term string) ([]Suggestion, error) {
	terms, err := s.vocabulary(ctx)
	if err != nil {
		return nil, err
	}
	var out []Suggestion
	for dictTerm, freq := range terms {
		if dictTerm == term || freq < s.minFreq {
			continue
		}
		distance, ok := WithinDistance(term, dictTerm, s.maxDistance)
		if !ok {
			continue
		}
		out = append(out, Suggestion{
			Term:      dictTerm,
			Distance:  distance,
			Frequency: freq,
			Score:     float64(freq) / float64(distance+1),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > s.maxSuggestions {
		out = out[:s.maxSuggestions]
	}
	return out, nil
}

// Correct replaces every term missing from the vocabulary with its best suggestion.
// changed is false when every term was already known or had no suggestion.
func (s *SpellChecker) Correct(ctx context.Context, terms []string) (corrected []string, changed bool, err error) {
	vocab, err := s.vocabulary(ctx)
	if err != nil {
		return nil, false, err
	}
	corrected = make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := vocab[t]; ok {
			corrected = append(corrected, t)
			continue
		}
		sugg, err := s.Suggest(ctx, t)
		if err != nil {
			return nil, false, err
		}
		if len(sugg) == 0 {
			corrected = append(corrected, t)
			continue
		}
		corrected = append(corrected, sugg[0].Term)
		changed = true
	}
	return corrected, changed, nil
}
