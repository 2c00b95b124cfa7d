// Package keyword provides phrase normalization, full-text query building, and spelling suggestions.
package keyword

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

var (
	tokenizer   = unicode.NewUnicodeTokenizer()
	lowerFilter = lowercase.NewLowerCaseFilter()
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an is are was were be been being have has had do does did
		will would could should may might can shall to of in for on with at by from as into about
		like through after over between out this that these those it its my your our their me we you
		show make create build give how what`) {
		stopwords[w] = struct{}{}
	}
}

// Tokenize splits text into lowercase word tokens.
func Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	stream := lowerFilter.Filter(tokenizer.Tokenize([]byte(text)))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		out = append(out, string(tok.Term))
	}
	return out
}

// IsStopword reports whether the lowercase token w is dropped by normalization.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// NormalizePhrase lowercases a phrase, drops stopwords, and joins the rest with single spaces.
// It is a pure function: phrases differing only in case, spacing, or stopwords normalize equally.
func NormalizePhrase(phrase string) string {
	tokens := Tokenize(phrase)
	kept := tokens[:0]
	for _, t := range tokens {
		if !IsStopword(t) {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// Terms returns the keyword terms for a search: tokens of the explicit keywords when given,
// otherwise the non-stopword tokens of the query text. Duplicates are removed, order is kept.
func Terms(query string, keywords []string) []string {
	var tokens []string
	if len(keywords) > 0 {
		for _, k := range keywords {
			tokens = append(tokens, Tokenize(k)...)
		}
	} else {
		for _, t := range Tokenize(query) {
			if !IsStopword(t) {
				tokens = append(tokens, t)
			}
		}
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// MatchExpression builds an FTS5 MATCH expression that matches any of terms.
// Each term is quoted so user input cannot inject FTS5 operators.
func MatchExpression(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
