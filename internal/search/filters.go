package search

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

type valueKind int

const (
	stringValue valueKind = iota
	boolValue
	intValue
	enumValue
)

type fieldSpec struct {
	kind     valueKind
	valid    func(string) bool
	nullable bool
}

func sectionType(s string) bool  { return models.SectionType(s).Valid() }
func background(s string) bool   { return models.Background(s).Valid() }
func deckPosition(s string) bool { return models.DeckPosition(s).Valid() }
func elementType(s string) bool  { return models.ElementType(s).Valid() }

var (
	flagField    = fieldSpec{kind: boolValue}
	countField   = fieldSpec{kind: intValue}
	textField    = fieldSpec{kind: stringValue}
	sectionField = fieldSpec{kind: enumValue, valid: sectionType}
)

// catalog lists the structural filters accepted per granularity.
var catalog = map[models.ChunkKind]map[string]fieldSpec{
	models.KindDeck: {
		"author":      textField,
		"company":     textField,
		"template":    textField,
		"source_file": textField,
		"slide_count": countField,
	},
	models.KindSlide: {
		"type":           sectionField,
		"background":     {kind: enumValue, valid: background},
		"deck_position":  {kind: enumValue, valid: deckPosition},
		"prev_type":      {kind: enumValue, valid: sectionType, nullable: true},
		"next_type":      {kind: enumValue, valid: sectionType, nullable: true},
		"layout_variant": textField,
		"content_domain": textField,
		"section_name":   textField,
		"deck_id":        textField,
		"needs_review":   flagField,
		"position":       countField,
		"has_stats":      flagField,
		"stat_count":     countField,
		"has_bullets":    flagField,
		"bullet_count":   countField,
		"has_columns":    flagField,
		"column_count":   countField,
		"has_timeline":   flagField,
		"step_count":     countField,
		"has_comparison": flagField,
		"has_image":      flagField,
		"has_icons":      flagField,
		"has_source":     flagField,
		"has_exhibit":    flagField,
		"has_next_steps": flagField,
	},
	models.KindElement: {
		"element_type":   {kind: enumValue, valid: elementType},
		"slide_type":     sectionField,
		"order_index":    countField,
		"sibling_count":  countField,
		"position_class": textField,
		"slide_id":       textField,
		"deck_id":        textField,
	},
}

var aliases = map[models.ChunkKind]map[string]string{
	models.KindSlide: {"slide_type": "type"},
}

// CompileFilters checks raw filters against the catalog for kind and converts
// them to store predicates. Any unknown field or ill-typed value is a QueryError.
func CompileFilters(kind models.ChunkKind, raw map[string]any) ([]storage.Filter, error) {
	specs, ok := catalog[kind]
	if !ok {
		return nil, &models.QueryError{Field: "granularity", Reason: fmt.Sprintf("unsupported granularity %q", kind)}
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]storage.Filter, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, key := range keys {
		field := key
		if alias, ok := aliases[kind][key]; ok {
			field = alias
		}
		spec, ok := specs[field]
		if !ok {
			return nil, &models.QueryError{Field: key, Reason: fmt.Sprintf("not a filter for %s granularity", kind)}
		}
		if seen[field] {
			return nil, &models.QueryError{Field: key, Reason: "filter given twice"}
		}
		seen[field] = true
		v, err := coerce(spec, raw[key])
		if err != nil {
			return nil, &models.QueryError{Field: key, Reason: err.Error()}
		}
		out = append(out, storage.Filter{Field: field, Value: v})
	}
	return out, nil
}

func coerce(spec fieldSpec, v any) (any, error) {
	if v == nil {
		if spec.nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("value required")
	}
	if s, ok := v.(string); ok && spec.nullable && s == "none" {
		return nil, nil
	}
	switch spec.kind {
	case boolValue:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("expected a boolean, got %q", x)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected a boolean, got %T", v)
	case intValue:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("expected an integer, got %v", x)
			}
			return int(x), nil
		case string:
			n, err := strconv.Atoi(x)
			if err != nil {
				return nil, fmt.Errorf("expected an integer, got %q", x)
			}
			return n, nil
		}
		return nil, fmt.Errorf("expected an integer, got %T", v)
	}

	s, ok := stringOf(v)
	if !ok {
		return nil, fmt.Errorf("expected a string, got %T", v)
	}
	if spec.kind == enumValue {
		s = strings.ToLower(strings.TrimSpace(s))
		if !spec.valid(s) {
			return nil, fmt.Errorf("unknown value %q", s)
		}
	}
	return s, nil
}

func stringOf(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	case models.SectionType:
		return string(x), true
	case models.Background:
		return string(x), true
	case models.DeckPosition:
		return string(x), true
	case models.ElementType:
		return string(x), true
	}
	return "", false
}
