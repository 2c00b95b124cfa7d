package storage

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// filterColumns whitelists the filterable fields per kind and maps them to
// SQL columns.
var filterColumns = map[models.ChunkKind]map[string]string{
	models.KindDeck: {
		"author":      "author",
		"company":     "company",
		"template":    "template",
		"slide_count": "slide_count",
		"source_file": "source_file",
	},
	models.KindSlide: {
		"type":           "slide_type",
		"background":     "background",
		"layout_variant": "layout_variant",
		"deck_position":  "deck_position",
		"content_domain": "content_domain",
		"prev_type":      "prev_type",
		"next_type":      "next_type",
		"section_name":   "section_name",
		"needs_review":   "needs_review",
		"position":       "position",
		"deck_id":        "deck_id",
		"has_stats":      "has_stats",
		"stat_count":     "stat_count",
		"has_bullets":    "has_bullets",
		"bullet_count":   "bullet_count",
		"has_columns":    "has_columns",
		"column_count":   "column_count",
		"has_timeline":   "has_timeline",
		"step_count":     "step_count",
		"has_comparison": "has_comparison",
		"has_image":      "has_image",
		"has_icons":      "has_icons",
		"has_source":     "has_source",
		"has_exhibit":    "has_exhibit",
		"has_next_steps": "has_next_steps",
	},
	models.KindElement: {
		"element_type":   "element_type",
		"slide_type":     "slide_type",
		"order_index":    "order_index",
		"sibling_count":  "sibling_count",
		"position_class": "position_class",
		"slide_id":       "slide_id",
		"deck_id":        "deck_id",
	},
}

// FilterFields returns the filterable field names for kind.
func FilterFields(kind models.ChunkKind) []string {
	cols := filterColumns[kind]
	out := make([]string, 0, len(cols))
	for f := range cols {
		out = append(out, f)
	}
	return out
}

// whereClause compiles filters into a conjunctive SQL predicate on alias.
// Unknown fields are a QueryError.
func whereClause(kind models.ChunkKind, alias string, filters []Filter) (string, []any, error) {
	cols, ok := filterColumns[kind]
	if !ok {
		return "", nil, &models.QueryError{Field: "granularity", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
	if len(filters) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		col, ok := cols[f.Field]
		if !ok {
			return "", nil, &models.QueryError{
				Field:  f.Field,
				Reason: fmt.Sprintf("not a filterable field for %s", kind),
			}
		}
		if f.Value == nil {
			parts = append(parts, fmt.Sprintf("%s.%s IS NULL", alias, col))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s.%s = ?", alias, col))
		args = append(args, sqlValue(f.Value))
	}
	return strings.Join(parts, " AND "), args, nil
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		return boolInt(x)
	case models.SectionType:
		return string(x)
	case models.Background:
		return string(x)
	case models.DeckPosition:
		return string(x)
	case models.ElementType:
		return string(x)
	}
	return v
}
