package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

type rowScanner interface {
	Scan(dest ...any) error
}

var tables = map[models.ChunkKind]string{
	models.KindDeck:    "deck_chunks",
	models.KindSlide:   "slide_chunks",
	models.KindElement: "element_chunks",
}

var ftsTables = map[models.ChunkKind]string{
	models.KindDeck:    "deck_fts",
	models.KindSlide:   "slide_fts",
	models.KindElement: "element_fts",
}

func tableFor(kind models.ChunkKind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", &models.QueryError{Field: "granularity", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
	return t, nil
}

const deckColumns = `id, title, author, company, template, brand_colors, source_file, source_hash,
	type_sequence, topic_tags, summary, audience, purpose, embedding, embedding_pending,
	slide_count, slide_ids, derived_from, created_at`

const slideColumns = `id, deck_id, position, name, slide_type, background, layout_variant, summary,
	topic_tags, content_domain, has_stats, stat_count, has_bullets, bullet_count, has_columns,
	column_count, has_timeline, step_count, has_comparison, has_image, has_icons, has_source,
	has_exhibit, has_next_steps, source_text, prev_type, next_type, deck_position, section_name,
	use_count, keep_count, edit_count, regen_count, needs_review, embedding, embedding_pending,
	element_ids, derived_from, created_at`

const elementColumns = `id, slide_id, deck_id, element_type, slide_type, payload, summary, topic_tags,
	font_size, color_ref, position_class, order_index, sibling_count, embedding, embedding_pending,
	created_at`

// prefixed qualifies a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStorage) scanDeck(row rowScanner) (*models.DeckRecord, error) {
	var (
		d                               models.DeckRecord
		brand, sequence, tags, slideIDs string
		blob                            []byte
		pending                         int
		created                         int64
	)
	if err := row.Scan(&d.ID, &d.Title, &d.Author, &d.Company, &d.Template, &brand, &d.SourceFile,
		&d.SourceHash, &sequence, &tags, &d.Summary, &d.Audience, &d.Purpose, &blob, &pending,
		&d.SlideCount, &slideIDs, &d.DerivedFrom, &created); err != nil {
		return nil, err
	}
	var err error
	if d.BrandColors, err = decodeStrings(brand); err != nil {
		return nil, fmt.Errorf("failed to decode brand colors: %w", err)
	}
	if sequence != "" {
		if err := json.Unmarshal([]byte(sequence), &d.TypeSequence); err != nil {
			return nil, fmt.Errorf("failed to decode type sequence: %w", err)
		}
	}
	if d.TopicTags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("failed to decode topic tags: %w", err)
	}
	if d.SlideIDs, err = decodeStrings(slideIDs); err != nil {
		return nil, fmt.Errorf("failed to decode slide ids: %w", err)
	}
	if d.Embedding, err = vector.Decode(blob, s.EmbeddingDim()); err != nil {
		return nil, &models.IntegrityError{Op: "get", ID: d.ID, Reason: "stored embedding", Err: err}
	}
	d.EmbeddingPending = pending == 1
	d.CreatedAt = fromUnixNano(created)
	return &d, nil
}

func (s *SQLiteStorage) scanSlide(row rowScanner) (*models.SlideRecord, error) {
	var (
		r                models.SlideRecord
		fp               [14]int
		tags, elementIDs string
		prev, next       sql.NullString
		review, pending  int
		blob             []byte
		created          int64
	)
	if err := row.Scan(&r.ID, &r.DeckID, &r.Position, &r.Name, &r.Type, &r.Background, &r.LayoutVariant,
		&r.Summary, &tags, &r.ContentDomain,
		&fp[0], &fp[1], &fp[2], &fp[3], &fp[4], &fp[5], &fp[6], &fp[7], &fp[8], &fp[9], &fp[10],
		&fp[11], &fp[12], &fp[13],
		&r.SourceText, &prev, &next, &r.DeckPosition, &r.SectionName,
		&r.Counters.UseCount, &r.Counters.KeepCount, &r.Counters.EditCount, &r.Counters.RegenCount,
		&review, &blob, &pending, &elementIDs, &r.DerivedFrom, &created); err != nil {
		return nil, err
	}
	r.Fingerprint = models.Fingerprint{
		HasStats:      fp[0] == 1,
		StatCount:     fp[1],
		HasBullets:    fp[2] == 1,
		BulletCount:   fp[3],
		HasColumns:    fp[4] == 1,
		ColumnCount:   fp[5],
		HasTimeline:   fp[6] == 1,
		StepCount:     fp[7],
		HasComparison: fp[8] == 1,
		HasImage:      fp[9] == 1,
		HasIcons:      fp[10] == 1,
		HasSource:     fp[11] == 1,
		HasExhibit:    fp[12] == 1,
		HasNextSteps:  fp[13] == 1,
	}
	if prev.Valid {
		t := models.SectionType(prev.String)
		r.PrevType = &t
	}
	if next.Valid {
		t := models.SectionType(next.String)
		r.NextType = &t
	}
	var err error
	if r.TopicTags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("failed to decode topic tags: %w", err)
	}
	if r.ElementIDs, err = decodeStrings(elementIDs); err != nil {
		return nil, fmt.Errorf("failed to decode element ids: %w", err)
	}
	if r.Embedding, err = vector.Decode(blob, s.EmbeddingDim()); err != nil {
		return nil, &models.IntegrityError{Op: "get", ID: r.ID, Reason: "stored embedding", Err: err}
	}
	r.NeedsReview = review == 1
	r.EmbeddingPending = pending == 1
	r.CreatedAt = fromUnixNano(created)
	return &r, nil
}

func (s *SQLiteStorage) scanElement(row rowScanner) (*models.ElementRecord, error) {
	var (
		e             models.ElementRecord
		payload, tags string
		blob          []byte
		pending       int
		created       int64
	)
	if err := row.Scan(&e.ID, &e.SlideID, &e.DeckID, &e.Type, &e.SlideType, &payload, &e.Summary, &tags,
		&e.Visual.FontSize, &e.Visual.ColorRef, &e.Visual.PositionClass, &e.OrderIndex, &e.SiblingCount,
		&blob, &pending, &created); err != nil {
		return nil, err
	}
	var err error
	if e.Payload, err = models.DecodePayload(e.Type, []byte(payload)); err != nil {
		return nil, &models.IntegrityError{Op: "get", ID: e.ID, Reason: "stored payload", Err: err}
	}
	if e.TopicTags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("failed to decode topic tags: %w", err)
	}
	if e.Embedding, err = vector.Decode(blob, s.EmbeddingDim()); err != nil {
		return nil, &models.IntegrityError{Op: "get", ID: e.ID, Reason: "stored embedding", Err: err}
	}
	e.EmbeddingPending = pending == 1
	e.CreatedAt = fromUnixNano(created)
	return &e, nil
}

func (s *SQLiteStorage) getDeck(ctx context.Context, q querier, id string) (*models.DeckRecord, error) {
	d, err := s.scanDeck(q.QueryRowContext(ctx,
		"SELECT "+deckColumns+" FROM deck_chunks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(models.KindDeck, id)
	}
	return d, err
}

func (s *SQLiteStorage) getSlide(ctx context.Context, q querier, id string) (*models.SlideRecord, error) {
	r, err := s.scanSlide(q.QueryRowContext(ctx,
		"SELECT "+slideColumns+" FROM slide_chunks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(models.KindSlide, id)
	}
	return r, err
}

func (s *SQLiteStorage) getElement(ctx context.Context, q querier, id string) (*models.ElementRecord, error) {
	e, err := s.scanElement(q.QueryRowContext(ctx,
		"SELECT "+elementColumns+" FROM element_chunks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(models.KindElement, id)
	}
	return e, err
}

func (s *SQLiteStorage) querySlides(ctx context.Context, q querier, query string, args ...any) ([]*models.SlideRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SlideRecord
	for rows.Next() {
		r, err := s.scanSlide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) queryDecks(ctx context.Context, q querier, query string, args ...any) ([]*models.DeckRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.DeckRecord
	for rows.Next() {
		d, err := s.scanDeck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) queryElements(ctx context.Context, q querier, query string, args ...any) ([]*models.ElementRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ElementRecord
	for rows.Next() {
		e, err := s.scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableType(t *models.SectionType) any {
	if t == nil {
		return nil
	}
	return string(*t)
}

func embeddingBlob(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return vector.Encode(v)
}

func typePath(seq []models.SectionType) string {
	var b strings.Builder
	for _, t := range seq {
		b.WriteString(string(t))
		b.WriteByte(',')
	}
	return b.String()
}

func (s *SQLiteStorage) insertDeck(ctx context.Context, q querier, d *models.DeckRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO deck_chunks (id, title, author, company, template, brand_colors, source_file,
			source_hash, type_sequence, type_path, topic_tags, summary, audience, purpose, embedding,
			embedding_pending, slide_count, slide_ids, derived_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Author, d.Company, d.Template, encodeJSON(d.BrandColors), d.SourceFile,
		d.SourceHash, encodeJSON(d.TypeSequence), typePath(d.TypeSequence), encodeJSON(d.TopicTags),
		d.Summary, d.Audience, d.Purpose, embeddingBlob(d.Embedding), boolInt(len(d.Embedding) == 0),
		d.SlideCount, encodeJSON(d.SlideIDs), d.DerivedFrom, unixNano(d.CreatedAt))
	return err
}

func (s *SQLiteStorage) insertSlide(ctx context.Context, q querier, r *models.SlideRecord) error {
	fp := r.Fingerprint
	_, err := q.ExecContext(ctx, `
		INSERT INTO slide_chunks (id, deck_id, position, name, slide_type, background, layout_variant,
			summary, topic_tags, content_domain, has_stats, stat_count, has_bullets, bullet_count,
			has_columns, column_count, has_timeline, step_count, has_comparison, has_image, has_icons,
			has_source, has_exhibit, has_next_steps, source_text, prev_type, next_type, deck_position,
			section_name, use_count, keep_count, edit_count, regen_count, needs_review, embedding,
			embedding_pending, element_ids, derived_from, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DeckID, r.Position, r.Name, string(r.Type), string(r.Background), r.LayoutVariant,
		r.Summary, encodeJSON(r.TopicTags), r.ContentDomain,
		boolInt(fp.HasStats), fp.StatCount, boolInt(fp.HasBullets), fp.BulletCount,
		boolInt(fp.HasColumns), fp.ColumnCount, boolInt(fp.HasTimeline), fp.StepCount,
		boolInt(fp.HasComparison), boolInt(fp.HasImage), boolInt(fp.HasIcons),
		boolInt(fp.HasSource), boolInt(fp.HasExhibit), boolInt(fp.HasNextSteps),
		r.SourceText, nullableType(r.PrevType), nullableType(r.NextType), string(r.DeckPosition),
		r.SectionName, r.Counters.UseCount, r.Counters.KeepCount, r.Counters.EditCount,
		r.Counters.RegenCount, boolInt(r.NeedsReview), embeddingBlob(r.Embedding),
		boolInt(len(r.Embedding) == 0), encodeJSON(r.ElementIDs), r.DerivedFrom, unixNano(r.CreatedAt))
	return err
}

func (s *SQLiteStorage) insertElement(ctx context.Context, q querier, e *models.ElementRecord) error {
	payload, err := models.EncodePayload(e.Payload)
	if err != nil {
		return &models.IntegrityError{Op: "persist", ID: e.ID, Reason: "payload", Err: err}
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO element_chunks (id, slide_id, deck_id, element_type, slide_type, payload,
			content_text, summary, topic_tags, font_size, color_ref, position_class, order_index,
			sibling_count, embedding, embedding_pending, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SlideID, e.DeckID, string(e.Type), string(e.SlideType), string(payload),
		e.ContentText(), e.Summary, encodeJSON(e.TopicTags), e.Visual.FontSize, e.Visual.ColorRef,
		e.Visual.PositionClass, e.OrderIndex, e.SiblingCount, embeddingBlob(e.Embedding),
		boolInt(len(e.Embedding) == 0), unixNano(e.CreatedAt))
	return err
}
