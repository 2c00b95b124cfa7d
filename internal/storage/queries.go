package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// Persist writes the deck, its slides and their elements in one transaction.
func (s *SQLiteStorage) Persist(ctx context.Context, graph *models.RecordGraph) error {
	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.Persist(ctx, graph)
	})
	if err != nil {
		return fmt.Errorf("failed to persist deck: %w", err)
	}
	s.logger.Debug("Deck persisted",
		zap.String("deck_id", graph.Deck.ID),
		zap.Int("slides", len(graph.Slides)),
		zap.Int("elements", len(graph.Elements)))
	return nil
}

// Get returns any record by kind and id.
func (s *SQLiteStorage) Get(ctx context.Context, kind models.ChunkKind, id string) (models.Record, error) {
	switch kind {
	case models.KindDeck:
		return s.GetDeck(ctx, id)
	case models.KindSlide:
		return s.GetSlide(ctx, id)
	case models.KindElement:
		return s.GetElement(ctx, id)
	}
	return nil, &models.QueryError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", kind)}
}

func (s *SQLiteStorage) GetDeck(ctx context.Context, id string) (*models.DeckRecord, error) {
	return s.getDeck(ctx, s.db, id)
}

func (s *SQLiteStorage) GetSlide(ctx context.Context, id string) (*models.SlideRecord, error) {
	return s.getSlide(ctx, s.db, id)
}

func (s *SQLiteStorage) GetElement(ctx context.Context, id string) (*models.ElementRecord, error) {
	return s.getElement(ctx, s.db, id)
}

// SlidesForDeck returns a deck's slides in position order.
func (s *SQLiteStorage) SlidesForDeck(ctx context.Context, deckID string) ([]*models.SlideRecord, error) {
	return s.querySlides(ctx, s.db,
		"SELECT "+slideColumns+" FROM slide_chunks WHERE deck_id = ? ORDER BY position", deckID)
}

// ElementsForSlide returns a slide's elements in order.
func (s *SQLiteStorage) ElementsForSlide(ctx context.Context, slideID string) ([]*models.ElementRecord, error) {
	return s.queryElements(ctx, s.db,
		"SELECT "+elementColumns+" FROM element_chunks WHERE slide_id = ? ORDER BY order_index", slideID)
}

// ListDecks returns decks matching every filter, newest first.
func (s *SQLiteStorage) ListDecks(ctx context.Context, filters []Filter) ([]*models.DeckRecord, error) {
	where, args, err := whereClause(models.KindDeck, "d", filters)
	if err != nil {
		return nil, err
	}
	return s.queryDecks(ctx, s.db,
		"SELECT "+prefixed("d", deckColumns)+" FROM deck_chunks d WHERE "+where+" ORDER BY d.seq DESC", args...)
}

// ListSlides returns slides matching every filter.
func (s *SQLiteStorage) ListSlides(ctx context.Context, filters []Filter) ([]*models.SlideRecord, error) {
	where, args, err := whereClause(models.KindSlide, "s", filters)
	if err != nil {
		return nil, err
	}
	return s.querySlides(ctx, s.db,
		"SELECT "+prefixed("s", slideColumns)+" FROM slide_chunks s WHERE "+where+" ORDER BY s.seq", args...)
}

// ListElements returns elements matching every filter.
func (s *SQLiteStorage) ListElements(ctx context.Context, filters []Filter) ([]*models.ElementRecord, error) {
	where, args, err := whereClause(models.KindElement, "e", filters)
	if err != nil {
		return nil, err
	}
	return s.queryElements(ctx, s.db,
		"SELECT "+prefixed("e", elementColumns)+" FROM element_chunks e WHERE "+where+" ORDER BY e.seq", args...)
}

// FullTextSearch runs an FTS5 MATCH over kind's indexed fields, restricted by
// filters, best rank first.
func (s *SQLiteStorage) FullTextSearch(ctx context.Context, kind models.ChunkKind, match string, filters []Filter, limit int) ([]KeywordHit, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(match) == "" {
		return nil, nil
	}
	where, args, err := whereClause(kind, "c", filters)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	fts := ftsTables[kind]
	query := fmt.Sprintf(`
		SELECT c.id, bm25(%[1]s)
		FROM %[1]s
		JOIN %[2]s c ON c.seq = %[1]s.rowid
		WHERE %[1]s MATCH ? AND %[3]s
		ORDER BY bm25(%[1]s)
		LIMIT ?`, fts, table, where)
	args = append([]any{match}, args...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run full-text search: %w", err)
	}
	defer rows.Close()
	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		var rank float64
		if err := rows.Scan(&h.ID, &rank); err != nil {
			return nil, err
		}
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeckSequences finds decks whose type sequence begins with prefix and returns
// the slide that follows it. Decks that end exactly at the prefix are skipped.
func (s *SQLiteStorage) DeckSequences(ctx context.Context, prefix []models.SectionType) ([]SequenceMatch, error) {
	if len(prefix) == 0 {
		return nil, nil
	}
	path := typePath(prefix)
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.created_at, sl.id, sl.slide_type,
			sl.use_count, sl.keep_count, sl.edit_count, sl.regen_count
		FROM deck_chunks d
		JOIN slide_chunks sl ON sl.deck_id = d.id AND sl.position = ?
		WHERE substr(d.type_path, 1, ?) = ?
		ORDER BY d.created_at DESC`, len(prefix), len(path), path)
	if err != nil {
		return nil, fmt.Errorf("failed to query deck sequences: %w", err)
	}
	defer rows.Close()
	var out []SequenceMatch
	for rows.Next() {
		var m SequenceMatch
		var created int64
		if err := rows.Scan(&m.DeckID, &created, &m.NextSlideID, &m.NextType,
			&m.NextCounters.UseCount, &m.NextCounters.KeepCount,
			&m.NextCounters.EditCount, &m.NextCounters.RegenCount); err != nil {
			return nil, err
		}
		m.DeckCreated = fromUnixNano(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Terms returns the slide full-text vocabulary with per-term occurrence counts.
func (s *SQLiteStorage) Terms(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT term, cnt FROM slide_vocab")
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	defer rows.Close()
	terms := make(map[string]int)
	for rows.Next() {
		var term string
		var cnt int
		if err := rows.Scan(&term, &cnt); err != nil {
			return nil, err
		}
		terms[term] = cnt
	}
	return terms, rows.Err()
}

// UpsertEnrichment applies enrichment fields to an existing record. Applying
// the same fields twice yields the same state. Unknown ids are rejected.
func (s *SQLiteStorage) UpsertEnrichment(ctx context.Context, kind models.ChunkKind, id string, f *models.Enrichment) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if f == nil {
		f = &models.Enrichment{}
	}
	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if f.Summary != nil {
		set("summary", *f.Summary)
	}
	if f.TopicTags != nil {
		set("topic_tags", encodeJSON(f.TopicTags))
	}
	unsupported := func(field string) error {
		return &models.ValidationError{Field: field, Reason: "not an enrichment field for " + string(kind)}
	}
	switch kind {
	case models.KindDeck:
		if f.Audience != nil {
			set("audience", *f.Audience)
		}
		if f.Purpose != nil {
			set("purpose", *f.Purpose)
		}
		if f.ContentDomain != nil {
			return unsupported("content_domain")
		}
		if f.Visual != nil {
			return unsupported("visual")
		}
	case models.KindSlide:
		if f.ContentDomain != nil {
			set("content_domain", *f.ContentDomain)
		}
		if f.Audience != nil || f.Purpose != nil {
			return unsupported("audience")
		}
		if f.Visual != nil {
			return unsupported("visual")
		}
	case models.KindElement:
		if f.Visual != nil {
			set("font_size", f.Visual.FontSize)
			set("color_ref", f.Visual.ColorRef)
			set("position_class", f.Visual.PositionClass)
		}
		if f.ContentDomain != nil || f.Audience != nil || f.Purpose != nil {
			return unsupported("content_domain")
		}
	}

	return s.withTx(ctx, func(tx *sqliteTx) error {
		var exists int
		err := tx.tx.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return &models.IntegrityError{Op: "upsert enrichment", ID: id, Reason: "unknown " + string(kind)}
		}
		if err != nil {
			return err
		}
		if len(sets) > 0 {
			q := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
			if _, err := tx.tx.ExecContext(ctx, q, append(args, id)...); err != nil {
				return fmt.Errorf("failed to apply enrichment: %w", err)
			}
		}
		if f.Embedding != nil {
			return tx.SetEmbedding(ctx, kind, id, f.Embedding)
		}
		return nil
	})
}

// MarkEnrichmentFailed keeps the record pending and records why.
func (s *SQLiteStorage) MarkEnrichmentFailed(ctx context.Context, kind models.ChunkKind, id, reason string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqliteTx) error {
		_, err := tx.tx.ExecContext(ctx,
			"UPDATE "+table+" SET embedding_pending = 1, enrich_error = ? WHERE id = ?", reason, id)
		return err
	})
}

// PendingEmbeddings lists ids of records of kind that have no embedding yet,
// oldest first. A limit of zero means no limit.
func (s *SQLiteStorage) PendingEmbeddings(ctx context.Context, kind models.ChunkKind, limit int) ([]string, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM "+table+" WHERE embedding_pending = 1 ORDER BY seq LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending embeddings: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindDeckBySource returns the newest deck ingested from sourceFile with the
// given content hash.
func (s *SQLiteStorage) FindDeckBySource(ctx context.Context, sourceFile, sourceHash string) (*models.DeckRecord, error) {
	d, err := s.scanDeck(s.db.QueryRowContext(ctx,
		"SELECT "+deckColumns+" FROM deck_chunks WHERE source_file = ? AND source_hash = ? ORDER BY seq DESC LIMIT 1",
		sourceFile, sourceHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deck for %s: %w", sourceFile, models.ErrNotFound)
	}
	return d, err
}

// Purge deletes a deck with all of its slides, elements and the phrase
// triggers that point at them, and logs a delete event.
func (s *SQLiteStorage) Purge(ctx context.Context, deckID string) error {
	var slides, elements int64
	err := s.withTx(ctx, func(tx *sqliteTx) error {
		stx := tx.tx
		if _, err := tx.GetDeck(ctx, deckID); err != nil {
			return err
		}
		if _, err := stx.ExecContext(ctx, `
			DELETE FROM phrase_triggers
			WHERE matched_id IN (SELECT id FROM slide_chunks WHERE deck_id = ?)
			   OR matched_id IN (SELECT id FROM element_chunks WHERE deck_id = ?)`, deckID, deckID); err != nil {
			return fmt.Errorf("failed to delete phrase triggers: %w", err)
		}
		res, err := stx.ExecContext(ctx, "DELETE FROM element_chunks WHERE deck_id = ?", deckID)
		if err != nil {
			return fmt.Errorf("failed to delete elements: %w", err)
		}
		elements, _ = res.RowsAffected()
		res, err = stx.ExecContext(ctx, "DELETE FROM slide_chunks WHERE deck_id = ?", deckID)
		if err != nil {
			return fmt.Errorf("failed to delete slides: %w", err)
		}
		slides, _ = res.RowsAffected()
		if _, err := stx.ExecContext(ctx, "DELETE FROM deck_chunks WHERE id = ?", deckID); err != nil {
			return fmt.Errorf("failed to delete deck: %w", err)
		}
		return tx.AppendFeedback(ctx, &models.FeedbackEvent{
			ChunkID:   deckID,
			ChunkKind: models.KindDeck,
			Signal:    models.SignalDelete,
			Context:   map[string]any{"slides": slides, "elements": elements},
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("Deck purged",
		zap.String("deck_id", deckID),
		zap.Int64("slides", slides),
		zap.Int64("elements", elements))
	return nil
}

// LookupPhrase returns the trigger learned for a normalized phrase.
func (s *SQLiteStorage) LookupPhrase(ctx context.Context, normalized string) (*models.PhraseTrigger, error) {
	return lookupPhrase(ctx, s.db, normalized)
}

// ListFlaggedForReview returns slides whose regen rate crossed the review
// threshold, most regenerated first.
func (s *SQLiteStorage) ListFlaggedForReview(ctx context.Context, limit int) ([]*models.SlideRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.querySlides(ctx, s.db,
		"SELECT "+slideColumns+" FROM slide_chunks WHERE needs_review = 1 ORDER BY regen_count DESC, seq LIMIT ?", limit)
}

// FeedbackFor returns the logged events for one chunk in order.
func (s *SQLiteStorage) FeedbackFor(ctx context.Context, chunkID string) ([]*models.FeedbackEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_id, chunk_kind, signal, context, created_at
		FROM feedback_log WHERE chunk_id = ? ORDER BY id`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback log: %w", err)
	}
	defer rows.Close()
	var out []*models.FeedbackEvent
	for rows.Next() {
		var ev models.FeedbackEvent
		var raw string
		var created int64
		if err := rows.Scan(&ev.ID, &ev.ChunkID, &ev.ChunkKind, &ev.Signal, &raw, &created); err != nil {
			return nil, err
		}
		if raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &ev.Context); err != nil {
				return nil, fmt.Errorf("failed to decode feedback context: %w", err)
			}
		}
		ev.CreatedAt = fromUnixNano(created)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// Stats reports record counts and the on-disk footprint of the database.
func (s *SQLiteStorage) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{EmbeddingDim: s.EmbeddingDim()}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM deck_chunks),
			(SELECT COUNT(*) FROM slide_chunks),
			(SELECT COUNT(*) FROM element_chunks),
			(SELECT COUNT(*) FROM phrase_triggers),
			(SELECT COUNT(*) FROM feedback_log),
			(SELECT COUNT(*) FROM deck_chunks WHERE embedding_pending = 1)
			+ (SELECT COUNT(*) FROM slide_chunks WHERE embedding_pending = 1)
			+ (SELECT COUNT(*) FROM element_chunks WHERE embedding_pending = 1),
			(SELECT COUNT(*) FROM slide_chunks WHERE needs_review = 1)`).
		Scan(&st.Decks, &st.Slides, &st.Elements, &st.PhraseTriggers, &st.FeedbackEvents,
			&st.PendingEmbeddings, &st.FlaggedForReview)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if st.DiskUsageBytes, err = DatabaseFootprint(s.path); err != nil {
		s.logger.Warn("Failed to measure database size", zap.Error(err))
	}
	return st, nil
}

// MigrateEmbeddingDimension switches the index to a new embedding dimension.
// Every stored embedding is cleared and every record is marked pending so a
// backfill can recompute them.
func (s *SQLiteStorage) MigrateEmbeddingDimension(ctx context.Context, dim int) error {
	if dim <= 0 {
		return &models.ValidationError{Field: "dimensions", Reason: "must be positive"}
	}
	var old int
	err := s.withTx(ctx, func(tx *sqliteTx) error {
		stx := tx.tx
		for _, table := range []string{"deck_chunks", "slide_chunks", "element_chunks"} {
			if _, err := stx.ExecContext(ctx,
				"UPDATE "+table+" SET embedding = NULL, embedding_pending = 1, enrich_error = NULL"); err != nil {
				return fmt.Errorf("failed to clear embeddings in %s: %w", table, err)
			}
		}
		_, err := stx.ExecContext(ctx, `
			INSERT INTO index_meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaEmbeddingDim, strconv.Itoa(dim))
		if err != nil {
			return err
		}
		// Swapped under the write lock so no embedding of the old size lands after the clear.
		s.dimMu.Lock()
		old, s.dim = s.dim, dim
		s.dimMu.Unlock()
		return nil
	})
	if err != nil {
		s.dimMu.Lock()
		if old != 0 {
			s.dim = old
		}
		s.dimMu.Unlock()
		return fmt.Errorf("failed to migrate embedding dimension: %w", err)
	}
	s.logger.Info("Embedding dimension migrated", zap.Int("from", old), zap.Int("to", dim))
	return nil
}
