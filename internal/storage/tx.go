package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

type sqliteTx struct {
	tx *sql.Tx
	s  *SQLiteStorage
}

// Kind resolves which table an id belongs to.
func (t *sqliteTx) Kind(ctx context.Context, id string) (models.ChunkKind, error) {
	return kindOf(ctx, t.tx, id)
}

func kindOf(ctx context.Context, q querier, id string) (models.ChunkKind, error) {
	var kind string
	err := q.QueryRowContext(ctx, `
		SELECT 'deck' FROM deck_chunks WHERE id = ?
		UNION ALL SELECT 'slide' FROM slide_chunks WHERE id = ?
		UNION ALL SELECT 'element' FROM element_chunks WHERE id = ?
		LIMIT 1`, id, id, id).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("chunk %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return models.ChunkKind(kind), nil
}

func (t *sqliteTx) GetDeck(ctx context.Context, id string) (*models.DeckRecord, error) {
	return t.s.getDeck(ctx, t.tx, id)
}

func (t *sqliteTx) GetSlide(ctx context.Context, id string) (*models.SlideRecord, error) {
	return t.s.getSlide(ctx, t.tx, id)
}

// Persist validates the graph's internal references and inserts deck, slides
// and elements in dependency order.
func (t *sqliteTx) Persist(ctx context.Context, g *models.RecordGraph) error {
	if err := checkGraph(g); err != nil {
		return err
	}
	if err := t.s.insertDeck(ctx, t.tx, g.Deck); err != nil {
		return asIntegrity("persist deck", err)
	}
	for _, sl := range g.Slides {
		if err := t.s.insertSlide(ctx, t.tx, sl); err != nil {
			return asIntegrity("persist slide", err)
		}
	}
	for _, el := range g.Elements {
		if err := t.s.insertElement(ctx, t.tx, el); err != nil {
			return asIntegrity("persist element", err)
		}
	}
	return nil
}

func checkGraph(g *models.RecordGraph) error {
	if g == nil || g.Deck == nil {
		return &models.IntegrityError{Op: "persist", Reason: "graph has no deck"}
	}
	d := g.Deck
	if d.SlideCount != len(d.SlideIDs) || d.SlideCount != len(g.Slides) {
		return &models.IntegrityError{Op: "persist", ID: d.ID,
			Reason: fmt.Sprintf("slide_count %d, %d slide ids, %d slides", d.SlideCount, len(d.SlideIDs), len(g.Slides))}
	}
	slides := make(map[string]*models.SlideRecord, len(g.Slides))
	for i, sl := range g.Slides {
		if sl.DeckID != d.ID {
			return &models.IntegrityError{Op: "persist", ID: sl.ID, Reason: "slide references unknown deck " + sl.DeckID}
		}
		if d.SlideIDs[i] != sl.ID {
			return &models.IntegrityError{Op: "persist", ID: sl.ID, Reason: "slide ids out of position order"}
		}
		slides[sl.ID] = sl
	}
	owned := make(map[string]int, len(g.Slides))
	for _, el := range g.Elements {
		sl, ok := slides[el.SlideID]
		if !ok {
			return &models.IntegrityError{Op: "persist", ID: el.ID, Reason: "element references unknown slide " + el.SlideID}
		}
		if el.DeckID != d.ID {
			return &models.IntegrityError{Op: "persist", ID: el.ID, Reason: "element references unknown deck " + el.DeckID}
		}
		if el.SlideType != sl.Type {
			return &models.IntegrityError{Op: "persist", ID: el.ID, Reason: "element slide_type differs from its slide"}
		}
		owned[el.SlideID]++
	}
	for id, sl := range slides {
		if owned[id] != len(sl.ElementIDs) {
			return &models.IntegrityError{Op: "persist", ID: id, Reason: "element_ids do not match child elements"}
		}
	}
	return nil
}

// AppendFeedback adds one row to the feedback log and sets ev.ID.
func (t *sqliteTx) AppendFeedback(ctx context.Context, ev *models.FeedbackEvent) error {
	if !ev.Signal.Valid() {
		return &models.ValidationError{Field: "signal", Reason: fmt.Sprintf("unknown signal %q", ev.Signal)}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.s.now()
	}
	payload := "{}"
	if len(ev.Context) > 0 {
		b, err := json.Marshal(ev.Context)
		if err != nil {
			return fmt.Errorf("failed to encode feedback context: %w", err)
		}
		payload = string(b)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO feedback_log (chunk_id, chunk_kind, signal, context, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ChunkID, string(ev.ChunkKind), string(ev.Signal), payload, ev.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// IncrementCounters adds delta to a slide's counters in SQL and returns the
// resulting values.
func (t *sqliteTx) IncrementCounters(ctx context.Context, slideID string, delta models.CounterDelta) (models.Counters, error) {
	var c models.Counters
	res, err := t.tx.ExecContext(ctx, `
		UPDATE slide_chunks
		SET use_count = use_count + ?, keep_count = keep_count + ?,
		    edit_count = edit_count + ?, regen_count = regen_count + ?
		WHERE id = ?`,
		delta.Use, delta.Keep, delta.Edit, delta.Regen, slideID)
	if err != nil {
		return c, fmt.Errorf("failed to update counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return c, &models.IntegrityError{Op: "feedback", ID: slideID, Reason: "unknown slide"}
	}
	err = t.tx.QueryRowContext(ctx, `
		SELECT use_count, keep_count, edit_count, regen_count FROM slide_chunks WHERE id = ?`, slideID).
		Scan(&c.UseCount, &c.KeepCount, &c.EditCount, &c.RegenCount)
	return c, err
}

func (t *sqliteTx) SetReviewFlag(ctx context.Context, slideID string, flagged bool) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE slide_chunks SET needs_review = ? WHERE id = ?", boolInt(flagged), slideID)
	if err != nil {
		return fmt.Errorf("failed to set review flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.IntegrityError{Op: "review", ID: slideID, Reason: "unknown slide"}
	}
	return nil
}

// Embedding returns the stored vector, or nil when the record is not embedded yet.
func (t *sqliteTx) Embedding(ctx context.Context, kind models.ChunkKind, id string) ([]float32, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = t.tx.QueryRowContext(ctx, "SELECT embedding FROM "+table+" WHERE id = ?", id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, err
	}
	return vector.Decode(blob, t.s.EmbeddingDim())
}

// SetEmbedding stores vec and clears the pending flag. The length must match
// the index dimension.
func (t *sqliteTx) SetEmbedding(ctx context.Context, kind models.ChunkKind, id string, vec []float32) error {
	return t.s.setEmbedding(ctx, t.tx, kind, id, vec)
}

func (s *SQLiteStorage) setEmbedding(ctx context.Context, q querier, kind models.ChunkKind, id string, vec []float32) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if dim := s.EmbeddingDim(); len(vec) != dim {
		return &models.IntegrityError{Op: "set embedding", ID: id,
			Reason: fmt.Sprintf("dimension %d, index declares %d", len(vec), dim)}
	}
	res, err := q.ExecContext(ctx,
		"UPDATE "+table+" SET embedding = ?, embedding_pending = 0, enrich_error = NULL WHERE id = ?",
		vector.Encode(vec), id)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.IntegrityError{Op: "set embedding", ID: id, Reason: "unknown " + string(kind)}
	}
	return nil
}

// UpsertPhraseTrigger inserts the trigger or, when the normalized phrase is
// already known, bumps its hit count and points it at the latest match.
func (t *sqliteTx) UpsertPhraseTrigger(ctx context.Context, p *models.PhraseTrigger) (*models.PhraseTrigger, error) {
	now := t.s.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO phrase_triggers (id, phrase, normalized_phrase, matched_id, matched_kind,
			confidence, hit_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(normalized_phrase) DO UPDATE SET
			hit_count    = hit_count + 1,
			matched_id   = excluded.matched_id,
			matched_kind = excluded.matched_kind,
			updated_at   = excluded.updated_at`,
		p.ID, p.Phrase, p.NormalizedPhrase, p.MatchedID, string(p.MatchedKind), p.Confidence,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, asIntegrity("phrase trigger", err)
	}
	out, err := lookupPhrase(ctx, t.tx, p.NormalizedPhrase)
	if err != nil {
		return nil, err
	}
	t.s.logger.Debug("Phrase trigger upserted",
		zap.String("normalized", out.NormalizedPhrase),
		zap.Int("hit_count", out.HitCount))
	return out, nil
}

func lookupPhrase(ctx context.Context, q querier, normalized string) (*models.PhraseTrigger, error) {
	var (
		p                models.PhraseTrigger
		created, updated int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, phrase, normalized_phrase, matched_id, matched_kind, confidence, hit_count,
			created_at, updated_at
		FROM phrase_triggers WHERE normalized_phrase = ?`, normalized).
		Scan(&p.ID, &p.Phrase, &p.NormalizedPhrase, &p.MatchedID, &p.MatchedKind, &p.Confidence,
			&p.HitCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("phrase %q: %w", normalized, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromUnixNano(created)
	p.UpdatedAt = fromUnixNano(updated)
	return &p, nil
}
