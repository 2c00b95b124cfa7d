package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

const (
	defaultWorkers = 4
	defaultTimeout = 30 * time.Second
)

// Report summarises one enrichment run.
type Report struct {
	Enriched int
	Failed   int
	// Errors holds one EmbeddingUnavailableError per failed record.
	Errors []error
}

// Err joins the per-record failures, or returns nil when every record was enriched.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// Pool runs enrichment for many records concurrently. Each unit computes
// first and then writes through the store's serialized transaction path.
type Pool struct {
	store    storage.Storage
	enricher Enricher
	workers  int
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = utils.OrNop(l) }
}

// NewPool creates an enrichment pool. A nil cfg uses 4 workers and a 30s
// per-record timeout.
func NewPool(store storage.Storage, enricher Enricher, cfg *config.EnrichmentConfig, opts ...Option) *Pool {
	p := &Pool{
		store:    store,
		enricher: enricher,
		workers:  defaultWorkers,
		timeout:  defaultTimeout,
		logger:   zap.NewNop(),
	}
	if cfg != nil {
		if cfg.Workers > 0 {
			p.workers = cfg.Workers
		}
		if cfg.Timeout > 0 {
			p.timeout = cfg.Timeout
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run enriches every record. Failures are recorded on the record and counted
// in the report; only cancellation of ctx is returned as an error.
func (p *Pool) Run(ctx context.Context, records []models.Record) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
		g      errgroup.Group
	)
	g.SetLimit(p.workers)
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := p.enrichOne(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, err)
			} else {
				report.Enriched++
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, ctx.Err()
}

// EnrichGraph enriches the deck, slides and elements of a persisted graph.
// The returned error joins the per-record failures and is never fatal to the
// graph, which stays stored with its embeddings pending.
func (p *Pool) EnrichGraph(ctx context.Context, g *models.RecordGraph) error {
	report, err := p.Run(ctx, g.Records())
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		p.logger.Warn("Enrichment incomplete",
			zap.String("deck_id", g.Deck.ID),
			zap.Int("enriched", report.Enriched),
			zap.Int("failed", report.Failed))
	}
	return report.Err()
}

// Backfill retries every record still waiting for an embedding, visiting
// decks, slides and elements in that order. limit caps the records loaded
// per kind; zero means all.
func (p *Pool) Backfill(ctx context.Context, limit int) (Report, error) {
	var total Report
	for _, kind := range []models.ChunkKind{models.KindDeck, models.KindSlide, models.KindElement} {
		ids, err := p.store.PendingEmbeddings(ctx, kind, limit)
		if err != nil {
			return total, err
		}
		records := make([]models.Record, 0, len(ids))
		for _, id := range ids {
			rec, err := p.store.Get(ctx, kind, id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return total, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
			}
			records = append(records, rec)
		}
		report, err := p.Run(ctx, records)
		total.Enriched += report.Enriched
		total.Failed += report.Failed
		total.Errors = append(total.Errors, report.Errors...)
		if err != nil {
			return total, err
		}
		p.logger.Info("Backfill pass complete",
			zap.String("kind", string(kind)),
			zap.Int("enriched", report.Enriched),
			zap.Int("failed", report.Failed))
	}
	return total, nil
}

func (p *Pool) enrichOne(ctx context.Context, rec models.Record) error {
	start := time.Now()
	kind, id := rec.Kind(), rec.RecordID()

	uctx, cancel := context.WithTimeout(ctx, p.timeout)
	fields, err := p.enricher.Enrich(uctx, rec)
	cancel()
	if err == nil && fields != nil && fields.Embedding != nil && len(fields.Embedding) != p.store.EmbeddingDim() {
		err = fmt.Errorf("embedding has %d dimensions, index has %d", len(fields.Embedding), p.store.EmbeddingDim())
	}
	if err == nil && fields != nil {
		err = p.store.UpsertEnrichment(ctx, kind, id, fields)
	}
	metrics.Enrichment(string(kind), start, err)
	if err == nil {
		p.logger.Debug("Record enriched", zap.String("kind", string(kind)), zap.String("id", id))
		return nil
	}

	p.logger.Warn("Enrichment failed", zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
	if markErr := p.store.MarkEnrichmentFailed(context.WithoutCancel(ctx), kind, id, err.Error()); markErr != nil {
		p.logger.Warn("Failed to record enrichment failure", zap.String("id", id), zap.Error(markErr))
	}
	return &models.EmbeddingUnavailableError{Kind: kind, ID: id, Err: err}
}
