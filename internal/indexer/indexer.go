// Package indexer ingests document trees into the design index: decode,
// validate, chunk, persist as one unit, then enrich.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/enrich"
	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

// DefaultExtensions are the tree file extensions ingested when none are configured.
var DefaultExtensions = []string{".yaml", ".yml", ".json"}

// Source identifies where a tree came from. Both fields are optional.
type Source struct {
	File string
	Hash string
}

// Result describes one ingested deck.
type Result struct {
	DeckID     string `json:"deck_id"`
	SourceFile string `json:"source_file,omitempty"`
	Slides     int    `json:"slides"`
	Elements   int    `json:"elements"`

	// Unchanged is set when the same file content was already indexed.
	Unchanged bool `json:"unchanged,omitempty"`

	// Pending counts records left without an embedding after enrichment.
	Pending int `json:"pending"`
}

// Indexer ingests trees into the store.
type Indexer struct {
	store      storage.Storage
	enricher   *enrich.Pool
	chunker    *chunker.Chunker
	extensions []string
	logger     *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) IndexerOption {
	return func(idx *Indexer) {
		if c != nil {
			idx.chunker = c
		}
	}
}

// WithExtensions sets the file extensions accepted by IngestFile and IngestDirectory.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) {
		if len(exts) > 0 {
			idx.extensions = exts
		}
	}
}

// NewIndexer creates an indexer. pool may be nil, in which case records are
// persisted with their embeddings pending.
func NewIndexer(store storage.Storage, pool *enrich.Pool, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:      store,
		enricher:   pool,
		chunker:    chunker.NewChunker(),
		extensions: DefaultExtensions,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// LoadTree decodes a tree from data. Files ending in .json are decoded as
// JSON; anything else as YAML.
func LoadTree(data []byte, name string) (*models.DeckTree, error) {
	var tree models.DeckTree
	if strings.EqualFold(filepath.Ext(name), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&tree); err != nil {
			return nil, &models.ValidationError{Field: "tree", Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
		return &tree, nil
	}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, &models.ValidationError{Field: "tree", Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	return &tree, nil
}

// IngestTree chunks tree and persists the whole graph in one transaction,
// then enriches it. Enrichment failures leave records pending and are not
// returned.
func (idx *Indexer) IngestTree(ctx context.Context, tree *models.DeckTree, src Source) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	graph, err := idx.chunker.Chunk(tree)
	if err != nil {
		metrics.DeckIngested("failed")
		return nil, err
	}
	graph.Deck.SourceFile = src.File
	graph.Deck.SourceHash = src.Hash

	if err := idx.store.Persist(ctx, graph); err != nil {
		metrics.DeckIngested("failed")
		return nil, fmt.Errorf("failed to persist deck: %w", err)
	}
	metrics.DeckIngested("persisted")
	res := &Result{
		DeckID:     graph.Deck.ID,
		SourceFile: src.File,
		Slides:     len(graph.Slides),
		Elements:   len(graph.Elements),
		Pending:    len(graph.IDs()),
	}
	idx.logger.Info("Deck ingested",
		zap.String("deck_id", res.DeckID),
		zap.String("title", graph.Deck.Title),
		zap.Int("slides", res.Slides),
		zap.Int("elements", res.Elements))

	if idx.enricher != nil {
		report, err := idx.enricher.Run(ctx, graph.Records())
		res.Pending -= report.Enriched
		if err != nil {
			idx.logger.Warn("Enrichment interrupted", zap.String("deck_id", res.DeckID), zap.Error(err))
		} else if report.Failed > 0 {
			idx.logger.Warn("Enrichment incomplete",
				zap.String("deck_id", res.DeckID),
				zap.Int("failed", report.Failed))
		}
	}
	return res, nil
}

// IngestFile ingests one tree file. A file whose path and content match an
// already indexed deck is skipped; a changed file becomes a new deck and the
// older one is kept.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*Result, error) {
	key, err := fileid.SourceKey(path)
	if err != nil {
		return nil, err
	}
	if !idx.Accepts(key) {
		return nil, &models.ValidationError{Field: "path", Reason: fmt.Sprintf("extension %q not in allowed list", filepath.Ext(key))}
	}
	info, err := os.Stat(key)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", key)
	}
	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	hash := fileid.ContentHash(data)

	existing, err := idx.store.FindDeckBySource(ctx, key, hash)
	switch {
	case err == nil:
		metrics.DeckIngested("unchanged")
		idx.logger.Debug("Skipping unchanged file", zap.String("path", key), zap.String("deck_id", existing.ID))
		return &Result{
			DeckID:     existing.ID,
			SourceFile: key,
			Slides:     existing.SlideCount,
			Unchanged:  true,
		}, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to check for indexed deck: %w", err)
	}

	tree, err := LoadTree(data, key)
	if err != nil {
		metrics.DeckIngested("failed")
		return nil, err
	}
	return idx.IngestTree(ctx, tree, Source{File: key, Hash: hash})
}

// IngestDirectory ingests every accepted file under dir. Cancellation is
// checked before each file; decks already ingested stay. Per-file failures
// are logged and joined into the returned error without stopping the walk.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, recursive bool) ([]*Result, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	var (
		results []*Result
		errs    []error
	)
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.Accepts(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := idx.IngestFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			idx.logger.Warn("Failed to ingest file", zap.String("path", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}

// Accepts reports whether path has one of the configured extensions.
func (idx *Indexer) Accepts(path string) bool {
	return extensionAllowed(filepath.Ext(path), idx.extensions)
}

// Purge removes a deck and everything under it.
func (idx *Indexer) Purge(ctx context.Context, deckID string) error {
	if err := idx.store.Purge(ctx, deckID); err != nil {
		return err
	}
	idx.logger.Info("Deck purged", zap.String("deck_id", deckID))
	return nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
