package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/enrich"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

const testDim = 8

const q3YAML = `presentation:
  title: Q3 Review
  author: Ops
slides:
  - name: Opening
    type: title
  - name: Reliability
    type: stat
    stats:
      - {value: "99.95%", label: Pipeline Uptime}
      - {value: 12ms, label: P50 Latency}
      - {value: "3", label: Incidents}
  - name: Thanks
    type: closing
`

const q3JSON = `{"presentation": {"title": "Q3 Review JSON"},
 "slides": [{"type": "title"}, {"type": "quote", "quote": "Ship it"}]}`

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".yaml", []string{".yaml", ".json"}, true},
		{".YAML", []string{".yaml"}, true},
		{".json", []string{"json"}, true},
		{".txt", []string{".yaml"}, false},
		{"", []string{".yaml"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extensionAllowed(tt.ext, tt.allowed), "extensionAllowed(%q, %v)", tt.ext, tt.allowed)
	}
}

func newTestIndexer(t *testing.T, withPool bool) (*Indexer, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	var pool *enrich.Pool
	if withPool {
		pool = enrich.NewPool(store, enrich.NewEmbeddingEnricher(embedding.NewHashEmbedder(testDim)), nil)
	}
	return NewIndexer(store, pool), store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadTree(t *testing.T) {
	tree, err := LoadTree([]byte(q3YAML), "q3.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Q3 Review", tree.Meta.Title)
	require.Len(t, tree.Sections, 3)
	assert.Equal(t, models.SectionStat, tree.Sections[1].Type)
	assert.Len(t, tree.Sections[1].Stats, 3)

	tree, err = LoadTree([]byte(q3JSON), "q3.JSON")
	require.NoError(t, err)
	assert.Equal(t, "Q3 Review JSON", tree.Meta.Title)
	assert.Equal(t, "Ship it", tree.Sections[1].Quote)

	_, err = LoadTree([]byte("slides: [unclosed"), "bad.yaml")
	assert.True(t, models.IsValidation(err))
	_, err = LoadTree([]byte("{"), "bad.json")
	assert.True(t, models.IsValidation(err))
}

func TestIngestFile_scenarioCounts(t *testing.T) {
	idx, store := newTestIndexer(t, true)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "q3.yaml", q3YAML)

	res, err := idx.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Slides)
	assert.Equal(t, 3, res.Elements)
	assert.Equal(t, 0, res.Pending)
	assert.False(t, res.Unchanged)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Decks)
	assert.Equal(t, 3, stats.Slides)
	assert.Equal(t, 3, stats.Elements)
	assert.Equal(t, 0, stats.PendingEmbeddings)

	deck, err := store.GetDeck(ctx, res.DeckID)
	require.NoError(t, err)
	abs, _ := filepath.Abs(path)
	assert.Equal(t, abs, deck.SourceFile)
	assert.NotEmpty(t, deck.SourceHash)
}

func TestIngestFile_unchangedAndChanged(t *testing.T) {
	idx, store := newTestIndexer(t, false)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "q3.yaml", q3YAML)

	first, err := idx.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 7, first.Pending)

	again, err := idx.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Equal(t, first.DeckID, again.DeckID)

	require.NoError(t, os.WriteFile(path, []byte(q3YAML+"  - name: Appendix\n    type: freeform\n"), 0600))
	changed, err := idx.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.NotEqual(t, first.DeckID, changed.DeckID)
	assert.Equal(t, 4, changed.Slides)

	_, err = store.GetDeck(ctx, first.DeckID)
	require.NoError(t, err, "older graph stays intact")
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Decks)
}

func TestIngestFile_rejections(t *testing.T) {
	idx, store := newTestIndexer(t, false)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := idx.IngestFile(ctx, writeFile(t, dir, "notes.txt", "hello"))
	assert.True(t, models.IsValidation(err))

	_, err = idx.IngestFile(ctx, writeFile(t, dir, "untyped.yaml", "presentation: {title: X}\nslides:\n  - name: nope\n"))
	assert.True(t, models.IsValidation(err))

	_, err = idx.IngestFile(ctx, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Decks)
	assert.Equal(t, 0, stats.Slides)
}

func TestIngestDirectory(t *testing.T) {
	idx, store := newTestIndexer(t, false)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", q3YAML)
	writeFile(t, dir, "b.json", q3JSON)
	writeFile(t, dir, "skip.txt", "ignored")
	writeFile(t, dir, "broken.yml", "slides: [")
	writeFile(t, dir, "nested/c.yaml", q3YAML)

	results, err := idx.IngestDirectory(ctx, dir, false)
	require.Error(t, err, "broken file is reported")
	assert.Len(t, results, 2)

	results, err = idx.IngestDirectory(ctx, dir, true)
	require.Error(t, err)
	require.Len(t, results, 3)
	unchanged := 0
	for _, r := range results {
		if r.Unchanged {
			unchanged++
		}
	}
	assert.Equal(t, 2, unchanged)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Decks)
}

func TestIngestDirectory_cancelledLeavesNoPartialDeck(t *testing.T) {
	idx, store := newTestIndexer(t, false)
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", q3YAML)
	writeFile(t, dir, "b.yaml", q3YAML)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.IngestDirectory(ctx, dir, true)
	assert.ErrorIs(t, err, context.Canceled)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Decks)
	assert.Equal(t, 0, stats.Slides)
	assert.Equal(t, 0, stats.Elements)
}

func TestPurge(t *testing.T) {
	idx, store := newTestIndexer(t, false)
	ctx := context.Background()
	tree, err := LoadTree([]byte(q3YAML), "q3.yaml")
	require.NoError(t, err)
	res, err := idx.IngestTree(ctx, tree, Source{})
	require.NoError(t, err)

	require.NoError(t, idx.Purge(ctx, res.DeckID))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Slides)
	assert.Equal(t, 0, stats.Elements)

	assert.ErrorIs(t, idx.Purge(ctx, res.DeckID), models.ErrNotFound)
}
