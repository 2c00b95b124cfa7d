package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/storage"
)

const deckYAML = `presentation:
  title: Dropped Deck
slides:
  - type: title
  - type: closing
`

type recordingIngester struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingIngester) IngestFile(_ context.Context, path string) (*indexer.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return &indexer.Result{DeckID: "d-" + filepath.Base(path)}, nil
}

func (r *recordingIngester) Accepts(path string) bool {
	return filepath.Ext(path) == ".yaml"
}

func (r *recordingIngester) ingested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, ing Ingester, cfg *config.WatchConfig) *Watcher {
	t.Helper()
	w := NewWatcher(ing, cfg, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_addRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, &recordingIngester{}, nil)

	require.NoError(t, w.AddDirectory(dir, false))
	require.NoError(t, w.AddDirectory(dir, false))
	assert.Equal(t, []string{dir}, w.Directories())

	require.NoError(t, w.RemoveDirectory(dir))
	assert.Empty(t, w.Directories())
}

func TestWatcher_debouncesAndFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))
	ing := &recordingIngester{}
	startWatcher(t, ing, &config.WatchConfig{Directories: []string{dir}})

	path := filepath.Join(sub, "deck.yaml")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(deckYAML), 0600))
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(sub, "notes.txt"), []byte("skip"), 0600))

	assert.Eventually(t, func() bool { return len(ing.ingested()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{path}, ing.ingested())
}

func TestWatcher_newSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	startWatcher(t, ing, &config.WatchConfig{Directories: []string{dir}})

	sub := filepath.Join(dir, "later")
	require.NoError(t, os.MkdirAll(sub, 0755))
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "deck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(deckYAML), 0600))

	assert.Eventually(t, func() bool {
		for _, p := range ing.ingested() {
			if p == path {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_ingestExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(deckYAML), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{}"), 0600))
	ing := &recordingIngester{}
	w := startWatcher(t, ing, &config.WatchConfig{Directories: []string{dir}})

	w.IngestExisting()
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml")}, ing.ingested())
}

func TestWatcher_removedFileKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx := indexer.NewIndexer(store, nil)

	done := make(chan *indexer.Result, 4)
	w := NewWatcher(idx, &config.WatchConfig{Directories: []string{dir}},
		WithDebounce(50*time.Millisecond),
		OnIngest(func(_ string, res *indexer.Result, err error) {
			if err == nil {
				done <- res
			}
		}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "deck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(deckYAML), 0600))

	var res *indexer.Result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("file was not ingested")
	}
	assert.Equal(t, 2, res.Slides)

	require.NoError(t, os.Remove(path))
	time.Sleep(150 * time.Millisecond)

	deck, err := store.GetDeck(context.Background(), res.DeckID)
	require.NoError(t, err)
	assert.Equal(t, "Dropped Deck", deck.Title)
}
