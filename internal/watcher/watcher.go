// Package watcher ingests tree files dropped into watched folders. New and
// changed files are ingested after a debounce; removed files leave their
// records in the index.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester is the part of the indexer the watcher drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (*indexer.Result, error)
	Accepts(path string) bool
}

// Watcher watches drop folders and ingests tree files as they settle.
type Watcher struct {
	ingester  Ingester
	roots     []string
	recursive bool
	debounce  time.Duration
	logger    *zap.Logger
	onIngest  func(path string, res *indexer.Result, err error)

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	ctx     context.Context
	pending map[string]*time.Timer

	// watched maps a root to the directories added for it.
	watched  map[string][]string
	started  bool
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// OnIngest registers a callback invoked after every ingestion attempt.
func OnIngest(fn func(path string, res *indexer.Result, err error)) Option {
	return func(w *Watcher) { w.onIngest = fn }
}

// NewWatcher creates a watcher over cfg.Directories. A nil cfg watches
// nothing until AddDirectory is called.
func NewWatcher(ingester Ingester, cfg *config.WatchConfig, opts ...Option) *Watcher {
	w := &Watcher{
		ingester:  ingester,
		recursive: true,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		pending:   make(map[string]*time.Timer),
		watched:   make(map[string][]string),
		done:      make(chan struct{}),
	}
	if cfg != nil {
		w.roots = append(w.roots, cfg.Directories...)
		w.recursive = cfg.RecursiveOrDefault()
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It returns immediately; events are handled until
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	roots := w.roots
	w.roots = nil
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
		if err := w.watchRootLocked(abs); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
		w.roots = append(w.roots, abs)
	}
	w.started = true
	w.logger.Info("Watching drop folders", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("Watch event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.addSubdirectory(path)
			}
			return
		}
		if w.ingester.Accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.ingester.Accepts(path) {
			w.logger.Info("Source file removed; indexed records kept", zap.String("path", path))
		}
	}
}

// addSubdirectory watches a directory created under a root and ingests the
// files already inside it.
func (w *Watcher) addSubdirectory(dir string) {
	w.mu.Lock()
	if w.fsw == nil || !w.recursive {
		w.mu.Unlock()
		return
	}
	root := w.rootOfLocked(dir)
	added, err := w.addTreeLocked(dir)
	if err != nil {
		w.logger.Warn("Failed to watch directory", zap.String("path", dir), zap.Error(err))
	}
	if root != "" {
		w.watched[root] = append(w.watched[root], added...)
	}
	w.mu.Unlock()
	w.scan(dir)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOfLocked(path) != ""
}

func (w *Watcher) rootOfLocked(path string) string {
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return root
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		stopped := !w.started
		if !stopped {
			w.inflight.Add(1)
		}
		w.mu.Unlock()
		if stopped {
			return
		}
		defer w.inflight.Done()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	res, err := w.ingester.IngestFile(ctx, path)
	switch {
	case err != nil:
		metrics.WatchEvent("failed")
		w.logger.Warn("Failed to ingest watched file", zap.String("path", path), zap.Error(err))
	case res.Unchanged:
		metrics.WatchEvent("unchanged")
	default:
		metrics.WatchEvent("ingested")
		w.logger.Info("Watched file ingested",
			zap.String("path", path),
			zap.String("deck_id", res.DeckID),
			zap.Int("pending", res.Pending))
	}
	if w.onIngest != nil {
		w.onIngest(path, res, err)
	}
}

// AddDirectory starts watching root. When ingestExisting is set, files
// already under root are ingested in the background.
func (w *Watcher) AddDirectory(root string, ingestExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return nil
	}
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if err := w.watchRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	w.logger.Info("Drop folder added", zap.String("path", abs))
	if ingestExisting {
		go w.scan(abs)
	}
	return nil
}

func (w *Watcher) watchRootLocked(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	var added []string
	if w.recursive {
		var err error
		if added, err = w.addTreeLocked(root); err != nil {
			return err
		}
	} else {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		added = []string{root}
	}
	w.watched[root] = added
	return nil
}

func (w *Watcher) addTreeLocked(dir string) ([]string, error) {
	var added []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		added = append(added, path)
		return nil
	})
	return added, err
}

// scan ingests every accepted file under dir.
func (w *Watcher) scan(dir string) {
	w.mu.Lock()
	ctx, recursive := w.ctx, w.recursive
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ingester.Accepts(path) {
			w.ingest(ctx, path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Records ingested from it are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for i, r := range w.roots {
		if r != abs {
			continue
		}
		for _, p := range w.watched[abs] {
			_ = w.fsw.Remove(p)
		}
		delete(w.watched, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Info("Drop folder removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// IngestExisting ingests the files already present in every root. Call it
// after Start to pick up files dropped while the process was down.
func (w *Watcher) IngestExisting() {
	for _, root := range w.Directories() {
		w.scan(root)
	}
}

// Stop stops watching and waits for in-flight ingestions to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}
