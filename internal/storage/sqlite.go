package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage/migrations"
	"github.com/hyperjump/kioku/pkg/utils"
)

const metaEmbeddingDim = "embedding_dim"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implements Storage on an embedded SQLite database with FTS5.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time

	// writeMu serializes write transactions.
	writeMu sync.Mutex

	dimMu sync.RWMutex
	dim   int
}

// Option configures a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStorage) {
		s.logger = utils.OrNop(l)
	}
}

// WithClock overrides the clock used for event and trigger timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *SQLiteStorage) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath, runs pending
// migrations and checks the declared embedding dimension. A dim of zero adopts
// whatever dimension the database already records. Parent directories are
// created if they do not exist.
func NewSQLiteStorage(dbPath string, dim int, opts ...Option) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStorage{
		db:     db,
		path:   dbPath,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(context.Background(), migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := s.checkDimension(context.Background(), dim); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info("SQLite storage opened",
		zap.String("path", dbPath),
		zap.Int("embedding_dim", s.EmbeddingDim()))
	return s, nil
}

// migrate applies every embedded NNN_name.up.sql file newer than the
// recorded schema version, each in its own transaction.
func (s *SQLiteStorage) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		version, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil || version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, s.now().UnixNano()); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.Debug("Applied migration", zap.String("file", name))
	}
	return nil
}

func (s *SQLiteStorage) checkDimension(ctx context.Context, dim int) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM index_meta WHERE key = ?", metaEmbeddingDim).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if dim <= 0 {
			return &models.ValidationError{Field: "embedding_dim", Reason: "must be positive for a new index"}
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO index_meta (key, value) VALUES (?, ?)", metaEmbeddingDim, strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("failed to record embedding dimension: %w", err)
		}
		s.dim = dim
		return nil
	case err != nil:
		return fmt.Errorf("failed to read embedding dimension: %w", err)
	}

	stored, err := strconv.Atoi(raw)
	if err != nil {
		return &models.IntegrityError{Op: "open", Reason: "corrupt embedding_dim " + raw}
	}
	if dim > 0 && dim != stored {
		return &models.IntegrityError{
			Op:     "open",
			Reason: fmt.Sprintf("index embedding dimension is %d, configured %d; run an embedding migration", stored, dim),
		}
	}
	s.dim = stored
	return nil
}

// EmbeddingDim returns the declared embedding dimension of the index.
func (s *SQLiteStorage) EmbeddingDim() int {
	s.dimMu.RLock()
	defer s.dimMu.RUnlock()
	return s.dim
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a serialized write transaction. The transaction is rolled
// back when fn or the commit fails. SQLite constraint violations surface as
// IntegrityError.
func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.withTx(ctx, func(t *sqliteTx) error { return fn(t) })
}

func (s *SQLiteStorage) withTx(ctx context.Context, fn func(*sqliteTx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&sqliteTx{tx: sqlTx, s: s}); err != nil {
		return asIntegrity("transaction", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return asIntegrity("commit", fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// asIntegrity converts a SQLite constraint failure into an IntegrityError and
// returns any other error unchanged.
func asIntegrity(op string, err error) error {
	if err == nil || models.IsIntegrity(err) {
		return err
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return &models.IntegrityError{Op: op, Reason: "constraint violation", Err: err}
	}
	return err
}

func notFound(kind models.ChunkKind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
