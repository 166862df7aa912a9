package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dirName        = ".minder"
	sqliteFileName = "minder.sqlite"
)

var errIDSpaceExhausted = errors.New("unable to allocate a free id")

// Store locates a workspace directory. Open returns the SQLite-backed ItemStore
// living inside it.
type Store struct {
	Dir string
}

// DiscoverDir walks up from start looking for a .minder directory.
func DiscoverDir(start string) (string, bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, dirName)
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// DefaultDir returns the nearest .minder directory, or ./.minder when none exists yet.
func DefaultDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if found, ok := DiscoverDir(cwd); ok {
		return found, nil
	}
	return filepath.Join(cwd, dirName), nil
}

func (s Store) Ensure() error {
	return os.MkdirAll(s.Dir, 0o755)
}

func (s Store) SQLitePath() string {
	return filepath.Join(s.Dir, sqliteFileName)
}

type Option func(*SQLite)

// WithClock replaces time.Now for version stamps and CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(db *SQLite) {
		if now != nil {
			db.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(db *SQLite) {
		if l != nil {
			db.log = l
		}
	}
}

// Open opens (creating if needed) the workspace database and applies migrations.
func (s Store) Open(ctx context.Context, opts ...Option) (*SQLite, error) {
	if err := s.Ensure(); err != nil {
		return nil, err
	}
	// modernc.org/sqlite registers the "sqlite" driver.
	db, err := sql.Open("sqlite", s.SQLitePath())
	if err != nil {
		return nil, err
	}
	// WAL: one writer plus readers across processes; busy_timeout avoids spurious "database is locked".
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrateSQLiteState(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	out := &SQLite{db: db, path: s.SQLitePath(), now: time.Now, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(out)
	}
	return out, nil
}

// NextVersion returns the concurrency token for a write at now that follows prev.
// Tokens strictly increase even when the clock does not.
func NextVersion(prev, now time.Time) time.Time {
	now = now.UTC()
	if now.After(prev) {
		return now
	}
	return prev.UTC().Add(time.Microsecond)
}
