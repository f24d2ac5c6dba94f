// Package cache persists per-file story extraction results in SQLite so that
// unchanged files are not re-parsed across runs.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

// Store is a content-addressed extraction cache keyed by import path.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// Stats describes the cache contents.
type Stats struct {
	Entries int
	Hits    int
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("cache path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("cache path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %q: %w", dir, err)
		}
	}

	// WAL keeps readers unblocked while the watcher rewrites entries.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite cache %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema %q: %w", cleanPath, err)
	}
	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Get returns the payload stored for path when it was written for hash.
// A stale hash is a miss.
func (s *Store) Get(path, hash string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.withRetry("read extraction", func() error {
		return s.db.QueryRow(
			`SELECT payload FROM extractions WHERE import_path = ? AND content_hash = ?`,
			path, hash,
		).Scan(&payload)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	_ = s.withRetry("count hit", func() error {
		_, err := s.db.Exec(`UPDATE extractions SET hits = hits + 1 WHERE import_path = ?`, path)
		return err
	})
	return payload, true, nil
}

func (s *Store) Put(path, hash string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("write extraction", func() error {
		_, err := s.db.Exec(`
INSERT INTO extractions (import_path, content_hash, payload, updated_at_utc, hits)
VALUES (?, ?, ?, ?, 0)
ON CONFLICT(import_path) DO UPDATE SET
  content_hash=excluded.content_hash,
  payload=excluded.payload,
  updated_at_utc=excluded.updated_at_utc,
  hits=0
`, path, hash, payload, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("delete extraction", func() error {
		_, err := s.db.Exec(`DELETE FROM extractions WHERE import_path = ?`, path)
		return err
	})
}

// Prune drops entries not written since before.
func (s *Store) Prune(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.withRetry("prune extractions", func() error {
		res, err := s.db.Exec(`DELETE FROM extractions WHERE updated_at_utc < ?`, before.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	err := s.withRetry("read cache stats", func() error {
		return s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(hits), 0) FROM extractions`).Scan(&st.Entries, &st.Hits)
	})
	return st, err
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// IsCorruptError reports whether err means the cache file should be discarded.
func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}
