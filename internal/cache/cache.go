package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists upstream snapshots between CLI invocations. Reads go straight
// to sqlite; writes take a file lock so concurrent processes do not interleave.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Entry is one cached snapshot lookup.
type Entry struct {
	Hit       bool
	Payload   []byte
	FetchedAt time.Time
	Age       time.Duration
	Stale     bool
}

func Open(path, lockPath string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"CREATE TABLE IF NOT EXISTS snapshots (key TEXT PRIMARY KEY, payload BLOB NOT NULL, fetched_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath)}
	_ = store.Prune(context.Background())
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune drops snapshots older than their ttl.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE fetched_at + ttl_seconds < ?", time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	var payload []byte
	var fetchedUnix, ttlSeconds int64
	err := s.db.QueryRowContext(ctx, "SELECT payload, fetched_at, ttl_seconds FROM snapshots WHERE key = ?", key).Scan(&payload, &fetchedUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, nil
		}
		return Entry{}, fmt.Errorf("cache read: %w", err)
	}

	fetched := time.Unix(fetchedUnix, 0).UTC()
	age := time.Since(fetched)
	if age < 0 {
		age = 0
	}
	return Entry{
		Hit:       true,
		Payload:   payload,
		FetchedAt: fetched,
		Age:       age,
		Stale:     age > time.Duration(ttlSeconds)*time.Second,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, payload, fetched_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload=excluded.payload,
			fetched_at=excluded.fetched_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, payload, time.Now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
