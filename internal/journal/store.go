package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

// Entry is one recorded tool invocation.
type Entry struct {
	InvocationID string          `json:"invocation_id"`
	Tool         string          `json:"tool"`
	Network      string          `json:"network"`
	Mode         string          `json:"mode"`
	Outcome      string          `json:"outcome"`
	Summary      string          `json:"summary"`
	RecordedAt   time.Time       `json:"recorded_at"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Tool    string
	Outcome string
	Limit   int
}

// Store keeps a local history of tool invocations so frozen transactions and
// failed submissions can be looked up after the process exits.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS invocations (
			invocation_id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			outcome TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_invocations_recorded ON invocations(recorded_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.InvocationID) == "" {
		return fmt.Errorf("record invocation: missing invocation id")
	}
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	entry.RecordedAt = entry.RecordedAt.UTC()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal invocation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invocations (invocation_id, tool, outcome, recorded_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(invocation_id) DO UPDATE SET
			tool=excluded.tool,
			outcome=excluded.outcome,
			recorded_at=excluded.recorded_at,
			payload=excluded.payload
	`, entry.InvocationID, entry.Tool, entry.Outcome, entry.RecordedAt.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, invocationID string) (Entry, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM invocations WHERE invocation_id = ?", invocationID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("invocation not found: %s", invocationID))
		}
		return Entry{}, fmt.Errorf("read invocation: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode invocation payload: %w", err)
	}
	return entry, nil
}

// List returns the most recent entries first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT payload FROM invocations"
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(filter.Tool); v != "" {
		where = append(where, "tool = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.Outcome); v != "" {
		where = append(where, "outcome = ?")
		args = append(args, v)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan invocation row: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode invocation row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocation rows: %w", err)
	}
	return entries, nil
}
