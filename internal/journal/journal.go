// Package journal records every emitted control transition in SQLite
// so recent input history survives restarts and can be queried over
// the API.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/thingy-control/internal/control"
)

// Entry is one recorded transition.
type Entry struct {
	ID       int64     `json:"id"`
	Time     time.Time `json:"ts"`
	Field    string    `json:"field"`
	Old      string    `json:"old"`
	New      string    `json:"new"`
	OldValue int8      `json:"old_value"`
	NewValue int8      `json:"new_value"`
}

// Store is a transition journal backed by SQLite. All public methods
// are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file at path if needed and returns a store
// that owns the connection.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ns     INTEGER NOT NULL,
			field     TEXT    NOT NULL,
			old_value INTEGER NOT NULL,
			new_value INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions (ts_ns);
	`)
	return err
}

// Name returns "journal".
func (s *Store) Name() string { return "journal" }

// Emit records t. Errors are returned but never fatal to the pipeline.
// Times are stored as UTC unix nanoseconds so range queries compare
// numerically.
func (s *Store) Emit(ctx context.Context, t control.Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (ts_ns, field, old_value, new_value) VALUES (?, ?, ?, ?)`,
		s.now().UnixNano(), t.Field.String(), int(t.Old), int(t.New),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", t, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts_ns, field, old_value, new_value FROM transitions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			old, cur int
		)
		if err := rows.Scan(&e.ID, &ts, &e.Field, &old, &cur); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.Time = time.Unix(0, ts).UTC()
		e.OldValue, e.NewValue = int8(old), int8(cur)
		if f, err := control.ParseField(e.Field); err == nil {
			e.Old = f.Format(control.Value(old))
			e.New = f.Format(control.Value(cur))
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns the number of transitions per field since the given
// time.
func (s *Store) Counts(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, COUNT(*) FROM transitions WHERE ts_ns >= ? GROUP BY field`,
		since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("count transitions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			field string
			n     int64
		)
		if err := rows.Scan(&field, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[field] = n
	}
	return counts, rows.Err()
}

// Prune deletes entries older than before and reports how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transitions WHERE ts_ns < ?`,
		before.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune transitions: %w", err)
	}
	return res.RowsAffected()
}
