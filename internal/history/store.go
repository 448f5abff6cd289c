// Package history persists probe batches to SQLite for inspection. The
// stored rows are diagnostic only and never feed back into backend
// selection.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spetr/localrouter/pkg/types"
)

// Store records probe batches in a SQLite database.
type Store struct {
	db   *sql.DB
	keep int
}

// Entry is one backend observation from a probe batch.
type Entry struct {
	BatchAt   time.Time
	Kind      types.Kind
	Reachable bool
	Models    []string
}

// Open opens (creating if needed) the history database at path.
func Open(path string, keep int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS probes (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_at  INTEGER NOT NULL,
		kind      TEXT NOT NULL,
		reachable INTEGER NOT NULL,
		models    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_probes_batch_at ON probes(batch_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, keep: keep}, nil
}

// Record stores one probe batch. All backends of the batch share the same
// batch timestamp.
func (s *Store) Record(batchAt time.Time, snapshot types.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO probes (batch_at, kind, reachable, models) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for kind, result := range snapshot {
		reachable := 0
		if result.Reachable {
			reachable = 1
		}
		if _, err := stmt.Exec(batchAt.UnixMilli(), string(kind), reachable, strings.Join(result.Models, ",")); err != nil {
			return fmt.Errorf("failed to insert probe row: %w", err)
		}
	}

	if s.keep > 0 {
		// Prune by batch: keep the newest N distinct batch timestamps.
		if _, err := tx.Exec(`
			DELETE FROM probes WHERE batch_at NOT IN (
				SELECT DISTINCT batch_at FROM probes ORDER BY batch_at DESC LIMIT ?
			)`, s.keep); err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns the most recent entries, newest batch first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		"SELECT batch_at, kind, reachable, models FROM probes ORDER BY batch_at DESC, kind ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			batchAt   int64
			kind      string
			reachable int
			models    string
		)
		if err := rows.Scan(&batchAt, &kind, &reachable, &models); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entry := Entry{
			BatchAt:   time.UnixMilli(batchAt),
			Kind:      types.Kind(kind),
			Reachable: reachable != 0,
		}
		if models != "" {
			entry.Models = strings.Split(models, ",")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
