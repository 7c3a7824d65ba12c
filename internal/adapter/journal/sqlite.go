// Package journal persists dispatch outcomes to SQLite. One row per
// completed dispatch, written from the completion events on the bus, so
// routing behavior can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"a3sist/internal/domain"
)

// Entry is one journaled dispatch outcome.
type Entry struct {
	ID         int64
	RequestID  string
	Intent     string
	Target     string
	IsFallback bool
	Attempts   int
	Outcome    string
	LatencyMS  int64
	Error      string
	CreatedAt  time.Time
}

// Store writes and queries the dispatch journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) a SQLite database at dbPath, runs the schema
// migration, and returns a ready Store.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatches (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id  TEXT NOT NULL,
			intent      TEXT NOT NULL,
			target      TEXT NOT NULL,
			is_fallback INTEGER NOT NULL DEFAULT 0,
			attempts    INTEGER NOT NULL DEFAULT 0,
			outcome     TEXT NOT NULL,
			latency_ms  INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS dispatches_created_at ON dispatches (created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record writes one dispatch outcome to the journal.
func (s *Store) Record(ctx context.Context, res *domain.DispatchResult) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches (request_id, intent, target, is_fallback, attempts, outcome, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RequestID,
		res.Decision.Intent,
		res.Decision.Target,
		boolToInt(res.Decision.IsFallback),
		res.Attempts,
		string(res.Status),
		res.LatencyMS,
		res.Error,
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", domain.ErrJournalWrite, err)
	}
	return nil
}

// Recent returns the most recent entries, newest first. A non-positive
// limit defaults to 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, intent, target, is_fallback, attempts, outcome, latency_ms, error, created_at
		FROM dispatches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and returns the
// number of rows removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, "DELETE FROM dispatches WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Subscribe attaches the store to the bus so every terminal dispatch
// outcome is journaled. Decode and write failures are logged, never
// propagated; the journal must not disturb dispatching. Returns an
// unsubscribe function covering all three subscriptions.
func (s *Store) Subscribe(bus domain.EventBus) func() {
	record := func(ctx context.Context, event domain.Event) {
		var res domain.DispatchResult
		if err := json.Unmarshal(event.Payload, &res); err != nil {
			s.logger.Warn("journal: undecodable dispatch payload",
				"type", string(event.Type), "request_id", event.RequestID, "error", err)
			return
		}
		if err := s.Record(ctx, &res); err != nil {
			s.logger.Warn("journal: record failed",
				"request_id", res.RequestID, "error", err)
		}
	}

	unsubs := []func(){
		bus.Subscribe(domain.EventDispatchSucceeded, record),
		bus.Subscribe(domain.EventDispatchFailed, record),
		bus.Subscribe(domain.EventDispatchCancelled, record),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		fallback  int
		createdAt string
	)
	if err := rows.Scan(&e.ID, &e.RequestID, &e.Intent, &e.Target, &fallback,
		&e.Attempts, &e.Outcome, &e.LatencyMS, &e.Error, &createdAt); err != nil {
		return e, err
	}
	e.IsFallback = fallback != 0
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
