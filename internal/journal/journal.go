// Package journal persists mutation outcomes so the CLI can answer "what
// did I just do". The engine itself persists nothing; the journal is a
// CLI-side convenience fed from a session's update stream.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one recorded mutation outcome.
type Entry struct {
	ID          string
	Kind        string
	Path        string
	State       string
	Error       string
	AppliedKeys int
	FailedKeys  int
	Stale       bool
	RecordedAt  time.Time
}

// Journal is a SQLite-backed mutation log. Use ":memory:" as the path in
// tests.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	insertStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// Open opens (creating if needed) the journal database at dbPath and
// applies pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, logger: logger}

	if err := j.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("journal: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (j *Journal) prepareStatements(ctx context.Context) error {
	var err error

	j.insertStmt, err = j.db.PrepareContext(ctx, `
		INSERT INTO mutations (id, kind, path, state, error, applied_keys, failed_keys, stale, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			applied_keys = excluded.applied_keys,
			failed_keys = excluded.failed_keys,
			stale = excluded.stale,
			recorded_at = excluded.recorded_at`)
	if err != nil {
		return fmt.Errorf("journal: prepare insert: %w", err)
	}

	j.listStmt, err = j.db.PrepareContext(ctx, `
		SELECT id, kind, path, state, error, applied_keys, failed_keys, stale, recorded_at
		FROM mutations
		ORDER BY recorded_at DESC, id
		LIMIT ?`)
	if err != nil {
		return fmt.Errorf("journal: prepare list: %w", err)
	}

	return nil
}

// Record upserts an entry. Re-recording the same mutation ID replaces the
// earlier row, so only the latest (terminal) outcome is kept.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	stale := 0
	if e.Stale {
		stale = 1
	}

	_, err := j.insertStmt.ExecContext(ctx,
		e.ID, e.Kind, e.Path, e.State, e.Error,
		e.AppliedKeys, e.FailedKeys, stale, e.RecordedAt.Unix())
	if err != nil {
		return fmt.Errorf("journal: recording mutation %s: %w", e.ID, err)
	}

	return nil
}

// List returns the most recent entries, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.listStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: listing mutations: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e        Entry
			stale    int
			recorded int64
		)

		if err := rows.Scan(&e.ID, &e.Kind, &e.Path, &e.State, &e.Error,
			&e.AppliedKeys, &e.FailedKeys, &stale, &recorded); err != nil {
			return nil, fmt.Errorf("journal: scanning mutation row: %w", err)
		}

		e.Stale = stale != 0
		e.RecordedAt = time.Unix(recorded, 0)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating mutation rows: %w", err)
	}

	return entries, nil
}

// Close releases statements and the database handle.
func (j *Journal) Close() error {
	if j.insertStmt != nil {
		j.insertStmt.Close()
	}

	if j.listStmt != nil {
		j.listStmt.Close()
	}

	return j.db.Close()
}
