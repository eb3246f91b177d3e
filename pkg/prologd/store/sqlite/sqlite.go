package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/prologd/pkg/prologd/internalerr"
	"github.com/cognicore/prologd/pkg/prologd/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sources (
	name TEXT PRIMARY KEY,
	format TEXT NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS queries (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	format TEXT NOT NULL,
	mode TEXT NOT NULL,
	engine TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	solutions INTEGER NOT NULL DEFAULT 0,
	opened_at TEXT NOT NULL,
	closed_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_queries_opened ON queries(opened_at);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// UpsertSource inserts or replaces a knowledge source
func (s *sqliteStore) UpsertSource(ctx context.Context, src store.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if src.UpdatedAt.IsZero() {
		src.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sources (name, format, body, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	format=excluded.format,
	body=excluded.body,
	updated_at=excluded.updated_at;
`, src.Name, src.Format, src.Text, formatTime(src.UpdatedAt))
	return err
}

// GetSource returns the source stored under name
func (s *sqliteStore) GetSource(ctx context.Context, name string) (store.Source, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, format, body, updated_at FROM sources WHERE name = ?`, name)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Source{}, false, nil
	}
	if err != nil {
		return store.Source{}, false, err
	}
	return src, true, nil
}

// Sources returns every source ordered by name
func (s *sqliteStore) Sources(ctx context.Context) ([]store.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, format, body, updated_at FROM sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, src)
	}
	return result, rows.Err()
}

// DeleteSource removes a source
func (s *sqliteStore) DeleteSource(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("source %s: %w", name, internalerr.ErrNotFound)
	}
	return nil
}

// RecordOpen journals a newly opened query
func (s *sqliteStore) RecordOpen(ctx context.Context, rec store.QueryRecord) error {
	if rec.Status == "" {
		rec.Status = store.StatusOpen
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO queries (id, query, format, mode, engine, status, opened_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.Query, rec.Format, rec.Mode, rec.Engine, rec.Status, formatTime(rec.OpenedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("query %s: %w", rec.ID, internalerr.ErrDuplicate)
	}
	return err
}

// RecordClose stores the final status of a query
func (s *sqliteStore) RecordClose(ctx context.Context, id, status, errText string, solutions int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE queries SET status = ?, error = ?, solutions = ?, closed_at = ?
WHERE id = ?;
`, status, errText, solutions, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("query %s: %w", id, internalerr.ErrNotFound)
	}
	return nil
}

const queryColumns = `id, query, format, mode, engine, status, error, solutions, opened_at, closed_at`

// GetQuery returns the journal entry of id
func (s *sqliteStore) GetQuery(ctx context.Context, id string) (store.QueryRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = ?`, id)
	rec, err := scanQuery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.QueryRecord{}, false, nil
	}
	if err != nil {
		return store.QueryRecord{}, false, err
	}
	return rec, true, nil
}

// RecentQueries returns up to limit entries, newest first
func (s *sqliteStore) RecentQueries(ctx context.Context, limit int) ([]store.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+queryColumns+` FROM queries ORDER BY opened_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.QueryRecord
	for rows.Next() {
		rec, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(sc scanner) (store.Source, error) {
	var (
		src     store.Source
		updated string
	)
	if err := sc.Scan(&src.Name, &src.Format, &src.Text, &updated); err != nil {
		return store.Source{}, err
	}
	src.UpdatedAt = parseTime(updated)
	return src, nil
}

func scanQuery(sc scanner) (store.QueryRecord, error) {
	var (
		rec            store.QueryRecord
		opened, closed string
	)
	err := sc.Scan(&rec.ID, &rec.Query, &rec.Format, &rec.Mode, &rec.Engine,
		&rec.Status, &rec.Error, &rec.Solutions, &opened, &closed)
	if err != nil {
		return store.QueryRecord{}, err
	}
	rec.OpenedAt = parseTime(opened)
	rec.ClosedAt = parseTime(closed)
	return rec, nil
}

// timeLayout has fixed width so stored times sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
