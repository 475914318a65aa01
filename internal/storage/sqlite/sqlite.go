package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/prospector/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	query TEXT NOT NULL,
	url TEXT NOT NULL,
	pattern TEXT NOT NULL,
	matches INTEGER NOT NULL,
	min_occurrences INTEGER NOT NULL,
	qualified BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_evaluations_run_id ON evaluations(run_id);
`

// New creates a SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, ev *storage.Evaluation) error {
	query := `
	INSERT INTO evaluations (
		id, run_id, query, url, pattern, matches, min_occurrences, qualified, status_code, duration_ms, created_at, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := b.db.ExecContext(ctx, query,
		ev.ID,
		ev.RunID,
		ev.Query,
		ev.URL,
		ev.Pattern,
		ev.Matches,
		ev.MinOccurrences,
		ev.Qualified,
		ev.StatusCode,
		ev.Duration.Milliseconds(),
		ev.CreatedAt,
		ev.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save evaluation: %w", err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Evaluation, error) {
	query := `SELECT id, run_id, query, url, pattern, matches, min_occurrences, qualified, status_code, duration_ms, created_at, error FROM evaluations WHERE 1=1`
	args := []any{}

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.Qualified != nil {
		query += ` AND qualified = ?`
		args = append(args, *filter.Qualified)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query evaluations: %w", err)
	}
	defer rows.Close()

	var results []*storage.Evaluation
	for rows.Next() {
		var ev storage.Evaluation
		var durationMs int64

		err := rows.Scan(
			&ev.ID, &ev.RunID, &ev.Query, &ev.URL, &ev.Pattern, &ev.Matches,
			&ev.MinOccurrences, &ev.Qualified, &ev.StatusCode, &durationMs,
			&ev.CreatedAt, &ev.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan evaluation: %w", err)
		}

		ev.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate rows: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
