package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/prospector/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
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
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_evaluations_run_id ON evaluations(run_id);
`

// New creates a Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, ev *storage.Evaluation) error {
	query := `
	INSERT INTO evaluations (
		id, run_id, query, url, pattern, matches, min_occurrences, qualified, status_code, duration_ms, created_at, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := b.pool.Exec(ctx, query,
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
		return fmt.Errorf("postgres: save evaluation: %w", err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Evaluation, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, run_id, query, url, pattern, matches, min_occurrences, qualified, status_code, duration_ms, created_at, error FROM evaluations WHERE 1=1`)
	args := []any{}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.RunID != "" {
		sb.WriteString(` AND run_id = ` + arg(filter.RunID))
	}
	if filter.URL != "" {
		sb.WriteString(` AND url = ` + arg(filter.URL))
	}
	if filter.Qualified != nil {
		sb.WriteString(` AND qualified = ` + arg(*filter.Qualified))
	}
	if filter.Since != nil {
		sb.WriteString(` AND created_at >= ` + arg(*filter.Since))
	}

	sb.WriteString(` ORDER BY created_at DESC`)

	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ` + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		sb.WriteString(` OFFSET ` + arg(filter.Offset))
	}

	rows, err := b.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query evaluations: %w", err)
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
			return nil, fmt.Errorf("postgres: scan evaluation: %w", err)
		}

		ev.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate rows: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
