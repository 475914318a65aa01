// Package storage defines the record written for every page evaluation and
// the backend interface implemented by the sqlite, postgres, NDJSON, and CSV
// stores. Persistence is optional: the pipeline runs fine with a nil backend.
package storage

import (
	"context"
	"time"
)

// Evaluation is the outcome of qualifying a single candidate URL.
type Evaluation struct {
	ID             string
	RunID          string // groups all evaluations of one pipeline run
	Query          string
	URL            string
	Pattern        string
	Matches        int
	MinOccurrences int
	Qualified      bool
	StatusCode     int // zero when the fetch never produced a response
	Duration       time.Duration
	CreatedAt      time.Time
	Error          string // non-empty when the fetch or parse failed
}

// Filter narrows Query results.
type Filter struct {
	RunID     string
	URL       string
	Qualified *bool
	Since     *time.Time
	Limit     int
	Offset    int
}

// Backend stores and retrieves evaluations.
type Backend interface {
	Save(ctx context.Context, ev *Evaluation) error
	Query(ctx context.Context, filter Filter) ([]*Evaluation, error)
	Close() error
}
