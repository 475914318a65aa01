package csvbackend

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/prospector/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// columns defines the CSV column order.
var columns = []string{
	"id",
	"run_id",
	"query",
	"url",
	"pattern",
	"matches",
	"min_occurrences",
	"qualified",
	"status_code",
	"duration_ms",
	"created_at",
	"error",
}

// New creates a CSV-backed storage.Backend. A header row is written when the
// file is empty.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csvbackend: open %s: %w", filePath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvbackend: stat: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvbackend: flush header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, ev *storage.Evaluation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := csv.NewWriter(b.file)
	if err := w.Write(toRecord(ev)); err != nil {
		return fmt.Errorf("csvbackend: write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csvbackend: flush: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Evaluation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("csvbackend: seek: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvbackend: read: %w", err)
	}

	var allFiltered []*storage.Evaluation
	for i, rec := range records {
		if i == 0 {
			continue // header row
		}
		ev, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("csvbackend: row %d: %w", i, err)
		}

		if filter.RunID != "" && ev.RunID != filter.RunID {
			continue
		}
		if filter.URL != "" && ev.URL != filter.URL {
			continue
		}
		if filter.Qualified != nil && ev.Qualified != *filter.Qualified {
			continue
		}
		if filter.Since != nil && ev.CreatedAt.Before(*filter.Since) {
			continue
		}

		allFiltered = append(allFiltered, ev)
	}

	// created_at DESC, matching the database backends.
	for i, j := 0, len(allFiltered)-1; i < j; i, j = i+1, j-1 {
		allFiltered[i], allFiltered[j] = allFiltered[j], allFiltered[i]
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(allFiltered) {
			return []*storage.Evaluation{}, nil
		}
		allFiltered = allFiltered[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(allFiltered) {
		allFiltered = allFiltered[:filter.Limit]
	}

	return allFiltered, nil
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

func toRecord(ev *storage.Evaluation) []string {
	return []string{
		ev.ID,
		ev.RunID,
		ev.Query,
		ev.URL,
		ev.Pattern,
		strconv.Itoa(ev.Matches),
		strconv.Itoa(ev.MinOccurrences),
		strconv.FormatBool(ev.Qualified),
		strconv.Itoa(ev.StatusCode),
		strconv.FormatInt(ev.Duration.Milliseconds(), 10),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		ev.Error,
	}
}

func fromRecord(rec []string) (*storage.Evaluation, error) {
	if len(rec) != len(columns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(columns), len(rec))
	}

	matches, err := strconv.Atoi(rec[5])
	if err != nil {
		return nil, fmt.Errorf("matches: %w", err)
	}
	minOcc, err := strconv.Atoi(rec[6])
	if err != nil {
		return nil, fmt.Errorf("min_occurrences: %w", err)
	}
	qualified, err := strconv.ParseBool(rec[7])
	if err != nil {
		return nil, fmt.Errorf("qualified: %w", err)
	}
	status, err := strconv.Atoi(rec[8])
	if err != nil {
		return nil, fmt.Errorf("status_code: %w", err)
	}
	durationMs, err := strconv.ParseInt(rec[9], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("duration_ms: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rec[10])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}

	return &storage.Evaluation{
		ID:             rec[0],
		RunID:          rec[1],
		Query:          rec[2],
		URL:            rec[3],
		Pattern:        rec[4],
		Matches:        matches,
		MinOccurrences: minOcc,
		Qualified:      qualified,
		StatusCode:     status,
		Duration:       time.Duration(durationMs) * time.Millisecond,
		CreatedAt:      createdAt,
		Error:          rec[11],
	}, nil
}
