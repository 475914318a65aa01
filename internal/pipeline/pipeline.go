// Package pipeline orchestrates a run: resolve candidate URLs page by page,
// qualify each unseen one, persist evaluations, and stop once enough pages
// qualify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/prospector/internal/qualifier"
	"github.com/FranksOps/prospector/internal/serp"
	"github.com/FranksOps/prospector/internal/storage"
)

// maxResultsCap is the hard ceiling on how deep pagination may go,
// regardless of configuration. Search backends stop serving useful results
// long before this.
const maxResultsCap = 1000

// CandidateResolver yields the candidate window [offset, offset+limit).
// Satisfied by *serp.Resolver.
type CandidateResolver interface {
	Resolve(ctx context.Context, query string, offset, limit int) ([]serp.Candidate, error)
}

// PageQualifier evaluates one page. Satisfied by *qualifier.Qualifier.
type PageQualifier interface {
	Qualify(ctx context.Context, pageURL string, pattern *regexp.Regexp, minOccurrences int) qualifier.Result
}

// Config tunes a run.
type Config struct {
	// TargetCount is how many qualifying URLs to collect before stopping.
	TargetCount int
	// ResultsPerPage is the candidate window requested per resolver call.
	ResultsPerPage int
	// Sleep is the pause between result pages.
	Sleep time.Duration
	// MaxJitter perturbs the between-page sleep.
	MaxJitter time.Duration
	// MaxResults bounds total candidates examined. Zero means the cap;
	// values above the cap are clamped to it.
	MaxResults int
	// Concurrency is the number of pages qualified in parallel within one
	// result page. Zero or one means sequential.
	Concurrency int
}

// Validate normalizes the config and rejects unusable values.
func (c *Config) Validate() error {
	if c.TargetCount <= 0 {
		return fmt.Errorf("pipeline: target count must be positive, got %d", c.TargetCount)
	}
	if c.ResultsPerPage <= 0 {
		return fmt.Errorf("pipeline: results per page must be positive, got %d", c.ResultsPerPage)
	}
	if c.MaxResults <= 0 || c.MaxResults > maxResultsCap {
		c.MaxResults = maxResultsCap
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return nil
}

// Stats summarizes a completed run.
type Stats struct {
	RunID     string
	Qualified []string
	Evaluated int
	Skipped   int // duplicate candidates dropped before evaluation
	Pages     int
}

// Pipeline wires the resolver, the qualifier, and storage together.
type Pipeline struct {
	Resolver  CandidateResolver
	Qualifier PageQualifier
	// Backend, when set, receives one Evaluation per qualified page.
	Backend storage.Backend
	Logger  *slog.Logger
	Config  Config
}

// New validates cfg and builds a Pipeline.
func New(resolver CandidateResolver, q PageQualifier, backend storage.Backend, logger *slog.Logger, cfg Config) (*Pipeline, error) {
	if resolver == nil {
		return nil, errors.New("pipeline: resolver is required")
	}
	if q == nil {
		return nil, errors.New("pipeline: qualifier is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Resolver:  resolver,
		Qualifier: q,
		Backend:   backend,
		Logger:    logger,
		Config:    cfg,
	}, nil
}

// Run collects up to TargetCount URLs whose pages match pattern at least
// minOccurrences times. It stops early when the resolver runs dry or the
// pagination ceiling is hit, returning whatever qualified by then. Only a
// canceled context or a storage failure surfaces as an error.
func (p *Pipeline) Run(ctx context.Context, query string, pattern *regexp.Regexp, minOccurrences int) (*Stats, error) {
	if pattern == nil {
		return nil, errors.New("pipeline: pattern is required")
	}

	stats := &Stats{RunID: uuid.NewString()}
	seen := make(map[string]struct{})

	logger := p.Logger.With("run_id", stats.RunID, "query", query)
	logger.Info("run started",
		"target", p.Config.TargetCount,
		"per_page", p.Config.ResultsPerPage,
		"max_results", p.Config.MaxResults,
	)

	for offset := 0; offset < p.Config.MaxResults; offset += p.Config.ResultsPerPage {
		if len(stats.Qualified) >= p.Config.TargetCount {
			break
		}
		if offset > 0 {
			if err := p.pageSleep(ctx); err != nil {
				return stats, err
			}
		}

		candidates, err := p.Resolver.Resolve(ctx, query, offset, p.Config.ResultsPerPage)
		if err != nil {
			if errors.Is(err, serp.ErrNoResults) {
				logger.Info("candidates exhausted", "offset", offset)
				break
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			return stats, fmt.Errorf("pipeline: resolve page at offset %d: %w", offset, err)
		}
		stats.Pages++

		fresh := candidates[:0:0]
		for _, c := range candidates {
			if _, dup := seen[c.URL]; dup {
				stats.Skipped++
				continue
			}
			seen[c.URL] = struct{}{}
			fresh = append(fresh, c)
		}
		if len(fresh) == 0 {
			logger.Debug("page held no new candidates", "offset", offset)
			continue
		}

		if err := p.evaluatePage(ctx, stats, query, fresh, pattern, minOccurrences, logger); err != nil {
			return stats, err
		}

		logger.Info("page complete",
			"offset", offset,
			"qualified", len(stats.Qualified),
			"evaluated", stats.Evaluated,
		)
	}

	logger.Info("run finished",
		"qualified", len(stats.Qualified),
		"evaluated", stats.Evaluated,
		"skipped", stats.Skipped,
		"pages", stats.Pages,
	)
	return stats, nil
}

// evaluatePage qualifies one page of fresh candidates, sequentially or with
// bounded parallelism, and folds the results into stats.
func (p *Pipeline) evaluatePage(ctx context.Context, stats *Stats, query string, fresh []serp.Candidate, pattern *regexp.Regexp, minOccurrences int, logger *slog.Logger) error {
	if p.Config.Concurrency <= 1 {
		for _, c := range fresh {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res := p.Qualifier.Qualify(ctx, c.URL, pattern, minOccurrences)
			if err := p.record(ctx, stats, query, res, pattern, minOccurrences, logger); err != nil {
				return err
			}
			if len(stats.Qualified) >= p.Config.TargetCount {
				return nil
			}
		}
		return nil
	}

	results := make([]qualifier.Result, len(fresh))
	fetched := make([]bool, len(fresh))

	// Workers stop picking up candidates once enough pages have qualified,
	// so at most Concurrency fetches are still in flight when the target is
	// hit. Every page actually fetched is folded into stats afterwards.
	var qualified atomic.Int64
	qualified.Store(int64(len(stats.Qualified)))
	target := int64(p.Config.TargetCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Config.Concurrency)

	for i, c := range fresh {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if qualified.Load() >= target {
				return nil
			}
			res := p.Qualifier.Qualify(gctx, c.URL, pattern, minOccurrences)
			results[i] = res
			fetched[i] = true
			if res.Qualifies {
				qualified.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range results {
		if !fetched[i] {
			continue
		}
		if err := p.record(ctx, stats, query, results[i], pattern, minOccurrences, logger); err != nil {
			return err
		}
	}
	return nil
}

// record persists one evaluation and folds it into the run stats. Qualified
// is never grown past the target: pages that qualify while the last slots
// were already in flight are persisted but left off the returned list.
func (p *Pipeline) record(ctx context.Context, stats *Stats, query string, res qualifier.Result, pattern *regexp.Regexp, minOccurrences int, logger *slog.Logger) error {
	stats.Evaluated++
	if res.Qualifies && len(stats.Qualified) < p.Config.TargetCount {
		stats.Qualified = append(stats.Qualified, res.URL)
		logger.Info("page qualified",
			"url", res.URL,
			"matches", res.Matches,
			"progress", fmt.Sprintf("%d/%d", len(stats.Qualified), p.Config.TargetCount),
		)
	}

	if p.Backend == nil {
		return nil
	}
	eval := &storage.Evaluation{
		ID:             uuid.NewString(),
		RunID:          stats.RunID,
		Query:          query,
		URL:            res.URL,
		Pattern:        pattern.String(),
		Matches:        res.Matches,
		MinOccurrences: minOccurrences,
		Qualified:      res.Qualifies,
		StatusCode:     res.StatusCode,
		Duration:       res.Duration,
		CreatedAt:      time.Now().UTC(),
		Error:          res.Err,
	}
	if err := p.Backend.Save(ctx, eval); err != nil {
		return fmt.Errorf("pipeline: save evaluation for %s: %w", res.URL, err)
	}
	return nil
}

// pageSleep pauses between result pages, plus jitter, interruptibly.
func (p *Pipeline) pageSleep(ctx context.Context) error {
	d := p.Config.Sleep
	if p.Config.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Config.MaxJitter)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
