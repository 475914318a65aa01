package serp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FranksOps/prospector/internal/metrics"
	"github.com/FranksOps/prospector/pkg/ratelimit"
)

// Resolver walks an ordered provider chain. The first provider that returns
// a non-empty result wins. A rate-limited provider is retried with backoff;
// once its retry budget is spent, or on any other error, the resolver moves
// to the next provider. An empty result without error also falls through,
// without consuming the retry budget.
type Resolver struct {
	providers []Provider
	backoff   ratelimit.Backoff
	logger    *slog.Logger
}

// NewResolver builds a resolver over the given providers, tried in order.
func NewResolver(providers []Provider, backoff ratelimit.Backoff, logger *slog.Logger) (*Resolver, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("serp: resolver needs at least one provider")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{providers: providers, backoff: backoff, logger: logger}, nil
}

// Providers returns the names of the chain, in order.
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Resolve returns the candidate window [offset, offset+limit) for query from
// the first provider able to serve it. ErrNoResults means every provider
// came up empty; context errors propagate as-is.
func (r *Resolver) Resolve(ctx context.Context, query string, offset, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("serp: limit must be positive, got %d", limit)
	}

	for _, p := range r.providers {
		candidates, err := r.resolveOne(ctx, p, query, offset, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("provider failed, falling back",
				"provider", p.Name(), "error", err)
			continue
		}
		if len(candidates) == 0 {
			r.logger.Debug("provider returned no results, falling back",
				"provider", p.Name(), "query", query, "offset", offset)
			continue
		}
		return candidates, nil
	}
	return nil, ErrNoResults
}

// resolveOne runs a single provider through the rate-limit retry budget.
func (r *Resolver) resolveOne(ctx context.Context, p Provider, query string, offset, limit int) ([]Candidate, error) {
	attempts := r.backoff.Attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		candidates, err := p.Search(ctx, query, offset, limit)
		if err == nil {
			metrics.RecordSearch(p.Name(), "success")
			return candidates, nil
		}
		lastErr = err

		rle, ok := IsRateLimit(err)
		if !ok {
			metrics.RecordSearch(p.Name(), "error")
			return nil, err
		}
		metrics.RecordSearch(p.Name(), "rate_limited")
		if attempt == attempts-1 {
			break
		}

		metrics.RecordBackoff(p.Name())
		r.logger.Info("provider rate limited, backing off",
			"provider", p.Name(), "attempt", attempt+1, "retry_after", rle.RetryAfter)
		if err := r.backoff.WaitAtLeast(ctx, attempt, rle.RetryAfter); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
