// Package serp resolves search queries to candidate URLs through an ordered
// chain of search providers with rate-limit backoff and fallback.
package serp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Candidate is a single URL discovered by a search provider.
type Candidate struct {
	URL string `json:"url"`
}

// Provider abstracts a search backend: an official API, an HTML scrape, or a
// precomputed source such as a sitemap. Offset selects the first result of
// the requested window, limit caps how many results come back.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, offset, limit int) ([]Candidate, error)
}

// RateLimitError reports that a provider refused a request for quota
// reasons. The resolver retries these with backoff before falling through
// to the next provider. RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("serp: %s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("serp: %s rate limited", e.Provider)
}

// ErrNoResults is returned by Resolver.Resolve when every provider was
// exhausted without producing a single candidate.
var ErrNoResults = errors.New("serp: no provider returned results")

// IsRateLimit reports whether err is a provider rate-limit signal.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
