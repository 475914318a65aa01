// Package qualifier fetches candidate pages and decides whether each one
// carries enough pattern matches to qualify. Failures never surface as
// errors: a page that cannot be fetched within the retry budget simply does
// not qualify.
package qualifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/FranksOps/prospector/internal/analyzer"
	"github.com/FranksOps/prospector/internal/metrics"
	"github.com/FranksOps/prospector/internal/scraper"
	"github.com/FranksOps/prospector/pkg/ratelimit"
)

// PageFetcher is the single fetch operation the qualifier needs. Satisfied
// by *scraper.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, targetURL string) (*scraper.FetchResult, error)
}

// RobotsChecker answers whether a URL may be fetched. Satisfied by
// *scraper.RobotsAuditor.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, targetURL, userAgent string) (bool, error)
}

// Config tunes fetch pacing and retry behavior.
type Config struct {
	// MinDelay is the pause before every fetch attempt, keeping request
	// spacing polite even without a shared limiter.
	MinDelay time.Duration
	// RetryDelays is the ascending backoff schedule between failed
	// attempts. Total attempts are len(RetryDelays)+1.
	RetryDelays []time.Duration
	// MaxJitter perturbs every retry delay.
	MaxJitter time.Duration
	// RetryableStatuses are HTTP statuses worth another attempt. Other
	// non-2xx statuses fail the page immediately.
	RetryableStatuses []int
	// MatchRawHTML counts matches against the raw response body instead
	// of the rendered visible text.
	MatchRawHTML bool
	// MaxExcerpts, when non-zero, collects up to that many matched
	// fragments with their surrounding sentences. Negative means no cap.
	MaxExcerpts int
}

// DefaultConfig returns the pacing used by the CLI when nothing is
// configured.
func DefaultConfig() Config {
	return Config{
		MinDelay:          500 * time.Millisecond,
		RetryDelays:       []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		MaxJitter:         500 * time.Millisecond,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// Result is the verdict for one page.
type Result struct {
	URL        string
	Qualifies  bool
	Matches    int
	StatusCode int
	Duration   time.Duration
	// Excerpts holds matched fragments in context when configured.
	Excerpts []analyzer.Excerpt
	// Err carries the final failure for diagnostics when the page could
	// not be evaluated. Qualifies is always false in that case.
	Err string
}

// Qualifier evaluates pages against a pattern threshold.
type Qualifier struct {
	config   Config
	fetcher  PageFetcher
	backoff  ratelimit.Backoff
	logger   *slog.Logger
	robots   RobotsChecker
	robotsUA string
}

// New creates a Qualifier. A nil logger falls back to slog.Default.
func New(fetcher PageFetcher, cfg Config, logger *slog.Logger) *Qualifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Qualifier{
		config:  cfg,
		fetcher: fetcher,
		backoff: ratelimit.Backoff{Delays: cfg.RetryDelays, MaxJitter: cfg.MaxJitter},
		logger:  logger,
	}
}

// SetRobots enables a robots.txt check before each page fetch. Disallowed
// pages are reported as non-qualifying without fetching.
func (q *Qualifier) SetRobots(r RobotsChecker, userAgent string) {
	q.robots = r
	q.robotsUA = userAgent
}

// Qualify fetches pageURL and reports whether pattern occurs at least
// minOccurrences times. Retryable failures are retried per the config; once
// the budget is spent the page is reported as non-qualifying with the last
// failure recorded in Err.
func (q *Qualifier) Qualify(ctx context.Context, pageURL string, pattern *regexp.Regexp, minOccurrences int) Result {
	start := time.Now()
	result := Result{URL: pageURL}

	if q.robots != nil {
		allowed, err := q.robots.IsAllowed(ctx, pageURL, q.robotsUA)
		if err == nil && !allowed {
			result.Err = "disallowed by robots.txt"
			result.Duration = time.Since(start)
			metrics.RecordQualification(false)
			q.logger.Info("skipping page disallowed by robots.txt", "url", pageURL)
			return result
		}
	}

	attempts := q.backoff.Attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if err := q.throttle(ctx); err != nil {
			result.Err = err.Error()
			break
		}

		fetched, err := q.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			result.Err = err.Error()
			metrics.RecordFetch(domainOf(pageURL), 0, time.Since(start), true)
			if ctx.Err() != nil {
				break
			}
			if !q.retryWait(ctx, attempt, attempts) {
				break
			}
			continue
		}

		result.StatusCode = fetched.StatusCode
		metrics.RecordFetch(domainOf(pageURL), fetched.StatusCode, fetched.Duration, false)

		if fetched.DetectedBot {
			result.Err = "bot challenge detected: " + fetched.DetectionSrc
			q.logger.Warn("page served a bot challenge",
				"url", pageURL, "source", fetched.DetectionSrc)
			break
		}

		if fetched.StatusCode < 200 || fetched.StatusCode > 299 {
			result.Err = fmt.Sprintf("unexpected status %d", fetched.StatusCode)
			if q.retryable(fetched.StatusCode) && q.retryWait(ctx, attempt, attempts) {
				continue
			}
			break
		}

		text := string(fetched.Body)
		if !q.config.MatchRawHTML {
			text, err = VisibleText(fetched.Body)
			if err != nil {
				result.Err = err.Error()
				break
			}
		}

		result.Matches = analyzer.Count(text, pattern)
		result.Qualifies = result.Matches >= minOccurrences
		if q.config.MaxExcerpts != 0 && result.Matches > 0 {
			result.Excerpts = analyzer.Excerpts(text, pattern, q.config.MaxExcerpts)
		}
		result.Err = ""
		break
	}

	result.Duration = time.Since(start)
	metrics.RecordQualification(result.Qualifies)

	q.logger.Debug("page qualified",
		"url", pageURL,
		"qualifies", result.Qualifies,
		"matches", result.Matches,
		"status", result.StatusCode,
		"duration", result.Duration,
	)
	return result
}

// throttle enforces the per-fetch minimum delay, interruptibly.
func (q *Qualifier) throttle(ctx context.Context) error {
	if q.config.MinDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(q.config.MinDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWait sleeps the scheduled backoff for the given attempt and reports
// whether another attempt should run.
func (q *Qualifier) retryWait(ctx context.Context, attempt, attempts int) bool {
	if attempt >= attempts-1 {
		return false
	}
	if err := q.backoff.Wait(ctx, attempt); err != nil {
		return false
	}
	return true
}

func (q *Qualifier) retryable(status int) bool {
	for _, s := range q.config.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
