//go:build integration

package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/prospector/internal/fingerprint"
	"github.com/FranksOps/prospector/internal/pipeline"
	"github.com/FranksOps/prospector/internal/qualifier"
	"github.com/FranksOps/prospector/internal/scraper"
	"github.com/FranksOps/prospector/internal/serp"
	"github.com/FranksOps/prospector/internal/storage"
	"github.com/FranksOps/prospector/internal/storage/sqlite"
	"github.com/FranksOps/prospector/pkg/ratelimit"
	"github.com/FranksOps/prospector/pkg/useragent"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastQualifier(f *scraper.Fetcher) *qualifier.Qualifier {
	return qualifier.New(f, qualifier.Config{
		MinDelay:          time.Millisecond,
		RetryDelays:       []time.Duration{10 * time.Millisecond},
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}, quietLogger())
}

// TestIntegration_EndToEndRun wires a Brave-shaped search API and a set of
// target pages together and runs the whole pipeline against them.
func TestIntegration_EndToEndRun(t *testing.T) {
	// 1. Target pages: two qualify, one is short on matches, one is
	// behind a Cloudflare challenge.
	mux := http.NewServeMux()
	mux.HandleFunc("/rich1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Widgets: $10, $20, $30</body></html>`)
	})
	mux.HandleFunc("/rich2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Sale! $5 today, $8 tomorrow</body></html>`)
	})
	mux.HandleFunc("/poor", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Just $1</body></html>`)
	})
	mux.HandleFunc("/guarded", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<html><body>cf-browser-verification</body></html>`)
	})
	pages := httptest.NewServer(mux)
	defer pages.Close()

	// 2. Search API serving those pages across two result pages.
	searchAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("offset") == "" || r.URL.Query().Get("offset") == "0" {
			fmt.Fprintf(w, `{"web":{"results":[{"url":"%s/guarded"},{"url":"%s/poor"}]}}`,
				pages.URL, pages.URL)
			return
		}
		fmt.Fprintf(w, `{"web":{"results":[{"url":"%s/rich1"},{"url":"%s/rich2"}]}}`,
			pages.URL, pages.URL)
	}))
	defer searchAPI.Close()

	// 3. Assemble the pipeline with sqlite persistence.
	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		Limiter:     ratelimit.NewLimiter(0, 0),
	})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}

	brave, err := serp.NewBrave("test-token")
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	brave.Endpoint = searchAPI.URL

	resolver, err := serp.NewResolver(
		[]serp.Provider{brave},
		ratelimit.Backoff{Delays: []time.Duration{10 * time.Millisecond}},
		quietLogger(),
	)
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	backend, err := sqlite.New("file::memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer backend.Close()

	p, err := pipeline.New(resolver, fastQualifier(fetcher), backend, quietLogger(), pipeline.Config{
		TargetCount:    2,
		ResultsPerPage: 2,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	// 4. Run and verify.
	stats, err := p.Run(context.Background(), "widgets", regexp.MustCompile(`\$\d+`), 2)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(stats.Qualified) != 2 {
		t.Fatalf("expected 2 qualified URLs, got %v", stats.Qualified)
	}
	if stats.Qualified[0] != pages.URL+"/rich1" || stats.Qualified[1] != pages.URL+"/rich2" {
		t.Errorf("unexpected qualified URLs: %v", stats.Qualified)
	}
	// guarded + poor on page one, rich1 + rich2 on page two
	if stats.Evaluated != 4 {
		t.Errorf("expected 4 evaluations, got %d", stats.Evaluated)
	}

	evals, err := backend.Query(context.Background(), storage.Filter{RunID: stats.RunID})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(evals) != 4 {
		t.Fatalf("expected 4 stored evaluations, got %d", len(evals))
	}
	for _, e := range evals {
		if e.Query != "widgets" {
			t.Errorf("stored query = %q", e.Query)
		}
		switch {
		case e.URL == pages.URL+"/guarded":
			if e.Qualified {
				t.Error("challenged page must not qualify")
			}
			if e.Error == "" {
				t.Error("challenged page should record an error")
			}
		case e.URL == pages.URL+"/poor":
			if e.Qualified || e.Matches != 1 {
				t.Errorf("poor page: qualified=%v matches=%d", e.Qualified, e.Matches)
			}
		default:
			if !e.Qualified {
				t.Errorf("%s should qualify", e.URL)
			}
		}
	}
}

// TestIntegration_ProviderFallback rate-limits the primary provider into the
// ground and verifies the run completes through the secondary.
func TestIntegration_ProviderFallback(t *testing.T) {
	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer primary.Close()

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>$1 $2</body></html>`)
	}))
	defer page.Close()

	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items":[{"link":"%s/found"}]}`, page.URL)
	}))
	defer secondary.Close()

	brave, _ := serp.NewBrave("token")
	brave.Endpoint = primary.URL
	cse, _ := serp.NewGoogleCSE("key", "cx")
	cse.Endpoint = secondary.URL

	resolver, err := serp.NewResolver(
		[]serp.Provider{brave, cse},
		ratelimit.Backoff{Delays: []time.Duration{time.Millisecond, time.Millisecond}},
		quietLogger(),
	)
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
	})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}

	p, err := pipeline.New(resolver, fastQualifier(fetcher), nil, quietLogger(), pipeline.Config{
		TargetCount:    1,
		ResultsPerPage: 10,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	stats, err := p.Run(context.Background(), "widgets", regexp.MustCompile(`\$\d`), 2)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(stats.Qualified) != 1 {
		t.Fatalf("expected 1 qualified URL via fallback, got %v", stats.Qualified)
	}
	// Primary exhausted its full retry budget before the fallback.
	if got := atomic.LoadInt32(&primaryHits); got != 3 {
		t.Errorf("primary hit %d times, want 3", got)
	}
}

// TestIntegration_UserAgentRotation verifies requests carry rotated pool
// User-Agents end to end.
func TestIntegration_UserAgentRotation(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<html><body>$1</body></html>`)
	}))
	defer server.Close()

	uaPool := useragent.NewPool([]string{"IntegrationTest-UA"})
	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		UAPool:      uaPool,
	})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}

	res := fastQualifier(fetcher).Qualify(context.Background(), server.URL, regexp.MustCompile(`\$\d`), 1)
	if !res.Qualifies {
		t.Fatalf("expected page to qualify, got %+v", res)
	}
	if ua, _ := gotUA.Load().(string); ua != "IntegrationTest-UA" {
		t.Errorf("User-Agent = %q, want pool UA", ua)
	}
}
