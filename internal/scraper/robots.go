package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsAuditor fetches and caches robots.txt files per host and answers
// whether a URL may be fetched under a given User-Agent.
type RobotsAuditor struct {
	client *http.Client

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsAuditor creates an auditor with a dedicated plain HTTP client.
// robots.txt fetches deliberately skip the stealth transport.
func NewRobotsAuditor(timeout time.Duration) *RobotsAuditor {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RobotsAuditor{
		client: &http.Client{Timeout: timeout},
		cache:  make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed reports whether targetURL may be fetched as userAgent. Fetch
// failures fail open: a site whose robots.txt is unreachable is treated as
// allowing everything, matching crawler convention for 5xx-less errors.
func (a *RobotsAuditor) IsAllowed(ctx context.Context, targetURL, userAgent string) (bool, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("scraper: parse url: %w", err)
	}
	if parsed.Host == "" {
		return false, fmt.Errorf("scraper: url %q has no host", targetURL)
	}

	data, err := a.getOrFetch(ctx, parsed.Scheme, parsed.Host)
	if err != nil {
		return true, nil
	}

	group := data.FindGroup(userAgent)
	return group.Test(parsed.Path), nil
}

// Sitemaps returns the sitemap URLs declared in the host's robots.txt.
func (a *RobotsAuditor) Sitemaps(ctx context.Context, siteURL string) ([]string, error) {
	parsed, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse url: %w", err)
	}
	data, err := a.getOrFetch(ctx, parsed.Scheme, parsed.Host)
	if err != nil {
		return nil, err
	}
	return data.Sitemaps, nil
}

func (a *RobotsAuditor) getOrFetch(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	a.mu.RLock()
	data, ok := a.cache[host]
	a.mu.RUnlock()
	if ok {
		return data, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if data, ok := a.cache[host]; ok {
		return data, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("scraper: create robots request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper: fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scraper: read robots.txt: %w", err)
	}

	data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse robots.txt: %w", err)
	}

	a.cache[host] = data
	return data, nil
}
