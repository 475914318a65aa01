package serp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/prospector/internal/scraper"
)

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML-only DuckDuckGo frontend. It needs no
// credentials, which makes it the fallback of last resort in the default
// chain. Fetches go through the stealth fetcher so the scrape carries
// rotated User-Agents and a browser TLS fingerprint.
type DuckDuckGo struct {
	Fetcher  *scraper.Fetcher
	Endpoint string
}

// NewDuckDuckGo builds the scrape provider on top of an existing fetcher.
func NewDuckDuckGo(f *scraper.Fetcher) (*DuckDuckGo, error) {
	if f == nil {
		return nil, fmt.Errorf("serp: duckduckgo needs a fetcher")
	}
	return &DuckDuckGo{Fetcher: f, Endpoint: duckDuckGoEndpoint}, nil
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, offset, limit int) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	if offset > 0 {
		params.Set("s", strconv.Itoa(offset))
	}

	res, err := d.Fetcher.Fetch(ctx, d.Endpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("serp: duckduckgo fetch: %w", err)
	}

	// The HTML frontend throttles with 403s and challenge pages rather
	// than honest 429s.
	if res.StatusCode == http.StatusTooManyRequests ||
		res.StatusCode == http.StatusForbidden ||
		res.DetectedBot {
		return nil, &RateLimitError{Provider: d.Name()}
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serp: duckduckgo returned %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("serp: parse duckduckgo results: %w", err)
	}

	var candidates []Candidate
	doc.Find("a.result__a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		if target := unwrapRedirect(href); target != "" {
			candidates = append(candidates, Candidate{URL: target})
		}
		return len(candidates) < limit
	})
	return candidates, nil
}

// unwrapRedirect extracts the destination from DuckDuckGo's /l/?uddg=
// redirect links. Plain absolute links pass through untouched.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		if uddg := u.Query().Get("uddg"); uddg != "" {
			return uddg
		}
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("uddg")
}
