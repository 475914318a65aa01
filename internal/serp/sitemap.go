package serp

import (
	"context"
	"fmt"
	"strings"

	sitemap "github.com/oxffaa/gopher-parse-sitemap"
)

// Sitemap serves candidates from a site's sitemap.xml instead of a search
// engine. The query acts as a substring filter over the sitemap URLs; an
// empty query matches everything. Useful when qualifying a single known
// site without burning search quota.
type Sitemap struct {
	SitemapURL string
}

// NewSitemap creates a provider reading from the given sitemap URL.
func NewSitemap(sitemapURL string) (*Sitemap, error) {
	if sitemapURL == "" {
		return nil, fmt.Errorf("serp: sitemap url is required")
	}
	return &Sitemap{SitemapURL: sitemapURL}, nil
}

func (s *Sitemap) Name() string { return "sitemap" }

func (s *Sitemap) Search(ctx context.Context, query string, offset, limit int) ([]Candidate, error) {
	filter := strings.ToLower(query)

	var matched []Candidate
	err := sitemap.ParseFromSite(s.SitemapURL, func(e sitemap.Entry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		loc := e.GetLocation()
		if filter != "" && !strings.Contains(strings.ToLower(loc), filter) {
			return nil
		}
		matched = append(matched, Candidate{URL: loc})
		if len(matched) >= offset+limit {
			return errSitemapDone
		}
		return nil
	})
	if err != nil && err != errSitemapDone {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("serp: parse sitemap: %w", err)
	}

	if offset >= len(matched) {
		return nil, nil
	}
	return matched[offset:], nil
}

// errSitemapDone stops sitemap iteration early once the window is filled.
var errSitemapDone = fmt.Errorf("serp: sitemap window filled")
