package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Search API. Offset is expressed in pages of the
// requested limit, which is how the API pages results.
type Brave struct {
	Token    string
	Client   *http.Client
	Endpoint string // overridable for tests
}

// NewBrave creates a Brave provider with the given subscription token.
func NewBrave(token string) (*Brave, error) {
	if token == "" {
		return nil, fmt.Errorf("serp: brave token is required")
	}
	return &Brave{
		Token:    token,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Endpoint: braveEndpoint,
	}, nil
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, offset, limit int) ([]Candidate, error) {
	// Page numbers follow the caller's window size so consecutive windows
	// map to consecutive API pages even when the count gets clamped below.
	page := 0
	if limit > 0 {
		page = offset / limit
	}
	if limit > 20 {
		limit = 20 // API maximum per request
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(limit))
	if page > 0 {
		params.Set("offset", strconv.Itoa(page))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("serp: brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.Token)

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serp: brave search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Provider: b.Name(), RetryAfter: retryAfterHint(resp.Header)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serp: brave returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Web struct {
			Results []struct {
				URL string `json:"url"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("serp: decode brave response: %w", err)
	}

	candidates := make([]Candidate, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if r.URL != "" {
			candidates = append(candidates, Candidate{URL: r.URL})
		}
	}
	return candidates, nil
}

// retryAfterHint parses a Retry-After header expressed in seconds.
func retryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
