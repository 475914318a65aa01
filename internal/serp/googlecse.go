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

const googleCSEEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleCSE queries the Google Custom Search JSON API. The API indexes
// results from 1 and serves at most 10 per request.
type GoogleCSE struct {
	APIKey   string
	CX       string
	Client   *http.Client
	Endpoint string
}

// NewGoogleCSE creates a Custom Search provider for the given key and
// search engine ID.
func NewGoogleCSE(apiKey, cx string) (*GoogleCSE, error) {
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("serp: google cse requires api key and cx")
	}
	return &GoogleCSE{
		APIKey:   apiKey,
		CX:       cx,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Endpoint: googleCSEEndpoint,
	}, nil
}

func (g *GoogleCSE) Name() string { return "google_cse" }

func (g *GoogleCSE) Search(ctx context.Context, query string, offset, limit int) ([]Candidate, error) {
	if limit > 10 {
		limit = 10
	}
	params := url.Values{}
	params.Set("key", g.APIKey)
	params.Set("cx", g.CX)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit))
	params.Set("start", strconv.Itoa(offset+1))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("serp: google cse request: %w", err)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serp: google cse search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Provider: g.Name(), RetryAfter: retryAfterHint(resp.Header)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serp: google cse returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Items []struct {
			Link string `json:"link"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("serp: decode google cse response: %w", err)
	}

	candidates := make([]Candidate, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.Link != "" {
			candidates = append(candidates, Candidate{URL: item.Link})
		}
	}
	return candidates, nil
}
