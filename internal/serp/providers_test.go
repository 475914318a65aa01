package serp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/prospector/internal/fingerprint"
	"github.com/FranksOps/prospector/internal/scraper"
)

func TestBraveSearch(t *testing.T) {
	var gotToken, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[{"url":"https://one.example"},{"url":"https://two.example"}]}}`))
	}))
	defer server.Close()

	b, err := NewBrave("test-token")
	if err != nil {
		t.Fatalf("NewBrave: %v", err)
	}
	b.Endpoint = server.URL

	got, err := b.Search(context.Background(), "widgets", 0, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotToken != "test-token" {
		t.Errorf("token = %q", gotToken)
	}
	if gotQuery != "widgets" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(got) != 2 || got[0].URL != "https://one.example" {
		t.Errorf("got %v", got)
	}
}

func TestBraveClampPreservesPaging(t *testing.T) {
	var gotCount, gotOffset string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCount = r.URL.Query().Get("count")
		gotOffset = r.URL.Query().Get("offset")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer server.Close()

	b, _ := NewBrave("test-token")
	b.Endpoint = server.URL

	// Window larger than the API cap: count is clamped but the page number
	// still follows the caller's window, so the second window lands on page 1.
	if _, err := b.Search(context.Background(), "widgets", 50, 50); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotCount != "20" {
		t.Errorf("count = %q, want clamped to 20", gotCount)
	}
	if gotOffset != "1" {
		t.Errorf("offset = %q, want page 1 for the second window", gotOffset)
	}
}

func TestBraveRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	b, _ := NewBrave("test-token")
	b.Endpoint = server.URL

	_, err := b.Search(context.Background(), "widgets", 0, 10)
	rle, ok := IsRateLimit(err)
	if !ok {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.Provider != "brave" {
		t.Errorf("Provider = %q", rle.Provider)
	}
	if rle.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", rle.RetryAfter)
	}
}

func TestBraveRequiresToken(t *testing.T) {
	if _, err := NewBrave(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestGoogleCSESearch(t *testing.T) {
	var gotStart string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"link":"https://one.example"}]}`))
	}))
	defer server.Close()

	g, err := NewGoogleCSE("key", "cx")
	if err != nil {
		t.Fatalf("NewGoogleCSE: %v", err)
	}
	g.Endpoint = server.URL

	got, err := g.Search(context.Background(), "widgets", 10, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// The API indexes from 1.
	if gotStart != "11" {
		t.Errorf("start = %q, want 11", gotStart)
	}
	if len(got) != 1 || got[0].URL != "https://one.example" {
		t.Errorf("got %v", got)
	}
}

func TestGoogleCSEEmptyItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	g, _ := NewGoogleCSE("key", "cx")
	g.Endpoint = server.URL

	got, err := g.Search(context.Background(), "widgets", 0, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestDuckDuckGoSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fone.example%2Fpage">One</a>
			<a class="result__a" href="https://two.example/direct">Two</a>
			<a class="other" href="https://ignored.example">skip</a>
		</body></html>`))
	}))
	defer server.Close()

	f, err := scraper.NewFetcher(scraper.FetchConfig{Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	d, err := NewDuckDuckGo(f)
	if err != nil {
		t.Fatalf("NewDuckDuckGo: %v", err)
	}
	d.Endpoint = server.URL

	got, err := d.Search(context.Background(), "widgets", 0, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %v", len(got), got)
	}
	if got[0].URL != "https://one.example/page" {
		t.Errorf("got[0] = %q, want unwrapped redirect", got[0].URL)
	}
	if got[1].URL != "https://two.example/direct" {
		t.Errorf("got[1] = %q", got[1].URL)
	}
}

func TestDuckDuckGoThrottleIsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f, _ := scraper.NewFetcher(scraper.FetchConfig{Fingerprint: fingerprint.ProfileGo})
	d, _ := NewDuckDuckGo(f)
	d.Endpoint = server.URL

	_, err := d.Search(context.Background(), "widgets", 0, 10)
	if _, ok := IsRateLimit(err); !ok {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
}

func TestDuckDuckGoLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="result__a" href="https://one.example">1</a>
			<a class="result__a" href="https://two.example">2</a>
			<a class="result__a" href="https://three.example">3</a>
		</body></html>`))
	}))
	defer server.Close()

	f, _ := scraper.NewFetcher(scraper.FetchConfig{Fingerprint: fingerprint.ProfileGo})
	d, _ := NewDuckDuckGo(f)
	d.Endpoint = server.URL

	got, err := d.Search(context.Background(), "widgets", 0, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d candidates, want 2", len(got))
	}
}

func TestUnwrapRedirect(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"https://plain.example/page", "https://plain.example/page"},
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fx.example", "https://x.example"},
		{"/l/?uddg=https%3A%2F%2Fy.example%2Fa%20b", "https://y.example/a b"},
		{"/l/?other=1", ""},
	}
	for _, tt := range tests {
		if got := unwrapRedirect(tt.href); got != tt.want {
			t.Errorf("unwrapRedirect(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestSitemapSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://shop.example/products/widget</loc></url>
  <url><loc>https://shop.example/about</loc></url>
  <url><loc>https://shop.example/products/gadget</loc></url>
</urlset>`))
	}))
	defer server.Close()

	s, err := NewSitemap(server.URL + "/sitemap.xml")
	if err != nil {
		t.Fatalf("NewSitemap: %v", err)
	}

	got, err := s.Search(context.Background(), "products", 0, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 filtered: %v", len(got), got)
	}
	if got[0].URL != "https://shop.example/products/widget" {
		t.Errorf("got[0] = %q", got[0].URL)
	}

	// Offset past the filtered set yields nothing.
	got, err = s.Search(context.Background(), "products", 5, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty window", got)
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	e := &RateLimitError{Provider: "brave", RetryAfter: 3 * time.Second}
	if e.Error() == "" {
		t.Fatal("empty error message")
	}
	var target *RateLimitError
	if !errors.As(error(e), &target) {
		t.Fatal("errors.As should match *RateLimitError")
	}
}
