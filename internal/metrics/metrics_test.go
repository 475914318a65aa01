package metrics

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMetricsServer(t *testing.T) {
	srv := Start(18889, nil)
	// Give the listener a moment to come up.
	time.Sleep(100 * time.Millisecond)

	defer srv.Stop(context.Background())

	RecordSearch("brave", "success")
	RecordBackoff("brave")
	RecordFetch("example.com", 200, time.Second, false)
	RecordQualification(true)

	resp, err := http.Get("http://localhost:18889/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	output := string(body)

	if !strings.Contains(output, `prospector_search_requests_total{outcome="success",provider="brave"}`) {
		t.Errorf("expected search requests counter for brave")
	}
	if !strings.Contains(output, `prospector_search_backoffs_total{provider="brave"}`) {
		t.Errorf("expected backoff counter for brave")
	}
	if !strings.Contains(output, `prospector_page_fetch_duration_seconds_bucket`) {
		t.Errorf("expected fetch duration histogram")
	}
	if !strings.Contains(output, `prospector_qualifications_total{qualified="true"}`) {
		t.Errorf("expected qualification counter")
	}
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestMetricsServerLogsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	buf := &lockedBuffer{}
	srv := Start(port, slog.New(slog.NewTextHandler(buf, nil)))
	defer srv.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)

	if !strings.Contains(buf.String(), "metrics server failed") {
		t.Errorf("log = %q, want the listen failure recorded", buf.String())
	}
}

func TestRecordFetch_ErrorStatus(t *testing.T) {
	// A failed request with no response is labeled "error", not "0".
	RecordFetch("example.org", 0, 10*time.Millisecond, true)
	// No panic and no bogus status label is the contract; counter inspection
	// happens through the server test above.
}
