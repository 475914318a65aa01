// Package metrics exposes Prometheus counters for the search-and-qualify
// pipeline and an optional /metrics HTTP server.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_search_requests_total",
			Help: "Search backend attempts by provider and outcome",
		},
		[]string{"provider", "outcome"}, // outcome: success, rate_limited, empty, error
	)

	SearchBackoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_search_backoffs_total",
			Help: "Rate-limit backoff sleeps taken per provider",
		},
		[]string{"provider"},
	)

	PageFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_page_fetches_total",
			Help: "Qualification page fetches by HTTP status (or error)",
		},
		[]string{"status"},
	)

	PageFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prospector_page_fetch_duration_seconds",
			Help:    "Duration of qualification page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	QualificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prospector_qualifications_total",
			Help: "Page qualification outcomes",
		},
		[]string{"qualified"},
	)
)

// RecordSearch counts one backend attempt.
func RecordSearch(provider, outcome string) {
	SearchRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordBackoff counts one rate-limit backoff sleep for a provider.
func RecordBackoff(provider string) {
	SearchBackoffsTotal.WithLabelValues(provider).Inc()
}

// RecordFetch counts a page fetch and observes its duration. A zero status
// means the request never produced a response.
func RecordFetch(domain string, status int, d time.Duration, failed bool) {
	statusStr := strconv.Itoa(status)
	if failed && status == 0 {
		statusStr = "error"
	}
	PageFetchesTotal.WithLabelValues(statusStr).Inc()
	PageFetchDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// RecordQualification counts one qualification outcome.
func RecordQualification(qualified bool) {
	QualificationsTotal.WithLabelValues(strconv.FormatBool(qualified)).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the given port and exposes /metrics. A nil
// logger falls back to slog.Default().
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
