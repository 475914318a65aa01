package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/prospector/internal/config"
	"github.com/FranksOps/prospector/internal/fingerprint"
	"github.com/FranksOps/prospector/internal/metrics"
	"github.com/FranksOps/prospector/internal/pipeline"
	"github.com/FranksOps/prospector/internal/qualifier"
	"github.com/FranksOps/prospector/internal/report"
	"github.com/FranksOps/prospector/internal/scraper"
	"github.com/FranksOps/prospector/internal/serp"
	"github.com/FranksOps/prospector/internal/storage"
	"github.com/FranksOps/prospector/internal/storage/csvbackend"
	"github.com/FranksOps/prospector/internal/storage/jsonbackend"
	"github.com/FranksOps/prospector/internal/storage/postgres"
	"github.com/FranksOps/prospector/internal/storage/sqlite"
	"github.com/FranksOps/prospector/pkg/proxy"
	"github.com/FranksOps/prospector/pkg/ratelimit"
	"github.com/FranksOps/prospector/pkg/useragent"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run a search-and-qualify pass",
	Long: `Resolves the query to candidate URLs, qualifies each page against the
pattern, and stops once the target number of qualifying pages is collected.

Configuration comes from a YAML file (--config or ./prospector.yaml),
PROSPECTOR_* environment variables, and flags, in ascending precedence.`,
	RunE: runCmd,
}

var (
	runConfigPath     string
	runQuery          string
	runPattern        string
	runMinOccurrences int
	runTarget         int
	runConcurrency    int
	runRawHTML        bool
	runVerbose        bool
)

func init() {
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to prospector.yaml (optional)")
	runCommand.Flags().StringVarP(&runQuery, "query", "q", "", "Search query")
	runCommand.Flags().StringVarP(&runPattern, "pattern", "p", "", "Regular expression to count on each page")
	runCommand.Flags().IntVarP(&runMinOccurrences, "min-occurrences", "m", 0, "Matches required for a page to qualify")
	runCommand.Flags().IntVarP(&runTarget, "target", "t", 0, "Qualifying pages to collect before stopping")
	runCommand.Flags().IntVar(&runConcurrency, "concurrency", 0, "Pages qualified in parallel per result page")
	runCommand.Flags().BoolVar(&runRawHTML, "raw-html", false, "Match against raw HTML instead of visible text")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(runCommand)
}

func runCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, runVerbose)
	slog.SetDefault(logger)

	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return fmt.Errorf("compile pattern: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsPort > 0 {
		srv := metrics.Start(cfg.MetricsPort, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
		logger.Info("metrics server started", "port", cfg.MetricsPort)
	}

	fetcher, err := buildFetcher(cfg, logger)
	if err != nil {
		return err
	}

	resolver, err := buildResolver(cfg, fetcher, logger)
	if err != nil {
		return err
	}

	q := qualifier.New(fetcher, qualifier.Config{
		MinDelay:          cfg.Pacing.MinDelay,
		RetryDelays:       cfg.Pacing.RetryDelays,
		MaxJitter:         cfg.Pacing.MaxJitter,
		RetryableStatuses: qualifier.DefaultConfig().RetryableStatuses,
		MatchRawHTML:      cfg.MatchRawHTML,
	}, logger)
	if cfg.RespectRobots {
		q.SetRobots(scraper.NewRobotsAuditor(cfg.Fetch.Timeout), "prospector")
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if backend != nil {
		defer backend.Close()
	}

	p, err := pipeline.New(resolver, q, backend, logger, pipeline.Config{
		TargetCount:    cfg.TargetCount,
		ResultsPerPage: cfg.ResultsPerPage,
		Sleep:          cfg.Pacing.Sleep,
		MaxJitter:      cfg.Pacing.MaxJitter,
		MaxResults:     cfg.MaxResults,
		Concurrency:    cfg.Concurrency,
	})
	if err != nil {
		return err
	}

	stats, err := p.Run(ctx, cfg.Query, pattern, cfg.MinOccurrences)
	if err != nil {
		return err
	}

	if backend != nil {
		evals, qerr := backend.Query(ctx, storage.Filter{RunID: stats.RunID})
		if qerr != nil {
			logger.Warn("could not load evaluations for summary", "error", qerr)
		} else {
			return report.WriteText(os.Stdout, report.GenerateSummary(evals))
		}
	}

	for _, u := range stats.Qualified {
		fmt.Println(u)
	}
	return nil
}

// applyRunFlags lets explicitly set flags win over file and environment.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("query") {
		cfg.Query = runQuery
	}
	if cmd.Flags().Changed("pattern") {
		cfg.Pattern = runPattern
	}
	if cmd.Flags().Changed("min-occurrences") {
		cfg.MinOccurrences = runMinOccurrences
	}
	if cmd.Flags().Changed("target") {
		cfg.TargetCount = runTarget
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = runConcurrency
	}
	if cmd.Flags().Changed("raw-html") {
		cfg.MatchRawHTML = runRawHTML
	}
}

func newLogger(level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildFetcher(cfg *config.Config, logger *slog.Logger) (*scraper.Fetcher, error) {
	fetchCfg := scraper.FetchConfig{
		Timeout:      cfg.Fetch.Timeout,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		UseCookieJar: cfg.Fetch.CookieJar,
		UAPool:       useragent.NewPool(nil),
		Fingerprint:  fingerprint.Profile(cfg.Fetch.Fingerprint),
	}
	if cfg.Fetch.ProxyFile != "" {
		pool := proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(cfg.Fetch.ProxyFile); err != nil {
			return nil, fmt.Errorf("load proxies: %w", err)
		}
		fetchCfg.ProxyPool = pool
		logger.Info("proxy pool loaded", "proxies", pool.Size())
	}
	return scraper.NewFetcher(fetchCfg)
}

func buildResolver(cfg *config.Config, fetcher *scraper.Fetcher, logger *slog.Logger) (*serp.Resolver, error) {
	var providers []serp.Provider

	if cfg.Providers.BraveToken != "" {
		p, err := serp.NewBrave(cfg.Providers.BraveToken)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.Providers.GoogleAPIKey != "" && cfg.Providers.GoogleCX != "" {
		p, err := serp.NewGoogleCSE(cfg.Providers.GoogleAPIKey, cfg.Providers.GoogleCX)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.Providers.SitemapURL != "" {
		p, err := serp.NewSitemap(cfg.Providers.SitemapURL)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.Providers.DuckDuckGo {
		p, err := serp.NewDuckDuckGo(fetcher)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	backoff := ratelimit.Backoff{
		Delays:    cfg.Pacing.RetryDelays,
		MaxJitter: cfg.Pacing.MaxJitter,
	}
	resolver, err := serp.NewResolver(providers, backoff, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("provider chain ready", "providers", resolver.Providers())
	return resolver, nil
}

func buildBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return sqlite.New(cfg.Storage.DSN)
	case "postgres":
		return postgres.New(ctx, cfg.Storage.DSN)
	case "json":
		return jsonbackend.New(cfg.Storage.Path)
	case "csv":
		return csvbackend.New(cfg.Storage.Path)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
