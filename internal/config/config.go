// Package config loads run configuration from a YAML file and PROSPECTOR_*
// environment variables, with environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Query          string `mapstructure:"query"`
	Pattern        string `mapstructure:"pattern"`
	MinOccurrences int    `mapstructure:"min_occurrences"`
	TargetCount    int    `mapstructure:"target_count"`
	ResultsPerPage int    `mapstructure:"results_per_page"`
	MaxResults     int    `mapstructure:"max_results"`
	Concurrency    int    `mapstructure:"concurrency"`
	MatchRawHTML   bool   `mapstructure:"match_raw_html"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	LogLevel       string `mapstructure:"log_level"`
	MetricsPort    int    `mapstructure:"metrics_port"`

	Pacing    Pacing    `mapstructure:"pacing"`
	Fetch     Fetch     `mapstructure:"fetch"`
	Providers Providers `mapstructure:"providers"`
	Storage   Storage   `mapstructure:"storage"`
}

// Pacing controls request spacing and retry backoff.
type Pacing struct {
	Sleep       time.Duration   `mapstructure:"sleep"`
	MinDelay    time.Duration   `mapstructure:"min_delay"`
	MaxJitter   time.Duration   `mapstructure:"max_jitter"`
	RetryDelays []time.Duration `mapstructure:"retry_delays"`
}

// Fetch controls the page fetcher.
type Fetch struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	CookieJar    bool          `mapstructure:"cookie_jar"`
	Fingerprint  string        `mapstructure:"fingerprint"`
	ProxyFile    string        `mapstructure:"proxy_file"`
}

// Providers holds search backend credentials. A provider joins the chain
// only when its credentials are present; DuckDuckGo needs none and is on by
// default.
type Providers struct {
	BraveToken   string `mapstructure:"brave_token"`
	GoogleAPIKey string `mapstructure:"google_api_key"`
	GoogleCX     string `mapstructure:"google_cx"`
	SitemapURL   string `mapstructure:"sitemap_url"`
	DuckDuckGo   bool   `mapstructure:"duckduckgo"`
}

// Storage selects the evaluation persistence backend.
type Storage struct {
	// Backend is one of sqlite, postgres, json, csv, or none.
	Backend string `mapstructure:"backend"`
	// DSN is the sqlite path or postgres connection string.
	DSN string `mapstructure:"dsn"`
	// Path is the output file for the json and csv backends.
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("min_occurrences", 1)
	v.SetDefault("target_count", 10)
	v.SetDefault("results_per_page", 10)
	v.SetDefault("max_results", 1000)
	v.SetDefault("concurrency", 1)
	v.SetDefault("log_level", "info")

	v.SetDefault("pacing.sleep", "2s")
	v.SetDefault("pacing.min_delay", "500ms")
	v.SetDefault("pacing.max_jitter", "500ms")
	v.SetDefault("pacing.retry_delays", []string{"2s", "5s", "10s"})

	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.cookie_jar", true)
	v.SetDefault("fetch.fingerprint", "chrome")

	// Credential keys get empty defaults so env-only values survive
	// Unmarshal.
	v.SetDefault("query", "")
	v.SetDefault("pattern", "")
	v.SetDefault("providers.brave_token", "")
	v.SetDefault("providers.google_api_key", "")
	v.SetDefault("providers.google_cx", "")
	v.SetDefault("providers.sitemap_url", "")
	v.SetDefault("providers.duckduckgo", true)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.dsn", "prospector.db")
}

// Load reads configuration from path, or from prospector.yaml in the
// working directory when path is empty. A missing file is fine; defaults
// and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("prospector")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields a run cannot proceed without.
func (c *Config) Validate() error {
	if c.Query == "" {
		return fmt.Errorf("config: query is required")
	}
	if c.Pattern == "" {
		return fmt.Errorf("config: pattern is required")
	}
	if _, err := regexp.Compile(c.Pattern); err != nil {
		return fmt.Errorf("config: invalid pattern: %w", err)
	}
	if c.MinOccurrences < 0 {
		return fmt.Errorf("config: min_occurrences cannot be negative")
	}
	if c.TargetCount <= 0 {
		return fmt.Errorf("config: target_count must be positive")
	}
	switch c.Storage.Backend {
	case "sqlite", "postgres", "json", "csv", "none", "":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
