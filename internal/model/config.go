package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FetchConfig controls the polling loop.
type FetchConfig struct {
	// Interval is the pause between two runs over all accounts.
	Interval time.Duration

	// Limit is the number of most recent messages fetched per account.
	Limit int

	// Workers bounds how many accounts are processed in parallel.
	Workers int

	// Timeout bounds a single mailbox session (IMAP or Graph).
	Timeout time.Duration
}

// RetentionConfig controls expires_at and the optional expiry sweep.
type RetentionConfig struct {
	Days  int
	Sweep bool
}

// Window returns the retention window as a duration.
func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// LLMConfig holds settings for the classification backend. An empty
// BaseURL disables the fallback.
type LLMConfig struct {
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	RatePerSec float64
}

// SecurityConfig holds the master key material.
type SecurityConfig struct {
	MasterKey string

	// UseKeyring allows the master key to be read from the OS keyring
	// when MasterKey is empty.
	UseKeyring bool
}

// StorageConfig points at the SQL database.
type StorageConfig struct {
	DSN string
}

// GraphConfig overrides the Microsoft Graph endpoint.
type GraphConfig struct {
	BaseURL string
}

// LogConfig mirrors logger.LogConfig so model stays dependency free.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Addr    string
	Path    string
}

// WorkerConfig is the top-level configuration of the ingestion worker.
type WorkerConfig struct {
	Fetch     FetchConfig
	Retention RetentionConfig
	LLM       LLMConfig
	Security  SecurityConfig
	Storage   StorageConfig
	Graph     GraphConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// envBindings lists the environment variables recognised for each key.
// The unprefixed names are kept for deployments that predate the
// MAILREADER_ prefix.
var envBindings = map[string][]string{
	"fetch.interval":      {"MAILREADER_FETCH_INTERVAL", "CHECK_INTERVAL"},
	"fetch.limit":         {"MAILREADER_FETCH_LIMIT"},
	"fetch.workers":       {"MAILREADER_FETCH_WORKERS"},
	"fetch.timeout":       {"MAILREADER_FETCH_TIMEOUT"},
	"retention.days":      {"MAILREADER_RETENTION_DAYS", "RETENTION_DAYS"},
	"retention.sweep":     {"MAILREADER_RETENTION_SWEEP"},
	"llm.base_url":        {"MAILREADER_LLM_BASE_URL", "LLM_BASE_URL"},
	"llm.model":           {"MAILREADER_LLM_MODEL"},
	"llm.max_tokens":      {"MAILREADER_LLM_MAX_TOKENS"},
	"llm.timeout":         {"MAILREADER_LLM_TIMEOUT"},
	"llm.rate_per_sec":    {"MAILREADER_LLM_RATE_PER_SEC"},
	"security.master_key": {"MAILREADER_MASTER_KEY"},
	"security.keyring":    {"MAILREADER_KEYRING"},
	"storage.dsn":         {"MAILREADER_STORAGE_DSN", "DATABASE_URL"},
	"graph.base_url":      {"MAILREADER_GRAPH_BASE_URL"},
	"log.level":           {"MAILREADER_LOG_LEVEL"},
	"log.format":          {"MAILREADER_LOG_FORMAT"},
	"log.output":          {"MAILREADER_LOG_OUTPUT"},
	"metrics.enabled":     {"MAILREADER_METRICS_ENABLED"},
	"metrics.addr":        {"MAILREADER_METRICS_ADDR"},
	"metrics.path":        {"MAILREADER_METRICS_PATH"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.interval", "60s")
	v.SetDefault("fetch.limit", 10)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.timeout", "30s")

	v.SetDefault("retention.days", 3)
	v.SetDefault("retention.sweep", false)

	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "local-llm")
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("llm.rate_per_sec", 2.0)

	v.SetDefault("security.keyring", false)

	v.SetDefault("storage.dsn", "mailreader.db")
	v.SetDefault("graph.base_url", "https://graph.microsoft.com/v1.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

// LoadConfig reads the YAML file at path and overlays the environment.
// An empty path yields defaults plus environment values; a path that
// cannot be read is an error.
func LoadConfig(path string) (*WorkerConfig, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	interval, err := parseDuration(v.GetString("fetch.interval"))
	if err != nil {
		return nil, fmt.Errorf("parsing fetch.interval: %w", err)
	}
	fetchTimeout, err := parseDuration(v.GetString("fetch.timeout"))
	if err != nil {
		return nil, fmt.Errorf("parsing fetch.timeout: %w", err)
	}
	llmTimeout, err := parseDuration(v.GetString("llm.timeout"))
	if err != nil {
		return nil, fmt.Errorf("parsing llm.timeout: %w", err)
	}

	cfg := &WorkerConfig{
		Fetch: FetchConfig{
			Interval: interval,
			Limit:    v.GetInt("fetch.limit"),
			Workers:  v.GetInt("fetch.workers"),
			Timeout:  fetchTimeout,
		},
		Retention: RetentionConfig{
			Days:  v.GetInt("retention.days"),
			Sweep: v.GetBool("retention.sweep"),
		},
		LLM: LLMConfig{
			BaseURL:    strings.TrimRight(strings.TrimSpace(v.GetString("llm.base_url")), "/"),
			Model:      v.GetString("llm.model"),
			MaxTokens:  v.GetInt("llm.max_tokens"),
			Timeout:    llmTimeout,
			RatePerSec: v.GetFloat64("llm.rate_per_sec"),
		},
		Security: SecurityConfig{
			MasterKey:  strings.TrimSpace(v.GetString("security.master_key")),
			UseKeyring: v.GetBool("security.keyring"),
		},
		Storage: StorageConfig{DSN: v.GetString("storage.dsn")},
		Graph:   GraphConfig{BaseURL: strings.TrimRight(v.GetString("graph.base_url"), "/")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
			Path:    v.GetString("metrics.path"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the worker cannot run without.
func (c *WorkerConfig) Validate() error {
	switch {
	case c.Fetch.Interval <= 0:
		return fmt.Errorf("fetch.interval must be positive, got %s", c.Fetch.Interval)
	case c.Fetch.Limit < 1:
		return fmt.Errorf("fetch.limit must be at least 1, got %d", c.Fetch.Limit)
	case c.Fetch.Workers < 1:
		return fmt.Errorf("fetch.workers must be at least 1, got %d", c.Fetch.Workers)
	case c.Fetch.Timeout <= 0:
		return fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout)
	case c.Retention.Days < 1:
		return fmt.Errorf("retention.days must be at least 1, got %d", c.Retention.Days)
	case c.LLM.MaxTokens < 1:
		return fmt.Errorf("llm.max_tokens must be at least 1, got %d", c.LLM.MaxTokens)
	case c.Storage.DSN == "":
		return fmt.Errorf("storage.dsn must not be empty")
	}
	return nil
}

// parseDuration accepts Go duration strings ("90s", "5m") and bare
// integers, which are read as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
