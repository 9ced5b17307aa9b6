package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	coreagg "github.com/aevon-lab/tally/internal/core/aggregation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config plus the loaded metric rules.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Backend  BackendConfig  `koanf:"backend"`
	Cache    CacheConfig    `koanf:"cache"`
	Database DatabaseConfig `koanf:"database"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Warmup   WarmupConfig   `koanf:"warmup"`

	// Classification lists the actions of each progress category.
	Classification map[string][]string `koanf:"classification"`

	// Rules is populated by Load after parsing rule files.
	Rules *coreagg.FileSystemRuleRepository `koanf:"-"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Mode            string        `koanf:"mode"` // debug | release
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type BackendConfig struct {
	BaseURL            string        `koanf:"base_url"`
	DocumentURL        string        `koanf:"document_url"` // defaults to base_url + "/documents"
	APIKey             string        `koanf:"api_key"`
	Timeout            time.Duration `koanf:"timeout"`
	SlowQueryThreshold time.Duration `koanf:"slow_query_threshold"`
	BatchSize          int           `koanf:"batch_size"`
	BatchDelay         time.Duration `koanf:"batch_delay"`
	MaxBatches         int           `koanf:"max_batches"`
	RateLimit          float64       `koanf:"rate_limit"` // requests per second, 0 disables
	RateBurst          int           `koanf:"rate_burst"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	EventsCollection   string        `koanf:"events_collection"`
	TeamsCollection    string        `koanf:"teams_collection"`
}

type CacheConfig struct {
	DefaultTTL time.Duration `koanf:"default_ttl"`
	PlayerTTL  time.Duration `koanf:"player_ttl"`
	TeamTTL    time.Duration `koanf:"team_ttl"`
	CompanyTTL time.Duration `koanf:"company_ttl"`
	FailureTTL time.Duration `koanf:"failure_ttl"`
}

type DatabaseConfig struct {
	Enabled      bool          `koanf:"enabled"`
	DSN          string        `koanf:"dsn"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	AutoMigrate  bool          `koanf:"auto_migrate"`
	RecordAll    bool          `koanf:"record_all"` // false records slow calls only
	Retention    time.Duration `koanf:"retention"`
}

type MetricsConfig struct {
	ConfigDir      string `koanf:"config_dir"`
	RequireRules   bool   `koanf:"require_rules"`
	Prometheus     bool   `koanf:"prometheus"`
	PrometheusPath string `koanf:"prometheus_path"`
}

type WarmupConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval"`
	Teams       []string      `koanf:"teams"`
	SeasonStart string        `koanf:"season_start"` // RFC 3339; empty uses lookback
	SeasonEnd   string        `koanf:"season_end"`
	Lookback    string        `koanf:"lookback"` // e.g. 30d, 2w, 720h
}

// Window returns the warmup window. Without a configured season it is the
// lookback period ending with the current UTC day, so every tick of one day
// warms the same cache key.
func (c WarmupConfig) Window(now time.Time) (time.Time, time.Time, error) {
	if c.SeasonStart == "" && c.SeasonEnd == "" {
		lookback, err := coreagg.ParseSpan(c.Lookback)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid warmup.lookback: %w", err)
		}
		next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		return next.Add(-lookback), next.Add(-time.Millisecond), nil
	}
	start, err := time.Parse(time.RFC3339, c.SeasonStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid warmup.season_start %q: %w", c.SeasonStart, err)
	}
	end, err := time.Parse(time.RFC3339, c.SeasonEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid warmup.season_end %q: %w", c.SeasonEnd, err)
	}
	return start, end, nil
}

// EffectiveDocumentURL returns the doc store base URL.
func (c BackendConfig) EffectiveDocumentURL() string {
	if c.DocumentURL != "" {
		return c.DocumentURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/documents"
}

// ActionCategories inverts Classification into a map from action to category.
// Categories are applied in name order, so an action listed twice keeps the
// first category.
func (c *Config) ActionCategories() map[string]string {
	names := make([]string, 0, len(c.Classification))
	for name := range c.Classification {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string)
	for _, name := range names {
		for _, action := range c.Classification[name] {
			if _, taken := out[action]; !taken {
				out[action] = name
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("invalid backend.base_url %q: %w", c.Backend.BaseURL, err)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be > 0")
	}
	if c.Backend.BatchSize <= 0 {
		return fmt.Errorf("backend.batch_size must be > 0")
	}
	if c.Backend.MaxBatches <= 0 {
		return fmt.Errorf("backend.max_batches must be > 0")
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("backend.rate_limit must be >= 0")
	}

	for name, ttl := range map[string]time.Duration{
		"cache.default_ttl": c.Cache.DefaultTTL,
		"cache.player_ttl":  c.Cache.PlayerTTL,
		"cache.team_ttl":    c.Cache.TeamTTL,
		"cache.company_ttl": c.Cache.CompanyTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Cache.FailureTTL < 0 {
		return fmt.Errorf("cache.failure_ttl must be >= 0")
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.enabled")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention must be >= 0")
	}

	if c.Metrics.Prometheus && !strings.HasPrefix(c.Metrics.PrometheusPath, "/") {
		return fmt.Errorf("invalid metrics.prometheus_path %q (must start with /)", c.Metrics.PrometheusPath)
	}

	if c.Warmup.Enabled {
		if c.Warmup.Interval <= 0 {
			return fmt.Errorf("warmup.interval must be > 0")
		}
		if len(c.Warmup.Teams) == 0 {
			return fmt.Errorf("warmup.teams is required when warmup.enabled")
		}
		start, end, err := c.Warmup.Window(time.Now())
		if err != nil {
			return err
		}
		if end.Before(start) {
			return fmt.Errorf("warmup window ends before it starts")
		}
	}

	return nil
}

// Load parses config from file + env, validates it, then loads the metric rules.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                  8080,
		"server.host":                  "0.0.0.0",
		"server.mode":                  "release",
		"server.shutdown_timeout":      "10s",
		"backend.base_url":             "http://localhost:8000",
		"backend.document_url":         "",
		"backend.timeout":              "30s",
		"backend.slow_query_threshold": "1s",
		"backend.batch_size":           1000,
		"backend.batch_delay":          "0s",
		"backend.max_batches":          50,
		"backend.rate_limit":           0,
		"backend.rate_burst":           1,
		"backend.events_collection":    "events",
		"backend.teams_collection":     "teams",
		"cache.default_ttl":            "5m",
		"cache.player_ttl":             "3m",
		"cache.team_ttl":               "5m",
		"cache.company_ttl":            "10m",
		"cache.failure_ttl":            "30s",
		"database.enabled":             false,
		"database.dsn":                 "",
		"database.max_open_conns":      10,
		"database.max_idle_conns":      5,
		"database.auto_migrate":        true,
		"database.record_all":          false,
		"database.retention":           "168h",
		"metrics.config_dir":           "./config/metrics",
		"metrics.require_rules":        false,
		"metrics.prometheus":           true,
		"metrics.prometheus_path":      "/metrics",
		"warmup.enabled":               false,
		"warmup.interval":              "4m",
		"warmup.lookback":              "30d",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TALLY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TALLY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Warmup.Teams = splitList(cfg.Warmup.Teams)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := coreagg.NewFileSystemRuleRepository(cfg.Metrics.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load metric rules: %w", err)
	}
	if cfg.Metrics.RequireRules && len(repo.GetRules()) == 0 {
		return nil, fmt.Errorf("no metric rules found in %q", cfg.Metrics.ConfigDir)
	}
	cfg.Rules = repo

	return &cfg, nil
}

// splitList flattens comma-separated entries, as env vars deliver lists as
// one string.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
