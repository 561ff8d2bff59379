// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load layers a YAML file and environment variables on top.
// - Validate is the single gate; components trust a validated Config.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/okian/tcgprice/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFile enables a rotating file sink next to stdout when set.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Priority is the ordered source fallback list.
	Priority []string `koanf:"priority"`

	Sources   Sources         `koanf:"sources"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Cache     CacheConfig     `koanf:"cache"`
	Storage   StorageConfig   `koanf:"storage"`
	Alert     AlertConfig     `koanf:"alert"`

	// StateBackend selects where breaker and limiter state lives: memory or postgres.
	StateBackend string `koanf:"state_backend"`
}

// Sources holds one block per marketplace.
type Sources struct {
	TCGPlayer     SourceConfig `koanf:"tcgplayer"`
	EBay          SourceConfig `koanf:"ebay"`
	JustTCG       SourceConfig `koanf:"justtcg"`
	PriceCharting SourceConfig `koanf:"pricecharting"`
}

// Get returns the block for id, or nil for an unknown id.
func (s *Sources) Get(id model.SourceID) *SourceConfig {
	switch id {
	case model.SourceTCGPlayer:
		return &s.TCGPlayer
	case model.SourceEBay:
		return &s.EBay
	case model.SourceJustTCG:
		return &s.JustTCG
	case model.SourcePriceCharting:
		return &s.PriceCharting
	default:
		return nil
	}
}

// SourceConfig carries the per-source resilience knobs and credentials.
type SourceConfig struct {
	Enabled           bool   `koanf:"enabled"`
	BaseURL           string `koanf:"base_url"`
	RateCapacity      int    `koanf:"rate_capacity"`
	RefillIntervalMS  int    `koanf:"refill_interval_ms"`
	FailureThreshold  int    `koanf:"failure_threshold"`
	RecoveryTimeoutMS int    `koanf:"recovery_timeout_ms"`
	MaxRetries        int    `koanf:"max_retries"`
	BackoffBaseMS     int    `koanf:"backoff_base_ms"`
	RequestTimeoutMS  int    `koanf:"request_timeout_ms"`
	// LimiterMode is block or fail_fast.
	LimiterMode string `koanf:"limiter_mode"`
	MaxWaitMS   int    `koanf:"max_wait_ms"`
	// SampleSize bounds listing samples for listing-based sources.
	SampleSize int        `koanf:"sample_size"`
	Auth       AuthConfig `koanf:"auth"`
}

// RefillInterval returns the bucket refill interval.
func (s SourceConfig) RefillInterval() time.Duration { return ms(s.RefillIntervalMS) }

// RecoveryTimeout returns how long the circuit stays open.
func (s SourceConfig) RecoveryTimeout() time.Duration { return ms(s.RecoveryTimeoutMS) }

// BackoffBase returns the first retry delay.
func (s SourceConfig) BackoffBase() time.Duration { return ms(s.BackoffBaseMS) }

// RequestTimeout returns the per-attempt HTTP timeout.
func (s SourceConfig) RequestTimeout() time.Duration { return ms(s.RequestTimeoutMS) }

// MaxWait returns the blocking limiter wait bound.
func (s SourceConfig) MaxWait() time.Duration { return ms(s.MaxWaitMS) }

// Auth types.
const (
	AuthNone   = "none"
	AuthOAuth2 = "oauth2"
	AuthAPIKey = "api_key"
)

// AuthConfig selects and parameterizes the auth strategy of a source.
type AuthConfig struct {
	Type string `koanf:"type"`

	// OAuth2 client credentials.
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	TokenURL     string   `koanf:"token_url"`
	Scopes       []string `koanf:"scopes"`

	// Static key placement: a header (with optional prefix) or a query parameter.
	APIKey     Secret `koanf:"api_key"`
	Header     string `koanf:"header"`
	Prefix     string `koanf:"prefix"`
	QueryParam string `koanf:"query_param"`
}

// SchedulerConfig configures refresh scheduling and the worker pool.
type SchedulerConfig struct {
	StaleInterval time.Duration `koanf:"stale_interval"`
	// DedupWindow defaults to StaleInterval when zero.
	DedupWindow     time.Duration `koanf:"dedup_window"`
	DedupSize       int           `koanf:"dedup_size"`
	MaxTaskRetries  int           `koanf:"max_task_retries"`
	TaskBackoff     time.Duration `koanf:"task_backoff"`
	BulkConcurrency int           `koanf:"bulk_concurrency"`
	QueueSize       int           `koanf:"queue_size"`
	MaxJitter       time.Duration `koanf:"max_jitter"`
	TaskTimeout     time.Duration `koanf:"task_timeout"`
	// Cron schedules the stale sweep; empty disables it.
	Cron string `koanf:"cron"`
	// DispatchRate caps bulk dispatches per second; zero disables pacing.
	DispatchRate  float64 `koanf:"dispatch_rate"`
	DispatchBurst int     `koanf:"dispatch_burst"`
	StaleBatch    int     `koanf:"stale_batch"`
}

// EffectiveDedupWindow returns DedupWindow or StaleInterval when unset.
func (s SchedulerConfig) EffectiveDedupWindow() time.Duration {
	if s.DedupWindow > 0 {
		return s.DedupWindow
	}
	return s.StaleInterval
}

// CacheConfig sets per-tier TTLs.
type CacheConfig struct {
	HotTTL     time.Duration `koanf:"hot_ttl"`
	WarmTTL    time.Duration `koanf:"warm_ttl"`
	ColdTTL    time.Duration `koanf:"cold_ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// TTL returns the TTL for a popularity tier.
func (c CacheConfig) TTL(tier model.PopularityTier) time.Duration {
	switch tier {
	case model.TierHot:
		return c.HotTTL
	case model.TierCold:
		return c.ColdTTL
	default:
		return c.WarmTTL
	}
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects the price history store.
type StorageConfig struct {
	Driver      string `koanf:"driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN Secret `koanf:"postgres_dsn"`
	MaxConns    int32  `koanf:"max_conns"`
}

// AlertConfig configures operator alerting.
type AlertConfig struct {
	Telegram TelegramConfig `koanf:"telegram"`
}

// TelegramConfig configures the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken Secret `koanf:"bot_token"`
	ChatID   string `koanf:"chat_id"`
	ProxyURL string `koanf:"proxy_url"`
	APIBase  string `koanf:"api_base"`
}

// Default list values, applied only when the loaded value is empty.
var (
	DefaultPriority   = []string{"tcgplayer", "pricecharting", "justtcg", "ebay"}
	DefaultEBayScopes = []string{"https://api.ebay.com/oauth/api_scope"}
)

// New creates a Config with defaults. Sources start disabled until credentials are supplied.
func New() *Config {
	c := newBase()
	c.applyListDefaults()
	return c
}

// applyListDefaults fills list options after decoding; decoding into a
// pre-filled slice would merge element-wise instead of replacing it.
func (c *Config) applyListDefaults() {
	if len(c.Priority) == 0 {
		c.Priority = append([]string(nil), DefaultPriority...)
	}
	if len(c.Sources.EBay.Auth.Scopes) == 0 {
		c.Sources.EBay.Auth.Scopes = append([]string(nil), DefaultEBayScopes...)
	}
}

func newBase() *Config {
	return &Config{
		LogLevel: "info",
		Addr:     ":9080",
		Sources: Sources{
			TCGPlayer: defaultSource("https://api.tcgplayer.com", AuthConfig{
				Type:     AuthOAuth2,
				TokenURL: "https://api.tcgplayer.com/token",
			}),
			EBay: defaultSource("https://api.ebay.com", AuthConfig{
				Type:     AuthOAuth2,
				TokenURL: "https://api.ebay.com/identity/v1/oauth2/token",
			}),
			JustTCG: defaultSource("https://api.justtcg.com/v1", AuthConfig{
				Type:   AuthAPIKey,
				Header: "X-API-Key",
			}),
			PriceCharting: defaultSource("https://www.pricecharting.com", AuthConfig{
				Type:       AuthAPIKey,
				QueryParam: "t",
			}),
		},
		Scheduler: SchedulerConfig{
			StaleInterval:   time.Hour,
			DedupSize:       100_000,
			MaxTaskRetries:  3,
			TaskBackoff:     2 * time.Second,
			BulkConcurrency: runtime.NumCPU() * 2,
			QueueSize:       10_000,
			MaxJitter:       5 * time.Second,
			TaskTimeout:     3 * time.Minute,
			Cron:            "@every 15m",
			DispatchRate:    20,
			DispatchBurst:   5,
			StaleBatch:      500,
		},
		Cache: CacheConfig{
			HotTTL:     15 * time.Minute,
			WarmTTL:    20 * time.Minute,
			ColdTTL:    30 * time.Minute,
			MaxEntries: 100_000,
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "data/tcgprice.db",
			MaxConns:   10,
		},
		Alert: AlertConfig{
			Telegram: TelegramConfig{APIBase: "https://api.telegram.org"},
		},
		StateBackend: DriverMemory,
	}
}

func defaultSource(baseURL string, auth AuthConfig) SourceConfig {
	return SourceConfig{
		BaseURL:           baseURL,
		RateCapacity:      10,
		RefillIntervalMS:  1000,
		FailureThreshold:  5,
		RecoveryTimeoutMS: 60_000,
		MaxRetries:        3,
		BackoffBaseMS:     500,
		RequestTimeoutMS:  30_000,
		LimiterMode:       "block",
		MaxWaitMS:         2000,
		SampleSize:        50,
		Auth:              auth,
	}
}

// PriorityIDs parses Priority into source ids.
func (c *Config) PriorityIDs() ([]model.SourceID, error) {
	ids := make([]model.SourceID, 0, len(c.Priority))
	for _, p := range c.Priority {
		if strings.TrimSpace(p) == "" {
			continue
		}
		id, err := model.ParseSourceID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
