package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/okian/tcgprice/internal/domain/model"
)

// Validate checks every recognized option. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}

	ids, err := c.PriorityIDs()
	if err != nil {
		return fmt.Errorf("priority: %w", err)
	}
	seen := make(map[model.SourceID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("priority lists %s twice", id)
		}
		seen[id] = true
	}

	for _, id := range model.AllSources() {
		sc := c.Sources.Get(id)
		if !sc.Enabled {
			continue
		}
		if err := sc.validate("sources." + id.Key()); err != nil {
			return err
		}
	}

	if err := c.Scheduler.validate(); err != nil {
		return err
	}

	if c.Cache.HotTTL <= 0 || c.Cache.WarmTTL <= 0 || c.Cache.ColdTTL <= 0 {
		return fmt.Errorf("cache ttls must be > 0")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for sqlite")
		}
	case DriverPostgres:
		if !c.Storage.PostgresDSN.IsSet() {
			return fmt.Errorf("storage.postgres_dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}

	switch c.StateBackend {
	case DriverMemory:
	case DriverPostgres:
		if !c.Storage.PostgresDSN.IsSet() {
			return fmt.Errorf("state_backend postgres requires storage.postgres_dsn")
		}
	default:
		return fmt.Errorf("state_backend must be memory or postgres, got %q", c.StateBackend)
	}

	if t := c.Alert.Telegram; t.Enabled && (!t.BotToken.IsSet() || t.ChatID == "") {
		return fmt.Errorf("alert.telegram requires bot_token and chat_id")
	}
	return nil
}

func (s *SourceConfig) validate(prefix string) error {
	if s.BaseURL == "" {
		return fmt.Errorf("%s.base_url is required", prefix)
	}
	if s.RateCapacity < 1 {
		return fmt.Errorf("%s.rate_capacity must be >= 1", prefix)
	}
	if s.RefillIntervalMS < 1 {
		return fmt.Errorf("%s.refill_interval_ms must be >= 1", prefix)
	}
	if s.FailureThreshold < 1 {
		return fmt.Errorf("%s.failure_threshold must be >= 1", prefix)
	}
	if s.RecoveryTimeoutMS < 0 {
		return fmt.Errorf("%s.recovery_timeout_ms must be >= 0", prefix)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must be >= 0", prefix)
	}
	if s.BackoffBaseMS < 0 {
		return fmt.Errorf("%s.backoff_base_ms must be >= 0", prefix)
	}
	if s.RequestTimeoutMS < 1 {
		return fmt.Errorf("%s.request_timeout_ms must be >= 1", prefix)
	}
	if s.MaxWaitMS < 0 {
		return fmt.Errorf("%s.max_wait_ms must be >= 0", prefix)
	}
	switch s.LimiterMode {
	case "", "block", "fail_fast":
	default:
		return fmt.Errorf("%s.limiter_mode must be block or fail_fast, got %q", prefix, s.LimiterMode)
	}
	return s.Auth.validate(prefix + ".auth")
}

func (a *AuthConfig) validate(prefix string) error {
	switch strings.ToLower(a.Type) {
	case "", AuthNone:
		return nil
	case AuthOAuth2:
		if a.ClientID == "" || !a.ClientSecret.IsSet() {
			return fmt.Errorf("%s: client_id and client_secret are required for oauth2", prefix)
		}
		if a.TokenURL == "" {
			return fmt.Errorf("%s.token_url is required for oauth2", prefix)
		}
	case AuthAPIKey:
		if !a.APIKey.IsSet() {
			return fmt.Errorf("%s.api_key is required", prefix)
		}
		if a.Header == "" && a.QueryParam == "" {
			return fmt.Errorf("%s: header or query_param is required", prefix)
		}
	default:
		return fmt.Errorf("%s.type must be none, oauth2 or api_key, got %q", prefix, a.Type)
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.StaleInterval <= 0 {
		return fmt.Errorf("scheduler.stale_interval must be > 0")
	}
	if s.DedupWindow < 0 {
		return fmt.Errorf("scheduler.dedup_window must be >= 0")
	}
	if s.MaxTaskRetries < 0 {
		return fmt.Errorf("scheduler.max_task_retries must be >= 0")
	}
	if s.BulkConcurrency < 1 {
		return fmt.Errorf("scheduler.bulk_concurrency must be >= 1")
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("scheduler.queue_size must be >= 1")
	}
	if s.MaxJitter < 0 || s.TaskBackoff < 0 {
		return fmt.Errorf("scheduler.max_jitter and task_backoff must be >= 0")
	}
	if s.TaskTimeout <= 0 {
		return fmt.Errorf("scheduler.task_timeout must be > 0")
	}
	if s.DispatchRate < 0 {
		return fmt.Errorf("scheduler.dispatch_rate must be >= 0")
	}
	if s.Cron != "" {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("scheduler.cron: %w", err)
		}
	}
	return nil
}
