package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/tcgprice/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars(t)

			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Storage.Driver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.Priority, convey.ShouldResemble, config.DefaultPriority)
			})
		})

		convey.Convey("When loading config with nested environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("TCGPRICE_ADDR", ":8080")
			t.Setenv("TCGPRICE_PRIORITY", "justtcg,pricecharting")
			t.Setenv("TCGPRICE_SCHEDULER__STALE_INTERVAL", "30m")
			t.Setenv("TCGPRICE_SCHEDULER__MAX_TASK_RETRIES", "5")
			t.Setenv("TCGPRICE_SOURCES__JUSTTCG__ENABLED", "true")
			t.Setenv("TCGPRICE_SOURCES__JUSTTCG__RATE_CAPACITY", "25")
			t.Setenv("TCGPRICE_SOURCES__JUSTTCG__AUTH__API_KEY", "jt-key")

			cfg, err := config.Load()

			convey.Convey("Then env vars override defaults and keep siblings", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Priority, convey.ShouldResemble, []string{"justtcg", "pricecharting"})
				convey.So(cfg.Scheduler.StaleInterval, convey.ShouldEqual, 30*time.Minute)
				convey.So(cfg.Scheduler.MaxTaskRetries, convey.ShouldEqual, 5)
				convey.So(cfg.Sources.JustTCG.Enabled, convey.ShouldBeTrue)
				convey.So(cfg.Sources.JustTCG.RateCapacity, convey.ShouldEqual, 25)
				convey.So(cfg.Sources.JustTCG.Auth.APIKey.Reveal(), convey.ShouldEqual, "jt-key")
				convey.So(cfg.Sources.JustTCG.Auth.Header, convey.ShouldEqual, "X-API-Key")
				convey.So(cfg.Sources.JustTCG.MaxRetries, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with YAML file and env", func() {
			clearConfigEnvVars(t)
			path := writeConfigFile(t, `
addr: ":9090"
priority: [pricecharting, justtcg]
storage:
  driver: memory
cache:
  hot_ttl: 10m
sources:
  pricecharting:
    enabled: true
    failure_threshold: 2
    auth:
      api_key: pc-key
`)
			t.Setenv("TCGPRICE_CONFIG", path)
			t.Setenv("TCGPRICE_ADDR", ":7070")

			cfg, err := config.Load()

			convey.Convey("Then file values apply and env wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.Priority, convey.ShouldResemble, []string{"pricecharting", "justtcg"})
				convey.So(cfg.Storage.Driver, convey.ShouldEqual, config.DriverMemory)
				convey.So(cfg.Cache.HotTTL, convey.ShouldEqual, 10*time.Minute)
				convey.So(cfg.Cache.ColdTTL, convey.ShouldEqual, 30*time.Minute)
				convey.So(cfg.Sources.PriceCharting.FailureThreshold, convey.ShouldEqual, 2)
				convey.So(cfg.Sources.PriceCharting.Auth.QueryParam, convey.ShouldEqual, "t")
				convey.So(cfg.Sources.PriceCharting.RateCapacity, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			clearConfigEnvVars(t)
			t.Setenv("TCGPRICE_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			clearConfigEnvVars(t)
			t.Setenv("TCGPRICE_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("TCGPRICE_SCHEDULER__QUEUE_SIZE", "invalid")

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			clearConfigEnvVars(t)
			t.Setenv("TCGPRICE_ADDR", "")

			cfg, err := config.Load()

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "TCGPRICE_") {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tcgprice.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
