package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/internal/adapters/http/api"
	service "github.com/okian/tcgprice/internal/app"
	"github.com/okian/tcgprice/internal/config"
	"github.com/okian/tcgprice/pkg/logger"
)

type nopAlerter struct{ sent atomic.Int32 }

func (a *nopAlerter) Notify(context.Context, alert.Alert) error {
	a.sent.Add(1)
	return nil
}

// justTCG serves one Near Mint price and counts calls.
func justTCG(hits *atomic.Int32, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-API-Key") != "jt-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"condition":"Near Mint","currency":"USD",
			"market_price":12.5,"low_price":10,"high_price":15,"mid_price":12}]}`))
	}))
}

func testConfig(baseURL, dbPath string) *config.Config {
	cfg := config.New()
	cfg.Priority = []string{"justtcg"}
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.SQLitePath = dbPath
	cfg.Scheduler.Cron = ""
	cfg.Scheduler.BulkConcurrency = 2
	cfg.Scheduler.MaxJitter = 0
	cfg.Scheduler.DispatchRate = 0
	cfg.Scheduler.MaxTaskRetries = 1
	cfg.Scheduler.TaskBackoff = 10 * time.Millisecond
	cfg.Scheduler.TaskTimeout = 5 * time.Second

	jt := &cfg.Sources.JustTCG
	jt.Enabled = true
	jt.BaseURL = baseURL
	jt.MaxRetries = 0
	jt.BackoffBaseMS = 1
	jt.RequestTimeoutMS = 2000
	jt.FailureThreshold = 50
	jt.Auth.APIKey = "jt-key"
	return cfg
}

func call(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestServiceEndToEnd(t *testing.T) {
	Convey("Given a running service backed by sqlite and a JustTCG fake", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		var hits atomic.Int32
		upstream := justTCG(&hits, http.StatusOK)
		defer upstream.Close()

		alerts := &nopAlerter{}
		svc := service.New(testConfig(upstream.URL, filepath.Join(t.TempDir(), "prices.db")), service.WithAlerter(alerts))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { So(svc.Stop(ctx), ShouldBeNil) }()
		h := api.NewServer(svc, svc).Router()

		Convey("When a card is refreshed and awaited", func() {
			rec := call(h, http.MethodPost, "/refresh/42?wait=5s", "")

			Convey("Then the quote comes back and is readable afterwards", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var task api.Task
				So(json.Unmarshal(rec.Body.Bytes(), &task), ShouldBeNil)
				So(task.Status, ShouldEqual, "succeeded")
				So(task.Price.Market, ShouldEqual, "12.50")
				So(task.Price.Source, ShouldEqual, "JUSTTCG")

				price := call(h, http.MethodGet, "/prices/42?history=5", "")
				So(price.Code, ShouldEqual, http.StatusOK)
				So(price.Body.String(), ShouldContainSubstring, `"market":"12.50"`)

				got := call(h, http.MethodGet, "/tasks/"+task.ID, "")
				So(got.Code, ShouldEqual, http.StatusOK)
			})

			Convey("Then a second request inside the dedup window reuses the task", func() {
				again := call(h, http.MethodPost, "/refresh/42?wait=5s", "")
				So(again.Code, ShouldEqual, http.StatusOK)
				So(hits.Load(), ShouldEqual, 1)
			})
		})

		Convey("When a catalog card is stored", func() {
			rec := call(h, http.MethodPut, "/cards/7", `{"name":"Charizard","condition":"Near Mint","tier":"hot"}`)
			So(rec.Code, ShouldEqual, http.StatusNoContent)

			Convey("Then it refreshes through the bulk route", func() {
				bulk := call(h, http.MethodPost, "/refresh", `{"card_ids":["7","7"]}`)
				So(bulk.Code, ShouldEqual, http.StatusAccepted)
				var resp struct {
					Tasks []api.Task `json:"tasks"`
				}
				So(json.Unmarshal(bulk.Body.Bytes(), &resp), ShouldBeNil)
				So(len(resp.Tasks), ShouldEqual, 2)
				So(resp.Tasks[0].ID, ShouldEqual, resp.Tasks[1].ID)

				wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				done, err := svc.AwaitTask(wctx, resp.Tasks[0].ID)
				So(err, ShouldBeNil)
				So(done.Status, ShouldEqual, "succeeded")
			})
		})

		Convey("Then stats describe every component", func() {
			stats := svc.GetStats(ctx)
			So(stats["started"], ShouldBeTrue)
			So(stats["workers"], ShouldEqual, 2)
			So(stats, ShouldContainKey, "sources")
			So(stats, ShouldContainKey, "scheduler")
		})

		Convey("Then an unknown card has no price yet", func() {
			So(call(h, http.MethodGet, "/prices/999", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServiceAllSourcesFail(t *testing.T) {
	Convey("Given a service whose only source is down", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		var hits atomic.Int32
		upstream := justTCG(&hits, http.StatusServiceUnavailable)
		defer upstream.Close()

		cfg := testConfig(upstream.URL, "")
		cfg.Storage.Driver = config.DriverMemory
		alerts := &nopAlerter{}
		svc := service.New(cfg, service.WithAlerter(alerts))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { So(svc.Stop(ctx), ShouldBeNil) }()
		h := api.NewServer(svc, svc).Router()

		Convey("When a refresh is awaited", func() {
			rec := call(h, http.MethodPost, "/refresh/42?wait=5s", "")

			Convey("Then pricing is unavailable and the operator is alerted", func() {
				So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(rec.Body.String(), ShouldContainSubstring, "pricing_unavailable")
				So(alerts.sent.Load(), ShouldBeGreaterThanOrEqualTo, 1)
				So(hits.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service with a broken storage path", t, func() {
		So(logger.Init(), ShouldBeNil)
		cfg := config.New()
		cfg.Storage.Driver = "mongo"
		svc := service.New(cfg)

		Convey("Then Start fails and Stop is a no-op", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
			So(svc.Stop(context.Background()), ShouldBeNil)
			So(svc.GetStats(context.Background())["started"], ShouldBeFalse)
		})
	})
}
