package alert_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/internal/domain/retry"
	"github.com/okian/tcgprice/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingAlerter struct {
	got []alert.Alert
	err error
}

func (r *recordingAlerter) Notify(_ context.Context, a alert.Alert) error {
	r.got = append(r.got, a)
	return r.err
}

func TestMultiAlerter(t *testing.T) {
	Convey("Given a fan-out alerter", t, func() {
		So(logger.Init(), ShouldBeNil)
		ok := &recordingAlerter{}
		bad := &recordingAlerter{err: errors.New("down")}
		m := alert.Multi{ok, nil, bad, alert.NewLogAlerter(), alert.Nop{}}

		Convey("When notifying", func() {
			err := m.Notify(context.Background(), alert.Alert{Severity: alert.SeverityCritical, Title: "auth failed"})

			Convey("Then every alerter is called and errors are joined", func() {
				So(len(ok.got), ShouldEqual, 1)
				So(len(bad.got), ShouldEqual, 1)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "down")
			})
		})
	})
}

func TestTelegramAlerter(t *testing.T) {
	Convey("Given a Telegram alerter against a fake Bot API", t, func() {
		So(logger.Init(), ShouldBeNil)
		var calls atomic.Int32
		var mu sync.Mutex
		var lastPath, lastText string
		var failFirst atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			mu.Lock()
			lastPath, lastText = r.URL.Path, payload["text"]
			mu.Unlock()
			if n <= failFirst.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		a := alert.NewTelegramAlerter("123:secret-token", "chat-1",
			alert.WithAPIBase(srv.URL),
			alert.WithRetryPolicy(retry.FromRetries(2, retry.Constant(time.Millisecond), func(error) bool { return true })),
		)
		msg := alert.Alert{Severity: alert.SeverityCritical, Source: "EBAY", Title: "auth <failed>", Message: "status 401"}

		Convey("When the API accepts the message", func() {
			err := a.Notify(context.Background(), msg)

			Convey("Then one escaped HTML message is posted", func() {
				mu.Lock()
				defer mu.Unlock()
				So(err, ShouldBeNil)
				So(calls.Load(), ShouldEqual, 1)
				So(lastPath, ShouldEqual, "/bot123:secret-token/sendMessage")
				So(lastText, ShouldContainSubstring, "[CRITICAL] auth &lt;failed&gt;")
				So(lastText, ShouldContainSubstring, "<code>EBAY</code>")
			})
		})

		Convey("When the API fails twice then succeeds", func() {
			failFirst.Store(2)
			err := a.Notify(context.Background(), msg)

			Convey("Then the alerter retries", func() {
				So(err, ShouldBeNil)
				So(calls.Load(), ShouldEqual, 3)
			})
		})

		Convey("When the API keeps failing", func() {
			failFirst.Store(100)
			err := a.Notify(context.Background(), msg)

			Convey("Then the error reports exhaustion", func() {
				So(errors.Is(err, alert.ErrTelegram), ShouldBeTrue)
				So(calls.Load(), ShouldEqual, 3)
			})
		})
	})

	Convey("Given an unreachable Bot API", t, func() {
		So(logger.Init(), ShouldBeNil)
		a := alert.NewTelegramAlerter("123:secret-token", "chat-1",
			alert.WithAPIBase("http://127.0.0.1:1"),
			alert.WithRetryPolicy(retry.Policy{MaxAttempts: 1}),
		)

		Convey("Then transport errors never include the bot token", func() {
			err := a.Notify(context.Background(), alert.Alert{Title: "x"})
			So(err, ShouldNotBeNil)
			So(strings.Contains(err.Error(), "secret-token"), ShouldBeFalse)
		})
	})
}
