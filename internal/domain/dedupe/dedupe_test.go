package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/tcgprice/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestWindow(t *testing.T) {
	Convey("Given a one hour window", t, func() {
		ctx := context.Background()
		clk := &clock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
		w := dedupe.New[int](time.Hour, dedupe.WithClock(clk.now))

		Convey("When a key is claimed", func() {
			owner, ok := w.Claim(ctx, "card-1", 1)

			Convey("Then the caller owns it", func() {
				So(ok, ShouldBeTrue)
				So(owner, ShouldEqual, 1)
				So(w.Size(), ShouldEqual, 1)
			})

			Convey("Then a second claim inside the window observes the first", func() {
				clk.advance(59 * time.Minute)
				owner, ok := w.Claim(ctx, "card-1", 2)
				So(ok, ShouldBeFalse)
				So(owner, ShouldEqual, 1)
			})

			Convey("Then the key can be claimed again once the window passes", func() {
				clk.advance(time.Hour)
				owner, ok := w.Claim(ctx, "card-1", 3)
				So(ok, ShouldBeTrue)
				So(owner, ShouldEqual, 3)
				So(w.Size(), ShouldEqual, 1)
			})

			Convey("Then only the owner can release it", func() {
				w.Release(ctx, "card-1", 9)
				So(w.Size(), ShouldEqual, 1)
				w.Release(ctx, "card-1", 1)
				So(w.Size(), ShouldEqual, 0)
				_, ok := w.Claim(ctx, "card-1", 4)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When the window is bounded", func() {
			w := dedupe.New[int](time.Hour, dedupe.WithClock(clk.now), dedupe.WithMaxSize(3))
			for i := range 4 {
				_, ok := w.Claim(ctx, fmt.Sprintf("card-%d", i), i)
				So(ok, ShouldBeTrue)
			}

			Convey("Then the oldest claim is evicted", func() {
				So(w.Size(), ShouldEqual, 3)
				_, ok := w.Claim(ctx, "card-0", 10)
				So(ok, ShouldBeTrue)
				owner, ok := w.Claim(ctx, "card-3", 11)
				So(ok, ShouldBeFalse)
				So(owner, ShouldEqual, 3)
			})
		})

		Convey("When many goroutines claim the same key", func() {
			var winners atomic.Int32
			var wg sync.WaitGroup
			for i := range 100 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok := w.Claim(ctx, "hot", i); ok {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(winners.Load(), ShouldEqual, 1)
			})
		})
	})
}
