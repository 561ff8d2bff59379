package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/config"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeExec returns a canned body and records the last request.
type fakeExec struct {
	body   string
	err    error
	source model.SourceID
	req    *httpclient.Request
}

func (f *fakeExec) Execute(_ context.Context, source model.SourceID, req *httpclient.Request, _ httpclient.AuthStrategy) (*httpclient.Response, error) {
	f.source, f.req = source, req
	if f.err != nil {
		return nil, f.err
	}
	return &httpclient.Response{StatusCode: 200, Body: []byte(f.body)}, nil
}

var fixed = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func shouldEqualMoney(actual any, expected ...any) string {
	a, e := actual.(decimal.Decimal), expected[0].(string)
	if a.Equal(d(e)) {
		return ""
	}
	return "expected " + e + " but got " + a.String()
}

func TestPriceCharting(t *testing.T) {
	Convey("Given a PriceCharting adapter", t, func() {
		So(logger.Init(), ShouldBeNil)
		exec := &fakeExec{}
		a := NewPriceCharting(exec, "https://pc.example", WithClock(func() time.Time { return fixed }))
		card := model.CardRef{ID: "42", ExternalIDs: map[model.SourceID]string{model.SourcePriceCharting: "pc-9"}}

		Convey("When prices are loose 10, complete 25, new 35 in cents", func() {
			exec.body = `{"status":"success","loose_price":1000,"complete_price":2500,"new_price":3500,"graded_price":12000}`
			q, err := a.GetPrice(context.Background(), card)

			Convey("Then graded is excluded and avg is rounded to cents", func() {
				So(err, ShouldBeNil)
				So(q.Source, ShouldEqual, model.SourcePriceCharting)
				So(q.CardID, ShouldEqual, "42")
				So(q.Market, shouldEqualMoney, "25.00")
				So(q.Low, shouldEqualMoney, "10.00")
				So(q.High, shouldEqualMoney, "35.00")
				So(q.Avg, shouldEqualMoney, "23.33")
				So(q.Currency, ShouldEqual, "USD")
				So(q.ObservedAt, ShouldEqual, fixed)
				So(exec.req.Query.Get("id"), ShouldEqual, "pc-9")
			})
		})

		Convey("When the API's hyphenated cent fields are returned", func() {
			exec.body = `{"status":"success","loose-price":1732,"cib-price":2599,"new-price":4100,"graded-price":9999}`
			q, err := a.GetPrice(context.Background(), card)

			Convey("Then cib maps to market and every price is in dollars", func() {
				So(err, ShouldBeNil)
				So(q.Market, shouldEqualMoney, "25.99")
				So(q.Low, shouldEqualMoney, "17.32")
				So(q.High, shouldEqualMoney, "41.00")
				So(q.Avg, shouldEqualMoney, "28.10")
			})
		})

		Convey("When complete_price is missing", func() {
			exec.body = `{"status":"success","loose_price":1000,"new_price":3500}`
			_, err := a.GetPrice(context.Background(), card)

			Convey("Then the response is malformed rather than zero", func() {
				So(errors.Is(err, ErrMalformedResponse), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "complete_price")
			})
		})

		Convey("When the product is unknown", func() {
			exec.body = `{"status":"error","error-message":"No such product"}`
			_, err := a.GetPrice(context.Background(), card)

			Convey("Then no price is reported", func() {
				So(errors.Is(err, ErrNoPrice), ShouldBeTrue)
			})
		})

		Convey("When the body is not JSON", func() {
			exec.body = `<html>`
			_, err := a.GetPrice(context.Background(), card)
			So(errors.Is(err, ErrMalformedResponse), ShouldBeTrue)
		})
	})
}

func TestJustTCG(t *testing.T) {
	Convey("Given a JustTCG adapter", t, func() {
		So(logger.Init(), ShouldBeNil)
		exec := &fakeExec{}
		a := NewJustTCG(exec, "https://jt.example")

		Convey("When several conditions are returned", func() {
			exec.body = `{"data":[
				{"condition":"Lightly Played","market_price":9.10,"low_price":8,"high_price":11,"mid_price":9.5},
				{"condition":"Near Mint","currency":"USD","market_price":12.50,"low_price":10.00,"high_price":15.00,"mid_price":12.75}
			]}`
			q, err := a.GetPrice(context.Background(), model.CardRef{ID: "42", Condition: "near mint"})

			Convey("Then the matching condition maps one to one", func() {
				So(err, ShouldBeNil)
				So(q.Source, ShouldEqual, model.SourceJustTCG)
				So(q.Market, shouldEqualMoney, "12.50")
				So(q.Low, shouldEqualMoney, "10.00")
				So(q.High, shouldEqualMoney, "15.00")
				So(q.Avg, shouldEqualMoney, "12.75")
				So(q.Condition, ShouldEqual, "Near Mint")
				So(exec.req.URL, ShouldEqual, "https://jt.example/cards")
				So(exec.req.Query.Get("cardId"), ShouldEqual, "42")
			})
		})

		Convey("When mid_price is null", func() {
			exec.body = `{"data":[{"market_price":12.50,"low_price":10,"high_price":15,"mid_price":null}]}`
			_, err := a.GetPrice(context.Background(), model.CardRef{ID: "42"})
			So(errors.Is(err, ErrMalformedResponse), ShouldBeTrue)
		})

		Convey("When a price is negative", func() {
			exec.body = `{"data":[{"market_price":-1,"low_price":10,"high_price":15,"mid_price":12}]}`
			_, err := a.GetPrice(context.Background(), model.CardRef{ID: "42"})
			So(errors.Is(err, ErrMalformedResponse), ShouldBeTrue)
		})

		Convey("When data is empty", func() {
			exec.body = `{"data":[]}`
			_, err := a.GetPrice(context.Background(), model.CardRef{ID: "42"})
			So(errors.Is(err, ErrNoPrice), ShouldBeTrue)
		})

		Convey("When the client fails", func() {
			exec.err = httpclient.ErrTransient
			_, err := a.GetPrice(context.Background(), model.CardRef{ID: "42"})
			So(errors.Is(err, httpclient.ErrTransient), ShouldBeTrue)
		})
	})
}

func TestTCGPlayer(t *testing.T) {
	Convey("Given a TCGPlayer adapter", t, func() {
		So(logger.Init(), ShouldBeNil)
		exec := &fakeExec{}
		a := NewTCGPlayer(exec, "https://tcg.example")
		card := model.CardRef{ID: "42", ExternalIDs: map[model.SourceID]string{model.SourceTCGPlayer: "8812"}}

		Convey("When midPrice is absent", func() {
			exec.body = `{"success":true,"errors":[],"results":[
				{"productId":8812,"subTypeName":"Foil","lowPrice":null,"marketPrice":null},
				{"productId":8812,"subTypeName":"Normal","lowPrice":4.00,"highPrice":9.01,"marketPrice":6.20}
			]}`
			q, err := a.GetPrice(context.Background(), card)

			Convey("Then avg is the midpoint of low and high", func() {
				So(err, ShouldBeNil)
				So(q.Market, shouldEqualMoney, "6.20")
				So(q.Low, shouldEqualMoney, "4.00")
				So(q.High, shouldEqualMoney, "9.01")
				So(q.Avg, shouldEqualMoney, "6.51")
				So(exec.req.URL, ShouldEqual, "https://tcg.example/pricing/product/8812")
			})
		})

		Convey("When midPrice is present", func() {
			exec.body = `{"success":true,"results":[{"lowPrice":4,"midPrice":5.5,"highPrice":9,"marketPrice":6}]}`
			q, err := a.GetPrice(context.Background(), card)
			So(err, ShouldBeNil)
			So(q.Avg, shouldEqualMoney, "5.50")
		})

		Convey("When the market price is missing everywhere", func() {
			exec.body = `{"success":true,"results":[{"lowPrice":4,"highPrice":9}]}`
			_, err := a.GetPrice(context.Background(), card)
			So(errors.Is(err, ErrMalformedResponse), ShouldBeTrue)
		})

		Convey("When the API reports an error", func() {
			exec.body = `{"success":false,"errors":["No products were found."],"results":[]}`
			_, err := a.GetPrice(context.Background(), card)
			So(errors.Is(err, ErrNoPrice), ShouldBeTrue)
		})
	})
}

func TestEBay(t *testing.T) {
	Convey("Given an eBay adapter", t, func() {
		So(logger.Init(), ShouldBeNil)
		exec := &fakeExec{}
		a := NewEBay(exec, "https://ebay.example", WithSampleSize(4))

		Convey("When listings are sampled", func() {
			exec.body = `{"total":6,"itemSummaries":[
				{"itemId":"1","price":{"value":"10.00","currency":"USD"}},
				{"itemId":"2","price":{"value":"30.00","currency":"USD"}},
				{"itemId":"3"},
				{"itemId":"4","price":{"value":"9.00","currency":"GBP"}},
				{"itemId":"5","price":{"value":"14.00","currency":"USD"}},
				{"itemId":"6","price":{"value":"20.00","currency":"USD"}},
				{"itemId":"7","price":{"value":"99.00","currency":"USD"}}
			]}`
			q, err := a.GetPrice(context.Background(), model.CardRef{ID: "42", Name: "Charizard Base Set"})

			Convey("Then median, min, max and mean of the sample are reported", func() {
				So(err, ShouldBeNil)
				So(q.Market, shouldEqualMoney, "17.00")
				So(q.Low, shouldEqualMoney, "10.00")
				So(q.High, shouldEqualMoney, "30.00")
				So(q.Avg, shouldEqualMoney, "18.50")
				So(exec.req.Query.Get("q"), ShouldEqual, "Charizard Base Set")
				So(exec.req.Query.Get("limit"), ShouldEqual, "4")
			})
		})

		Convey("When a listing price is not a number", func() {
			exec.body = `{"total":1,"itemSummaries":[{"itemId":"1","price":{"value":"abc","currency":"USD"}}]}`
			_, err := a.GetPrice(context.Background(), model.CardRef{ID: "42"})
			So(errors.Is(err, ErrMalformedResponse), ShouldBeTrue)
		})

		Convey("When there are no listings", func() {
			exec.body = `{"total":0}`
			_, err := a.GetPrice(context.Background(), model.CardRef{ID: "42"})
			So(errors.Is(err, ErrNoPrice), ShouldBeTrue)
		})
	})
}

func TestNormalize(t *testing.T) {
	Convey("Given inconsistent source amounts", t, func() {
		p := prices{market: d("5"), low: d("9"), high: d("4"), avg: d("12.345")}.normalize()

		Convey("Then bounds are ordered and avg is clamped", func() {
			So(p.low, shouldEqualMoney, "4")
			So(p.high, shouldEqualMoney, "9")
			So(p.avg, shouldEqualMoney, "9")
			So(p.market, shouldEqualMoney, "5")
		})

		Convey("Then median handles even samples", func() {
			So(median([]decimal.Decimal{d("4"), d("1"), d("3"), d("2")}), shouldEqualMoney, "2.5")
			So(median([]decimal.Decimal{d("7")}), shouldEqualMoney, "7")
		})
	})
}

func TestFromConfig(t *testing.T) {
	Convey("Given a config with two enabled sources", t, func() {
		So(logger.Init(), ShouldBeNil)
		cfg := config.New()
		cfg.Sources.JustTCG.Enabled = true
		cfg.Sources.TCGPlayer.Enabled = true
		cfg.Sources.TCGPlayer.Auth.ClientID = "id"

		adapters, err := FromConfig(cfg, &fakeExec{}, nil)

		Convey("Then only those adapters are built", func() {
			So(err, ShouldBeNil)
			So(len(adapters), ShouldEqual, 2)
			So(adapters[model.SourceJustTCG].Source(), ShouldEqual, model.SourceJustTCG)
			So(adapters[model.SourceTCGPlayer].Source(), ShouldEqual, model.SourceTCGPlayer)
		})

		Convey("Then an unknown auth type is rejected", func() {
			_, err := AuthFromConfig(config.AuthConfig{Type: "kerberos"}, nil)
			So(err, ShouldNotBeNil)
		})
	})
}
