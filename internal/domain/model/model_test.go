package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/okian/tcgprice/internal/domain/model"
	"github.com/shopspring/decimal"
	"github.com/smartystreets/goconvey/convey"
)

func TestSourceID(t *testing.T) {
	convey.Convey("Given source names", t, func() {
		convey.Convey("When parsing known names in any case", func() {
			for in, want := range map[string]model.SourceID{
				"ebay":          model.SourceEBay,
				" JustTCG ":     model.SourceJustTCG,
				"TCGPLAYER":     model.SourceTCGPlayer,
				"pricecharting": model.SourcePriceCharting,
			} {
				got, err := model.ParseSourceID(in)
				convey.So(err, convey.ShouldBeNil)
				convey.So(got, convey.ShouldEqual, want)
			}
		})

		convey.Convey("When parsing an unknown name", func() {
			_, err := model.ParseSourceID("amazon")

			convey.Convey("Then it should be rejected", func() {
				convey.So(errors.Is(err, model.ErrUnknownSource), convey.ShouldBeTrue)
			})
		})

		convey.Convey("Then Key lower-cases the id", func() {
			convey.So(model.SourceJustTCG.Key(), convey.ShouldEqual, "justtcg")
			convey.So(len(model.AllSources()), convey.ShouldEqual, 4)
		})
	})
}

func TestTier(t *testing.T) {
	convey.Convey("Given tier names", t, func() {
		tier, err := model.ParseTier("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(tier, convey.ShouldEqual, model.TierWarm)

		tier, err = model.ParseTier("HOT")
		convey.So(err, convey.ShouldBeNil)
		convey.So(tier, convey.ShouldEqual, model.TierHot)

		_, err = model.ParseTier("lukewarm")
		convey.So(errors.Is(err, model.ErrUnknownTier), convey.ShouldBeTrue)
	})
}

func TestCardRef(t *testing.T) {
	convey.Convey("Given a card with one external id", t, func() {
		card := model.CardRef{
			ID:          "42",
			Name:        "Black Lotus",
			ExternalIDs: map[model.SourceID]string{model.SourceTCGPlayer: "tcg-1"},
		}

		convey.Convey("Then the mapped source uses its external id", func() {
			convey.So(card.IdentifierFor(model.SourceTCGPlayer), convey.ShouldEqual, "tcg-1")
		})

		convey.Convey("Then other sources fall back to the card id", func() {
			convey.So(card.IdentifierFor(model.SourceJustTCG), convey.ShouldEqual, "42")
		})

		convey.Convey("Then search terms prefer the name over the id", func() {
			convey.So(card.SearchTerm(model.SourceEBay), convey.ShouldEqual, "Black Lotus")
		})
	})
}

func TestQuoteHistoryRoundTrip(t *testing.T) {
	convey.Convey("Given a quote", t, func() {
		observed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		q := model.PriceQuote{
			CardID:   "42",
			Source:   model.SourceJustTCG,
			Market:   decimal.RequireFromString("12.50"),
			Low:      decimal.RequireFromString("10"),
			High:     decimal.RequireFromString("15"),
			Avg:      decimal.RequireFromString("12"),
			Currency: "USD",
			Stale:    true,
		}

		convey.Convey("When it becomes a history entry and back", func() {
			back := q.HistoryEntry(observed).Quote()

			convey.Convey("Then the prices survive and staleness does not", func() {
				convey.So(back.Market.Equal(q.Market), convey.ShouldBeTrue)
				convey.So(back.Source, convey.ShouldEqual, model.SourceJustTCG)
				convey.So(back.ObservedAt, convey.ShouldEqual, observed)
				convey.So(back.Stale, convey.ShouldBeFalse)
			})
		})
	})
}
