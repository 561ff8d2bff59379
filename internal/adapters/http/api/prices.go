package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tcgprice/internal/domain/model"
)

const maxHistory = 500

// PriceDependencies defines the interface for price reads.
type PriceDependencies interface {
	LatestPrice(ctx context.Context, cardID string) (model.PriceQuote, error)
	PriceHistory(ctx context.Context, cardID string, limit int) ([]model.PriceHistoryEntry, error)
}

// PricesHandler handles price reads.
type PricesHandler struct {
	deps PriceDependencies
}

// NewPricesHandler creates a new prices handler.
func NewPricesHandler(deps PriceDependencies) *PricesHandler {
	return &PricesHandler{deps: deps}
}

type priceResponse struct {
	Price   *Price   `json:"price"`
	History []*Price `json:"history,omitempty"`
}

// HandleGetPrice handles GET /prices/{cardID}. ?history=N appends the N
// newest stored observations.
func (h *PricesHandler) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardID")
	limit := 0
	if raw := r.URL.Query().Get("history"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistory {
			writeError(w, http.StatusBadRequest, "bad_request",
				fmt.Errorf("%w: history must be between 1 and %d", ErrBadRequest, maxHistory))
			return
		}
		limit = n
	}

	q, err := h.deps.LatestPrice(r.Context(), cardID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := priceResponse{Price: NewPrice(q)}
	if limit > 0 {
		rows, err := h.deps.PriceHistory(r.Context(), cardID, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp.History = make([]*Price, len(rows))
		for i, row := range rows {
			resp.History[i] = NewPrice(row.Quote())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
