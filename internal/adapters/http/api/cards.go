package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tcgprice/internal/domain/model"
)

// CardDependencies defines the interface for catalog writes.
type CardDependencies interface {
	UpsertCard(ctx context.Context, card model.CardRef) error
}

// CardsHandler handles catalog requests.
type CardsHandler struct {
	deps CardDependencies
}

// NewCardsHandler creates a new cards handler.
func NewCardsHandler(deps CardDependencies) *CardsHandler {
	return &CardsHandler{deps: deps}
}

type cardRequest struct {
	Name        string            `json:"name"`
	Condition   string            `json:"condition"`
	Tier        string            `json:"tier"`
	ExternalIDs map[string]string `json:"external_ids"`
}

func (c cardRequest) toCard(id string) (model.CardRef, error) {
	tier, err := model.ParseTier(c.Tier)
	if err != nil {
		return model.CardRef{}, err
	}
	card := model.CardRef{ID: id, Name: c.Name, Condition: c.Condition, Tier: tier}
	if len(c.ExternalIDs) > 0 {
		card.ExternalIDs = make(map[model.SourceID]string, len(c.ExternalIDs))
		for k, v := range c.ExternalIDs {
			src, err := model.ParseSourceID(k)
			if err != nil {
				return model.CardRef{}, err
			}
			card.ExternalIDs[src] = v
		}
	}
	return card, nil
}

// HandlePutCard handles PUT /cards/{cardID}.
func (h *CardsHandler) HandlePutCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cardID")
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	card, err := req.toCard(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := h.deps.UpsertCard(r.Context(), card); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
