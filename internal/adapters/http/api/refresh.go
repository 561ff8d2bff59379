package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	maxBulkCards = 1000
	maxWait      = 2 * time.Minute
)

// RefreshDependencies defines what refresh handlers need.
type RefreshDependencies interface {
	RefreshCard(ctx context.Context, cardID string) (Task, error)
	RefreshCards(ctx context.Context, cardIDs []string) ([]Task, error)
	AwaitTask(ctx context.Context, taskID string) (Task, error)
}

// RefreshHandler handles refresh requests.
type RefreshHandler struct {
	deps RefreshDependencies
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(deps RefreshDependencies) *RefreshHandler {
	return &RefreshHandler{deps: deps}
}

type bulkRequest struct {
	CardIDs []string `json:"card_ids"`
}

func (b bulkRequest) validate() error {
	switch {
	case len(b.CardIDs) == 0:
		return errors.New("missing card_ids")
	case len(b.CardIDs) > maxBulkCards:
		return fmt.Errorf("at most %d card_ids per request", maxBulkCards)
	}
	for _, id := range b.CardIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("card_ids must not contain empty ids")
		}
	}
	return nil
}

type bulkResponse struct {
	Tasks []Task `json:"tasks"`
}

// HandleSingle handles POST /refresh/{cardID}. With ?wait=<duration> it
// blocks for the result up to that long (capped at two minutes).
func (h *RefreshHandler) HandleSingle(w http.ResponseWriter, r *http.Request) {
	cardID := strings.TrimSpace(chi.URLParam(r, "cardID"))
	if cardID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing card id", ErrBadRequest))
		return
	}
	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	task, err := h.deps.RefreshCard(r.Context(), cardID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if wait == 0 {
		writeJSON(w, http.StatusAccepted, task)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	done, err := h.deps.AwaitTask(ctx, task.ID)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusAccepted, task)
	case err != nil:
		writeDomainError(w, err)
	case done.Err != nil:
		writeDomainError(w, done.Err)
	default:
		writeJSON(w, http.StatusOK, done)
	}
}

// HandleBulk handles POST /refresh with a JSON list of card ids.
func (h *RefreshHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	tasks, err := h.deps.RefreshCards(r.Context(), req.CardIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, bulkResponse{Tasks: tasks})
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: invalid wait %q", ErrBadRequest, raw)
	}
	return min(d, maxWait), nil
}
