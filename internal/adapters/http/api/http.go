// Package api exposes refresh scheduling and price reads over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/tcgprice/internal/adapters/http/swagger"
	"github.com/okian/tcgprice/internal/adapters/mq/queue"
	"github.com/okian/tcgprice/internal/adapters/repository"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/pricing"
	"github.com/okian/tcgprice/internal/domain/scheduler"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// RefreshCard schedules a refresh; duplicates inside the dedup window
	// return the task already in flight.
	RefreshCard(ctx context.Context, cardID string) (Task, error)
	RefreshCards(ctx context.Context, cardIDs []string) ([]Task, error)

	// Task looks a task up by id.
	Task(ctx context.Context, taskID string) (Task, bool)
	// AwaitTask blocks until the task completes or ctx ends, then returns its view.
	AwaitTask(ctx context.Context, taskID string) (Task, error)

	LatestPrice(ctx context.Context, cardID string) (model.PriceQuote, error)
	PriceHistory(ctx context.Context, cardID string, limit int) ([]model.PriceHistoryEntry, error)

	UpsertCard(ctx context.Context, card model.CardRef) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	refreshHandler *RefreshHandler
	tasksHandler   *TasksHandler
	pricesHandler  *PricesHandler
	cardsHandler   *CardsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		refreshHandler: NewRefreshHandler(deps),
		tasksHandler:   NewTasksHandler(deps),
		pricesHandler:  NewPricesHandler(deps),
		cardsHandler:   NewCardsHandler(deps),
	}
}

// Router builds the chi router with every route registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	s.Register(r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Post("/refresh", MetricsMiddleware(s.refreshHandler.HandleBulk, "refresh_bulk"))
	r.Post("/refresh/{cardID}", MetricsMiddleware(s.refreshHandler.HandleSingle, "refresh"))
	r.Get("/tasks/{taskID}", MetricsMiddleware(s.tasksHandler.HandleGetTask, "tasks"))
	r.Get("/prices/{cardID}", MetricsMiddleware(s.pricesHandler.HandleGetPrice, "prices"))
	r.Put("/cards/{cardID}", MetricsMiddleware(s.cardsHandler.HandlePutCard, "cards"))
	swagger.Register(r)
}

// Price is the wire shape of a quote. Amounts are fixed to cents.
type Price struct {
	CardID     string    `json:"card_id"`
	Source     string    `json:"source"`
	Market     string    `json:"market"`
	Low        string    `json:"low"`
	High       string    `json:"high"`
	Avg        string    `json:"avg"`
	Currency   string    `json:"currency"`
	Condition  string    `json:"condition,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	Stale      bool      `json:"stale"`
}

// NewPrice converts a quote into its wire shape.
func NewPrice(q model.PriceQuote) *Price {
	return &Price{
		CardID:     q.CardID,
		Source:     q.Source.String(),
		Market:     q.Market.StringFixed(2),
		Low:        q.Low.StringFixed(2),
		High:       q.High.StringFixed(2),
		Avg:        q.Avg.StringFixed(2),
		Currency:   q.Currency,
		Condition:  q.Condition,
		ObservedAt: q.ObservedAt,
		Stale:      q.Stale,
	}
}

// Task is the wire shape of a scheduled refresh.
type Task struct {
	ID          string     `json:"task_id"`
	CardID      string     `json:"card_id"`
	Status      string     `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Price       *Price     `json:"price,omitempty"`
	Error       string     `json:"error,omitempty"`

	// Err is the refresh error of a failed task.
	Err error `json:"-"`
}

// NewTask snapshots a scheduler handle.
func NewTask(h *scheduler.Handle) Task {
	t := Task{
		ID:         h.ID,
		CardID:     h.CardID,
		Status:     string(h.Status()),
		EnqueuedAt: h.EnqueuedAt,
	}
	q, done, err := h.Result()
	if !done {
		return t
	}
	at := h.CompletedAt()
	t.CompletedAt = &at
	if err != nil {
		t.Err = err
		t.Error = err.Error()
		return t
	}
	t.Price = NewPrice(q)
	return t
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps domain failures onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, scheduler.ErrEmptyCardID),
		errors.Is(err, pricing.ErrEmptyCardID),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, repository.ErrEmptyCardID):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, model.ErrCardNotFound),
		errors.Is(err, ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, pricing.ErrAllSourcesFailed):
		writeError(w, http.StatusServiceUnavailable, "pricing_unavailable", err)
	case scheduler.IsRejected(err):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
