package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// TaskDependencies defines the interface for task lookups.
type TaskDependencies interface {
	Task(ctx context.Context, taskID string) (Task, bool)
}

// TasksHandler handles task status requests.
type TasksHandler struct {
	deps TaskDependencies
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(deps TaskDependencies) *TasksHandler {
	return &TasksHandler{deps: deps}
}

// HandleGetTask handles GET /tasks/{taskID}.
func (h *TasksHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	task, ok := h.deps.Task(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("%w: %s", ErrTaskNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, task)
}
