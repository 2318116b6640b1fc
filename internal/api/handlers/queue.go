package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/types"
)

// CycleRunner runs one queue processing cycle. Implemented by
// queue.Processor.
type CycleRunner interface {
	RunCycle(ctx context.Context) (types.CycleResult, error)
}

// QueueCycleResponse is the manual-trigger response envelope. This endpoint
// predates the APIResponse envelope and dashboard clients depend on its flat
// shape, so it is kept as-is.
type QueueCycleResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
}

// queueCycleError is the flat failure envelope for the manual trigger.
type queueCycleError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// QueueHandler exposes the manual queue trigger.
type QueueHandler struct {
	runner CycleRunner
	logger *slog.Logger
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(runner CycleRunner, l *slog.Logger) *QueueHandler {
	if l == nil {
		l = slog.Default()
	}
	return &QueueHandler{runner: runner, logger: l}
}

// RegisterRoutes mounts the queue trigger on the provided chi.Router.
func (h *QueueHandler) RegisterRoutes(r chi.Router) {
	r.Post("/queue/process", h.Process)
}

// Process handles POST /v1/queue/process: runs one delivery cycle inline and
// reports its counters. Used by the dashboard's "process now" action and by
// operators; the scheduled runners call the same cycle.
func (h *QueueHandler) Process(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.RunCycle(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual queue cycle failed", "error", err)
		core.JSON(w, r, http.StatusInternalServerError, queueCycleError{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	core.JSON(w, r, http.StatusOK, QueueCycleResponse{
		Success:   true,
		Processed: result.Processed,
		Sent:      result.Sent,
		Failed:    result.Failed,
	})
}
