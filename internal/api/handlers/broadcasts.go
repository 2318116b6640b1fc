package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/types"
)

// BroadcastStore is the data access contract for broadcast operations.
type BroadcastStore interface {
	List(ctx context.Context, userID string) ([]*types.Broadcast, error)
	Get(ctx context.Context, userID, id string) (*types.Broadcast, error)
	Create(ctx context.Context, b *types.Broadcast) error
	Update(ctx context.Context, b *types.Broadcast) error
	Delete(ctx context.Context, userID, id string) error
	Send(ctx context.Context, userID, id string, now time.Time) error
}

// CreateBroadcastRequest is the request body for POST /v1/broadcasts.
type CreateBroadcastRequest struct {
	Subject         string                `json:"subject" validate:"required"`
	Body            string                `json:"body" validate:"required"`
	ScheduledFor    *time.Time            `json:"scheduled_for,omitempty"`
	RecipientFilter types.RecipientFilter `json:"recipient_filter"`
	IsABTest        bool                  `json:"is_ab_test,omitempty"`
	SubjectB        string                `json:"subject_b,omitempty"`
	TestSizePercent int                   `json:"test_size_percent,omitempty" validate:"omitempty,min=1,max=50"`
	WinnerMetric    string                `json:"winner_metric,omitempty" validate:"omitempty,oneof=opens clicks"`
	WaitTimeHours   int                   `json:"wait_time_hours,omitempty" validate:"omitempty,min=1,max=72"`
}

// UpdateBroadcastRequest is the request body for PATCH /v1/broadcasts/{id}.
type UpdateBroadcastRequest struct {
	Subject         *string                `json:"subject,omitempty"`
	Body            *string                `json:"body,omitempty"`
	ScheduledFor    *time.Time             `json:"scheduled_for,omitempty"`
	RecipientFilter *types.RecipientFilter `json:"recipient_filter,omitempty"`
	SubjectB        *string                `json:"subject_b,omitempty"`
}

// BroadcastHandler manages the broadcast CRUD and send surface.
type BroadcastHandler struct {
	store     BroadcastStore
	validator *core.Validator
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewBroadcastHandler creates a BroadcastHandler.
func NewBroadcastHandler(store BroadcastStore, v *core.Validator, l *slog.Logger) *BroadcastHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BroadcastHandler{store: store, validator: v, logger: l, nowFn: time.Now}
}

// RegisterRoutes mounts broadcast routes on the provided chi.Router.
func (h *BroadcastHandler) RegisterRoutes(r chi.Router) {
	r.Route("/broadcasts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/send", h.SendNow)
		})
	})
}

// List handles GET /v1/broadcasts.
func (h *BroadcastHandler) List(w http.ResponseWriter, r *http.Request) {
	broadcasts, err := h.store.List(r.Context(), types.GetUserID(r.Context()))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: broadcasts})
}

// Get handles GET /v1/broadcasts/{id}.
func (h *BroadcastHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.Get(r.Context(), types.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: b})
}

// Create handles POST /v1/broadcasts. A broadcast with a schedule is created
// 'scheduled' and picked up by the queue materializer when due; without one
// it stays 'draft'.
func (h *BroadcastHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBroadcastRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	status := types.BroadcastDraft
	if req.ScheduledFor != nil {
		status = types.BroadcastScheduled
	}

	b := &types.Broadcast{
		UserID:          types.GetUserID(r.Context()),
		Subject:         req.Subject,
		Body:            req.Body,
		Status:          status,
		ScheduledFor:    req.ScheduledFor,
		RecipientFilter: req.RecipientFilter,
		IsABTest:        req.IsABTest,
		SubjectB:        req.SubjectB,
		TestSizePercent: req.TestSizePercent,
		WinnerMetric:    req.WinnerMetric,
		WaitTimeHours:   req.WaitTimeHours,
	}
	if err := h.store.Create(r.Context(), b); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: b})
}

// Update handles PATCH /v1/broadcasts/{id}.
func (h *BroadcastHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateBroadcastRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID := types.GetUserID(r.Context())
	current, err := h.store.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Subject != nil {
		current.Subject = *req.Subject
	}
	if req.Body != nil {
		current.Body = *req.Body
	}
	if req.ScheduledFor != nil {
		current.ScheduledFor = req.ScheduledFor
		if current.Status == types.BroadcastDraft {
			current.Status = types.BroadcastScheduled
		}
	}
	if req.RecipientFilter != nil {
		current.RecipientFilter = *req.RecipientFilter
	}
	if req.SubjectB != nil {
		current.SubjectB = *req.SubjectB
	}

	if err := h.store.Update(r.Context(), current); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: current})
}

// Delete handles DELETE /v1/broadcasts/{id}.
func (h *BroadcastHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := types.GetUserID(r.Context())
	if err := h.store.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendNow handles POST /v1/broadcasts/{id}/send: schedules a draft or
// scheduled broadcast for immediate delivery. The next queue cycle
// materializes it into jobs.
func (h *BroadcastHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	userID := types.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.store.Send(r.Context(), userID, id, h.nowFn().UTC()); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "broadcast queued for send", "broadcast_id", id, "user_id", userID)

	b, err := h.store.Get(r.Context(), userID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: b})
}
