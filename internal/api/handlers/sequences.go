package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/types"
)

// SequenceStore is the data access contract for sequence operations.
type SequenceStore interface {
	List(ctx context.Context, userID string) ([]*types.Sequence, error)
	Get(ctx context.Context, userID, id string) (*types.Sequence, error)
	Create(ctx context.Context, s *types.Sequence) error
	Update(ctx context.Context, s *types.Sequence) error
	Delete(ctx context.Context, userID, id string) error
}

// SequenceStepRequest is one step in a sequence create/update payload.
type SequenceStepRequest struct {
	Order      int    `json:"order" validate:"min=0"`
	DelayHours int    `json:"delay_hours" validate:"min=0"`
	Subject    string `json:"subject" validate:"required"`
	Body       string `json:"body" validate:"required"`
}

// CreateSequenceRequest is the request body for POST /v1/sequences.
type CreateSequenceRequest struct {
	Name  string                `json:"name" validate:"required"`
	Steps []SequenceStepRequest `json:"steps" validate:"required,min=1,dive"`
}

// UpdateSequenceRequest is the request body for PATCH /v1/sequences/{id}.
// Providing Steps replaces the full step list.
type UpdateSequenceRequest struct {
	Name   *string               `json:"name,omitempty"`
	Status *types.SequenceStatus `json:"status,omitempty" validate:"omitempty,oneof=active paused"`
	Steps  []SequenceStepRequest `json:"steps,omitempty" validate:"omitempty,min=1,dive"`
}

// SequenceHandler manages the drip sequence CRUD surface.
type SequenceHandler struct {
	store     SequenceStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewSequenceHandler creates a SequenceHandler.
func NewSequenceHandler(store SequenceStore, v *core.Validator, l *slog.Logger) *SequenceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SequenceHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts sequence routes on the provided chi.Router.
func (h *SequenceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sequences", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// List handles GET /v1/sequences.
func (h *SequenceHandler) List(w http.ResponseWriter, r *http.Request) {
	sequences, err := h.store.List(r.Context(), types.GetUserID(r.Context()))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sequences})
}

// Get handles GET /v1/sequences/{id}.
func (h *SequenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	seq, err := h.store.Get(r.Context(), types.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: seq})
}

// Create handles POST /v1/sequences. Steps are created with the sequence.
func (h *SequenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSequenceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	seq := &types.Sequence{
		UserID: types.GetUserID(r.Context()),
		Name:   req.Name,
		Status: types.SequenceActive,
		Steps:  stepsFromRequest(req.Steps),
	}
	if err := h.store.Create(r.Context(), seq); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: seq})
}

// Update handles PATCH /v1/sequences/{id}. A steps payload replaces the
// whole step list; pending jobs referencing removed steps fail terminally
// with a content-missing reason on their next attempt.
func (h *SequenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSequenceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID := types.GetUserID(r.Context())
	current, err := h.store.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.Status != nil {
		current.Status = *req.Status
	}
	if req.Steps != nil {
		current.Steps = stepsFromRequest(req.Steps)
	}

	if err := h.store.Update(r.Context(), current); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: current})
}

// Delete handles DELETE /v1/sequences/{id}.
func (h *SequenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := types.GetUserID(r.Context())
	if err := h.store.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func stepsFromRequest(in []SequenceStepRequest) []types.SequenceStep {
	steps := make([]types.SequenceStep, len(in))
	for i, s := range in {
		steps[i] = types.SequenceStep{
			Order:      s.Order,
			DelayHours: s.DelayHours,
			Subject:    s.Subject,
			Body:       s.Body,
		}
	}
	return steps
}
