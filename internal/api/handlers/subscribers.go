// Package handlers contains the HTTP handler implementations for the Plainly
// API. Each handler depends on narrow, locally defined interfaces mirroring
// the repository methods it uses, and registers its own routes on the v1
// router.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/types"
)

// SubscriberStore is the data access contract for subscriber operations.
type SubscriberStore interface {
	List(ctx context.Context, userID string) ([]*types.Subscriber, error)
	Get(ctx context.Context, userID, id string) (*types.Subscriber, error)
	Create(ctx context.Context, s *types.Subscriber) error
	Update(ctx context.Context, s *types.Subscriber) error
	Delete(ctx context.Context, userID, id string) error
	Import(ctx context.Context, userID string, batch []*types.Subscriber) (int, error)
	Enroll(ctx context.Context, userID, subscriberID, sequenceID string) error
}

// CreateSubscriberRequest is the request body for POST /v1/subscribers.
type CreateSubscriberRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	FirstName string   `json:"first_name,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// UpdateSubscriberRequest is the request body for PATCH /v1/subscribers/{id}.
// Nil fields are left unchanged.
type UpdateSubscriberRequest struct {
	Email     *string                 `json:"email,omitempty" validate:"omitempty,email"`
	FirstName *string                 `json:"first_name,omitempty"`
	Tags      *[]string               `json:"tags,omitempty"`
	Status    *types.SubscriberStatus `json:"status,omitempty" validate:"omitempty,oneof=active unsubscribed bounced"`
}

// ImportSubscribersRequest is the request body for POST /v1/subscribers/import.
type ImportSubscribersRequest struct {
	Subscribers []CreateSubscriberRequest `json:"subscribers" validate:"required,min=1,max=1000,dive"`
}

// ImportSubscribersResponse reports how many rows the import wrote.
type ImportSubscribersResponse struct {
	Imported int `json:"imported"`
}

// EnrollRequest is the request body for POST /v1/subscribers/{id}/enroll.
type EnrollRequest struct {
	SequenceID string `json:"sequence_id" validate:"required"`
}

// SubscriberHandler manages the subscriber CRUD surface.
type SubscriberHandler struct {
	store     SubscriberStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscriberHandler creates a SubscriberHandler.
func NewSubscriberHandler(store SubscriberStore, v *core.Validator, l *slog.Logger) *SubscriberHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriberHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts subscriber routes on the provided chi.Router.
func (h *SubscriberHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscribers", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/import", h.Import)

		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/enroll", h.Enroll)
		})
	})
}

// List handles GET /v1/subscribers.
func (h *SubscriberHandler) List(w http.ResponseWriter, r *http.Request) {
	subscribers, err := h.store.List(r.Context(), types.GetUserID(r.Context()))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: subscribers})
}

// Create handles POST /v1/subscribers.
func (h *SubscriberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriberRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub := &types.Subscriber{
		UserID:    types.GetUserID(r.Context()),
		Email:     req.Email,
		FirstName: req.FirstName,
		Tags:      req.Tags,
		Status:    types.SubscriberActive,
	}
	if err := h.store.Create(r.Context(), sub); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: sub})
}

// Update handles PATCH /v1/subscribers/{id}. The handler applies the patch
// to the current row so omitted fields keep their values.
func (h *SubscriberHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubscriberRequest
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

	if req.Email != nil {
		current.Email = *req.Email
	}
	if req.FirstName != nil {
		current.FirstName = *req.FirstName
	}
	if req.Tags != nil {
		current.Tags = *req.Tags
	}
	if req.Status != nil {
		current.Status = *req.Status
	}

	if err := h.store.Update(r.Context(), current); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: current})
}

// Delete handles DELETE /v1/subscribers/{id}.
func (h *SubscriberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := types.GetUserID(r.Context())
	if err := h.store.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import handles POST /v1/subscribers/import: a batch upsert keyed on email.
func (h *SubscriberHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportSubscribersRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID := types.GetUserID(r.Context())
	batch := make([]*types.Subscriber, len(req.Subscribers))
	for i, row := range req.Subscribers {
		batch[i] = &types.Subscriber{
			UserID:    userID,
			Email:     row.Email,
			FirstName: row.FirstName,
			Tags:      row.Tags,
		}
	}

	written, err := h.store.Import(r.Context(), userID, batch)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "subscribers imported", "user_id", userID, "count", written)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ImportSubscribersResponse{Imported: written}})
}

// Enroll handles POST /v1/subscribers/{id}/enroll: puts the subscriber at
// the start of a sequence.
func (h *SubscriberHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID := types.GetUserID(r.Context())
	if err := h.store.Enroll(r.Context(), userID, chi.URLParam(r, "id"), req.SequenceID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
