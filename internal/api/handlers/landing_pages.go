package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/types"
)

// LandingPageStore is the data access contract for landing page operations.
type LandingPageStore interface {
	List(ctx context.Context, userID string) ([]*types.LandingPage, error)
	Create(ctx context.Context, p *types.LandingPage) error
	Update(ctx context.Context, p *types.LandingPage) error
	Delete(ctx context.Context, userID, id string) error
	GetPublishedBySlug(ctx context.Context, slug string) (*types.LandingPage, error)
	IncrementViews(ctx context.Context, slug string) error
	IncrementConversions(ctx context.Context, pageID string) error
}

// PageSubscriberStore is the subscriber surface the public signup flow needs.
type PageSubscriberStore interface {
	Create(ctx context.Context, s *types.Subscriber) error
	Enroll(ctx context.Context, userID, subscriberID, sequenceID string) error
}

// CreateLandingPageRequest is the request body for POST /v1/pages.
type CreateLandingPageRequest struct {
	Name             string           `json:"name" validate:"required"`
	Slug             string           `json:"slug" validate:"required,lowercase,excludesall= "`
	Template         string           `json:"template" validate:"required"`
	Headline         string           `json:"headline" validate:"required"`
	Subheadline      string           `json:"subheadline,omitempty"`
	ButtonText       string           `json:"button_text" validate:"required"`
	ImageURL         string           `json:"image_url,omitempty" validate:"omitempty,url"`
	ShowFirstName    bool             `json:"show_first_name"`
	AssignTag        string           `json:"assign_tag,omitempty"`
	AssignSequenceID string           `json:"assign_sequence_id,omitempty"`
	SuccessMessage   string           `json:"success_message,omitempty"`
	RedirectURL      string           `json:"redirect_url,omitempty" validate:"omitempty,url"`
	Status           types.PageStatus `json:"status,omitempty" validate:"omitempty,oneof=draft published"`
}

// UpdateLandingPageRequest is the request body for PATCH /v1/pages/{id}.
type UpdateLandingPageRequest struct {
	Name             *string           `json:"name,omitempty"`
	Slug             *string           `json:"slug,omitempty" validate:"omitempty,lowercase,excludesall= "`
	Headline         *string           `json:"headline,omitempty"`
	Subheadline      *string           `json:"subheadline,omitempty"`
	ButtonText       *string           `json:"button_text,omitempty"`
	ImageURL         *string           `json:"image_url,omitempty" validate:"omitempty,url"`
	ShowFirstName    *bool             `json:"show_first_name,omitempty"`
	AssignTag        *string           `json:"assign_tag,omitempty"`
	AssignSequenceID *string           `json:"assign_sequence_id,omitempty"`
	SuccessMessage   *string           `json:"success_message,omitempty"`
	RedirectURL      *string           `json:"redirect_url,omitempty" validate:"omitempty,url"`
	Status           *types.PageStatus `json:"status,omitempty" validate:"omitempty,oneof=draft published"`
}

// PageSubscribeRequest is the public signup payload for
// POST /v1/pages/{slug}/subscribe.
type PageSubscribeRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name,omitempty"`
}

// PageSubscribeResponse is the public signup response.
type PageSubscribeResponse struct {
	SuccessMessage string `json:"success_message,omitempty"`
	RedirectURL    string `json:"redirect_url,omitempty"`
}

// LandingPageHandler manages landing page CRUD plus the public signup
// surface served to anonymous visitors.
type LandingPageHandler struct {
	pages       LandingPageStore
	subscribers PageSubscriberStore
	validator   *core.Validator
	logger      *slog.Logger
}

// NewLandingPageHandler creates a LandingPageHandler.
func NewLandingPageHandler(pages LandingPageStore, subscribers PageSubscriberStore, v *core.Validator, l *slog.Logger) *LandingPageHandler {
	if l == nil {
		l = slog.Default()
	}
	return &LandingPageHandler{pages: pages, subscribers: subscribers, validator: v, logger: l}
}

// RegisterRoutes mounts the authenticated landing page routes.
func (h *LandingPageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/pages", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// RegisterPublicRoutes mounts the anonymous visitor surface. These routes
// carry no identity header; the owning account comes from the page row.
func (h *LandingPageHandler) RegisterPublicRoutes(r chi.Router) {
	r.Route("/p/{slug}", func(r chi.Router) {
		r.Get("/", h.GetPublic)
		r.Post("/subscribe", h.Subscribe)
	})
}

// List handles GET /v1/pages.
func (h *LandingPageHandler) List(w http.ResponseWriter, r *http.Request) {
	pages, err := h.pages.List(r.Context(), types.GetUserID(r.Context()))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: pages})
}

// Create handles POST /v1/pages.
func (h *LandingPageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateLandingPageRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	page := &types.LandingPage{
		UserID:           types.GetUserID(r.Context()),
		Name:             req.Name,
		Slug:             req.Slug,
		Template:         req.Template,
		Headline:         req.Headline,
		Subheadline:      req.Subheadline,
		ButtonText:       req.ButtonText,
		ImageURL:         req.ImageURL,
		ShowFirstName:    req.ShowFirstName,
		AssignTag:        req.AssignTag,
		AssignSequenceID: req.AssignSequenceID,
		SuccessMessage:   req.SuccessMessage,
		RedirectURL:      req.RedirectURL,
		Status:           req.Status,
	}
	if err := h.pages.Create(r.Context(), page); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: page})
}

// Update handles PATCH /v1/pages/{id}.
func (h *LandingPageHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateLandingPageRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID := types.GetUserID(r.Context())
	current, err := h.findPage(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	applyPagePatch(current, &req)

	if err := h.pages.Update(r.Context(), current); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: current})
}

// Delete handles DELETE /v1/pages/{id}.
func (h *LandingPageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := types.GetUserID(r.Context())
	if err := h.pages.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPublic handles GET /v1/p/{slug}: serves a published page to an
// anonymous visitor and bumps its view counter. The counter write is best
// effort; a failed increment must not hide the page.
func (h *LandingPageHandler) GetPublic(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	page, err := h.pages.GetPublishedBySlug(r.Context(), slug)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.pages.IncrementViews(r.Context(), slug); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to increment page views", "slug", slug, "error", err)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: page})
}

// Subscribe handles POST /v1/p/{slug}/subscribe: the public signup flow.
// The new subscriber belongs to the page owner, gets the page's assign tag,
// and is enrolled into the assigned sequence when one is set. Signing up
// twice with the same address is treated as success so the visitor-facing
// form stays idempotent.
func (h *LandingPageHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req PageSubscribeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	slug := chi.URLParam(r, "slug")
	page, err := h.pages.GetPublishedBySlug(r.Context(), slug)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	sub := &types.Subscriber{
		UserID:    page.UserID,
		Email:     req.Email,
		FirstName: req.FirstName,
		Status:    types.SubscriberActive,
	}
	if page.AssignTag != "" {
		sub.Tags = []string{page.AssignTag}
	}

	if err := h.subscribers.Create(r.Context(), sub); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictEmail {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: subscribeResponse(page)})
			return
		}
		core.Error(w, r, err)
		return
	}

	if page.AssignSequenceID != "" {
		if err := h.subscribers.Enroll(r.Context(), page.UserID, sub.ID, page.AssignSequenceID); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to enroll page signup",
				"page_id", page.ID, "subscriber_id", sub.ID, "error", err)
		}
	}

	if err := h.pages.IncrementConversions(r.Context(), page.ID); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to increment page conversions",
			"page_id", page.ID, "error", err)
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: subscribeResponse(page)})
}

func subscribeResponse(page *types.LandingPage) PageSubscribeResponse {
	return PageSubscribeResponse{
		SuccessMessage: page.SuccessMessage,
		RedirectURL:    page.RedirectURL,
	}
}

// findPage loads one owned page from the list query; pages have no
// dedicated Get-by-id because the dashboard always lists them.
func (h *LandingPageHandler) findPage(ctx context.Context, userID, id string) (*types.LandingPage, error) {
	pages, err := h.pages.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundPage, "landing page not found", nil)
}

func applyPagePatch(page *types.LandingPage, req *UpdateLandingPageRequest) {
	if req.Name != nil {
		page.Name = *req.Name
	}
	if req.Slug != nil {
		page.Slug = *req.Slug
	}
	if req.Headline != nil {
		page.Headline = *req.Headline
	}
	if req.Subheadline != nil {
		page.Subheadline = *req.Subheadline
	}
	if req.ButtonText != nil {
		page.ButtonText = *req.ButtonText
	}
	if req.ImageURL != nil {
		page.ImageURL = *req.ImageURL
	}
	if req.ShowFirstName != nil {
		page.ShowFirstName = *req.ShowFirstName
	}
	if req.AssignTag != nil {
		page.AssignTag = *req.AssignTag
	}
	if req.AssignSequenceID != nil {
		page.AssignSequenceID = *req.AssignSequenceID
	}
	if req.SuccessMessage != nil {
		page.SuccessMessage = *req.SuccessMessage
	}
	if req.RedirectURL != nil {
		page.RedirectURL = *req.RedirectURL
	}
	if req.Status != nil {
		page.Status = *req.Status
	}
}
