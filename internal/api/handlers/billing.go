package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/external"
	"plainly/internal/types"
)

// BillingProfileStore is the profile read surface the checkout flow needs.
type BillingProfileStore interface {
	Get(ctx context.Context, id string) (*types.Profile, error)
}

// CreateCheckoutRequest is the request body for POST /v1/billing/checkout.
// Success and cancel URLs are constructed server-side from the dashboard
// origin so clients cannot redirect payments elsewhere.
type CreateCheckoutRequest struct {
	Plan types.PlanTier `json:"plan" validate:"required,oneof=starter pro enterprise"`
}

// CreateCheckoutResponse carries the hosted checkout URL the dashboard
// redirects to.
type CreateCheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// BillingHandler manages plan upgrades through the payment provider.
type BillingHandler struct {
	billing   external.BillingService
	profiles  BillingProfileStore
	origin    string // dashboard origin for redirect URLs
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler. origin is the public dashboard
// URL without a trailing slash.
func NewBillingHandler(billing external.BillingService, profiles BillingProfileStore, origin string, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		billing:   billing,
		profiles:  profiles,
		origin:    origin,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts billing routes on the provided chi.Router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.CreateCheckout)
}

// CreateCheckout handles POST /v1/billing/checkout: creates a hosted
// checkout session for the requested plan. The account's email seeds the
// checkout form and the user id rides along as the client reference so the
// webhook can map the completed session back to the profile.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	userID := types.GetUserID(r.Context())
	profile, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	url, sessionID, err := h.billing.CreateCheckoutSession(r.Context(), external.CheckoutInput{
		UserID: userID,
		Email:  profile.Email,
		Plan:   req.Plan,
		Origin: h.origin,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"user_id", userID,
		"plan", req.Plan,
		"session_id", sessionID,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: CreateCheckoutResponse{URL: url, SessionID: sessionID},
	})
}
