package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"plainly/internal/core"
	"plainly/internal/external"
	"plainly/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads (64 KB); real payloads are
// far smaller.
const maxWebhookBodySize = 64 * 1024

// SubscriptionStateStore is the profile billing-state surface the webhook
// handler mutates.
type SubscriptionStateStore interface {
	// ActivateSubscription records a completed checkout: Stripe ids, plan,
	// and active status.
	ActivateSubscription(ctx context.Context, userID string, customerID, subscriptionID string, plan types.PlanTier) error
	// UpdateSubscriptionBySubID syncs status and, when non-zero, the period
	// end for the profile holding the subscription.
	UpdateSubscriptionBySubID(ctx context.Context, subscriptionID string, status types.SubscriptionStatus, periodEnd time.Time) error
	// DowngradeBySubID cancels the subscription and reverts the profile to
	// the free plan.
	DowngradeBySubID(ctx context.Context, subscriptionID string) error
}

// StripeWebhookHandler handles asynchronous billing events from Stripe. It
// is not behind the identity middleware -- Stripe calls it directly, and
// security comes from verifying the Stripe-Signature header against the
// webhook signing secret.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	profiles SubscriptionStateStore
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(verifier external.WebhookVerifier, profiles SubscriptionStateStore, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		profiles: profiles,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Registered separately
// from the authenticated routes because Stripe carries no identity header.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one incoming Stripe webhook delivery: read the raw body,
// verify the signature, parse the event, and route by type. Processing
// failures after a valid signature still return 200 -- acknowledging receipt
// prevents Stripe from retrying an event that will keep failing, and the
// error is logged for investigation.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationBody,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignature,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignature,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationBody,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

// routeEvent dispatches by event type. Unhandled types are acknowledged and
// ignored.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventStripeCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventStripeSubUpdated:
		return h.handleSubscriptionUpdated(ctx, event)

	case external.EventStripeSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)

	case external.EventStripePaymentFailed:
		return h.handleInvoiceEvent(ctx, event, types.SubscriptionPastDue)

	case external.EventStripePaymentSucceeded:
		return h.handleInvoiceEvent(ctx, event, types.SubscriptionActive)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted confirms a new subscription after the user
// finishes the hosted checkout flow.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	var session stripeCheckoutSessionObj
	if err := event.unmarshalObject(&session); err != nil {
		return fmt.Errorf("checkout.session.completed: %w", err)
	}

	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		return fmt.Errorf("checkout.session.completed: missing user id in event %s", event.ID)
	}

	plan := types.PlanTier(session.Metadata["plan_id"])
	if plan == "" {
		plan = types.PlanFree
	}

	h.logger.InfoContext(ctx, "processing checkout completed",
		"event_id", event.ID,
		"user_id", userID,
		"plan", plan,
	)
	return h.profiles.ActivateSubscription(ctx, userID, session.Customer, session.Subscription, plan)
}

// handleSubscriptionUpdated syncs status and period end on renewal, upgrade,
// or downgrade.
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	var sub stripeSubscriptionObj
	if err := event.unmarshalObject(&sub); err != nil {
		return fmt.Errorf("customer.subscription.updated: %w", err)
	}
	if sub.ID == "" {
		return fmt.Errorf("customer.subscription.updated: missing subscription id in event %s", event.ID)
	}

	var periodEnd time.Time
	if sub.CurrentPeriodEnd > 0 {
		periodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}

	h.logger.InfoContext(ctx, "processing subscription updated",
		"event_id", event.ID,
		"subscription_id", sub.ID,
		"status", sub.Status,
	)
	return h.profiles.UpdateSubscriptionBySubID(ctx, sub.ID, types.SubscriptionStatus(sub.Status), periodEnd)
}

// handleSubscriptionDeleted reverts the profile to the free plan.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	var sub stripeSubscriptionObj
	if err := event.unmarshalObject(&sub); err != nil {
		return fmt.Errorf("customer.subscription.deleted: %w", err)
	}
	if sub.ID == "" {
		return fmt.Errorf("customer.subscription.deleted: missing subscription id in event %s", event.ID)
	}

	h.logger.InfoContext(ctx, "processing subscription deleted",
		"event_id", event.ID,
		"subscription_id", sub.ID,
	)
	return h.profiles.DowngradeBySubID(ctx, sub.ID)
}

// handleInvoiceEvent records payment outcomes: a failed invoice marks the
// profile past_due, a successful one restores active. The stored period end
// is untouched because invoice events do not carry one.
func (h *StripeWebhookHandler) handleInvoiceEvent(ctx context.Context, event *stripeWebhookEvent, status types.SubscriptionStatus) error {
	var invoice stripeInvoiceObj
	if err := event.unmarshalObject(&invoice); err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if invoice.Subscription == "" {
		return fmt.Errorf("%s: missing subscription id in event %s", event.Type, event.ID)
	}

	h.logger.InfoContext(ctx, "processing invoice event",
		"event_id", event.ID,
		"event_type", event.Type,
		"subscription_id", invoice.Subscription,
		"status", status,
	)
	return h.profiles.UpdateSubscriptionBySubID(ctx, invoice.Subscription, status, time.Time{})
}

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to the fields this handler routes on. Avoiding the full
// stripe.Event type keeps the handler decoupled from stripe-go struct churn
// across major versions.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// unmarshalObject decodes the event's data.object into dst.
func (e *stripeWebhookEvent) unmarshalObject(dst any) error {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	if err := json.Unmarshal(data.Object, dst); err != nil {
		return fmt.Errorf("invalid event object: %w", err)
	}
	return nil
}

// stripeCheckoutSessionObj holds the minimal checkout.session fields.
type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// stripeSubscriptionObj holds the minimal customer.subscription fields.
type stripeSubscriptionObj struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// stripeInvoiceObj holds the minimal invoice fields.
type stripeInvoiceObj struct {
	Subscription string `json:"subscription"`
}
