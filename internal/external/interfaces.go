package external

import (
	"context"

	"plainly/internal/types"
)

// MailProvider abstracts the transactional email API (Resend). Implementations
// transmit one fully rendered message and return the provider's message id.
type MailProvider interface {
	// Send transmits one email. HTML is the final rendered body; the
	// implementation supplies the envelope from address.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// CheckoutInput describes one checkout session request.
type CheckoutInput struct {
	UserID string
	Email  string
	Plan   types.PlanTier
	// Origin is the dashboard base URL used to build the success and
	// cancel redirects.
	Origin string
}

// BillingService abstracts the payment provider (Stripe).
type BillingService interface {
	// CreateCheckoutSession generates a Stripe Checkout URL for a plan
	// upgrade. The user id rides along as session metadata so the webhook
	// can correlate the completed payment back to a profile.
	CreateCheckoutSession(ctx context.Context, input CheckoutInput) (checkoutURL string, sessionID string, err error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the signature header and
	// signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in the webhook handler.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
	EventStripePaymentFailed     = "invoice.payment_failed"
	EventStripePaymentSucceeded  = "invoice.payment_succeeded"
)
