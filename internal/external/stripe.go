package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"plainly/internal/types"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests via
// StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements BillingService by making direct HTTP calls to the
// Stripe REST API through BaseClient, so checkout requests share the same
// circuit breaker and retry behavior as every other upstream.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	return NewStripeClientWithBase(
		NewBaseClient(httpClient, "stripe", DefaultRetryPolicy()),
		cfg,
	)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful in tests.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// stripeCheckoutSession is the subset of the checkout session response the
// client needs.
type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// stripeErrorBody is the envelope Stripe wraps errors in.
type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCheckoutSession generates a Stripe Checkout Session for a
// subscription upgrade. The user id and plan travel as session metadata so
// the checkout.session.completed webhook can update the right profile.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (string, string, error) {
	priceID, ok := PlanToPrice[input.Plan]
	if !ok {
		return "", "", types.NewAppError(
			types.ErrCodeValidationMissingField,
			fmt.Sprintf("no Stripe price configured for plan %q", input.Plan),
			nil,
		)
	}

	origin := strings.TrimSuffix(input.Origin, "/")
	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("customer_email", input.Email)
	params.Set("client_reference_id", input.UserID)
	params.Set("success_url", origin+"/dashboard?session_id={CHECKOUT_SESSION_ID}")
	params.Set("cancel_url", origin+"/auth")
	params.Set("metadata[user_id]", input.UserID)
	params.Set("metadata[plan_id]", string(input.Plan))
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/checkout/sessions", strings.NewReader(params.Encode()))
	if err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create Stripe checkout request",
			err,
		)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return "", "", err
		}
		return "", "", types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("Stripe request failed: %v", err),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp)
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}
	return session.URL, session.ID, nil
}

// handleErrorResponse maps a non-200 Stripe response to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response) error {
	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("Stripe returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	var body stripeErrorBody
	msg := string(raw)
	if jsonErr := json.Unmarshal(raw, &body); jsonErr == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}

	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("Stripe error (%d): %s", resp.StatusCode, msg),
		nil,
	).WithDetails(map[string]any{
		"status_code": resp.StatusCode,
		"stripe_code": body.Error.Code,
	})
}

// ---------------------------------------------------------------------------
// Price ID <-> Plan Tier Mapping
// ---------------------------------------------------------------------------

// PlanToPrice maps plan tiers to Stripe Price IDs. The free tier has no
// price; checkout is only offered for paid tiers.
var PlanToPrice = map[types.PlanTier]string{
	types.PlanStarter:    "price_starter",
	types.PlanPro:        "price_pro",
	types.PlanEnterprise: "price_enterprise",
}

// PriceToPlan maps Stripe Price IDs back to plan tiers.
var PriceToPlan = map[string]types.PlanTier{
	"price_starter":    types.PlanStarter,
	"price_pro":        types.PlanPro,
	"price_enterprise": types.PlanEnterprise,
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's payload
// validation: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

var (
	_ BillingService  = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
