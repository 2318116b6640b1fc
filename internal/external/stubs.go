package external

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"plainly/internal/types"
)

// Stub implementations let the binaries boot in local mode without real
// provider credentials. They log every call and return predictable values,
// so the queue loop and the billing endpoints can be exercised end to end
// against a local database.

// StubMailProvider implements MailProvider by logging the send and returning
// a fake message id.
type StubMailProvider struct {
	logger *slog.Logger
}

// NewStubMailProvider creates a new StubMailProvider.
func NewStubMailProvider(logger *slog.Logger) *StubMailProvider {
	return &StubMailProvider{logger: logger}
}

func (s *StubMailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: send email",
		"to", input.To,
		"subject", input.Subject,
		"from_name", input.FromName,
	)
	return "msg_stub_" + uuid.NewString(), nil
}

// StubBillingService implements BillingService with a fixed checkout URL.
type StubBillingService struct {
	logger *slog.Logger
}

// NewStubBillingService creates a new StubBillingService.
func NewStubBillingService(logger *slog.Logger) *StubBillingService {
	return &StubBillingService{logger: logger}
}

func (s *StubBillingService) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (string, string, error) {
	s.logger.InfoContext(ctx, "stub: create checkout session",
		"user_id", input.UserID,
		"plan", input.Plan,
	)
	return "https://checkout.stub.local/session", fmt.Sprintf("cs_stub_%s", input.UserID), nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: stripe webhook verify",
		"payload_len", len(payload),
	)
	return nil
}

var (
	_ MailProvider    = (*StubMailProvider)(nil)
	_ BillingService  = (*StubBillingService)(nil)
	_ WebhookVerifier = (*StubWebhookVerifier)(nil)
)
