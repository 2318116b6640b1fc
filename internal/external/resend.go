package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"plainly/internal/types"
)

// resendAPIBase is the default Resend API base URL. Overridable in tests via
// ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// resendSandboxHint is the phrase Resend includes in the error body when an
// account without a verified domain tries to send to a third party. Sandbox
// failures get their own error code so operators can tell a misconfigured
// account apart from a provider outage.
const resendSandboxHint = "only send testing emails to your own email address"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey string
	// VerifiedDomain is the sending domain; the envelope from address is
	// always notifications@VerifiedDomain.
	VerifiedDomain string
	BaseURL        string // Override for testing; defaults to resendAPIBase
	Logger         *slog.Logger
}

// ResendClient implements MailProvider against the Resend /emails endpoint.
// Calls are routed through BaseClient so 429s and 5xx responses get retried
// and breaker-tracked like every other upstream.
type ResendClient struct {
	base           *BaseClient
	apiKey         string
	verifiedDomain string
	baseURL        string
	logger         *slog.Logger
}

// NewResendClient creates a new ResendClient.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig) *ResendClient {
	return NewResendClientWithBase(
		NewBaseClient(httpClient, "resend", DefaultRetryPolicy()),
		cfg,
	)
}

// NewResendClientWithBase creates a ResendClient with a pre-configured
// BaseClient. Useful in tests to disable retries or inject a sleep func.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResendClient{
		base:           base,
		apiKey:         cfg.APIKey,
		verifiedDomain: cfg.VerifiedDomain,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		logger:         logger,
	}
}

// resendSendPayload is the POST /emails request body.
type resendSendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// resendSendResponse is the success body; Resend returns the message id.
type resendSendResponse struct {
	ID string `json:"id"`
}

// resendErrorResponse is the error body shape.
type resendErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send transmits one email via Resend. The from header is always
// "<FromName> <notifications@VerifiedDomain>"; the account owner's own
// address goes in reply-to, never in from, because only the platform domain
// is verified with the provider.
//
// Error mapping:
//   - sandbox restriction (any status, body contains the hint phrase) ->
//     types.ErrCodeMailSandboxRestricted
//   - 429 -> handled by BaseClient (retry, then ErrCodeUpstreamRateLimited)
//   - 5xx -> handled by BaseClient (retry, then ErrCodeUpstreamUnavailable)
//   - other non-2xx -> types.ErrCodeUpstreamMailProvider, preserving the
//     provider's message verbatim for the job error_message column
func (c *ResendClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	payload := resendSendPayload{
		From:    fmt.Sprintf("%s <notifications@%s>", input.FromName, c.verifiedDomain),
		To:      []string{input.To},
		ReplyTo: input.ReplyTo,
		Subject: input.Subject,
		HTML:    input.HTML,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal Resend send payload",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create Resend send request",
			err,
		)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		// AppErrors from BaseClient (breaker open, retries exhausted)
		// already carry the right upstream code.
		if _, ok := err.(*types.AppError); ok {
			return "", err
		}
		return "", types.NewAppError(
			types.ErrCodeUpstreamMailProvider,
			fmt.Sprintf("Resend request failed: %v", err),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out resendSendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", types.NewAppError(
				types.ErrCodeUpstreamMailProvider,
				"failed to decode Resend send response",
				err,
			)
		}
		return out.ID, nil
	}

	return "", c.handleErrorResponse(resp)
}

// handleErrorResponse maps a non-2xx Resend response to an AppError. The
// provider message is preserved verbatim because it ends up in the job's
// error_message column and in operator logs.
func (c *ResendClient) handleErrorResponse(resp *http.Response) error {
	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamMailProvider,
			fmt.Sprintf("Resend returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	var rErr resendErrorResponse
	msg := ""
	if jsonErr := json.Unmarshal(raw, &rErr); jsonErr == nil && rErr.Message != "" {
		msg = rErr.Message
	} else {
		msg = string(raw)
	}

	if strings.Contains(msg, resendSandboxHint) {
		c.logger.Warn("resend account is in sandbox mode; verify a domain to send to arbitrary recipients")
		return types.NewAppError(types.ErrCodeMailSandboxRestricted, msg, nil)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamMailProvider,
		msg,
		nil,
	).WithDetails(map[string]any{"status_code": resp.StatusCode})
}

var _ MailProvider = (*ResendClient)(nil)
