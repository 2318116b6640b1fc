package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"plainly/internal/types"
)

func newTestResendClient(t *testing.T, serverURL string) *ResendClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-resend",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		WithSleepFunc(noopSleep),
	)
	return NewResendClientWithBase(base, ResendClientConfig{
		APIKey:         "re_test_key",
		VerifiedDomain: "mail.plainly.dev",
		BaseURL:        serverURL,
	})
}

func TestResendSend_Success(t *testing.T) {
	var received resendSendPayload
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/emails" {
			t.Errorf("expected path /emails, got %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resendSendResponse{ID: "re_msg_123"})
	}))
	defer server.Close()

	client := newTestResendClient(t, server.URL)
	msgID, err := client.Send(context.Background(), types.SendInput{
		To:       "ada@example.com",
		Subject:  "Hello Ada",
		HTML:     "<p>Hi there</p>",
		FromName: "Ada's List",
		ReplyTo:  "ada@herdomain.com",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "re_msg_123" {
		t.Errorf("expected message id re_msg_123, got %s", msgID)
	}
	if auth != "Bearer re_test_key" {
		t.Errorf("unexpected auth header: %s", auth)
	}

	// The envelope from is always the platform's verified domain; the
	// account owner's address only appears in reply-to.
	if received.From != "Ada's List <notifications@mail.plainly.dev>" {
		t.Errorf("unexpected from: %s", received.From)
	}
	if received.ReplyTo != "ada@herdomain.com" {
		t.Errorf("unexpected reply_to: %s", received.ReplyTo)
	}
	if len(received.To) != 1 || received.To[0] != "ada@example.com" {
		t.Errorf("unexpected to: %v", received.To)
	}
	if received.HTML != "<p>Hi there</p>" {
		t.Errorf("unexpected html: %s", received.HTML)
	}
}

func TestResendSend_SandboxRestriction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(resendErrorResponse{
			Name:    "validation_error",
			Message: "You can only send testing emails to your own email address (you@example.com).",
		})
	}))
	defer server.Close()

	client := newTestResendClient(t, server.URL)
	_, err := client.Send(context.Background(), types.SendInput{To: "other@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeMailSandboxRestricted {
		t.Errorf("expected %s, got %s", types.ErrCodeMailSandboxRestricted, appErr.Code)
	}
	// The provider message is preserved verbatim for the job record.
	if appErr.Message != "You can only send testing emails to your own email address (you@example.com)." {
		t.Errorf("provider message was rewritten: %s", appErr.Message)
	}
}

func TestResendSend_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(resendErrorResponse{
			Name:    "invalid_to",
			Message: "Invalid `to` field.",
		})
	}))
	defer server.Close()

	client := newTestResendClient(t, server.URL)
	_, err := client.Send(context.Background(), types.SendInput{To: "not-an-address"})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeUpstreamMailProvider {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamMailProvider, appErr.Code)
	}
	if appErr.Message != "Invalid `to` field." {
		t.Errorf("provider message was rewritten: %s", appErr.Message)
	}
}

func TestResendSend_ServerErrorAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestResendClient(t, server.URL)
	_, err := client.Send(context.Background(), types.SendInput{To: "ada@example.com"})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
}
