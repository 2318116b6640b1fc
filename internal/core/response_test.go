package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plainly/internal/types"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var body APIErrorResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

func TestJSON_WritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"id": "sub_1"}})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var body APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	data, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected data to be a map, got %T", body.Data)
	}
	if data["id"] != "sub_1" {
		t.Errorf("expected id=sub_1, got %v", data["id"])
	}
}

func TestError_AppErrorMapsStatus(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrCodeValidationMissingField, http.StatusBadRequest},
		{types.ErrCodeAuthUserMissing, http.StatusUnauthorized},
		{types.ErrCodeOwnerMismatch, http.StatusForbidden},
		{types.ErrCodeNotFoundBroadcast, http.StatusNotFound},
		{types.ErrCodeConflictEmail, http.StatusConflict},
		{types.ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{types.ErrCodeUpstreamMailProvider, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			Error(w, r, types.NewAppError(tt.code, "boom", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			body := decodeErrorBody(t, w)
			if body.Error.Code != string(tt.code) {
				t.Errorf("expected code %q, got %q", tt.code, body.Error.Code)
			}
		})
	}
}

func TestError_WrappedAppError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeNotFoundSubscriber, "subscriber not found", nil)
	Error(w, r, errors.Join(errors.New("handler context"), inner))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestError_GenericErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req_42"))

	Error(w, r, errors.New("pg: password authentication failed"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Error.Message != "an unexpected error occurred" {
		t.Errorf("internal error message leaked: %q", body.Error.Message)
	}
	if body.Error.RequestID != "req_42" {
		t.Errorf("expected request id req_42, got %q", body.Error.RequestID)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Error("response body leaked internal error details")
	}
}

func TestDecodeJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.com"}`))

	var dst struct {
		Email string `json:"email"`
	}
	if err := DecodeJSON(w, r, &dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.Email != "a@b.com" {
		t.Errorf("expected email a@b.com, got %q", dst.Email)
	}
}

func TestDecodeJSON_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed JSON", `{"email":`},
		{"unknown field", `{"email":"a@b.com","nope":1}`},
		{"multiple values", `{"email":"a@b.com"}{"email":"c@d.com"}`},
		{"type mismatch", `{"email":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst struct {
				Email string `json:"email"`
			}
			err := DecodeJSON(w, r, &dst)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			appErr, ok := err.(*types.AppError)
			if !ok {
				t.Fatalf("expected *types.AppError, got %T", err)
			}
			if appErr.Code != types.ErrCodeValidationBody {
				t.Errorf("expected code %q, got %q", types.ErrCodeValidationBody, appErr.Code)
			}
		})
	}
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	w := httptest.NewRecorder()
	big := bytes.Repeat([]byte("a"), maxRequestBodySize+1)
	body := `{"email":"` + string(big) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var dst struct {
		Email string `json:"email"`
	}
	if err := DecodeJSON(w, r, &dst); err == nil {
		t.Fatal("expected error for oversized body, got nil")
	}
}
