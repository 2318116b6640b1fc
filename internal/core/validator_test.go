package core

import (
	"testing"

	"plainly/internal/types"
)

type createSubscriberPayload struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name"`
}

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator()
	err := v.ValidateStruct(createSubscriberPayload{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStruct_MissingRequiredField(t *testing.T) {
	v := NewValidator()
	err := v.ValidateStruct(createSubscriberPayload{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	appErr, ok := err.(*types.AppError)
	if !ok {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("expected missing-field code, got %q", appErr.Code)
	}
	// Field names come from json tags, not Go names.
	if _, ok := appErr.Details["email"]; !ok {
		t.Errorf("expected details keyed by json tag, got %v", appErr.Details)
	}
}

func TestValidateStruct_InvalidEmail(t *testing.T) {
	v := NewValidator()
	err := v.ValidateStruct(createSubscriberPayload{Email: "not-an-address"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	appErr, ok := err.(*types.AppError)
	if !ok {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidEmail {
		t.Errorf("expected invalid-email code, got %q", appErr.Code)
	}
}
