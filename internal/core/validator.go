package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"plainly/internal/types"
)

// Validator wraps go-playground/validator so handlers report validation
// failures as structured AppErrors keyed by JSON field names.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator that reports field names from json tags.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a request payload. The error code reflects the
// first violation; all violations are carried in the details map as
// field -> failed rule.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationBody, "invalid request body", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}

	first := verrs[0]
	code := types.ErrCodeValidationBody
	message := "invalid value for field " + first.Field()
	switch first.Tag() {
	case "required":
		code = types.ErrCodeValidationMissingField
		message = "missing required field " + first.Field()
	case "email":
		code = types.ErrCodeValidationInvalidEmail
		message = "invalid email address in field " + first.Field()
	}

	return types.NewAppError(code, message, err).WithDetails(details)
}
