package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// PasswordPolicy is the minimum-strength rule applied to every new password.
type PasswordPolicy struct {
	MinLength     int
	RequireLetter bool
	RequireDigit  bool
}

// DefaultPasswordPolicy requires minLength characters with at least one
// letter and one digit.
func DefaultPasswordPolicy(minLength int) PasswordPolicy {
	return PasswordPolicy{
		MinLength:     minLength,
		RequireLetter: true,
		RequireDigit:  true,
	}
}

// Allows reports whether password satisfies the policy. Length is counted
// in characters, not bytes.
func (p PasswordPolicy) Allows(password string) bool {
	if utf8.RuneCountInString(password) < p.MinLength {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return (!p.RequireLetter || hasLetter) && (!p.RequireDigit || hasDigit)
}

func (p PasswordPolicy) describe() string {
	msg := fmt.Sprintf("must be at least %d characters", p.MinLength)
	switch {
	case p.RequireLetter && p.RequireDigit:
		msg += " and contain a letter and a digit"
	case p.RequireLetter:
		msg += " and contain a letter"
	case p.RequireDigit:
		msg += " and contain a digit"
	}
	return msg
}

// inputValidator checks service inputs against their struct tags and turns
// the first failure into a Validation error naming the JSON field.
type inputValidator struct {
	validate *validator.Validate
	policy   PasswordPolicy
}

func newInputValidator(policy PasswordPolicy) *inputValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so messages match what the client sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return policy.Allows(fl.Field().String())
	})

	return &inputValidator{validate: v, policy: policy}
}

// check validates input. A nil return means the input is well-formed.
func (iv *inputValidator) check(input any) error {
	err := iv.validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperror.NewInternal(fmt.Errorf("validating input: %w", err))
	}
	return apperror.NewValidation(iv.message(fieldErrs[0]))
}

// message renders one field error for the client.
func (iv *inputValidator) message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "url", "http_url":
		return field + " must be a valid URL"
	case "numeric":
		return field + " must contain only digits"
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "password":
		return field + " " + iv.policy.describe()
	case "nefield":
		return field + " must differ from the current password"
	}
	return field + " is invalid"
}
