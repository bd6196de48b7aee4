package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// scopeNameRejects are characters that would break the admin API's URL
// path scheme or the persisted document's key space.
const scopeNameRejects = "/\\ \t\n"

// RegisterCustomValidators registers actiongate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// scope_name: validates channel/resource identifiers.
	if err := v.RegisterValidation("scope_name", validateScopeName); err != nil {
		return fmt.Errorf("failed to register scope_name validator: %w", err)
	}
	return nil
}

// validateScopeName accepts non-empty names free of path separators and
// whitespace, so a channel name can be embedded in admin API routes.
func validateScopeName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, scopeNameRejects)
}

// Validate validates the Config using struct tags.
// Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "scope_name":
		return fmt.Sprintf("%s must be a non-empty name without slashes or whitespace", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
