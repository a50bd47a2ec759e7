package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	validate.RegisterStructValidation(validateSource, SourceConfig{})
	validate.RegisterStructValidation(validateStorage, StorageConfig{})
	validate.RegisterStructValidation(validateEvents, EventsConfig{})
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   any
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Has reports whether field (a struct namespace suffix such as
// "Monitor.PollInterval") failed validation.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if strings.HasSuffix(err.Field, field) {
			return true
		}
	}
	return false
}

// ValidateWithDetails performs validation and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var details ValidationErrors
			for _, fe := range validationErrors {
				details = append(details, ConfigError{
					Field:   fe.Namespace(),
					Message: formatValidationError(fe),
					Value:   fe.Value(),
				})
			}
			return details
		}
		return err
	}
	return nil
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_for":
		return fmt.Sprintf("this field is required when %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "env":
		return "must be one of [development staging production]"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	return slices.Contains([]string{"development", "staging", "production"}, fl.Field().String())
}

func validateSource(sl validator.StructLevel) {
	sc := sl.Current().Interface().(SourceConfig)
	switch sc.Type {
	case "http":
		if strings.TrimSpace(sc.HTTP.BaseURL) == "" {
			sl.ReportError(sc.HTTP.BaseURL, "HTTP.BaseURL", "BaseURL", "required_for", "source.type=http")
		}
	case "postgres":
		if strings.TrimSpace(sc.Postgres.DSN) == "" {
			sl.ReportError(sc.Postgres.DSN, "Postgres.DSN", "DSN", "required_for", "source.type=postgres")
		}
	}
}

func validateStorage(sl validator.StructLevel) {
	sc := sl.Current().Interface().(StorageConfig)
	if sc.Type == "badger" && !sc.Badger.InMemory && strings.TrimSpace(sc.Badger.Path) == "" {
		sl.ReportError(sc.Badger.Path, "Badger.Path", "Path", "required_for", "storage.type=badger")
	}
}

func validateEvents(sl validator.StructLevel) {
	ec := sl.Current().Interface().(EventsConfig)
	if ec.Type == "redis" && strings.TrimSpace(ec.Redis.Address) == "" {
		sl.ReportError(ec.Redis.Address, "Redis.Address", "Address", "required_for", "events.type=redis")
	}
}
