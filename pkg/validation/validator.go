package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// Custom validator instance
	validate = validator.New()

	// Regex patterns for validation
	chainIDPattern  = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)
	assetSymPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)
)

// ValidationError represents a validation error with field and message
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// Register custom validators
func init() {
	validate.RegisterValidation("chainid", validateChainID)
	validate.RegisterValidation("assetsym", validateAssetSymbol)
	validate.RegisterValidation("amount", validateAmount)
}

// validateChainID validates chain identifier format (lowercase slug)
func validateChainID(fl validator.FieldLevel) bool {
	return chainIDPattern.MatchString(fl.Field().String())
}

// validateAssetSymbol validates token symbol format
func validateAssetSymbol(fl validator.FieldLevel) bool {
	sym, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return assetSymPattern.MatchString(sym)
}

// validateAmount validates the transacted USD amount is positive and sane
func validateAmount(fl validator.FieldLevel) bool {
	amount, ok := fl.Field().Interface().(float64)
	if !ok {
		return false
	}
	// Positive and below one billion USD; larger requests are almost
	// certainly unit mistakes.
	return amount > 0 && amount < 1_000_000_000
}

// ValidateStruct validates a struct using tags
func ValidateStruct(s interface{}) ValidationErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errors ValidationErrors
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		tag := err.Tag()
		value := err.Value()

		errors = append(errors, ValidationError{
			Field:   field,
			Message: getErrorMessage(field, tag, value),
			Value:   value,
		})
	}

	return errors
}

// getErrorMessage returns a user-friendly error message
func getErrorMessage(field, tag string, value interface{}) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "chainid":
		return fmt.Sprintf("%s must be a lowercase chain identifier (2-32 chars)", field)
	case "assetsym":
		return fmt.Sprintf("%s must be a valid token symbol (1-12 uppercase letters/numbers)", field)
	case "amount":
		return fmt.Sprintf("%s must be a positive USD amount below 1,000,000,000", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %v", field, value)
	case "gte":
		return fmt.Sprintf("%s must be at least %v", field, value)
	case "lt", "lte":
		return fmt.Sprintf("%s is above the allowed maximum", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

// SanitizeString removes potentially dangerous characters
func SanitizeString(s string) string {
	// Remove null bytes and control characters
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
