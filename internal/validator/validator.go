package validator

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// handlePattern is the globally-enforced agent handle shape: lowercase
// alphanumeric plus '.', 3-64 chars, not starting or ending with '.'.
var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.]{1,62}[a-z0-9]$`)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("handle", validateHandle)
}

// ValidateStruct validates a struct and returns the validator's error as is;
// ValidateRequest formats field errors into readable messages.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateRequest validates a request struct and returns formatted errors.
// Returns nil if validation passes, or a map of field errors.
func ValidateRequest(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errs := make(map[string]string)

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			field := strings.ToLower(e.Field())
			errs[field] = formatValidationError(e)
		}
	}

	return errs
}

// BindAndValidate binds JSON and validates in one step.
// Returns true if successful, false if validation failed (and sets error response).
func BindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid request format",
			"details": err.Error(),
		})
		return false
	}

	if errs := ValidateRequest(req); errs != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "validation failed",
			"fields": errs,
		})
		return false
	}

	return true
}

// formatValidationError converts validator errors to human-readable messages
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("Must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters", e.Param())
	case "uuid":
		return "Must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", e.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", e.Param())
	case "handle":
		return "Must be 3-64 chars, lowercase alphanumeric plus '.', not starting or ending with '.'"
	default:
		return fmt.Sprintf("Validation failed: %s", e.Tag())
	}
}

// validateHandle enforces the agent handle shape.
func validateHandle(fl validator.FieldLevel) bool {
	return handlePattern.MatchString(fl.Field().String())
}

// IsValidHandle exposes the handle check outside of struct-tag validation,
// for handlers that need to validate a path parameter rather than a bound field.
func IsValidHandle(handle string) bool {
	return handlePattern.MatchString(handle)
}
