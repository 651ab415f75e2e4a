package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Limits on client supplied values
const (
	MaxUsernameLength = 64
	MaxMessageLength  = 4096
	MaxSettingLength  = 1024
	MaxInboxLimit     = 1000
)

var (
	validate *validator.Validate

	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// delimiters cannot be carried by the delimited wire format
const delimiters = "§∞"

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("nodelim", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), delimiters)
	})
}

// ErrInvalid wraps every failure returned by Struct
var ErrInvalid = errors.New("invalid request")

// Struct validates v against its `validate` tags
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Var validates a single value against a tag expression
func Var(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError reports the first failing field
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	e := validationErrs[0]
	field := e.Field()
	if field == "" {
		field = "value"
	}

	switch e.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	case "min":
		return fmt.Errorf("%w: %s must be at least %s", ErrInvalid, field, e.Param())
	case "max":
		return fmt.Errorf("%w: %s must not exceed %s", ErrInvalid, field, e.Param())
	case "username":
		return fmt.Errorf("%w: %s may only contain letters, digits, '.', '-' and '_'", ErrInvalid, field)
	case "nodelim":
		return fmt.Errorf("%w: %s contains a reserved delimiter", ErrInvalid, field)
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalid, field, e.Tag())
	}
}
