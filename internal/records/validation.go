package records

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var shortCodeRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

// reservedCodes cannot be used as custom short codes because they collide with
// application routes.
var reservedCodes = map[string]struct{}{
	"api":       {},
	"admin":     {},
	"dashboard": {},
	"login":     {},
	"register":  {},
	"logout":    {},
	"analytics": {},
	"settings":  {},
	"static":    {},
	"assets":    {},
	"health":    {},
	"ws":        {},
	"app":       {},
	"auth":      {},
	"user":      {},
	"users":     {},
}

// ValidShortCode reports whether code has the allowed custom code format.
func ValidShortCode(code string) bool {
	return shortCodeRegexp.MatchString(code)
}

// IsReserved reports whether code is a reserved word, ignoring case.
func IsReserved(code string) bool {
	_, ok := reservedCodes[strings.ToLower(code)]
	return ok
}

// CreateInput is what a user submits to shorten a URL.
type CreateInput struct {
	OriginalURL    string     `json:"originalUrl" validate:"required,url"`
	CustomCode     string     `json:"customCode" validate:"omitempty,shortcode,notreserved"`
	ExpirationDate *time.Time `json:"expirationDate" validate:"omitempty,future"`
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned before any network call when the input is rejected.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Field returns the message for the named field, or "" when it passed.
func (e *ValidationError) Field(name string) string {
	for _, f := range e.Fields {
		if f.Field == name {
			return f.Message
		}
	}
	return ""
}

// NewValidator builds a validator with the custom code rules registered as the "shortcode"
// and "notreserved" tags. The "future" tag compares times against now. Field errors are
// named after the json tags.
func NewValidator(now func() time.Time) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("shortcode", func(fl validator.FieldLevel) bool {
		return shortCodeRegexp.MatchString(fl.Field().String())
	})
	v.RegisterValidation("notreserved", func(fl validator.FieldLevel) bool {
		return !IsReserved(fl.Field().String())
	})
	v.RegisterValidation("future", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		if !ok {
			return false
		}
		return t.After(now())
	})

	return v
}

func toValidationError(errs validator.ValidationErrors) *ValidationError {
	ve := &ValidationError{Fields: make([]FieldError, 0, len(errs))}

	for _, fe := range errs {
		var msg string

		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "url":
			msg = "must be a valid URL"
		case "shortcode":
			msg = "must be 3-20 characters of letters, digits, '-' or '_'"
		case "notreserved":
			msg = "is a reserved word"
		case "future":
			msg = "must be in the future"
		default:
			msg = fmt.Sprintf("failed on the %q rule", fe.Tag())
		}

		ve.Fields = append(ve.Fields, FieldError{Field: fe.Field(), Message: msg})
	}

	return ve
}
