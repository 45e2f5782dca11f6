// Package response builds the JSON envelopes of the backend API: {data, meta} on success
// and {data: null, error: {status, name, message, details}} on failure.
package response

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Error names used by the backend.
const (
	NameApplication  = "ApplicationError"
	NameValidation   = "ValidationError"
	NameUnauthorized = "UnauthorizedError"
	NameForbidden    = "ForbiddenError"
	NameNotFound     = "NotFoundError"
	NameConflict     = "ConflictError"
	NameGone         = "GoneError"
	NameInternal     = "InternalServerError"
)

type Body struct {
	Data  any    `json:"data"`
	Meta  *Meta  `json:"meta,omitempty"`
	Error *Error `json:"error,omitempty"`
}

type Meta struct {
	Total int `json:"total"`
}

type Error struct {
	Status  int      `json:"status"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Details *Details `json:"details,omitempty"`
}

type Details struct {
	Errors []validationError `json:"errors"`
}

type validationError struct {
	Path    string `json:"path"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Predefined error responses for common scenarios.
var (
	EmptyRequestBody   = Err(http.StatusBadRequest, NameValidation, "Request body is empty.")
	InvalidRequestBody = Err(http.StatusBadRequest, NameValidation, "Request body is not valid JSON.")
	Unauthorized       = Err(http.StatusUnauthorized, NameUnauthorized, "Missing or invalid credentials")
	NotFound           = Err(http.StatusNotFound, NameNotFound, "Not Found")
	ServerError        = Err(http.StatusInternalServerError, NameInternal, "Internal Server Error")
)

// Data wraps a single resource.
func Data(v any) Body {
	return Body{Data: v}
}

// List wraps a collection together with its size.
func List(v any, total int) Body {
	return Body{Data: v, Meta: &Meta{Total: total}}
}

// Err builds an error envelope.
func Err(status int, name, msg string) Body {
	return Body{Error: &Error{Status: status, Name: name, Message: msg}}
}

// Validation builds a 400 envelope listing each failed field.
func Validation(err error) Body {
	body := Err(http.StatusBadRequest, NameValidation, "Invalid request data")
	if errs := getValidationErrors(err); len(errs) > 0 {
		body.Error.Details = &Details{Errors: errs}
		body.Error.Message = errs[0].Path + " " + errs[0].Message
	}
	return body
}

func issueForTag(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email"
	case "min":
		return "is too short"
	case "max":
		return "is too long"
	case "shortcode":
		return "must be 3-20 characters of letters, digits, '-' or '_'"
	case "notreserved":
		return "is a reserved word"
	case "future":
		return "must be in the future"
	default:
		return "is invalid"
	}
}

func getValidationErrors(err error) []validationError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}

	out := make([]validationError, 0, len(errs))
	for _, e := range errs {
		out = append(out, validationError{
			Path:    e.Field(),
			Value:   e.Value(),
			Message: issueForTag(e.Tag()),
		})
	}

	return out
}
