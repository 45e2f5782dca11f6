package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
)

const networkErrorMessage = "Network error. Please check your connection and try again."

// Error is the single error shape of the gateway. Status is 0 when no response was
// received at all.
type Error struct {
	Status  int
	Name    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Name, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is maps well-known statuses onto the entity sentinel errors.
func (e *Error) Is(target error) bool {
	switch target {
	case entity.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case entity.ErrURLNotFound:
		return e.Status == http.StatusNotFound
	case entity.ErrShortCodeExists:
		return e.Status == http.StatusConflict
	}
	return false
}

type errorEnvelope struct {
	Error struct {
		Status  int    `json:"status"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseError(status int, body []byte) *Error {
	apiErr := &Error{
		Status:  status,
		Name:    http.StatusText(status),
		Message: http.StatusText(status),
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apiErr
	}

	if env.Error.Name != "" {
		apiErr.Name = env.Error.Name
	}
	if env.Error.Message != "" {
		apiErr.Message = env.Error.Message
	}

	return apiErr
}

func newNetworkError(cause error) *Error {
	return &Error{
		Status:  0,
		Name:    "NetworkError",
		Message: networkErrorMessage,
		cause:   cause,
	}
}
