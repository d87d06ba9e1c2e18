package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// APIError is the error type handlers push through c.Error; the ErrorHandler
// middleware renders it as {"success": false, "message": ...}.
type APIError struct {
	Status  int               `json:"-"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"errors,omitempty"`
	// Original error, logged but never rendered
	Internal error `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

func New(status int, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Message:  message,
		Internal: err,
	}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, message, err)
}

func Unavailable(message string, err error) *APIError {
	return New(http.StatusServiceUnavailable, message, err)
}

// Internal keeps the driver message in the response but nothing deeper
func Internal(err error) *APIError {
	return InternalWithMessage("Internal server error", err)
}

func InternalWithMessage(message string, err error) *APIError {
	if err != nil {
		message = fmt.Sprintf("%s: %s", message, shortMessage(err))
	}
	return New(http.StatusInternalServerError, message, err)
}

// NewValidationError converts binding errors into a 400 with per-field messages
func NewValidationError(err error) *APIError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return BadRequest("Invalid request body", err)
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[strings.ToLower(fe.Field())] = validationMessage(fe)
	}
	return &APIError{
		Status:   http.StatusBadRequest,
		Message:  "Validation failed",
		Fields:   fields,
		Internal: err,
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

func shortMessage(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
