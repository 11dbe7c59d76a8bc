// Package apperr defines the error taxonomy shared by the generation pipeline.
//
// Service code returns *Error (or *InsufficientCredits) for failures the caller
// is expected to handle; everything else is an opaque server error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeGenerationFailed    = "GENERATION_FAILED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is the canonical typed failure. Cause is for server-side logging only.
type Error struct {
	Code       string       `json:"code"`
	Message    string       `json:"error"`
	HTTPStatus int          `json:"-"`
	Cause      error        `json:"-"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NotFound reports a missing entity, tag, account or cached generation.
func NotFound(resource string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidInput rejects a malformed request before any I/O happens.
func InvalidInput(msg string, details ...FieldError) *Error {
	return &Error{
		Code:       CodeInvalidInput,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// GenerationFailed wraps a failure of the external generation backend or of
// the persistence step that follows it. Message is safe to show to users.
func GenerationFailed(msg string, cause error) *Error {
	if msg == "" {
		msg = "Generation failed, please try again"
	}
	return &Error{
		Code:       CodeGenerationFailed,
		Message:    msg,
		HTTPStatus: http.StatusBadGateway,
		Cause:      cause,
	}
}

func Unauthorized(msg string) *Error {
	return &Error{
		Code:       CodeUnauthorized,
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Internal hides cause from clients.
func Internal(cause error) *Error {
	return &Error{
		Code:       CodeInternal,
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// InsufficientCredits is returned when a debit or a pre-generation balance
// check cannot be covered. It carries the exact shortfall for upselling.
type InsufficientCredits struct {
	Needed    int64 `json:"needed"`
	Available int64 `json:"available"`
}

func (e *InsufficientCredits) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Needed, e.Available)
}

// Shortfall is the number of credits missing to cover the request.
func (e *InsufficientCredits) Shortfall() int64 {
	if e.Needed <= e.Available {
		return 0
	}
	return e.Needed - e.Available
}

// As extracts an *Error from err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// AsInsufficientCredits extracts an *InsufficientCredits from err's chain, or nil.
func AsInsufficientCredits(err error) *InsufficientCredits {
	var ic *InsufficientCredits
	if errors.As(err, &ic) {
		return ic
	}
	return nil
}

func IsNotFound(err error) bool {
	ae := As(err)
	return ae != nil && ae.Code == CodeNotFound
}

func IsCode(err error, code string) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}
