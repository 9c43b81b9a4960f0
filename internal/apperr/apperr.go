/**
 * @description
 * This package defines the closed error taxonomy for the generation-service. Every
 * entry point translates internal failures into exactly one of these kinds before
 * responding, so callers always see a stable {error, code, message} triple and raw
 * provider errors never leak to the client.
 *
 * @dependencies
 * - errors, fmt, net/http: Standard Go libraries.
 * - github.com/shopspring/decimal: Structured detail amounts on InsufficientCredits.
 */

package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Kind identifies one member of the closed taxonomy.
type Kind string

const (
	KindUnauthorized          Kind = "Unauthorized"
	KindValidationError       Kind = "ValidationError"
	KindNotFound              Kind = "NotFound"
	KindInsufficientCredits   Kind = "InsufficientCredits"
	KindRateLimited           Kind = "RateLimited"
	KindCreditDeductionFailed Kind = "CreditDeductionFailed"
	KindGenerationFailed      Kind = "GenerationFailed"
	KindExternalAPIError      Kind = "ExternalApiError"
	KindGenerationTimeout     Kind = "GenerationTimeout"
	KindInternal              Kind = "Internal"
)

// statusByKind maps each kind to its fixed HTTP status code.
var statusByKind = map[Kind]int{
	KindUnauthorized:          http.StatusUnauthorized,
	KindValidationError:       http.StatusBadRequest,
	KindNotFound:              http.StatusNotFound,
	KindInsufficientCredits:   http.StatusPaymentRequired,
	KindRateLimited:           http.StatusTooManyRequests,
	KindCreditDeductionFailed: http.StatusInternalServerError,
	KindGenerationFailed:      http.StatusInternalServerError,
	KindExternalAPIError:      http.StatusBadGateway,
	KindGenerationTimeout:     http.StatusGatewayTimeout,
	KindInternal:              http.StatusInternalServerError,
}

// defaultMessageByKind holds the user-facing message used when an Error carries none.
var defaultMessageByKind = map[Kind]string{
	KindUnauthorized:          "Authentication required.",
	KindValidationError:       "Invalid request.",
	KindNotFound:              "Resource not found.",
	KindInsufficientCredits:   "Insufficient credits for this request.",
	KindRateLimited:           "Too many requests. Please slow down.",
	KindCreditDeductionFailed: "Could not charge credits. Please try again later.",
	KindGenerationFailed:      "Generation failed.",
	KindExternalAPIError:      "An upstream provider error occurred.",
	KindGenerationTimeout:     "Generation timed out.",
	KindInternal:              "An internal error occurred.",
}

// Error is a classified application error. Details carries structured data that
// is safe to expose to the caller (e.g. required/available credit amounts).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the fixed HTTP status for this error's kind.
func (e *Error) StatusCode() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates a classified error with an explicit user-facing message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = defaultMessageByKind[kind]
	}
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error. The wrapped error is preserved for
// logging and errors.Is/As but is never rendered to the client.
func Wrap(kind Kind, message string, err error) *Error {
	e := New(kind, message)
	e.Err = err
	return e
}

// InsufficientCredits builds the taxonomy error carrying the required/available
// detail the API contract promises for 402 responses.
func InsufficientCredits(required, available decimal.Decimal) *Error {
	e := New(KindInsufficientCredits, fmt.Sprintf(
		"Insufficient credits: %s required, %s available.",
		required.String(), available.String(),
	))
	e.Details = map[string]any{
		"required":  required.String(),
		"available": available.String(),
	}
	return e
}

// Validation is shorthand for a 400 with a specific message.
func Validation(message string) *Error {
	return New(KindValidationError, message)
}

// KindOf extracts the taxonomy kind from any error chain, defaulting to Internal
// for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// From returns the classified error in the chain, or wraps err as Internal so
// responders always have a renderable Error.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(KindInternal, "", err)
}
