package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

// Validation returns a VAL_001 error for a malformed request or payload.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Invalid amount", http.StatusBadRequest)
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidToken() *AppError {
	return New("SEC_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid webhook signature", http.StatusUnauthorized)
}

// ErrSecretNotConfigured is returned when a gateway has no webhook secret
// configured. Verification fails closed in that case.
func ErrSecretNotConfigured(gateway string) *AppError {
	return New("SEC_003", fmt.Sprintf("Webhook secret not configured for %s", gateway), http.StatusUnauthorized)
}

func ErrAdminOnly() *AppError {
	return New("SEC_004", "Admin role required", http.StatusForbidden)
}

// ---- Idempotency (DUP) ----

// ErrDuplicate signals that the reference has already been committed.
// Webhook handlers treat this as success, not as a failure.
func ErrDuplicate(reference string) *AppError {
	return New("DUP_001", fmt.Sprintf("Reference %s already processed", reference), http.StatusConflict)
}

// ---- Unknown references (REF) ----

func ErrNotFound(entity string) *AppError {
	return New("REF_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrUnknownGateway(name string) *AppError {
	return New("REF_002", fmt.Sprintf("Unknown gateway %q", name), http.StatusNotFound)
}

// ---- Payment Business Logic (PAY) ----

func ErrNotRefundable() *AppError {
	return New("PAY_001", "Transaction not eligible for refund", http.StatusBadRequest)
}

func ErrPlanUnknown(planID string) *AppError {
	return New("PAY_002", fmt.Sprintf("Unknown plan %q", planID), http.StatusBadRequest)
}

// ---- Transient provider/storage failures (TRN) ----

func GatewayUnavailable(gateway string, err error) *AppError {
	return Wrap("TRN_001", fmt.Sprintf("Gateway %s unavailable", gateway), http.StatusBadGateway, err)
}

// GatewayTimeout marks an outbound call whose outcome is unknown. The
// operation must be reconciled later, never blindly retried in-line.
func GatewayTimeout(gateway string, err error) *AppError {
	return Wrap("TRN_002", fmt.Sprintf("Gateway %s timed out", gateway), http.StatusGatewayTimeout, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// ---- Classification ----

// IsDuplicate reports whether err is an idempotency conflict (DUP code).
func IsDuplicate(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && strings.HasPrefix(appErr.Code, "DUP")
}

// IsNotFound reports whether err is an unknown-reference error (REF code).
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && strings.HasPrefix(appErr.Code, "REF")
}

// IsAuth reports whether err is an authentication failure (SEC code).
func IsAuth(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && strings.HasPrefix(appErr.Code, "SEC")
}

// Retryable reports whether err should be enqueued for backed-off retry.
// Validation, authentication, and duplicate errors are final; everything
// else, including unclassified errors, defaults to transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch {
	case strings.HasPrefix(appErr.Code, "VAL"),
		strings.HasPrefix(appErr.Code, "SEC"),
		strings.HasPrefix(appErr.Code, "DUP"),
		strings.HasPrefix(appErr.Code, "PAY"),
		strings.HasPrefix(appErr.Code, "RATE"):
		return false
	}
	return true
}
