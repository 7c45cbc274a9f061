package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrRateLimited
	ErrConfiguration
	ErrDeliveryFailed
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// RateLimited signals that an admission check rejected the request.
// RetryAfterSeconds is the remaining TTL of the current window.
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Code:    ErrRateLimited,
		Message: fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfterSeconds),
	}
}

// Configuration signals a static misconfiguration; callers must not retry.
func Configuration(message string) *AppError {
	return &AppError{
		Code:    ErrConfiguration,
		Message: message,
	}
}

// DeliveryFailed signals that all delivery attempts were exhausted.
// Attempts and the last error are carried so the caller can decide
// whether to retry the operation end to end.
type DeliveryError struct {
	AppError
	Attempts  int   `json:"attempts"`
	LastError error `json:"-"`
}

func DeliveryFailed(attempts int, lastErr error) *DeliveryError {
	return &DeliveryError{
		AppError: AppError{
			Code:    ErrDeliveryFailed,
			Message: fmt.Sprintf("delivery failed after %d attempts", attempts),
			Err:     lastErr,
		},
		Attempts:  attempts,
		LastError: lastErr,
	}
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	var delErr *DeliveryError
	if errors.As(err, &delErr) {
		return delErr.Code == code
	}
	return false
}
