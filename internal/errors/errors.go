// Package errors provides custom error types for the reconciliation engine.
// Service-layer errors should use AppError so that jobs and the HTTP layer
// can classify failures without leaking internal details.
package errors

import (
	"errors"
	"net/http"
)

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is matches any AppError carrying the same code, so errors.Is(err, ErrNotFound)
// works for wrapped copies of a sentinel.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// Authentication errors.
var (
	ErrUnauthorized = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
)

// General errors.
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

// Concurrency errors.
var (
	ErrLockTimeout      = &AppError{Code: "LOCK_TIMEOUT", Message: "Timed out waiting for resource lock", StatusCode: http.StatusLocked}
	ErrConcurrentUpdate = &AppError{Code: "CONCURRENT_UPDATE", Message: "Resource was modified concurrently", StatusCode: http.StatusConflict}
)

// Portfolio errors.
var (
	ErrPortfolioNotFound      = &AppError{Code: "PORTFOLIO_NOT_FOUND", Message: "Portfolio not found", StatusCode: http.StatusNotFound}
	ErrInsufficientFunds      = &AppError{Code: "INSUFFICIENT_FUNDS", Message: "Insufficient funds for this order", StatusCode: http.StatusUnprocessableEntity}
	ErrWeightOutOfBounds      = &AppError{Code: "WEIGHT_OUT_OF_BOUNDS", Message: "Target weight out of bounds", StatusCode: http.StatusUnprocessableEntity}
	ErrInvalidPortfolioStatus = &AppError{Code: "INVALID_PORTFOLIO_STATUS", Message: "Broker returned an inconsistent portfolio status", StatusCode: http.StatusBadGateway}
	ErrFundNotFound           = &AppError{Code: "FUND_NOT_FOUND", Message: "Fund not found", StatusCode: http.StatusNotFound}
)

// Broker errors.
var (
	ErrBrokerUnavailable = &AppError{Code: "BROKER_UNAVAILABLE", Message: "Broker API request failed", StatusCode: http.StatusBadGateway}
	ErrAccountNotFound   = &AppError{Code: "ACCOUNT_NOT_FOUND", Message: "Broker account not found", StatusCode: http.StatusNotFound}
	ErrAccountNotOpen    = &AppError{Code: "ACCOUNT_NOT_OPEN", Message: "Broker account is not open", StatusCode: http.StatusConflict}
	ErrInvalidWebhook    = &AppError{Code: "INVALID_WEBHOOK", Message: "Unsupported or malformed webhook event", StatusCode: http.StatusBadRequest}
)

// Trading order errors.
var (
	ErrTradingOrderNotFound = &AppError{Code: "TRADING_ORDER_NOT_FOUND", Message: "Trading order not found", StatusCode: http.StatusNotFound}
)
