package shipper

import (
	"errors"
	"fmt"
)

// Error codes reported in ShipmentResult.ErrorCode.
const (
	CodeProviderNotFound    = "PROVIDER_NOT_FOUND"
	CodeFeatureNotSupported = "FEATURE_NOT_SUPPORTED"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
	CodeNoProviderBound     = "NO_PROVIDER_BOUND"
	CodeNoIntegration       = "NO_INTEGRATION_CONFIGURED"
	CodeShipmentInProgress  = "SHIPMENT_IN_PROGRESS"
	CodeProviderConflict    = "PROVIDER_CONFLICT"
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeStorageError        = "STORAGE_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidAddress      = "INVALID_ADDRESS"
	CodeCarrierUnavailable  = "CARRIER_UNAVAILABLE"
	CodeAuthentication      = "CARRIER_AUTH_FAILED"
	CodeCarrierRejected     = "CARRIER_REJECTED"
)

// ShipperError represents an error from a shipping carrier.
type ShipperError struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *ShipperError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ShipperError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ShipperError.
func (e *ShipperError) Is(target error) bool {
	t, ok := target.(*ShipperError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Result converts the error into a failed ShipmentResult.
func (e *ShipperError) Result() *ShipmentResult {
	return Failed(e.Code, e.Message, e.Retryable)
}

// NewShipperError creates a new ShipperError.
func NewShipperError(carrier, code, message string) *ShipperError {
	return &ShipperError{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *ShipperError) WithCause(err error) *ShipperError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *ShipperError) WithStatusCode(code int) *ShipperError {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *ShipperError) WithRetryable(retryable bool) *ShipperError {
	e.Retryable = retryable
	return e
}

// ClassifyHTTPStatus builds a ShipperError from a carrier HTTP status.
// 429 and 5xx are transient; other 4xx are permanent.
func ClassifyHTTPStatus(carrier string, status int, code, message string) *ShipperError {
	switch {
	case status == 429:
		if code == "" {
			code = CodeRateLimited
		}
		return NewShipperError(carrier, code, message).WithStatusCode(status).WithRetryable(true)
	case status == 401 || status == 403:
		if code == "" {
			code = CodeAuthentication
		}
		return NewShipperError(carrier, code, message).WithStatusCode(status).WithRetryable(false)
	case status >= 500:
		if code == "" {
			code = CodeCarrierUnavailable
		}
		return NewShipperError(carrier, code, message).WithStatusCode(status).WithRetryable(true)
	default:
		if code == "" {
			code = CodeCarrierRejected
		}
		return NewShipperError(carrier, code, message).WithStatusCode(status).WithRetryable(false)
	}
}

// Sentinel errors for common shipping scenarios.
var (
	// ErrInvalidAddress indicates the address is invalid or incomplete.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrServiceUnavailable indicates the carrier service is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrOrderNotFound indicates the order ID was not found.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAuthenticationFailed indicates carrier authentication failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRateLimitExceeded indicates the carrier rate limit was exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidPackage indicates package dimensions or weight are invalid.
	ErrInvalidPackage = errors.New("invalid package")

	// ErrProviderNotFound indicates the requested carrier is not registered.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrDuplicateProvider indicates two carriers were registered with the same slug.
	ErrDuplicateProvider = errors.New("duplicate provider")

	// ErrWebhookNotSupported indicates the carrier does not declare FeatureWebhook.
	ErrWebhookNotSupported = errors.New("provider does not support webhooks")

	// ErrNoIntegration indicates the tenant has no active integration for the carrier.
	ErrNoIntegration = errors.New("no integration configured")

	// ErrShipmentInProgress indicates another attempt holds the order's shipping lock.
	ErrShipmentInProgress = errors.New("shipment creation already in progress")

	// ErrProviderConflict indicates the order already has a live shipment
	// with a different carrier.
	ErrProviderConflict = errors.New("order has a live shipment with another provider")

	// ErrWebhookAuthenticity indicates a webhook failed signature verification.
	ErrWebhookAuthenticity = errors.New("webhook signature mismatch")

	// ErrFeatureNotSupported indicates the carrier does not declare the requested feature.
	ErrFeatureNotSupported = errors.New("feature not supported by provider")

	// ErrNoProviderBound indicates the order has no shipping provider yet.
	ErrNoProviderBound = errors.New("order has no shipping provider")

	// ErrNoLiveShipment indicates the order has no shipment that could be tracked or cancelled.
	ErrNoLiveShipment = errors.New("order has no live shipment")

	// ErrUnmatchedWebhook indicates a verified webhook that refers to no known order.
	ErrUnmatchedWebhook = errors.New("webhook matched no order")
)

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var shipperErr *ShipperError
	if errors.As(err, &shipperErr) {
		return shipperErr.Retryable
	}
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrShipmentInProgress)
}
