package shipper

import (
	"context"
	"encoding/json"
	"errors"
)

// ShipmentResult is the uniform outcome of a shipment creation.
type ShipmentResult struct {
	Success        bool   `json:"success"`
	ShipmentID     string `json:"shipmentId,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	LabelURL       string `json:"labelUrl,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
	Retryable      bool   `json:"retryable"`
}

// Succeeded creates a successful result.
func Succeeded(shipmentID, trackingNumber, labelURL string) *ShipmentResult {
	return &ShipmentResult{
		Success:        true,
		ShipmentID:     shipmentID,
		TrackingNumber: trackingNumber,
		LabelURL:       labelURL,
	}
}

// Failed creates a failed result.
func Failed(code, message string, retryable bool) *ShipmentResult {
	return &ShipmentResult{
		Success:   false,
		Error:     message,
		ErrorCode: code,
		Retryable: retryable,
	}
}

// ResultFromError translates an error returned by a provider into a failed
// result. A ShipperError keeps its own code and retryability.
func ResultFromError(err error) *ShipmentResult {
	var shipperErr *ShipperError
	switch {
	case errors.As(err, &shipperErr):
		return Failed(shipperErr.Code, shipperErr.Message, shipperErr.Retryable)
	case errors.Is(err, context.DeadlineExceeded):
		return Failed(CodeProviderTimeout, "carrier did not respond in time", true)
	case errors.Is(err, ErrRateLimitExceeded):
		return Failed(CodeRateLimited, err.Error(), true)
	case errors.Is(err, ErrServiceUnavailable):
		return Failed(CodeCarrierUnavailable, err.Error(), true)
	case errors.Is(err, ErrInvalidAddress):
		return Failed(CodeInvalidAddress, err.Error(), false)
	default:
		return Failed(CodeProviderError, err.Error(), !isPermanent(err))
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrInvalidPackage) ||
		errors.Is(err, ErrAuthenticationFailed)
}

// WebhookResult is the normalized outcome of a carrier webhook.
type WebhookResult struct {
	Valid          bool            `json:"valid"`
	OrderID        string          `json:"orderId,omitempty"`
	Status         ShipmentStatus  `json:"status,omitempty"`
	TrackingNumber string          `json:"trackingNumber,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Invalid is the result for a webhook that failed verification or could
// not be attributed.
func Invalid() *WebhookResult {
	return &WebhookResult{Valid: false}
}

// Matched reports whether the result should update an order.
func (r *WebhookResult) Matched() bool {
	return r != nil && r.Valid && r.OrderID != ""
}
