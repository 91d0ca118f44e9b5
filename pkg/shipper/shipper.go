// Package shipper provides an abstraction layer for shipping carriers.
//
// Every carrier is a Provider bound to a static Descriptor. Optional
// capabilities (webhooks, tracking, cancellation) are separate interfaces
// that a provider implements only when its Descriptor declares the
// matching Feature.
package shipper

import (
	"context"
	"net/http"
)

// Provider defines the interface that all shipping carriers must implement.
type Provider interface {
	// Descriptor returns the static metadata of the carrier.
	Descriptor() Descriptor

	// CreateShipment creates a new shipment with the carrier using the
	// tenant credentials. Carrier failures that the caller should see are
	// reported in the result with Success=false; a non-nil error means the
	// call itself failed (transport, decoding, cancelled context).
	CreateShipment(ctx context.Context, creds Credentials, order *Order) (*ShipmentResult, error)
}

// WebhookProcessor is implemented by providers declaring FeatureWebhook.
type WebhookProcessor interface {
	// ProcessWebhook verifies the authenticity of an inbound callback with
	// the integration credentials and normalizes its payload. Verification
	// failures return a result with Valid=false, not an error.
	ProcessWebhook(ctx context.Context, req *WebhookRequest, creds Credentials) (*WebhookResult, error)
}

// Tracker is implemented by providers declaring FeatureTracking.
type Tracker interface {
	Track(ctx context.Context, creds Credentials, ref ShipmentRef) (*TrackingInfo, error)
}

// Canceller is implemented by providers declaring FeatureCancelShipment.
type Canceller interface {
	CancelShipment(ctx context.Context, creds Credentials, ref ShipmentRef) error
}

// ShipmentRef identifies an existing shipment. Carriers key their tracking
// and void endpoints differently, so both identifiers are carried.
type ShipmentRef struct {
	ShipmentID     string
	TrackingNumber string
}

// WebhookRequest is an inbound carrier callback handed to a WebhookProcessor.
type WebhookRequest struct {
	// Payload is the body parsed according to its content type
	// (map[string]any, []any) or, when parsing failed, the raw text as string.
	Payload any
	// RawBody is the exact request body, used for signature verification.
	RawBody []byte
	Headers http.Header
}

// PayloadString returns the payload when it was passed through unparsed.
func (r *WebhookRequest) PayloadString() (string, bool) {
	s, ok := r.Payload.(string)
	return s, ok
}

// PayloadMap returns the payload when it was parsed into an object.
func (r *WebhookRequest) PayloadMap() (map[string]any, bool) {
	m, ok := r.Payload.(map[string]any)
	return m, ok
}
