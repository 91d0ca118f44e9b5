package freightcom

import (
	"context"
	"fmt"
)

// APIClient defines the interface for Freightcom API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// CreateShipment creates a new shipment order
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// CancelShipment cancels an existing shipment
	CancelShipment(ctx context.Context, shipmentID string) (*CancelResponse, error)

	// GetTracking retrieves tracking events for a shipment
	GetTracking(ctx context.Context, shipmentID string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types (match Freightcom REST API v2 structure)
// ============================================================================

// ShippingDetails contains origin, destination and packaging.
type ShippingDetails struct {
	Origin      Location      `json:"origin"`
	Destination Location      `json:"destination"`
	Packaging   PackagingInfo `json:"packaging"`
}

// Location represents origin or destination.
type Location struct {
	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2,omitempty"`
	City        string `json:"city"`
	Province    string `json:"province"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"` // ISO 3166-1 alpha-2 code
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Residential bool   `json:"residential,omitempty"`
}

// PackagingInfo contains package details.
type PackagingInfo struct {
	Type     string    `json:"type"` // "package", "envelope", "pallet"
	Packages []Package `json:"packages"`
}

// Package represents a single package.
type Package struct {
	Length      float64 `json:"length"` // cm
	Width       float64 `json:"width"`  // cm
	Height      float64 `json:"height"` // cm
	Weight      float64 `json:"weight"` // kg
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity,omitempty"`
}

// ShipmentRequest represents a Freightcom shipment creation request.
// POST /shipment endpoint
type ShipmentRequest struct {
	UniqueID        string          `json:"unique_id"` // Max 128 chars, prevents duplicates
	PaymentMethodID int             `json:"payment_method_id"`
	ServiceID       string          `json:"service_id"`
	Details         ShippingDetails `json:"details"`
	Sender          Contact         `json:"sender"`
	Recipient       Contact         `json:"recipient"`
	Reference       string          `json:"reference,omitempty"`
	PONumber        string          `json:"po_number,omitempty"`
}

// Contact represents sender/recipient contact info.
type Contact struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
}

// ShipmentResponse represents the Freightcom shipment creation response.
type ShipmentResponse struct {
	ID                string   `json:"id"`
	UniqueID          string   `json:"unique_id"`
	PreviouslyCreated bool     `json:"previously_created"`
	Status            string   `json:"status"`
	TrackingNumbers   []string `json:"tracking_numbers"`
	TrackingURL       string   `json:"tracking_url,omitempty"`
	CarrierCode       string   `json:"carrier_code"`
	ServiceName       string   `json:"service_name"`
	Labels            []Label  `json:"labels,omitempty"`
}

// Label represents a shipping label.
type Label struct {
	Size   string `json:"size"`   // "4x6", "letter"
	Format string `json:"format"` // "pdf", "zpl", "png"
	URL    string `json:"url"`
}

// CancelResponse represents the Freightcom cancellation response.
// DELETE /shipment/{shipment_id}
type CancelResponse struct {
	ShipmentID string `json:"shipment_id"`
	Status     string `json:"status"`
}

// TrackingResponse represents tracking information.
// GET /shipment/{shipment_id}/tracking-events
type TrackingResponse struct {
	ShipmentID     string          `json:"shipment_id"`
	TrackingNumber string          `json:"tracking_number"`
	Status         string          `json:"status"`
	Events         []TrackingEvent `json:"events"`
}

// TrackingEvent represents a single tracking event.
type TrackingEvent struct {
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	Code        string `json:"code,omitempty"`
}

// WebhookEvent is the body of a Freightcom status callback.
type WebhookEvent struct {
	Event          string `json:"event"`
	ShipmentID     string `json:"shipment_id"`
	UniqueID       string `json:"unique_id"`
	Reference      string `json:"reference"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
}

// APIError represents an error from the Freightcom API.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Errors     map[string]string `json:"errors,omitempty"` // Field-level errors
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
	}
	return e.Code + ": " + e.Message
}
