package canadapost

import (
	"context"
	"encoding/xml"
	"fmt"
)

// APIClient defines the interface for Canada Post API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// CreateShipment creates a new shipment order
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// VoidShipment voids/cancels an existing shipment
	VoidShipment(ctx context.Context, shipmentID string) (*VoidResponse, error)

	// GetTracking retrieves tracking information by PIN
	GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types
// ============================================================================

// Dimensions represents package dimensions.
type Dimensions struct {
	Length float64
	Width  float64
	Height float64
}

// ShipmentRequest represents a Canada Post shipment creation request.
type ShipmentRequest struct {
	GroupID      string
	ServiceCode  string
	Sender       Address
	Destination  Address
	ParcelWeight float64
	Dimensions   Dimensions
	// CustomerRef is echoed back in tracking updates.
	CustomerRef string
	// IdempotencyKey is sent as the second customer reference.
	IdempotencyKey string
}

// Address represents a Canada Post address.
type Address struct {
	Name         string
	Company      string
	AddressLine1 string
	AddressLine2 string
	City         string
	Province     string
	PostalCode   string
	CountryCode  string
	Phone        string
}

// ShipmentResponse represents the Canada Post shipment creation response.
type ShipmentResponse struct {
	ShipmentID     string
	TrackingPIN    string
	ShipmentStatus string
	Links          []Link
}

// Link represents a hypermedia link in the response.
type Link struct {
	Rel       string
	Href      string
	MediaType string
}

// VoidResponse represents the Canada Post void shipment response.
type VoidResponse struct {
	ShipmentID string
	Status     string
}

// TrackingResponse represents tracking information.
type TrackingResponse struct {
	TrackingPIN string
	Status      string
	Events      []TrackingEvent
}

// TrackingEvent represents a single tracking event.
type TrackingEvent struct {
	Timestamp   string
	Description string
	Location    string
	Type        string
}

// TrackingUpdate is the XML body of a Canada Post tracking callback.
type TrackingUpdate struct {
	XMLName     xml.Name `xml:"tracking-update" json:"-"`
	CustomerRef string   `xml:"customer-ref" json:"customerRef"`
	PIN         string   `xml:"pin" json:"pin"`
	EventType   string   `xml:"event-type" json:"eventType"`
	EventDate   string   `xml:"event-date,omitempty" json:"eventDate,omitempty"`
	Description string   `xml:"event-description,omitempty" json:"eventDescription,omitempty"`
	Location    string   `xml:"event-site,omitempty" json:"eventSite,omitempty"`
}

// APIError represents an error from the Canada Post API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Description, e.StatusCode)
	}
	return e.Code + ": " + e.Description
}
