package purolator

import (
	"context"
	"fmt"
)

// APIClient defines the interface for Purolator API operations.
// This abstraction allows for mock implementations during testing
// and real SOAP implementations in production.
type APIClient interface {
	// CreateShipment creates a new shipment via ShippingService
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// VoidShipment cancels an existing shipment via ShippingService
	VoidShipment(ctx context.Context, shipmentPIN string) (*VoidResponse, error)

	// GetTracking retrieves tracking information via TrackingService
	GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types (match Purolator SOAP API structure)
// ============================================================================

// PackageInformation contains package details.
type PackageInformation struct {
	TotalWeight Weight
	TotalPieces int
}

// Weight represents package weight.
type Weight struct {
	Value float64
	Unit  string // "lb" or "kg"
}

// Address represents a Purolator address.
type Address struct {
	Name         string
	Company      string
	StreetNumber string
	StreetName   string
	City         string
	Province     string
	PostalCode   string
	Country      string
	PhoneNumber  PhoneNumber
}

// PhoneNumber represents a phone number.
type PhoneNumber struct {
	CountryCode string
	AreaCode    string
	Phone       string
}

// ShipmentRequest represents a Purolator shipment creation request.
type ShipmentRequest struct {
	BillingAccountNumber string
	ServiceCode          string
	Sender               Address
	Receiver             Address
	PackageInformation   PackageInformation
	PrinterType          string // "Thermal" or "Regular"
	// Reference is printed on the label and echoed in tracking.
	Reference string
	// RequestReference de-duplicates retried requests.
	RequestReference string
}

// ShipmentResponse represents the Purolator shipment creation response.
type ShipmentResponse struct {
	ShipmentPIN          string
	PiecePINs            []string
	ExpectedDeliveryDate string
	DocumentLinks        []DocumentLink
}

// DocumentLink represents a link to a shipping document.
type DocumentLink struct {
	Type string // "Label", "CustomsInvoice", etc.
	URL  string
}

// VoidResponse represents the Purolator void shipment response.
type VoidResponse struct {
	ShipmentPIN string
	Voided      bool
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

// APIError represents an error from the Purolator API. Fault marks SOAP
// faults as opposed to validation errors in ResponseInformation.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	Fault       bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
