package shipper

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ShipmentStatus represents the normalized status of a shipment.
type ShipmentStatus string

const (
	StatusPending        ShipmentStatus = "pending"
	StatusCreated        ShipmentStatus = "created"
	StatusConfirmed      ShipmentStatus = "confirmed"
	StatusPickedUp       ShipmentStatus = "picked_up"
	StatusInTransit      ShipmentStatus = "in_transit"
	StatusOutForDelivery ShipmentStatus = "out_for_delivery"
	StatusDelivered      ShipmentStatus = "delivered"
	StatusCancelled      ShipmentStatus = "cancelled"
	StatusException      ShipmentStatus = "exception"
	StatusFailed         ShipmentStatus = "failed"
)

// ParseStatus maps a loosely formatted status ("In Transit", "OUT_FOR_DELIVERY")
// onto the normalized set. Empty and unknown values map to "", which leaves
// a stored status unchanged.
func ParseStatus(s string) ShipmentStatus {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	switch ShipmentStatus(n) {
	case StatusPending, StatusCreated, StatusConfirmed, StatusPickedUp, StatusInTransit,
		StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusException, StatusFailed:
		return ShipmentStatus(n)
	case "canceled", "voided":
		return StatusCancelled
	case "intransit":
		return StatusInTransit
	default:
		return ""
	}
}

// Live reports whether a shipment in this status still exists at the carrier.
func (s ShipmentStatus) Live() bool {
	return s != StatusCancelled && s != StatusFailed && s != ""
}

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightKG WeightUnit = "kg"
	WeightLB WeightUnit = "lb"
)

// DimensionUnit represents dimension measurement unit.
type DimensionUnit string

const (
	DimensionCM DimensionUnit = "cm"
	DimensionIN DimensionUnit = "in"
)

// Address represents a shipping address.
type Address struct {
	Name          string `json:"name"`
	Company       string `json:"company,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	ProvinceCode  string `json:"provinceCode"` // e.g., "ON", "QC", "BC"
	PostalCode    string `json:"postalCode"`
	CountryCode   string `json:"countryCode"` // ISO 3166-1 alpha-2
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	IsResidential bool   `json:"isResidential,omitempty"`
}

// Contact represents sender or recipient contact info.
type Contact struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Package represents a package to be shipped.
type Package struct {
	Length        float64       `json:"length"`
	Width         float64       `json:"width"`
	Height        float64       `json:"height"`
	DimensionUnit DimensionUnit `json:"dimensionUnit,omitempty"`
	Weight        float64       `json:"weight"`
	WeightUnit    WeightUnit    `json:"weightUnit,omitempty"`
	Description   string        `json:"description,omitempty"`
}

// Order is the shipping-relevant view of a tenant order. Identity and
// shipment inputs are owned by the order collaborator; the shipping fields
// are mutated only by the shipping manager.
type Order struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	ShippingProvider string          `json:"shippingProvider,omitempty"`
	ShippingStatus   ShipmentStatus  `json:"shippingStatus,omitempty"`
	ShipmentID       string          `json:"shipmentId,omitempty"`
	TrackingNumber   string          `json:"trackingNumber,omitempty"`
	LabelURL         string          `json:"labelUrl,omitempty"`
	WebhookData      json.RawMessage `json:"webhookData,omitempty"`

	Sender           Contact   `json:"sender"`
	SenderAddress    Address   `json:"senderAddress"`
	Recipient        Contact   `json:"recipient"`
	RecipientAddress Address   `json:"recipientAddress"`
	Packages         []Package `json:"packages,omitempty"`
	ServiceCode      string    `json:"serviceCode,omitempty"`
	Reference        string    `json:"reference,omitempty"`

	// IdempotencyKey is set by the manager before a carrier call. Carriers
	// that support request de-duplication forward it.
	IdempotencyKey string `json:"-"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// HasLiveShipment reports whether the order already has a shipment with
// the given provider that was not cancelled or failed.
func (o *Order) HasLiveShipment(providerSlug string) bool {
	return o.ShipmentID != "" &&
		strings.EqualFold(o.ShippingProvider, providerSlug) &&
		o.ShippingStatus.Live()
}

// LiveShipmentElsewhere reports whether the order has a live shipment
// with a provider other than providerSlug.
func (o *Order) LiveShipmentElsewhere(providerSlug string) bool {
	return o.ShipmentID != "" &&
		!strings.EqualFold(o.ShippingProvider, providerSlug) &&
		o.ShippingStatus.Live()
}

// Integration is a tenant's stored credentials binding it to one provider type.
type Integration struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Type      string         `json:"type"`
	APIKey    string         `json:"-"`
	APISecret string         `json:"-"`
	Config    map[string]any `json:"config,omitempty"`
	IsActive  bool           `json:"isActive"`
}

// Credentials returns the credentials handed to provider calls.
func (i *Integration) Credentials() Credentials {
	return Credentials{
		IntegrationID: i.ID,
		TenantID:      i.TenantID,
		APIKey:        i.APIKey,
		APISecret:     i.APISecret,
		Config:        i.Config,
	}
}

// Credentials are the tenant-scoped secrets for one carrier account.
type Credentials struct {
	IntegrationID string
	TenantID      string
	APIKey        string
	APISecret     string
	Config        map[string]any
}

// ConfigString returns a string value from the free-form config.
func (c Credentials) ConfigString(key string) string {
	if c.Config == nil {
		return ""
	}
	if v, ok := c.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigInt returns an integer value from the free-form config. JSON
// numbers and numeric strings are both accepted.
func (c Credentials) ConfigInt(key string) (int, bool) {
	switch v := c.Config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// ShipmentRef returns the reference of the order's current shipment.
func (o *Order) ShipmentRef() ShipmentRef {
	return ShipmentRef{ShipmentID: o.ShipmentID, TrackingNumber: o.TrackingNumber}
}

// TrackingEvent represents a tracking event.
type TrackingEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Location    string         `json:"location,omitempty"`
	Status      ShipmentStatus `json:"status"`
	CarrierCode string         `json:"carrierCode,omitempty"`
}

// TrackingInfo is the normalized tracking state of a shipment.
type TrackingInfo struct {
	TrackingNumber string          `json:"trackingNumber"`
	Status         ShipmentStatus  `json:"status"`
	Events         []TrackingEvent `json:"events,omitempty"`
}
