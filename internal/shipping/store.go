package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tournevent/shipflow/pkg/shipper"
)

// ErrLeaseLost is returned when a shipping lock expired and was taken
// over before the holder completed.
var ErrLeaseLost = errors.New("shipping lock lost")

// ClaimRequest asks the store for the per-order shipping lock.
type ClaimRequest struct {
	OrderID  string
	Provider string
	// Force skips the existing-shipment short-circuit.
	Force bool
	TTL   time.Duration
}

// Claim is the outcome of a successful ClaimShipment. When Existing is set
// the order already has a live shipment with the provider and no lock was
// taken.
type Claim struct {
	Order    *shipper.Order
	Token    string
	Existing bool
}

// StatusUpdate is a webhook-derived change to an order's shipping state.
type StatusUpdate struct {
	// TenantID scopes the update. Orders of other tenants are not touched.
	TenantID       string
	OrderID        string
	Status         shipper.ShipmentStatus
	TrackingNumber string
	WebhookData    json.RawMessage
}

// OrderStore persists the shipping fields of orders. Implementations must
// make ClaimShipment atomic per order.
type OrderStore interface {
	// GetOrder returns shipper.ErrOrderNotFound when the order is absent.
	GetOrder(ctx context.Context, orderID string) (*shipper.Order, error)

	// GetTenantOrder is GetOrder restricted to one tenant.
	GetTenantOrder(ctx context.Context, tenantID, orderID string) (*shipper.Order, error)

	// ClaimShipment takes the order's shipping lock, or reports an
	// existing live shipment when req.Force is false. A lock held by
	// another unexpired claim yields shipper.ErrShipmentInProgress.
	ClaimShipment(ctx context.Context, req ClaimRequest) (*Claim, error)

	// CompleteShipment records a created shipment and releases the lock.
	CompleteShipment(ctx context.Context, orderID, token, provider string, res *shipper.ShipmentResult) error

	// ReleaseShipment releases the lock without touching the order.
	ReleaseShipment(ctx context.Context, orderID, token string) error

	// ApplyStatus overwrites the status (when set), the tracking number
	// (when set) and the raw webhook data.
	ApplyStatus(ctx context.Context, update StatusUpdate) error
}

// IntegrationStore reads tenant integrations. It is read-only from the
// shipping core's perspective.
type IntegrationStore interface {
	// FindActive returns shipper.ErrNoIntegration when the tenant has no
	// active integration of the given type.
	FindActive(ctx context.Context, tenantID, integrationType string) (*shipper.Integration, error)

	// ListActiveByType returns active integrations across all tenants.
	ListActiveByType(ctx context.Context, integrationType string) ([]shipper.Integration, error)
}
