// Package memstore keeps orders, integrations and received webhooks in
// process memory. It backs single-instance deployments and tests.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/internal/webhook"
	"github.com/tournevent/shipflow/pkg/shipper"
)

type lock struct {
	token string
	until time.Time
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu           sync.Mutex
	orders       map[string]*shipper.Order
	locks        map[string]lock
	integrations []shipper.Integration
	inbox        []webhook.InboundWebhook

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		orders: make(map[string]*shipper.Order),
		locks:  make(map[string]lock),
		now:    time.Now,
	}
}

// ============================================================================
// Seeding
// ============================================================================

// PutOrder inserts or replaces an order.
func (s *Store) PutOrder(o shipper.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(&o)
}

// PutIntegration inserts or replaces an integration by ID.
func (s *Store) PutIntegration(i shipper.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx := range s.integrations {
		if s.integrations[idx].ID == i.ID {
			s.integrations[idx] = i
			return
		}
	}
	s.integrations = append(s.integrations, i)
}

// ============================================================================
// shipping.OrderStore
// ============================================================================

// GetOrder returns a copy of the order.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*shipper.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, shipper.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// GetTenantOrder returns a copy of the order if it belongs to tenantID.
func (s *Store) GetTenantOrder(ctx context.Context, tenantID, orderID string) (*shipper.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, shipper.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// ClaimShipment takes the order's shipping lock.
func (s *Store) ClaimShipment(ctx context.Context, req shipping.ClaimRequest) (*shipping.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[req.OrderID]
	if !ok {
		return nil, shipper.ErrOrderNotFound
	}
	if !req.Force && o.HasLiveShipment(req.Provider) {
		return &shipping.Claim{Order: cloneOrder(o), Existing: true}, nil
	}
	if !req.Force && o.LiveShipmentElsewhere(req.Provider) {
		return nil, fmt.Errorf("%w: order %s is shipped with %s", shipper.ErrProviderConflict, req.OrderID, o.ShippingProvider)
	}

	now := s.now()
	if l, held := s.locks[req.OrderID]; held && now.Before(l.until) {
		return nil, fmt.Errorf("%w: order %s", shipper.ErrShipmentInProgress, req.OrderID)
	}

	token := uuid.NewString()
	s.locks[req.OrderID] = lock{token: token, until: now.Add(req.TTL)}
	return &shipping.Claim{Order: cloneOrder(o), Token: token}, nil
}

// CompleteShipment records the shipment and releases the lock.
func (s *Store) CompleteShipment(ctx context.Context, orderID, token, provider string, res *shipper.ShipmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, held := s.locks[orderID]
	if !held || l.token != token {
		return shipping.ErrLeaseLost
	}
	o, ok := s.orders[orderID]
	if !ok {
		return shipper.ErrOrderNotFound
	}

	o.ShippingProvider = provider
	o.ShipmentID = res.ShipmentID
	o.TrackingNumber = res.TrackingNumber
	o.LabelURL = res.LabelURL
	o.ShippingStatus = shipper.StatusCreated
	o.UpdatedAt = s.now().UTC()
	delete(s.locks, orderID)
	return nil
}

// ReleaseShipment drops the lock if token still holds it.
func (s *Store) ReleaseShipment(ctx context.Context, orderID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, held := s.locks[orderID]; held && l.token == token {
		delete(s.locks, orderID)
	}
	return nil
}

// ApplyStatus applies a status update scoped to the update's tenant.
func (s *Store) ApplyStatus(ctx context.Context, u shipping.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[u.OrderID]
	if !ok || (u.TenantID != "" && o.TenantID != u.TenantID) {
		return shipper.ErrOrderNotFound
	}
	if u.Status != "" {
		o.ShippingStatus = u.Status
	}
	if u.TrackingNumber != "" {
		o.TrackingNumber = u.TrackingNumber
	}
	if len(u.WebhookData) > 0 {
		o.WebhookData = append(json.RawMessage(nil), u.WebhookData...)
	}
	o.UpdatedAt = s.now().UTC()
	return nil
}

// ============================================================================
// shipping.IntegrationStore
// ============================================================================

// FindActive returns the tenant's active integration of the given type.
func (s *Store) FindActive(ctx context.Context, tenantID, integrationType string) (*shipper.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.integrations {
		if i.IsActive && i.TenantID == tenantID && strings.EqualFold(i.Type, integrationType) {
			found := i
			return &found, nil
		}
	}
	return nil, shipper.ErrNoIntegration
}

// ListActiveByType returns active integrations of a type across tenants.
func (s *Store) ListActiveByType(ctx context.Context, integrationType string) ([]shipper.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shipper.Integration
	for _, i := range s.integrations {
		if i.IsActive && strings.EqualFold(i.Type, integrationType) {
			out = append(out, i)
		}
	}
	return out, nil
}

// ============================================================================
// webhook.InboxStore
// ============================================================================

// RecordWebhook appends the callback to the inbox.
func (s *Store) RecordWebhook(ctx context.Context, w webhook.InboundWebhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Body = append([]byte(nil), w.Body...)
	w.Headers = w.Headers.Clone()
	s.inbox = append(s.inbox, w)
	return nil
}

// Inbox returns the recorded callbacks in arrival order.
func (s *Store) Inbox() []webhook.InboundWebhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webhook.InboundWebhook(nil), s.inbox...)
}

func cloneOrder(o *shipper.Order) *shipper.Order {
	c := *o
	c.Packages = append([]shipper.Package(nil), o.Packages...)
	c.WebhookData = append(json.RawMessage(nil), o.WebhookData...)
	return &c
}

var (
	_ shipping.OrderStore       = (*Store)(nil)
	_ shipping.IntegrationStore = (*Store)(nil)
	_ webhook.InboxStore        = (*Store)(nil)
)
