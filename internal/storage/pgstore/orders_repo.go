package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/pkg/shipper"
)

// orderDetails holds the shipment inputs owned by the order collaborator.
type orderDetails struct {
	Sender           shipper.Contact   `json:"sender"`
	SenderAddress    shipper.Address   `json:"senderAddress"`
	Recipient        shipper.Contact   `json:"recipient"`
	RecipientAddress shipper.Address   `json:"recipientAddress"`
	Packages         []shipper.Package `json:"packages,omitempty"`
	ServiceCode      string            `json:"serviceCode,omitempty"`
	Reference        string            `json:"reference,omitempty"`
}

const selectOrder = `
SELECT
  id, tenant_id,
  shipping_provider, shipping_status, shipment_id, tracking_number, label_url,
  webhook_data, details, updated_at
FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*shipper.Order, error) {
	var (
		o       shipper.Order
		status  string
		data    []byte
		details orderDetails
	)
	if err := row.Scan(
		&o.ID, &o.TenantID,
		&o.ShippingProvider, &status, &o.ShipmentID, &o.TrackingNumber, &o.LabelURL,
		&data, &details, &o.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipper.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.ShippingStatus = shipper.ShipmentStatus(status)
	o.WebhookData = data
	o.Sender = details.Sender
	o.SenderAddress = details.SenderAddress
	o.Recipient = details.Recipient
	o.RecipientAddress = details.RecipientAddress
	o.Packages = details.Packages
	o.ServiceCode = details.ServiceCode
	o.Reference = details.Reference
	return &o, nil
}

// UpsertOrder inserts or replaces an order. It is used to seed orders owned
// by another service.
func (s *Storage) UpsertOrder(ctx context.Context, o shipper.Order) error {
	details := orderDetails{
		Sender:           o.Sender,
		SenderAddress:    o.SenderAddress,
		Recipient:        o.Recipient,
		RecipientAddress: o.RecipientAddress,
		Packages:         o.Packages,
		ServiceCode:      o.ServiceCode,
		Reference:        o.Reference,
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO orders (
  id, tenant_id, shipping_provider, shipping_status, shipment_id, tracking_number, label_url,
  webhook_data, details, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
ON CONFLICT (id) DO UPDATE SET
  tenant_id = EXCLUDED.tenant_id,
  shipping_provider = EXCLUDED.shipping_provider,
  shipping_status = EXCLUDED.shipping_status,
  shipment_id = EXCLUDED.shipment_id,
  tracking_number = EXCLUDED.tracking_number,
  label_url = EXCLUDED.label_url,
  webhook_data = EXCLUDED.webhook_data,
  details = EXCLUDED.details,
  updated_at = now()
`, o.ID, o.TenantID, o.ShippingProvider, string(o.ShippingStatus), o.ShipmentID, o.TrackingNumber, o.LabelURL,
		jsonArg(o.WebhookData), details)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID string) (*shipper.Order, error) {
	return scanOrder(s.db.QueryRow(ctx, selectOrder+`WHERE id = $1`, orderID))
}

func (s *Storage) GetTenantOrder(ctx context.Context, tenantID, orderID string) (*shipper.Order, error) {
	return scanOrder(s.db.QueryRow(ctx, selectOrder+`WHERE id = $1 AND tenant_id = $2`, orderID, tenantID))
}

// ClaimShipment locks the order row, then takes the shipping lease unless
// the order already has a live shipment or an unexpired lease. A live
// shipment with another provider is a conflict unless Force is set.
func (s *Storage) ClaimShipment(ctx context.Context, req shipping.ClaimRequest) (*shipping.Claim, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := scanOrder(tx.QueryRow(ctx, selectOrder+`WHERE id = $1 FOR UPDATE`, req.OrderID))
	if err != nil {
		return nil, err
	}
	if !req.Force && order.HasLiveShipment(req.Provider) {
		return &shipping.Claim{Order: order, Existing: true}, nil
	}
	if !req.Force && order.LiveShipmentElsewhere(req.Provider) {
		return nil, fmt.Errorf("%w: order %s is shipped with %s", shipper.ErrProviderConflict, req.OrderID, order.ShippingProvider)
	}

	now := time.Now().UTC()
	var lockUntil *time.Time
	if err := tx.QueryRow(ctx, `SELECT lock_until FROM orders WHERE id = $1`, req.OrderID).Scan(&lockUntil); err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	if lockUntil != nil && now.Before(*lockUntil) {
		return nil, fmt.Errorf("%w: order %s", shipper.ErrShipmentInProgress, req.OrderID)
	}

	token := uuid.NewString()
	if _, err := tx.Exec(ctx, `UPDATE orders SET lock_token = $2, lock_until = $3 WHERE id = $1`,
		req.OrderID, token, now.Add(req.TTL)); err != nil {
		return nil, fmt.Errorf("take lease: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &shipping.Claim{Order: order, Token: token}, nil
}

func (s *Storage) CompleteShipment(ctx context.Context, orderID, token, provider string, res *shipper.ShipmentResult) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET
  shipping_provider = $3,
  shipping_status = $4,
  shipment_id = $5,
  tracking_number = $6,
  label_url = $7,
  lock_token = NULL,
  lock_until = NULL,
  updated_at = now()
WHERE id = $1 AND lock_token = $2
`, orderID, token, provider, string(shipper.StatusCreated), res.ShipmentID, res.TrackingNumber, res.LabelURL)
	if err != nil {
		return fmt.Errorf("complete shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shipping.ErrLeaseLost
	}
	return nil
}

func (s *Storage) ReleaseShipment(ctx context.Context, orderID, token string) error {
	_, err := s.db.Exec(ctx, `UPDATE orders SET lock_token = NULL, lock_until = NULL WHERE id = $1 AND lock_token = $2`, orderID, token)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *Storage) ApplyStatus(ctx context.Context, u shipping.StatusUpdate) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET
  shipping_status = COALESCE(NULLIF($3, ''), shipping_status),
  tracking_number = COALESCE(NULLIF($4, ''), tracking_number),
  webhook_data = COALESCE($5::jsonb, webhook_data),
  updated_at = now()
WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
`, u.OrderID, u.TenantID, string(u.Status), u.TrackingNumber, jsonArg(u.WebhookData))
	if err != nil {
		return fmt.Errorf("apply status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shipper.ErrOrderNotFound
	}
	return nil
}

// jsonArg passes raw JSON through, or NULL when empty.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
