// Package events carries shipping domain events to downstream observers.
// Emission is fire-and-forget: the shipping core never blocks on, or
// fails because of, a publisher.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
)

// Type names a domain event.
type Type string

const (
	ShipmentCreated       Type = "shipment.created"
	ShipmentFailed        Type = "shipment.failed"
	ShipmentStatusUpdated Type = "shipment.status_updated"
	ShipmentCancelled     Type = "shipment.cancelled"
)

// Event is a shipping domain event.
type Event struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	TenantID       string                 `json:"tenantId,omitempty"`
	OrderID        string                 `json:"orderId"`
	Provider       string                 `json:"provider,omitempty"`
	ShipmentID     string                 `json:"shipmentId,omitempty"`
	TrackingNumber string                 `json:"trackingNumber,omitempty"`
	Status         shipper.ShipmentStatus `json:"status,omitempty"`
	ErrorCode      string                 `json:"errorCode,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Retryable      bool                   `json:"retryable,omitempty"`
	ForceResend    bool                   `json:"forceResend,omitempty"`
	UserID         string                 `json:"userId,omitempty"`
	OccurredAt     time.Time              `json:"occurredAt"`
}

// New stamps an event with an ID and the current time.
func New(t Type, tenantID, orderID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TenantID:   tenantID,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger *otelzap.Logger
}

// NewLogPublisher creates a publisher that logs every event.
func NewLogPublisher(logger *otelzap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event at info level.
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Ctx(ctx).Info("Shipping event",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("tenant_id", e.TenantID),
		zap.String("order_id", e.OrderID),
		zap.String("provider", e.Provider),
		zap.String("status", string(e.Status)),
		zap.String("error_code", e.ErrorCode),
	)
	return nil
}

var _ Publisher = (*LogPublisher)(nil)
