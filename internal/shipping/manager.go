// Package shipping orchestrates shipment creation and status updates
// across the registered carriers.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/internal/events"
	"github.com/tournevent/shipflow/internal/telemetry"
	"github.com/tournevent/shipflow/pkg/shipper"
)

// Emitter receives domain events. Emit must not block.
type Emitter interface {
	Emit(ctx context.Context, e events.Event) bool
}

// Config holds Manager tuning.
type Config struct {
	ProviderTimeout time.Duration
	LockTTL         time.Duration
}

// SendOptions modifies SendOrder.
type SendOptions struct {
	// ForceResend creates a new shipment even if a live one exists.
	ForceResend bool
	// UserID is the acting user, recorded for audit.
	UserID string
}

// Manager coordinates carriers, credentials and order state.
type Manager struct {
	cfg          Config
	registry     *shipper.Registry
	orders       OrderStore
	integrations IntegrationStore
	emitter      Emitter
	logger       *otelzap.Logger
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmitter sets the domain event sink.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a Manager.
func NewManager(cfg Config, registry *shipper.Registry, orders OrderStore, integrations IntegrationStore, logger *otelzap.Logger, opts ...Option) *Manager {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}

	m := &Manager{
		cfg:          cfg,
		registry:     registry,
		orders:       orders,
		integrations: integrations,
		logger:       logger,
		tracer:       noop.NewTracerProvider().Tracer("shipping"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ============================================================================
// SendOrder
// ============================================================================

// SendOrder creates a shipment for the order with the named provider.
// Every outcome, including configuration problems, is reported in the
// result.
func (m *Manager) SendOrder(ctx context.Context, orderID, providerSlug string, opts SendOptions) *shipper.ShipmentResult {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "shipping.SendOrder", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("shipping.provider", providerSlug),
		attribute.Bool("shipping.force_resend", opts.ForceResend),
	))
	defer span.End()

	res := m.sendOrder(ctx, orderID, providerSlug, opts)

	status := "success"
	if !res.Success {
		status = "failure"
		m.metrics.RecordError(providerSlug, res.ErrorCode)
		span.SetStatus(codes.Error, res.ErrorCode)
	}
	m.metrics.RecordRequest("send_order", providerSlug, status, time.Since(start).Seconds())
	return res
}

func (m *Manager) sendOrder(ctx context.Context, orderID, providerSlug string, opts SendOptions) *shipper.ShipmentResult {
	log := m.logger.Ctx(ctx)

	provider, ok := m.registry.Get(providerSlug)
	if !ok {
		return shipper.Failed(shipper.CodeProviderNotFound,
			fmt.Sprintf("shipping provider %q is not registered", providerSlug), false)
	}
	desc := provider.Descriptor()
	if !desc.Supports(shipper.FeatureCreateShipment) {
		return shipper.Failed(shipper.CodeFeatureNotSupported,
			fmt.Sprintf("shipping provider %q cannot create shipments", desc.Slug), false)
	}

	claim, err := m.orders.ClaimShipment(ctx, ClaimRequest{
		OrderID:  orderID,
		Provider: desc.Slug,
		Force:    opts.ForceResend,
		TTL:      m.cfg.LockTTL,
	})
	switch {
	case errors.Is(err, shipper.ErrOrderNotFound):
		return shipper.Failed(shipper.CodeOrderNotFound, fmt.Sprintf("order %s not found", orderID), false)
	case errors.Is(err, shipper.ErrShipmentInProgress):
		return shipper.Failed(shipper.CodeShipmentInProgress, err.Error(), true)
	case errors.Is(err, shipper.ErrProviderConflict):
		return shipper.Failed(shipper.CodeProviderConflict, err.Error(), false)
	case err != nil:
		log.Error("Failed to claim order for shipping", zap.String("order_id", orderID), zap.Error(err))
		return shipper.Failed(shipper.CodeStorageError, "could not lock order for shipping", true)
	}

	order := claim.Order
	if claim.Existing {
		log.Info("Order already shipped, returning existing shipment",
			zap.String("order_id", orderID),
			zap.String("provider", desc.Slug),
			zap.String("shipment_id", order.ShipmentID),
		)
		return shipper.Succeeded(order.ShipmentID, order.TrackingNumber, order.LabelURL)
	}

	// Past this point the lock is held and must be released on every path.
	release := func() {
		if err := m.orders.ReleaseShipment(context.WithoutCancel(ctx), orderID, claim.Token); err != nil {
			log.Warn("Failed to release shipping lock", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	if opts.ForceResend {
		log.Warn("Forced shipment resend",
			zap.String("order_id", orderID),
			zap.String("tenant_id", order.TenantID),
			zap.String("provider", desc.Slug),
			zap.String("user_id", opts.UserID),
			zap.String("previous_shipment_id", order.ShipmentID),
		)
	}

	integration, err := m.integrations.FindActive(ctx, order.TenantID, desc.IntegrationType())
	if err != nil {
		release()
		if errors.Is(err, shipper.ErrNoIntegration) {
			res := shipper.Failed(shipper.CodeNoIntegration,
				fmt.Sprintf("no active %s integration configured", desc.IntegrationType()), false)
			m.emitFailure(ctx, order, desc.Slug, opts, res)
			return res
		}
		log.Error("Failed to load integration", zap.String("order_id", orderID), zap.Error(err))
		return shipper.Failed(shipper.CodeStorageError, "could not load carrier credentials", true)
	}

	order.IdempotencyKey = orderID
	if opts.ForceResend {
		order.IdempotencyKey = orderID + "-" + uuid.NewString()
	}

	res := m.createShipment(ctx, provider, integration.Credentials(), order)
	if !res.Success {
		release()
		log.Warn("Shipment creation failed",
			zap.String("order_id", orderID),
			zap.String("provider", desc.Slug),
			zap.String("error_code", res.ErrorCode),
			zap.Bool("retryable", res.Retryable),
		)
		m.emitFailure(ctx, order, desc.Slug, opts, res)
		return res
	}

	if err := m.orders.CompleteShipment(context.WithoutCancel(ctx), orderID, claim.Token, desc.Slug, res); err != nil {
		release()
		// The carrier holds a shipment the order does not reference.
		log.Error("Failed to record created shipment",
			zap.String("order_id", orderID),
			zap.String("provider", desc.Slug),
			zap.String("shipment_id", res.ShipmentID),
			zap.String("tracking_number", res.TrackingNumber),
			zap.Error(err),
		)
		return shipper.Failed(shipper.CodeStorageError,
			fmt.Sprintf("shipment %s created but could not be saved", res.ShipmentID), false)
	}

	log.Info("Shipment created",
		zap.String("order_id", orderID),
		zap.String("provider", desc.Slug),
		zap.String("shipment_id", res.ShipmentID),
		zap.String("tracking_number", res.TrackingNumber),
	)

	e := events.New(events.ShipmentCreated, order.TenantID, orderID)
	e.Provider = desc.Slug
	e.ShipmentID = res.ShipmentID
	e.TrackingNumber = res.TrackingNumber
	e.Status = shipper.StatusCreated
	e.ForceResend = opts.ForceResend
	e.UserID = opts.UserID
	m.emit(ctx, e)

	return res
}

// createShipment invokes the carrier under the provider timeout and turns
// errors and panics into failed results.
func (m *Manager) createShipment(ctx context.Context, provider shipper.Provider, creds shipper.Credentials, order *shipper.Order) (res *shipper.ShipmentResult) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Ctx(ctx).Error("Provider panicked during CreateShipment",
				zap.String("order_id", order.ID),
				zap.String("provider", provider.Descriptor().Slug),
				zap.Any("panic", r),
			)
			res = shipper.Failed(shipper.CodeProviderError, fmt.Sprintf("provider failed: %v", r), false)
		}
	}()

	result, err := provider.CreateShipment(ctx, creds, order)
	if err != nil {
		return shipper.ResultFromError(err)
	}
	if result == nil {
		return shipper.Failed(shipper.CodeProviderError, "provider returned no result", true)
	}
	return result
}

// RetryOrder re-sends an order of the tenant to its bound provider with
// ForceResend set.
func (m *Manager) RetryOrder(ctx context.Context, tenantID, orderID, userID string) *shipper.ShipmentResult {
	order, err := m.orders.GetTenantOrder(ctx, tenantID, orderID)
	switch {
	case errors.Is(err, shipper.ErrOrderNotFound):
		return shipper.Failed(shipper.CodeOrderNotFound, fmt.Sprintf("order %s not found", orderID), false)
	case err != nil:
		m.logger.Ctx(ctx).Error("Failed to load order for retry", zap.String("order_id", orderID), zap.Error(err))
		return shipper.Failed(shipper.CodeStorageError, "could not load order", true)
	}

	if order.ShippingProvider == "" {
		return shipper.Failed(shipper.CodeNoProviderBound,
			fmt.Sprintf("order %s has no shipping provider", orderID), false)
	}

	return m.SendOrder(ctx, orderID, order.ShippingProvider, SendOptions{ForceResend: true, UserID: userID})
}

// ============================================================================
// Tracking and cancellation
// ============================================================================

// TrackOrder returns the carrier's tracking state for the tenant's order.
func (m *Manager) TrackOrder(ctx context.Context, tenantID, orderID string) (*shipper.TrackingInfo, error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "shipping.TrackOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	bound, err := m.bind(ctx, tenantID, orderID, shipper.FeatureTracking)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	tracker, ok := bound.provider.(shipper.Tracker)
	if !ok {
		return nil, fmt.Errorf("%w: %s tracking", shipper.ErrFeatureNotSupported, bound.slug)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()

	info, err := tracker.Track(callCtx, bound.creds, bound.order.ShipmentRef())
	status := "success"
	if err != nil {
		status = "failure"
		span.RecordError(err)
		m.metrics.RecordError(bound.slug, shipper.ResultFromError(err).ErrorCode)
		err = fmt.Errorf("tracking order %s: %w", orderID, err)
	}
	m.metrics.RecordRequest("track_order", bound.slug, status, time.Since(start).Seconds())
	return info, err
}

// CancelOrder voids the order's live shipment with its carrier and marks
// the order cancelled.
func (m *Manager) CancelOrder(ctx context.Context, tenantID, orderID, userID string) error {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "shipping.CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	slug, err := m.cancelOrder(ctx, tenantID, orderID, userID)

	status := "success"
	if err != nil {
		status = "failure"
		span.RecordError(err)
	}
	m.metrics.RecordRequest("cancel_order", slug, status, time.Since(start).Seconds())
	return err
}

func (m *Manager) cancelOrder(ctx context.Context, tenantID, orderID, userID string) (string, error) {
	log := m.logger.Ctx(ctx)

	bound, err := m.bind(ctx, tenantID, orderID, shipper.FeatureCancelShipment)
	if err != nil {
		return "", err
	}
	slug := bound.slug
	canceller, ok := bound.provider.(shipper.Canceller)
	if !ok {
		return slug, fmt.Errorf("%w: %s cancellation", shipper.ErrFeatureNotSupported, slug)
	}

	claim, err := m.orders.ClaimShipment(ctx, ClaimRequest{
		OrderID:  orderID,
		Provider: bound.slug,
		Force:    true,
		TTL:      m.cfg.LockTTL,
	})
	if err != nil {
		return slug, err
	}
	defer func() {
		if err := m.orders.ReleaseShipment(context.WithoutCancel(ctx), orderID, claim.Token); err != nil {
			log.Warn("Failed to release shipping lock", zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	// Re-check under the lock: a resend may have replaced the shipment.
	order := claim.Order
	if !order.HasLiveShipment(bound.slug) {
		return slug, fmt.Errorf("%w: order %s", shipper.ErrNoLiveShipment, orderID)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()
	if err := canceller.CancelShipment(callCtx, bound.creds, order.ShipmentRef()); err != nil {
		m.metrics.RecordError(bound.slug, shipper.ResultFromError(err).ErrorCode)
		return slug, fmt.Errorf("cancelling shipment %s: %w", order.ShipmentID, err)
	}

	if err := m.orders.ApplyStatus(context.WithoutCancel(ctx), StatusUpdate{
		TenantID: order.TenantID,
		OrderID:  orderID,
		Status:   shipper.StatusCancelled,
	}); err != nil {
		log.Error("Shipment cancelled at carrier but order not updated",
			zap.String("order_id", orderID),
			zap.String("shipment_id", order.ShipmentID),
			zap.Error(err),
		)
		return slug, fmt.Errorf("recording cancellation: %w", err)
	}

	log.Info("Shipment cancelled",
		zap.String("order_id", orderID),
		zap.String("tenant_id", order.TenantID),
		zap.String("provider", bound.slug),
		zap.String("shipment_id", order.ShipmentID),
		zap.String("user_id", userID),
	)

	e := events.New(events.ShipmentCancelled, order.TenantID, orderID)
	e.Provider = bound.slug
	e.ShipmentID = order.ShipmentID
	e.TrackingNumber = order.TrackingNumber
	e.Status = shipper.StatusCancelled
	e.UserID = userID
	m.emit(ctx, e)
	return slug, nil
}

type boundOrder struct {
	order    *shipper.Order
	provider shipper.Provider
	slug     string
	creds    shipper.Credentials
}

// bind resolves the tenant's order, its provider (which must declare
// feature) and the tenant's credentials for that provider.
func (m *Manager) bind(ctx context.Context, tenantID, orderID string, feature shipper.Feature) (*boundOrder, error) {
	order, err := m.orders.GetTenantOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.ShippingProvider == "" {
		return nil, fmt.Errorf("%w: order %s", shipper.ErrNoProviderBound, orderID)
	}
	provider, err := m.registry.Lookup(order.ShippingProvider)
	if err != nil {
		return nil, err
	}
	desc := provider.Descriptor()
	if !desc.Supports(feature) {
		return nil, fmt.Errorf("%w: %s does not support %s", shipper.ErrFeatureNotSupported, desc.Slug, feature)
	}
	if !order.HasLiveShipment(desc.Slug) {
		return nil, fmt.Errorf("%w: order %s", shipper.ErrNoLiveShipment, orderID)
	}
	integration, err := m.integrations.FindActive(ctx, order.TenantID, desc.IntegrationType())
	if err != nil {
		return nil, err
	}
	return &boundOrder{order: order, provider: provider, slug: desc.Slug, creds: integration.Credentials()}, nil
}

// ============================================================================
// Status updates
// ============================================================================

// UpdateShippingStatus applies a webhook-derived status to an order. The
// latest update always wins. Unknown orders are dropped and storage
// failures are logged; nothing is reported to the caller.
func (m *Manager) UpdateShippingStatus(ctx context.Context, update StatusUpdate) {
	log := m.logger.Ctx(ctx)

	err := m.orders.ApplyStatus(ctx, update)
	switch {
	case errors.Is(err, shipper.ErrOrderNotFound):
		log.Debug("Dropping status update for unknown order",
			zap.String("order_id", update.OrderID),
			zap.String("tenant_id", update.TenantID),
		)
		return
	case err != nil:
		log.Error("Failed to apply shipping status",
			zap.String("order_id", update.OrderID),
			zap.String("status", string(update.Status)),
			zap.Error(err),
		)
		return
	}

	log.Info("Shipping status updated",
		zap.String("order_id", update.OrderID),
		zap.String("tenant_id", update.TenantID),
		zap.String("status", string(update.Status)),
	)

	e := events.New(events.ShipmentStatusUpdated, update.TenantID, update.OrderID)
	e.Status = update.Status
	e.TrackingNumber = update.TrackingNumber
	m.emit(ctx, e)
}

func (m *Manager) emitFailure(ctx context.Context, order *shipper.Order, slug string, opts SendOptions, res *shipper.ShipmentResult) {
	e := events.New(events.ShipmentFailed, order.TenantID, order.ID)
	e.Provider = slug
	e.ErrorCode = res.ErrorCode
	e.Error = res.Error
	e.Retryable = res.Retryable
	e.ForceResend = opts.ForceResend
	e.UserID = opts.UserID
	m.emit(ctx, e)
}

func (m *Manager) emit(ctx context.Context, e events.Event) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(ctx, e)
}
