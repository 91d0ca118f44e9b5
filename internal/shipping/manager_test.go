package shipping_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/internal/events"
	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/internal/storage/memstore"
	"github.com/tournevent/shipflow/internal/telemetry"
	"github.com/tournevent/shipflow/pkg/shipper"
	"github.com/tournevent/shipflow/pkg/shipper/mock"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, ev events.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return true
}

func (e *recordingEmitter) types() []events.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.Type, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store    *memstore.Store
	provider *mock.Client
	emitter  *recordingEmitter
	manager  *shipping.Manager
}

func newFixture(t *testing.T, provider *mock.Client, cfg shipping.Config) *fixture {
	t.Helper()

	store := memstore.New()
	store.PutOrder(shipper.Order{ID: "O1", TenantID: "tenant-a", ShippingProvider: provider.Descriptor().Slug})
	store.PutIntegration(shipper.Integration{
		ID:        "I1",
		TenantID:  "tenant-a",
		Type:      provider.Descriptor().IntegrationType(),
		APIKey:    "key",
		APISecret: "secret",
		IsActive:  true,
	})

	emitter := &recordingEmitter{}
	manager := shipping.NewManager(cfg,
		shipper.MustNewRegistry(provider),
		store, store,
		otelzap.New(zap.NewNop()),
		shipping.WithEmitter(emitter),
		shipping.WithMetrics(telemetry.NewMetrics(prometheus.NewRegistry())),
	)
	return &fixture{store: store, provider: provider, emitter: emitter, manager: manager}
}

func stubSuccess(shipmentID, tracking string) mock.Option {
	return mock.WithCreateShipment(func(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
		return shipper.Succeeded(shipmentID, tracking, ""), nil
	})
}

func TestManager_SendOrder_AcmeScenario(t *testing.T) {
	acme := mock.New("acme",
		mock.WithFeatures(shipper.FeatureCreateShipment, shipper.FeatureWebhook),
		stubSuccess("S1", "T1"),
	)
	f := newFixture(t, acme, shipping.Config{})

	res := f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{})

	require.True(t, res.Success)
	assert.Equal(t, "S1", res.ShipmentID)
	assert.Equal(t, "T1", res.TrackingNumber)

	order, err := f.store.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusCreated, order.ShippingStatus)
	assert.Equal(t, "T1", order.TrackingNumber)
	assert.Equal(t, "S1", order.ShipmentID)
	assert.Equal(t, "acme", order.ShippingProvider)

	assert.Equal(t, []string{"O1"}, acme.IdempotencyKeys())
	assert.Equal(t, []events.Type{events.ShipmentCreated}, f.emitter.types())
}

func TestManager_SendOrder_Idempotent(t *testing.T) {
	acme := mock.New("acme")
	f := newFixture(t, acme, shipping.Config{})
	ctx := context.Background()

	first := f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{})
	second := f.manager.SendOrder(ctx, "O1", "ACME", shipping.SendOptions{})

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.ShipmentID, second.ShipmentID)
	assert.Equal(t, first.TrackingNumber, second.TrackingNumber)
	assert.Equal(t, first.LabelURL, second.LabelURL)
	assert.Equal(t, 1, acme.CreateCalls())
}

func TestManager_SendOrder_ForceResend(t *testing.T) {
	acme := mock.New("acme")
	f := newFixture(t, acme, shipping.Config{})
	ctx := context.Background()

	first := f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{})
	resent := f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{ForceResend: true, UserID: "user-9"})

	require.True(t, first.Success)
	require.True(t, resent.Success)
	assert.NotEqual(t, first.ShipmentID, resent.ShipmentID)
	assert.Equal(t, 2, acme.CreateCalls())

	keys := acme.IdempotencyKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "O1", keys[0])
	assert.NotEqual(t, "O1", keys[1])
	assert.Contains(t, keys[1], "O1-")

	order, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, resent.ShipmentID, order.ShipmentID)
}

func TestManager_SendOrder_UnknownProvider(t *testing.T) {
	f := newFixture(t, mock.New("acme"), shipping.Config{})
	before, err := f.store.GetOrder(context.Background(), "O1")
	require.NoError(t, err)

	res := f.manager.SendOrder(context.Background(), "O1", "unknown-carrier", shipping.SendOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, shipper.CodeProviderNotFound, res.ErrorCode)
	assert.False(t, res.Retryable)

	after, err := f.store.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.emitter.types())
}

func TestManager_SendOrder_ConfigurationErrors(t *testing.T) {
	t.Run("order not found", func(t *testing.T) {
		f := newFixture(t, mock.New("acme"), shipping.Config{})
		res := f.manager.SendOrder(context.Background(), "missing", "acme", shipping.SendOptions{})
		assert.Equal(t, shipper.CodeOrderNotFound, res.ErrorCode)
		assert.False(t, res.Retryable)
	})

	t.Run("no integration", func(t *testing.T) {
		acme := mock.New("acme")
		f := newFixture(t, acme, shipping.Config{})
		f.store.PutIntegration(shipper.Integration{ID: "I1", TenantID: "tenant-a", Type: "ACME_SHIPPING", IsActive: false})

		res := f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{})

		assert.Equal(t, shipper.CodeNoIntegration, res.ErrorCode)
		assert.False(t, res.Retryable)
		assert.Equal(t, 0, acme.CreateCalls())
		assert.Equal(t, []events.Type{events.ShipmentFailed}, f.emitter.types())

		// The lock was released.
		f.store.PutIntegration(shipper.Integration{ID: "I1", TenantID: "tenant-a", Type: "ACME_SHIPPING", IsActive: true})
		assert.True(t, f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{}).Success)
	})

	t.Run("feature not supported", func(t *testing.T) {
		f := newFixture(t, mock.New("acme", mock.WithFeatures(shipper.FeatureWebhook)), shipping.Config{})
		res := f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{})
		assert.Equal(t, shipper.CodeFeatureNotSupported, res.ErrorCode)
	})
}

func TestManager_SendOrder_ProviderFailurePropagated(t *testing.T) {
	acme := mock.New("acme", mock.WithCreateShipment(func(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
		return shipper.Failed(shipper.CodeRateLimited, "slow down", true), nil
	}))
	f := newFixture(t, acme, shipping.Config{})

	res := f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, shipper.CodeRateLimited, res.ErrorCode)
	assert.Equal(t, "slow down", res.Error)
	assert.True(t, res.Retryable)

	order, err := f.store.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Empty(t, order.ShipmentID)
	assert.Empty(t, order.ShippingStatus)
	assert.Equal(t, []events.Type{events.ShipmentFailed}, f.emitter.types())
}

func TestManager_SendOrder_CredentialsFromIntegration(t *testing.T) {
	var got shipper.Credentials
	acme := mock.New("acme", mock.WithCreateShipment(func(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
		got = creds
		return shipper.Succeeded("S1", "T1", ""), nil
	}))
	f := newFixture(t, acme, shipping.Config{})

	require.True(t, f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{}).Success)
	assert.Equal(t, "I1", got.IntegrationID)
	assert.Equal(t, "tenant-a", got.TenantID)
	assert.Equal(t, "secret", got.APISecret)
}

func TestManager_SendOrder_ProviderTimeout(t *testing.T) {
	acme := mock.New("acme", mock.WithCreateShipment(func(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	f := newFixture(t, acme, shipping.Config{ProviderTimeout: 20 * time.Millisecond})

	res := f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, shipper.CodeProviderTimeout, res.ErrorCode)
	assert.True(t, res.Retryable)
}

func TestManager_SendOrder_ProviderPanic(t *testing.T) {
	acme := mock.New("acme", mock.WithCreateShipment(func(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
		panic("boom")
	}))
	f := newFixture(t, acme, shipping.Config{})

	res := f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, shipper.CodeProviderError, res.ErrorCode)

	// The lock did not leak.
	acme.OnCreateShipment = nil
	assert.True(t, f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{}).Success)
}

func TestManager_SendOrder_ConcurrentCallsShipOnce(t *testing.T) {
	release := make(chan struct{})
	acme := mock.New("acme", mock.WithCreateShipment(func(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
		<-release
		return shipper.Succeeded("S1", "T1", ""), nil
	}))
	f := newFixture(t, acme, shipping.Config{})

	const callers = 8
	results := make(chan *shipper.ShipmentResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.manager.SendOrder(context.Background(), "O1", "acme", shipping.SendOptions{})
		}()
	}

	require.Eventually(t, func() bool { return acme.CreateCalls() == 1 }, time.Second, time.Millisecond)
	// Give the other callers time to hit the lock before the holder finishes.
	require.Eventually(t, func() bool { return len(results) == callers-1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	var succeeded, inProgress int
	for res := range results {
		switch {
		case res.Success:
			succeeded++
		case res.ErrorCode == shipper.CodeShipmentInProgress:
			inProgress++
			assert.True(t, res.Retryable)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, inProgress)
	assert.Equal(t, 1, acme.CreateCalls())
}

func TestManager_RetryOrder(t *testing.T) {
	t.Run("resends to bound provider", func(t *testing.T) {
		acme := mock.New("acme")
		f := newFixture(t, acme, shipping.Config{})
		ctx := context.Background()

		require.True(t, f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{}).Success)
		res := f.manager.RetryOrder(ctx, "tenant-a", "O1", "user-1")

		require.True(t, res.Success)
		assert.Equal(t, 2, acme.CreateCalls())
	})

	t.Run("other tenant", func(t *testing.T) {
		f := newFixture(t, mock.New("acme"), shipping.Config{})
		res := f.manager.RetryOrder(context.Background(), "tenant-b", "O1", "user-1")
		assert.Equal(t, shipper.CodeOrderNotFound, res.ErrorCode)
	})

	t.Run("no provider bound", func(t *testing.T) {
		f := newFixture(t, mock.New("acme"), shipping.Config{})
		f.store.PutOrder(shipper.Order{ID: "O2", TenantID: "tenant-a"})
		res := f.manager.RetryOrder(context.Background(), "tenant-a", "O2", "user-1")
		assert.Equal(t, shipper.CodeNoProviderBound, res.ErrorCode)
		assert.False(t, res.Retryable)
	})
}

func TestManager_UpdateShippingStatus(t *testing.T) {
	f := newFixture(t, mock.New("acme"), shipping.Config{})
	ctx := context.Background()
	require.True(t, f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{}).Success)

	f.manager.UpdateShippingStatus(ctx, shipping.StatusUpdate{
		TenantID:    "tenant-a",
		OrderID:     "O1",
		Status:      shipper.StatusDelivered,
		WebhookData: []byte(`{"orderId":"O1","status":"delivered"}`),
	})

	order, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusDelivered, order.ShippingStatus)
	assert.JSONEq(t, `{"orderId":"O1","status":"delivered"}`, string(order.WebhookData))

	// Last write wins, even when it moves backwards.
	f.manager.UpdateShippingStatus(ctx, shipping.StatusUpdate{TenantID: "tenant-a", OrderID: "O1", Status: shipper.StatusInTransit, TrackingNumber: "T-NEW"})
	order, err = f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusInTransit, order.ShippingStatus)
	assert.Equal(t, "T-NEW", order.TrackingNumber)

	// Unknown orders are dropped without panicking or emitting.
	before := len(f.emitter.types())
	f.manager.UpdateShippingStatus(ctx, shipping.StatusUpdate{TenantID: "tenant-a", OrderID: "nope", Status: shipper.StatusDelivered})
	assert.Len(t, f.emitter.types(), before)
}

func TestManager_TrackOrder(t *testing.T) {
	acme := mock.New("acme")
	f := newFixture(t, acme, shipping.Config{})
	ctx := context.Background()

	_, err := f.manager.TrackOrder(ctx, "tenant-a", "O1")
	assert.ErrorIs(t, err, shipper.ErrNoLiveShipment)

	sent := f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{})
	require.True(t, sent.Success)

	info, err := f.manager.TrackOrder(ctx, "tenant-a", "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusInTransit, info.Status)
	assert.Equal(t, sent.TrackingNumber, acme.LastTracked())

	_, err = f.manager.TrackOrder(ctx, "tenant-b", "O1")
	assert.ErrorIs(t, err, shipper.ErrOrderNotFound)
}

func TestManager_TrackOrder_Unsupported(t *testing.T) {
	f := newFixture(t, mock.New("acme", mock.WithFeatures(shipper.FeatureCreateShipment)), shipping.Config{})
	ctx := context.Background()
	require.True(t, f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{}).Success)

	_, err := f.manager.TrackOrder(ctx, "tenant-a", "O1")
	assert.ErrorIs(t, err, shipper.ErrFeatureNotSupported)
}

func TestManager_CancelOrder(t *testing.T) {
	acme := mock.New("acme")
	f := newFixture(t, acme, shipping.Config{})
	ctx := context.Background()

	sent := f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{})
	require.True(t, sent.Success)

	require.NoError(t, f.manager.CancelOrder(ctx, "tenant-a", "O1", "user-1"))
	assert.True(t, acme.Cancelled(sent.ShipmentID))

	order, err := f.store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusCancelled, order.ShippingStatus)
	assert.Contains(t, f.emitter.types(), events.ShipmentCancelled)

	err = f.manager.CancelOrder(ctx, "tenant-a", "O1", "user-1")
	assert.ErrorIs(t, err, shipper.ErrNoLiveShipment)

	// A cancelled shipment no longer short-circuits SendOrder.
	again := f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{})
	require.True(t, again.Success)
	assert.NotEqual(t, sent.ShipmentID, again.ShipmentID)
}

func TestManager_CancelOrder_WhileShipping(t *testing.T) {
	acme := mock.New("acme")
	f := newFixture(t, acme, shipping.Config{})
	ctx := context.Background()
	require.True(t, f.manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{}).Success)

	claim, err := f.store.ClaimShipment(ctx, shipping.ClaimRequest{OrderID: "O1", Provider: "acme", Force: true, TTL: time.Minute})
	require.NoError(t, err)
	defer func() { _ = f.store.ReleaseShipment(ctx, "O1", claim.Token) }()

	err = f.manager.CancelOrder(ctx, "tenant-a", "O1", "user-1")
	assert.ErrorIs(t, err, shipper.ErrShipmentInProgress)
}

func TestManager_SendOrder_LiveShipmentWithOtherProvider(t *testing.T) {
	acme := mock.New("acme")
	beta := mock.New("beta")
	store := memstore.New()
	store.PutOrder(shipper.Order{ID: "O1", TenantID: "tenant-a", ShippingProvider: "acme"})
	for _, p := range []*mock.Client{acme, beta} {
		store.PutIntegration(shipper.Integration{ID: "I-" + p.Descriptor().Slug, TenantID: "tenant-a", Type: p.Descriptor().IntegrationType(), IsActive: true})
	}
	manager := shipping.NewManager(shipping.Config{}, shipper.MustNewRegistry(acme, beta), store, store, otelzap.New(zap.NewNop()))
	ctx := context.Background()

	first := manager.SendOrder(ctx, "O1", "acme", shipping.SendOptions{})
	require.True(t, first.Success)

	res := manager.SendOrder(ctx, "O1", "beta", shipping.SendOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, shipper.CodeProviderConflict, res.ErrorCode)
	assert.False(t, res.Retryable)
	assert.Equal(t, 0, beta.CreateCalls())

	order, err := store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "acme", order.ShippingProvider)
	assert.Equal(t, first.ShipmentID, order.ShipmentID)

	// The lock was never taken, so an explicit resend goes through.
	forced := manager.SendOrder(ctx, "O1", "beta", shipping.SendOptions{ForceResend: true})
	require.True(t, forced.Success)
	assert.Equal(t, 1, beta.CreateCalls())

	order, err = store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "beta", order.ShippingProvider)
}
