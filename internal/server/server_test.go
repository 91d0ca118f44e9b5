package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/internal/server"
	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/internal/storage/memstore"
	"github.com/tournevent/shipflow/internal/telemetry"
	"github.com/tournevent/shipflow/internal/webhook"
	"github.com/tournevent/shipflow/pkg/shipper"
	"github.com/tournevent/shipflow/pkg/shipper/mock"
)

type testEnv struct {
	store   *memstore.Store
	acme    *mock.Client
	handler http.Handler
}

func newTestEnv(t *testing.T, cfg server.Config) *testEnv {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	acme := mock.New("acme")
	registry := shipper.MustNewRegistry(
		acme,
		mock.New("plain", mock.WithFeatures(shipper.FeatureCreateShipment)),
	)

	store := memstore.New()
	store.PutIntegration(shipper.Integration{ID: "I1", TenantID: "tenant-a", Type: "ACME_SHIPPING", APISecret: "s3cret", IsActive: true})
	store.PutOrder(shipper.Order{ID: "O1", TenantID: "tenant-a", ShippingProvider: "acme"})

	manager := shipping.NewManager(shipping.Config{}, registry, store, store, logger, shipping.WithMetrics(metrics))
	pipeline := webhook.NewPipeline(webhook.Config{}, registry, store, manager, logger, webhook.WithMetrics(metrics))

	srv := server.New(cfg, registry, manager, pipeline, logger,
		server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return &testEnv{store: store, acme: acme, handler: srv.Handler()}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

var tenantA = map[string]string{"X-Tenant-ID": "tenant-a", "X-User-ID": "user-1"}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, server.Config{})

	rec := env.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, server.Config{})
	env.do(http.MethodPost, "/shipping/retry/O1", "", tenantA)

	rec := env.do(http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shipflow_requests_total")
}

func TestServer_TenantAuthRequired(t *testing.T) {
	env := newTestEnv(t, server.Config{})

	for _, path := range []string{"/shipping/providers", "/shipping/track/O1"} {
		rec := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := env.do(http.MethodPost, "/shipping/retry/O1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, env.acme.CreateCalls())
}

func TestServer_Providers(t *testing.T) {
	env := newTestEnv(t, server.Config{})

	rec := env.do(http.MethodGet, "/shipping/providers", "", tenantA)

	require.Equal(t, http.StatusOK, rec.Code)
	var providers []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&providers))
	require.Len(t, providers, 2)
	assert.Equal(t, "acme", providers[0]["slug"])
	assert.Contains(t, providers[0]["features"], "Webhook")
}

func TestServer_Retry(t *testing.T) {
	env := newTestEnv(t, server.Config{})

	rec := env.do(http.MethodPost, "/shipping/retry/O1", "", tenantA)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["shipmentId"])
	assert.NotEmpty(t, body["trackingNumber"])
	assert.NotEmpty(t, body["labelUrl"])

	keys := env.acme.IdempotencyKeys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "O1-"))
}

func TestServer_RetryFailure(t *testing.T) {
	env := newTestEnv(t, server.Config{})

	rec := env.do(http.MethodPost, "/shipping/retry/O1", "", map[string]string{"X-Tenant-ID": "tenant-b"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, shipper.CodeOrderNotFound, body["errorCode"])
	assert.Equal(t, false, body["retryable"])
	assert.NotEmpty(t, body["error"])
}

func TestServer_TrackAndCancel(t *testing.T) {
	env := newTestEnv(t, server.Config{})

	rec := env.do(http.MethodGet, "/shipping/track/O1", "", tenantA)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/shipping/retry/O1", "", tenantA).Code)

	rec = env.do(http.MethodGet, "/shipping/track/O1", "", tenantA)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_transit", decode(t, rec)["status"])

	rec = env.do(http.MethodGet, "/shipping/track/nope", "", tenantA)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/shipping/cancel/O1", "", tenantA)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["cancelled"])

	rec = env.do(http.MethodPost, "/shipping/cancel/O1", "", tenantA)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_TrackUnsupported(t *testing.T) {
	env := newTestEnv(t, server.Config{})
	env.store.PutOrder(shipper.Order{ID: "O2", TenantID: "tenant-a", ShippingProvider: "plain", ShipmentID: "S2", ShippingStatus: shipper.StatusCreated})

	rec := env.do(http.MethodGet, "/shipping/track/O2", "", tenantA)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, shipper.CodeFeatureNotSupported, decode(t, rec)["errorCode"])
}

func TestServer_WebhookAlwaysAcknowledged(t *testing.T) {
	signed := `{"orderId":"O1","status":"delivered"}`

	tests := []struct {
		name    string
		body    string
		headers map[string]string
	}{
		{"well formed", signed, map[string]string{
			"Content-Type":       "application/json",
			mock.SignatureHeader: shipper.SignHMAC("s3cret", []byte(signed)),
		}},
		{"malformed body", "not json at all{", map[string]string{"Content-Type": "application/json"}},
		{"invalid signature", signed, map[string]string{"Content-Type": "application/json", mock.SignatureHeader: "deadbeef"}},
		{"unknown order", `{"orderId":"nope","status":"delivered"}`, map[string]string{
			"Content-Type":       "application/json",
			mock.SignatureHeader: shipper.SignHMAC("s3cret", []byte(`{"orderId":"nope","status":"delivered"}`)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, server.Config{})

			rec := env.do(http.MethodPost, "/shipping/webhook/acme", tt.body, tt.headers)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, true, decode(t, rec)["received"])
		})
	}
}

func TestServer_WebhookUpdatesOrder(t *testing.T) {
	env := newTestEnv(t, server.Config{})
	env.store.PutOrder(shipper.Order{ID: "O1", TenantID: "tenant-a", ShippingProvider: "acme", ShipmentID: "S1", ShippingStatus: shipper.StatusCreated})

	body := `{"orderId":"O1","status":"delivered"}`
	rec := env.do(http.MethodPost, "/shipping/webhook/acme", body, map[string]string{
		"Content-Type":       "application/json",
		mock.SignatureHeader: shipper.SignHMAC("s3cret", []byte(body)),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := env.store.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusDelivered, order.ShippingStatus)
	assert.JSONEq(t, body, string(order.WebhookData))
}

func TestServer_WebhookConfigurationErrors(t *testing.T) {
	env := newTestEnv(t, server.Config{})

	rec := env.do(http.MethodPost, "/shipping/webhook/unknown", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])

	rec = env.do(http.MethodPost, "/shipping/webhook/plain", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])
}

func TestServer_WebhookBodyLimit(t *testing.T) {
	env := newTestEnv(t, server.Config{MaxWebhookBodyBytes: 16})

	rec := env.do(http.MethodPost, "/shipping/webhook/acme", strings.Repeat("x", 64), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "payload too large", body["error"])
	assert.Equal(t, 0, env.acme.WebhookCalls())
}

func TestHeaderTenantResolver(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := server.HeaderTenantResolver{}.Resolve(req)
	assert.ErrorIs(t, err, server.ErrUnauthenticated)

	req.Header.Set("X-Tenant-ID", " tenant-a ")
	req.Header.Set("X-User-ID", "user-1")
	id, err := server.HeaderTenantResolver{}.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, server.Identity{TenantID: "tenant-a", UserID: "user-1"}, id)
}
