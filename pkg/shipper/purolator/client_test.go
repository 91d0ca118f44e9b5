package purolator_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
	"github.com/tournevent/shipflow/pkg/shipper/purolator"
)

func newTestClient(mockClient *purolator.MockAPIClient) *purolator.Client {
	logger := otelzap.New(zap.NewNop())
	return purolator.NewWithAPIClient(
		purolator.Config{BillingAccountNumber: "9999999999"},
		mockClient,
		logger,
		nil,
	)
}

func testOrder() *shipper.Order {
	return &shipper.Order{
		ID:        "order-11",
		TenantID:  "tenant-1",
		Sender:    shipper.Contact{Name: "Warehouse", Phone: "+1 (416) 555-0100"},
		Recipient: shipper.Contact{Name: "Jane Doe"},
		SenderAddress: shipper.Address{
			Line1:        "123 Main St",
			City:         "Toronto",
			ProvinceCode: "ON",
			PostalCode:   "m5v 1a1",
			CountryCode:  "CA",
		},
		RecipientAddress: shipper.Address{
			Line1:        "456 Oak Ave",
			City:         "Vancouver",
			ProvinceCode: "BC",
			PostalCode:   "V6B 2W2",
			CountryCode:  "CA",
		},
		Packages: []shipper.Package{
			{Weight: 4, WeightUnit: shipper.WeightLB},
			{Weight: 1, WeightUnit: shipper.WeightLB},
		},
		IdempotencyKey: "order-11",
	}
}

func TestClient_Descriptor(t *testing.T) {
	d := newTestClient(purolator.NewMockAPIClient()).Descriptor()

	assert.Equal(t, "purolator", d.Slug)
	assert.True(t, d.Supports(shipper.FeatureCreateShipment))
	assert.True(t, d.Supports(shipper.FeatureTracking))
	assert.False(t, d.Supports(shipper.FeatureWebhook))
}

func TestClient_CreateShipment_Success(t *testing.T) {
	mockAPI := purolator.NewMockAPIClient()
	var captured *purolator.ShipmentRequest
	mockAPI.OnCreateShipment = func(ctx context.Context, req *purolator.ShipmentRequest) (*purolator.ShipmentResponse, error) {
		captured = req
		return &purolator.ShipmentResponse{
			ShipmentPIN:   "329000000001",
			DocumentLinks: []purolator.DocumentLink{{Type: "Label", URL: "https://label/1"}},
		}, nil
	}

	res, err := newTestClient(mockAPI).CreateShipment(context.Background(), shipper.Credentials{}, testOrder())

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "329000000001", res.ShipmentID)
	assert.Equal(t, "329000000001", res.TrackingNumber)
	assert.Equal(t, "https://label/1", res.LabelURL)

	require.NotNil(t, captured)
	assert.Equal(t, "9999999999", captured.BillingAccountNumber)
	assert.Equal(t, "PurolatorGround", captured.ServiceCode)
	assert.Equal(t, 2, captured.PackageInformation.TotalPieces)
	assert.InDelta(t, 5.0, captured.PackageInformation.TotalWeight.Value, 0.0001)
	assert.Equal(t, "lb", captured.PackageInformation.TotalWeight.Unit)
	assert.Equal(t, "123", captured.Sender.StreetNumber)
	assert.Equal(t, "Main St", captured.Sender.StreetName)
	assert.Equal(t, "M5V1A1", captured.Sender.PostalCode)
	assert.Equal(t, "416", captured.Sender.PhoneNumber.AreaCode)
	assert.Equal(t, "5550100", captured.Sender.PhoneNumber.Phone)
	assert.Equal(t, "order-11", captured.Reference)
	assert.Equal(t, "order-11", captured.RequestReference)
}

func TestClient_CreateShipment_BillingAccountFromIntegration(t *testing.T) {
	mockAPI := purolator.NewMockAPIClient()
	var account string
	mockAPI.OnCreateShipment = func(ctx context.Context, req *purolator.ShipmentRequest) (*purolator.ShipmentResponse, error) {
		account = req.BillingAccountNumber
		return &purolator.ShipmentResponse{ShipmentPIN: "1"}, nil
	}

	creds := shipper.Credentials{Config: map[string]any{"billing_account": "1234567"}}
	_, err := newTestClient(mockAPI).CreateShipment(context.Background(), creds, testOrder())

	require.NoError(t, err)
	assert.Equal(t, "1234567", account)
}

func TestClient_CreateShipment_Errors(t *testing.T) {
	tests := []struct {
		name      string
		apiErr    error
		wantCode  string
		retryable bool
	}{
		{
			name:      "validation error on address",
			apiErr:    &purolator.APIError{StatusCode: 422, Code: "1100445", Description: "Receiver postal code is invalid"},
			wantCode:  shipper.CodeInvalidAddress,
			retryable: false,
		},
		{
			name:      "other validation error",
			apiErr:    &purolator.APIError{StatusCode: 422, Code: "1100001", Description: "Service not available for lane"},
			wantCode:  shipper.CodeCarrierRejected,
			retryable: false,
		},
		{
			name:      "server fault",
			apiErr:    &purolator.APIError{StatusCode: 503, Code: "soap:Server", Description: "Internal error", Fault: true},
			wantCode:  shipper.CodeCarrierUnavailable,
			retryable: true,
		},
		{
			name:      "bad credentials",
			apiErr:    &purolator.APIError{StatusCode: 401, Code: "HTTP_401", Description: "Unauthorized"},
			wantCode:  shipper.CodeAuthentication,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAPI := purolator.NewMockAPIClient()
			mockAPI.OnCreateShipment = func(ctx context.Context, req *purolator.ShipmentRequest) (*purolator.ShipmentResponse, error) {
				return nil, tt.apiErr
			}

			res, err := newTestClient(mockAPI).CreateShipment(context.Background(), shipper.Credentials{}, testOrder())

			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			assert.Equal(t, tt.retryable, res.Retryable)
		})
	}
}

func TestClient_CreateShipment_ContextCancelled(t *testing.T) {
	mockAPI := purolator.NewMockAPIClient()
	mockAPI.SimulateLatency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newTestClient(mockAPI).CreateShipment(ctx, shipper.Credentials{}, testOrder())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Track(t *testing.T) {
	mockAPI := purolator.NewMockAPIClient()
	var pin string
	mockAPI.OnGetTracking = func(ctx context.Context, trackingPIN string) (*purolator.TrackingResponse, error) {
		pin = trackingPIN
		return &purolator.TrackingResponse{
			TrackingPIN: trackingPIN,
			Status:      "Delivered",
			Events: []purolator.TrackingEvent{
				{Timestamp: "2026-03-02T10:15:00", Type: "Delivered", Description: "Delivered"},
			},
		}, nil
	}

	info, err := newTestClient(mockAPI).Track(context.Background(), shipper.Credentials{},
		shipper.ShipmentRef{ShipmentID: "329000000001"})

	require.NoError(t, err)
	assert.Equal(t, "329000000001", pin)
	assert.Equal(t, shipper.StatusDelivered, info.Status)
	require.Len(t, info.Events, 1)
	assert.Equal(t, 2026, info.Events[0].Timestamp.Year())
}

func TestClient_CancelShipment(t *testing.T) {
	t.Run("voided", func(t *testing.T) {
		client := newTestClient(purolator.NewMockAPIClient())
		require.NoError(t, client.CancelShipment(context.Background(), shipper.Credentials{},
			shipper.ShipmentRef{ShipmentID: "329000000001"}))
	})

	t.Run("refused", func(t *testing.T) {
		mockAPI := purolator.NewMockAPIClient()
		mockAPI.OnVoidShipment = func(ctx context.Context, shipmentPIN string) (*purolator.VoidResponse, error) {
			return &purolator.VoidResponse{ShipmentPIN: shipmentPIN, Voided: false}, nil
		}

		err := newTestClient(mockAPI).CancelShipment(context.Background(), shipper.Credentials{},
			shipper.ShipmentRef{ShipmentID: "329000000001"})

		var shipperErr *shipper.ShipperError
		require.ErrorAs(t, err, &shipperErr)
		assert.Equal(t, shipper.CodeCarrierRejected, shipperErr.Code)
	})
}

func TestSOAPAPIClient_CreateShipment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "puro-key", user)
		assert.Equal(t, "puro-pass", pass)
		assert.Equal(t, "/EWS/V2/Shipping/ShippingService.asmx", r.URL.Path)
		assert.Equal(t, "http://purolator.com/pws/service/v2/CreateShipment", r.Header.Get("SOAPAction"))

		raw, _ := io.ReadAll(r.Body)
		body := string(raw)
		assert.True(t, strings.Contains(body, "<v2:Reference1>order-11</v2:Reference1>"))
		assert.True(t, strings.Contains(body, "<v2:RequestReference>order-11</v2:RequestReference>"))
		assert.True(t, strings.Contains(body, "<v2:Name>Jane Doe</v2:Name>"))

		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <CreateShipmentResponse xmlns="http://purolator.com/pws/datatypes/v2">
      <ResponseInformation><Errors/></ResponseInformation>
      <ShipmentPIN><Value>329011112222</Value></ShipmentPIN>
      <PiecePINs><PIN><Value>329011112222</Value></PIN></PiecePINs>
    </CreateShipmentResponse>
  </soap:Body>
</soap:Envelope>`))
	}))
	defer srv.Close()

	client := purolator.New(purolator.Config{BaseURL: srv.URL}, otelzap.New(zap.NewNop()), nil)
	creds := shipper.Credentials{APIKey: "puro-key", APISecret: "puro-pass"}

	res, err := client.CreateShipment(context.Background(), creds, testOrder())

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "329011112222", res.ShipmentID)
}

func TestSOAPAPIClient_Fault(t *testing.T) {
	tests := []struct {
		name      string
		faultCode string
		wantCode  string
		retryable bool
	}{
		{name: "server fault", faultCode: "soap:Server", wantCode: shipper.CodeCarrierUnavailable, retryable: true},
		{name: "client fault", faultCode: "soap:Client", wantCode: shipper.CodeCarrierRejected, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><soap:Fault><faultcode>` +
					tt.faultCode + `</faultcode><faultstring>boom</faultstring></soap:Fault></soap:Body></soap:Envelope>`))
			}))
			defer srv.Close()

			client := purolator.New(purolator.Config{BaseURL: srv.URL}, otelzap.New(zap.NewNop()), nil)

			res, err := client.CreateShipment(context.Background(), shipper.Credentials{APIKey: "k"}, testOrder())

			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.Equal(t, "boom", res.Error)
		})
	}
}
