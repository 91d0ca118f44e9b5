// Package freightcom provides integration with the Freightcom shipping API.
package freightcom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
)

const carrierName = "freightcom"

// Config holds Freightcom configuration. Account credentials are per
// tenant and arrive with each call.
type Config struct {
	BaseURL         string
	PaymentMethodID int           // Default when the integration config has none
	ServiceID       string        // Default when the order has no service code
	UseMock         bool          // When true, uses mock API client
	Timeout         time.Duration // HTTP timeout per carrier request
}

// Client is the Freightcom shipper client.
// It implements shipper.Provider, shipper.WebhookProcessor, shipper.Tracker
// and shipper.Canceller, delegating API calls to an APIClient (mock or HTTP)
// built from the tenant credentials.
type Client struct {
	config Config
	api    func(creds shipper.Credentials) APIClient
	logger *otelzap.Logger
	tracer trace.Tracer
}

// New creates a new Freightcom client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if cfg.UseMock {
		return NewWithAPIClient(cfg, NewMockAPIClient(), logger, tracer)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	c := newClient(cfg, logger, tracer)
	c.api = func(creds shipper.Credentials) APIClient {
		baseURL := cfg.BaseURL
		if override := creds.ConfigString("base_url"); override != "" {
			baseURL = override
		}
		return NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:    baseURL,
			APIKey:     creds.APIKey,
			HTTPClient: httpClient,
		})
	}
	return c
}

// NewWithAPIClient creates a new Freightcom client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	c := newClient(cfg, logger, tracer)
	c.api = func(shipper.Credentials) APIClient { return apiClient }
	return c
}

func newClient(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(carrierName)
	}
	return &Client{
		config: cfg,
		logger: logger,
		tracer: tracer,
	}
}

// Descriptor returns the static metadata of the carrier.
func (c *Client) Descriptor() shipper.Descriptor {
	return shipper.Descriptor{
		Slug:        carrierName,
		Name:        "Freightcom",
		DisplayName: "Freightcom",
		Features: shipper.NewFeatureSet(
			shipper.FeatureCreateShipment,
			shipper.FeatureWebhook,
			shipper.FeatureTracking,
			shipper.FeatureCancelShipment,
		),
	}
}

// CreateShipment creates a shipment with Freightcom.
func (c *Client) CreateShipment(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "freightcom.CreateShipment",
		trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Freightcom shipment",
		zap.String("order_id", order.ID),
		zap.String("tenant_id", creds.TenantID),
		zap.Int("package_count", len(order.Packages)),
	)

	paymentMethodID := c.config.PaymentMethodID
	if v, ok := creds.ConfigInt("payment_method_id"); ok {
		paymentMethodID = v
	}
	serviceID := order.ServiceCode
	if serviceID == "" {
		serviceID = c.config.ServiceID
	}
	uniqueID := order.IdempotencyKey
	if uniqueID == "" {
		uniqueID = order.ID
	}

	apiReq := &ShipmentRequest{
		UniqueID:        uniqueID,
		PaymentMethodID: paymentMethodID,
		ServiceID:       serviceID,
		Details: ShippingDetails{
			Origin:      addressToLocation(order.SenderAddress),
			Destination: addressToLocation(order.RecipientAddress),
			Packaging: PackagingInfo{
				Type:     "package",
				Packages: packagesToAPI(order.Packages),
			},
		},
		Sender:    contactToAPI(order.Sender),
		Recipient: contactToAPI(order.Recipient),
		Reference: order.ID,
		PONumber:  order.Reference,
	}

	apiResp, err := c.api(creds).CreateShipment(ctx, apiReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var shipperErr *shipper.ShipperError
		if errors.As(translateError(err), &shipperErr) {
			c.logger.Ctx(ctx).Warn("Freightcom rejected shipment",
				zap.String("order_id", order.ID),
				zap.String("code", shipperErr.Code),
				zap.Bool("retryable", shipperErr.Retryable),
			)
			return shipperErr.Result(), nil
		}
		c.logger.Ctx(ctx).Error("Freightcom API error", zap.Error(err))
		return nil, fmt.Errorf("freightcom create shipment: %w", err)
	}

	if apiResp.PreviouslyCreated {
		c.logger.Ctx(ctx).Info("Freightcom returned previously created shipment",
			zap.String("order_id", order.ID),
			zap.String("shipment_id", apiResp.ID),
		)
	}

	return shipmentResponseToResult(apiResp), nil
}

// Track returns the tracking events of a shipment. Freightcom indexes
// tracking by shipment ID.
func (c *Client) Track(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) (*shipper.TrackingInfo, error) {
	ctx, span := c.tracer.Start(ctx, "freightcom.Track")
	defer span.End()

	apiResp, err := c.api(creds).GetTracking(ctx, ref.ShipmentID)
	if err != nil {
		span.RecordError(err)
		c.logger.Ctx(ctx).Error("Freightcom tracking error", zap.String("shipment_id", ref.ShipmentID), zap.Error(err))
		return nil, translateError(err)
	}
	return trackingResponseToInfo(apiResp), nil
}

// CancelShipment cancels a shipment with Freightcom.
func (c *Client) CancelShipment(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) error {
	ctx, span := c.tracer.Start(ctx, "freightcom.CancelShipment")
	defer span.End()

	c.logger.Ctx(ctx).Info("Cancelling Freightcom shipment", zap.String("shipment_id", ref.ShipmentID))

	if _, err := c.api(creds).CancelShipment(ctx, ref.ShipmentID); err != nil {
		span.RecordError(err)
		c.logger.Ctx(ctx).Error("Freightcom cancel error", zap.String("shipment_id", ref.ShipmentID), zap.Error(err))
		return translateError(err)
	}
	return nil
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func addressToLocation(addr shipper.Address) Location {
	return Location{
		Name:        addr.Name,
		Company:     addr.Company,
		Address1:    addr.Line1,
		Address2:    addr.Line2,
		City:        addr.City,
		Province:    addr.ProvinceCode,
		PostalCode:  addr.PostalCode,
		Country:     addr.CountryCode,
		Phone:       addr.Phone,
		Email:       addr.Email,
		Residential: addr.IsResidential,
	}
}

func contactToAPI(c shipper.Contact) Contact {
	return Contact{
		Name:    c.Name,
		Company: c.Company,
		Phone:   c.Phone,
		Email:   c.Email,
	}
}

func packagesToAPI(pkgs []shipper.Package) []Package {
	result := make([]Package, len(pkgs))
	for i, p := range pkgs {
		result[i] = Package{
			Length:      p.Length,
			Width:       p.Width,
			Height:      p.Height,
			Weight:      p.Weight,
			Description: p.Description,
			Quantity:    1,
		}
	}
	return result
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

func shipmentResponseToResult(resp *ShipmentResponse) *shipper.ShipmentResult {
	trackingNumber := ""
	if len(resp.TrackingNumbers) > 0 {
		trackingNumber = resp.TrackingNumbers[0]
	}

	labelURL := ""
	for _, l := range resp.Labels {
		if l.Format == "pdf" {
			labelURL = l.URL
			break
		}
	}
	if labelURL == "" && len(resp.Labels) > 0 {
		labelURL = resp.Labels[0].URL
	}

	return shipper.Succeeded(resp.ID, trackingNumber, labelURL)
}

func trackingResponseToInfo(resp *TrackingResponse) *shipper.TrackingInfo {
	events := make([]shipper.TrackingEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		ts, _ := time.Parse(time.RFC3339, e.Timestamp)
		events = append(events, shipper.TrackingEvent{
			Timestamp:   ts,
			Description: e.Description,
			Location:    e.Location,
			Status:      mapStatus(e.Status),
			CarrierCode: e.Code,
		})
	}
	return &shipper.TrackingInfo{
		TrackingNumber: resp.TrackingNumber,
		Status:         mapStatus(resp.Status),
		Events:         events,
	}
}

// ============================================================================
// Mapping helpers
// ============================================================================

func mapStatus(status string) shipper.ShipmentStatus {
	switch status {
	case "pending", "processing":
		return shipper.StatusPending
	case "booked":
		return shipper.StatusCreated
	case "confirmed", "complete":
		return shipper.StatusConfirmed
	case "picked_up":
		return shipper.StatusPickedUp
	case "in_transit":
		return shipper.StatusInTransit
	case "out_for_delivery":
		return shipper.StatusOutForDelivery
	case "delivered":
		return shipper.StatusDelivered
	case "cancelled":
		return shipper.StatusCancelled
	case "exception", "error":
		return shipper.StatusException
	case "failed":
		return shipper.StatusFailed
	default:
		return shipper.ParseStatus(status)
	}
}

// translateError turns an APIError into a ShipperError carrying the
// normalized code and retryability. Other errors pass through.
func translateError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	code := ""
	switch apiErr.Code {
	case "INVALID_ADDRESS", "INVALID_POSTAL_CODE", "ADDRESS_VALIDATION_FAILED":
		code = shipper.CodeInvalidAddress
	case "RATE_LIMITED", "TOO_MANY_REQUESTS":
		code = shipper.CodeRateLimited
	case "TIMEOUT":
		code = shipper.CodeProviderTimeout
	}

	shipperErr := shipper.ClassifyHTTPStatus(carrierName, apiErr.StatusCode, code, apiErr.Message).WithCause(err)
	if code == shipper.CodeRateLimited || code == shipper.CodeProviderTimeout {
		shipperErr.WithRetryable(true)
	}
	return shipperErr
}
