// Package canadapost provides integration with the Canada Post shipping API.
package canadapost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
)

const carrierName = "canadapost"

// Config holds Canada Post configuration.
type Config struct {
	BaseURL            string
	AccountID          string // Default customer number
	GroupID            string
	DefaultServiceCode string
	UseMock            bool
	Timeout            time.Duration
}

// Client is the Canada Post shipper client.
type Client struct {
	config Config
	api    func(creds shipper.Credentials) APIClient
	logger *otelzap.Logger
	tracer trace.Tracer
}

// New creates a new Canada Post client.
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
		accountID := cfg.AccountID
		if override := creds.ConfigString("customer_number"); override != "" {
			accountID = override
		}
		return NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:    baseURL,
			APIKey:     creds.APIKey,
			APISecret:  creds.APISecret,
			AccountID:  accountID,
			HTTPClient: httpClient,
		})
	}
	return c
}

// NewWithAPIClient creates a new Canada Post client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	c := newClient(cfg, logger, tracer)
	c.api = func(shipper.Credentials) APIClient { return apiClient }
	return c
}

func newClient(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(carrierName)
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "default"
	}
	if cfg.DefaultServiceCode == "" {
		cfg.DefaultServiceCode = "DOM.EP"
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
		Name:        "Canada Post",
		DisplayName: "Canada Post / Postes Canada",
		Features: shipper.NewFeatureSet(
			shipper.FeatureCreateShipment,
			shipper.FeatureWebhook,
			shipper.FeatureTracking,
			shipper.FeatureCancelShipment,
		),
	}
}

// CreateShipment creates a shipment with Canada Post. Multi-package orders
// are sent as one parcel with the combined weight.
func (c *Client) CreateShipment(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.CreateShipment",
		trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Canada Post shipment",
		zap.String("order_id", order.ID),
		zap.String("tenant_id", creds.TenantID),
		zap.String("destination_postal", order.RecipientAddress.PostalCode),
	)

	serviceCode := order.ServiceCode
	if serviceCode == "" {
		serviceCode = c.config.DefaultServiceCode
	}

	var weight float64
	var dims Dimensions
	for i, pkg := range order.Packages {
		weight += pkg.Weight
		if i == 0 {
			dims = Dimensions{Length: pkg.Length, Width: pkg.Width, Height: pkg.Height}
		}
	}

	apiReq := &ShipmentRequest{
		GroupID:        c.config.GroupID,
		ServiceCode:    serviceCode,
		Sender:         addressToAPI(order.Sender, order.SenderAddress),
		Destination:    addressToAPI(order.Recipient, order.RecipientAddress),
		ParcelWeight:   weight,
		Dimensions:     dims,
		CustomerRef:    order.ID,
		IdempotencyKey: order.IdempotencyKey,
	}

	apiResp, err := c.api(creds).CreateShipment(ctx, apiReq)
	if err != nil {
		span.RecordError(err)
		var shipperErr *shipper.ShipperError
		if errors.As(translateError(err), &shipperErr) {
			c.logger.Ctx(ctx).Warn("Canada Post rejected shipment",
				zap.String("order_id", order.ID),
				zap.String("code", shipperErr.Code),
			)
			return shipperErr.Result(), nil
		}
		c.logger.Ctx(ctx).Error("Canada Post API error", zap.Error(err))
		return nil, fmt.Errorf("canadapost create shipment: %w", err)
	}

	labelURL := ""
	for _, link := range apiResp.Links {
		if link.Rel == "label" {
			labelURL = link.Href
			break
		}
	}

	return shipper.Succeeded(apiResp.ShipmentID, apiResp.TrackingPIN, labelURL), nil
}

// Track returns the tracking summary of a PIN.
func (c *Client) Track(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) (*shipper.TrackingInfo, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.Track")
	defer span.End()

	apiResp, err := c.api(creds).GetTracking(ctx, ref.TrackingNumber)
	if err != nil {
		span.RecordError(err)
		return nil, translateError(err)
	}

	events := make([]shipper.TrackingEvent, 0, len(apiResp.Events))
	for _, e := range apiResp.Events {
		ts, _ := time.Parse(time.RFC3339, e.Timestamp)
		events = append(events, shipper.TrackingEvent{
			Timestamp:   ts,
			Description: e.Description,
			Location:    e.Location,
			Status:      mapStatus(e.Type),
			CarrierCode: e.Type,
		})
	}

	return &shipper.TrackingInfo{
		TrackingNumber: apiResp.TrackingPIN,
		Status:         mapStatus(apiResp.Status),
		Events:         events,
	}, nil
}

// CancelShipment voids a shipment with Canada Post. Only shipments not yet
// transmitted can be voided.
func (c *Client) CancelShipment(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) error {
	ctx, span := c.tracer.Start(ctx, "canadapost.CancelShipment")
	defer span.End()

	c.logger.Ctx(ctx).Info("Voiding Canada Post shipment", zap.String("shipment_id", ref.ShipmentID))

	if _, err := c.api(creds).VoidShipment(ctx, ref.ShipmentID); err != nil {
		span.RecordError(err)
		return translateError(err)
	}
	return nil
}

// ============================================================================
// Conversion helpers
// ============================================================================

func addressToAPI(contact shipper.Contact, addr shipper.Address) Address {
	name := addr.Name
	if name == "" {
		name = contact.Name
	}
	phone := addr.Phone
	if phone == "" {
		phone = contact.Phone
	}
	company := addr.Company
	if company == "" {
		company = contact.Company
	}
	return Address{
		Name:         name,
		Company:      company,
		AddressLine1: addr.Line1,
		AddressLine2: addr.Line2,
		City:         addr.City,
		Province:     addr.ProvinceCode,
		PostalCode:   addr.PostalCode,
		CountryCode:  addr.CountryCode,
		Phone:        phone,
	}
}

func mapStatus(status string) shipper.ShipmentStatus {
	switch strings.ToUpper(status) {
	case "CREATED", "TRANSMITTED":
		return shipper.StatusCreated
	case "INDUCTION", "ACCEPTED":
		return shipper.StatusPickedUp
	case "IN_TRANSIT", "PROCESSED":
		return shipper.StatusInTransit
	case "OUT_FOR_DELIVERY":
		return shipper.StatusOutForDelivery
	case "DELIVERED":
		return shipper.StatusDelivered
	case "VOIDED":
		return shipper.StatusCancelled
	case "ATTEMPTED", "RETURNED", "DELIVERY_EXCEPTION":
		return shipper.StatusException
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
	desc := strings.ToLower(apiErr.Description)
	if apiErr.StatusCode < 500 && (strings.Contains(desc, "postal code") || strings.Contains(desc, "address")) {
		code = shipper.CodeInvalidAddress
	}
	return shipper.ClassifyHTTPStatus(carrierName, apiErr.StatusCode, code, apiErr.Description).WithCause(err)
}
