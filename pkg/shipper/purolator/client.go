// Package purolator provides integration with the Purolator shipping API.
package purolator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
)

const carrierName = "purolator"

// Config holds Purolator configuration. Usernames and passwords are the
// tenant's API key and secret.
type Config struct {
	BaseURL              string
	BillingAccountNumber string // Default when the integration config has none
	UseMock              bool
	Timeout              time.Duration
}

// Client is the Purolator API client. Purolator offers no push
// notifications, so the client does not process webhooks.
type Client struct {
	config Config
	api    func(creds shipper.Credentials) APIClient
	logger *otelzap.Logger
	tracer trace.Tracer
}

// New creates a new Purolator client.
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
		return NewSOAPAPIClient(SOAPAPIClientConfig{
			BaseURL:    baseURL,
			Username:   creds.APIKey,
			Password:   creds.APISecret,
			HTTPClient: httpClient,
		})
	}
	return c
}

// NewWithAPIClient creates a new Purolator client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	c := newClient(cfg, logger, tracer)
	c.api = func(shipper.Credentials) APIClient { return apiClient }
	return c
}

func newClient(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(carrierName)
	}
	return &Client{config: cfg, logger: logger, tracer: tracer}
}

// Descriptor returns the static metadata of the carrier.
func (c *Client) Descriptor() shipper.Descriptor {
	return shipper.Descriptor{
		Slug:        carrierName,
		Name:        "Purolator",
		DisplayName: "Purolator",
		Features: shipper.NewFeatureSet(
			shipper.FeatureCreateShipment,
			shipper.FeatureTracking,
			shipper.FeatureCancelShipment,
		),
	}
}

// CreateShipment creates a shipment with Purolator.
func (c *Client) CreateShipment(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "purolator.CreateShipment",
		trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Purolator shipment",
		zap.String("order_id", order.ID),
		zap.String("tenant_id", creds.TenantID),
	)

	account := c.config.BillingAccountNumber
	if v := creds.ConfigString("billing_account"); v != "" {
		account = v
	}
	serviceCode := order.ServiceCode
	if serviceCode == "" {
		serviceCode = "PurolatorGround"
	}

	var weight float64
	unit := "kg"
	for _, p := range order.Packages {
		weight += p.Weight
		if p.WeightUnit == shipper.WeightLB {
			unit = "lb"
		}
	}
	pieces := len(order.Packages)
	if pieces == 0 {
		pieces = 1
	}

	apiReq := &ShipmentRequest{
		BillingAccountNumber: account,
		ServiceCode:          serviceCode,
		Sender:               addressToAPI(order.Sender, order.SenderAddress),
		Receiver:             addressToAPI(order.Recipient, order.RecipientAddress),
		PackageInformation: PackageInformation{
			TotalWeight: Weight{Value: weight, Unit: unit},
			TotalPieces: pieces,
		},
		PrinterType:      "Thermal",
		Reference:        order.ID,
		RequestReference: order.IdempotencyKey,
	}

	apiResp, err := c.api(creds).CreateShipment(ctx, apiReq)
	if err != nil {
		span.RecordError(err)
		var shipperErr *shipper.ShipperError
		if errors.As(translateError(err), &shipperErr) {
			c.logger.Ctx(ctx).Warn("Purolator rejected shipment",
				zap.String("order_id", order.ID),
				zap.String("code", shipperErr.Code),
			)
			return shipperErr.Result(), nil
		}
		c.logger.Ctx(ctx).Error("Purolator API error", zap.Error(err))
		return nil, fmt.Errorf("purolator create shipment: %w", err)
	}

	var labelURL string
	for _, link := range apiResp.DocumentLinks {
		if link.Type == "Label" {
			labelURL = link.URL
			break
		}
	}

	// Purolator uses the shipment PIN as both identifier and tracking number.
	return shipper.Succeeded(apiResp.ShipmentPIN, apiResp.ShipmentPIN, labelURL), nil
}

// Track returns the scans of a shipment PIN.
func (c *Client) Track(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) (*shipper.TrackingInfo, error) {
	ctx, span := c.tracer.Start(ctx, "purolator.Track")
	defer span.End()

	pin := ref.TrackingNumber
	if pin == "" {
		pin = ref.ShipmentID
	}

	apiResp, err := c.api(creds).GetTracking(ctx, pin)
	if err != nil {
		span.RecordError(err)
		return nil, translateError(err)
	}

	events := make([]shipper.TrackingEvent, 0, len(apiResp.Events))
	for _, e := range apiResp.Events {
		ts, _ := time.Parse("2006-01-02T15:04:05", e.Timestamp)
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

// CancelShipment voids a shipment with Purolator.
func (c *Client) CancelShipment(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) error {
	ctx, span := c.tracer.Start(ctx, "purolator.CancelShipment")
	defer span.End()

	resp, err := c.api(creds).VoidShipment(ctx, ref.ShipmentID)
	if err != nil {
		span.RecordError(err)
		return translateError(err)
	}
	if !resp.Voided {
		return shipper.NewShipperError(carrierName, shipper.CodeCarrierRejected, "shipment could not be voided")
	}
	return nil
}

// ============================================================================
// Conversion helpers
// ============================================================================

func addressToAPI(contact shipper.Contact, addr shipper.Address) Address {
	number, street := splitStreet(addr.Line1)
	name := addr.Name
	if name == "" {
		name = contact.Name
	}
	phone := addr.Phone
	if phone == "" {
		phone = contact.Phone
	}
	return Address{
		Name:         name,
		Company:      addr.Company,
		StreetNumber: number,
		StreetName:   street,
		City:         addr.City,
		Province:     addr.ProvinceCode,
		PostalCode:   strings.ReplaceAll(strings.ToUpper(addr.PostalCode), " ", ""),
		Country:      addr.CountryCode,
		PhoneNumber:  splitPhone(phone),
	}
}

// splitStreet separates a leading civic number ("123 Main St").
func splitStreet(line string) (number, street string) {
	line = strings.TrimSpace(line)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i <= 0 {
		return "", line
	}
	head := line[:i]
	if !unicode.IsDigit(rune(head[0])) {
		return "", line
	}
	return head, strings.TrimSpace(line[i:])
}

// splitPhone parses a North American number into area code and local part.
func splitPhone(phone string) PhoneNumber {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	digits = strings.TrimPrefix(digits, "1")
	if len(digits) != 10 {
		return PhoneNumber{CountryCode: "1", Phone: digits}
	}
	return PhoneNumber{CountryCode: "1", AreaCode: digits[:3], Phone: digits[3:]}
}

func mapStatus(scanType string) shipper.ShipmentStatus {
	switch scanType {
	case "PickedUp", "Pickup":
		return shipper.StatusPickedUp
	case "InTransit", "Undeliverable":
		return shipper.StatusInTransit
	case "OutForDelivery", "OnDelivery":
		return shipper.StatusOutForDelivery
	case "Delivered", "ProofOfDelivery":
		return shipper.StatusDelivered
	case "Exception", "ReturnToSender":
		return shipper.StatusException
	case "Void":
		return shipper.StatusCancelled
	default:
		return shipper.ParseStatus(scanType)
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
	if !apiErr.Fault && (strings.Contains(desc, "postal code") || strings.Contains(desc, "address")) {
		code = shipper.CodeInvalidAddress
	}
	return shipper.ClassifyHTTPStatus(carrierName, apiErr.StatusCode, code, apiErr.Description).WithCause(err)
}

var (
	_ shipper.Provider  = (*Client)(nil)
	_ shipper.Tracker   = (*Client)(nil)
	_ shipper.Canceller = (*Client)(nil)
)
