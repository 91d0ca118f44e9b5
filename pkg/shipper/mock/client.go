// Package mock provides a configurable in-process shipping provider for
// tests and mock deployments.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tournevent/shipflow/pkg/shipper"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body keyed by the
// integration's API secret.
const SignatureHeader = "X-Mock-Signature"

// CreateShipmentFunc overrides CreateShipment.
type CreateShipmentFunc func(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error)

// ProcessWebhookFunc overrides ProcessWebhook.
type ProcessWebhookFunc func(ctx context.Context, req *shipper.WebhookRequest, creds shipper.Credentials) (*shipper.WebhookResult, error)

// Client is a mock shipper for testing.
type Client struct {
	descriptor shipper.Descriptor

	// OnCreateShipment, when set, replaces the default behaviour.
	OnCreateShipment CreateShipmentFunc
	// OnProcessWebhook, when set, replaces the default behaviour.
	OnProcessWebhook ProcessWebhookFunc

	createCalls  atomic.Int64
	webhookCalls atomic.Int64

	mu          sync.Mutex
	lastKeys    []string
	cancelled   map[string]bool
	lastTracked string
}

// Option configures a mock client.
type Option func(*Client)

// WithFeatures replaces the default (full) feature set.
func WithFeatures(features ...shipper.Feature) Option {
	return func(c *Client) {
		c.descriptor.Features = shipper.NewFeatureSet(features...)
	}
}

// WithDisplayName sets the display name.
func WithDisplayName(name string) Option {
	return func(c *Client) {
		c.descriptor.DisplayName = name
	}
}

// WithCreateShipment installs a CreateShipment hook.
func WithCreateShipment(fn CreateShipmentFunc) Option {
	return func(c *Client) {
		c.OnCreateShipment = fn
	}
}

// WithProcessWebhook installs a ProcessWebhook hook.
func WithProcessWebhook(fn ProcessWebhookFunc) Option {
	return func(c *Client) {
		c.OnProcessWebhook = fn
	}
}

// New creates a new mock shipper registered under slug.
func New(slug string, opts ...Option) *Client {
	displayName := slug
	if slug != "" {
		displayName = strings.ToUpper(slug[:1]) + slug[1:]
	}
	c := &Client{
		descriptor: shipper.Descriptor{
			Slug:        slug,
			Name:        slug,
			DisplayName: displayName + " (mock)",
			Features: shipper.NewFeatureSet(
				shipper.FeatureCreateShipment,
				shipper.FeatureWebhook,
				shipper.FeatureTracking,
				shipper.FeatureCancelShipment,
			),
		},
		cancelled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Descriptor returns the static metadata of the mock carrier.
func (c *Client) Descriptor() shipper.Descriptor {
	return c.descriptor
}

// CreateShipment creates a mock shipment.
func (c *Client) CreateShipment(ctx context.Context, creds shipper.Credentials, order *shipper.Order) (*shipper.ShipmentResult, error) {
	c.createCalls.Add(1)
	c.mu.Lock()
	c.lastKeys = append(c.lastKeys, order.IdempotencyKey)
	c.mu.Unlock()

	if c.OnCreateShipment != nil {
		return c.OnCreateShipment(ctx, creds, order)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := strings.ToUpper(uuid.NewString()[:8])
	return shipper.Succeeded(
		fmt.Sprintf("%s-SHP-%s", strings.ToUpper(c.descriptor.Slug), id),
		fmt.Sprintf("%s-TRK-%s", strings.ToUpper(c.descriptor.Slug), id),
		fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.descriptor.Slug, id),
	), nil
}

// ProcessWebhook verifies the X-Mock-Signature header and reads
// {orderId, status, trackingNumber} from a JSON object payload.
func (c *Client) ProcessWebhook(ctx context.Context, req *shipper.WebhookRequest, creds shipper.Credentials) (*shipper.WebhookResult, error) {
	c.webhookCalls.Add(1)
	if c.OnProcessWebhook != nil {
		return c.OnProcessWebhook(ctx, req, creds)
	}

	if !shipper.VerifyHMAC(creds.APISecret, req.RawBody, req.Headers.Get(SignatureHeader)) {
		return shipper.Invalid(), nil
	}
	payload, ok := req.PayloadMap()
	if !ok {
		return shipper.Invalid(), nil
	}

	orderID, _ := payload["orderId"].(string)
	status, _ := payload["status"].(string)
	tracking, _ := payload["trackingNumber"].(string)
	return &shipper.WebhookResult{
		Valid:          true,
		OrderID:        orderID,
		Status:         shipper.ParseStatus(status),
		TrackingNumber: tracking,
		Data:           json.RawMessage(req.RawBody),
	}, nil
}

// Track returns a synthetic in-transit tracking state.
func (c *Client) Track(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) (*shipper.TrackingInfo, error) {
	c.mu.Lock()
	c.lastTracked = ref.TrackingNumber
	c.mu.Unlock()

	return &shipper.TrackingInfo{
		TrackingNumber: ref.TrackingNumber,
		Status:         shipper.StatusInTransit,
		Events: []shipper.TrackingEvent{
			{
				Timestamp:   time.Now().UTC(),
				Description: "Departed facility",
				Location:    "Toronto, ON",
				Status:      shipper.StatusInTransit,
			},
		},
	}, nil
}

// CancelShipment records the cancellation.
func (c *Client) CancelShipment(ctx context.Context, creds shipper.Credentials, ref shipper.ShipmentRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled[ref.ShipmentID] {
		return shipper.NewShipperError(c.descriptor.Slug, shipper.CodeCarrierRejected, "shipment already cancelled")
	}
	c.cancelled[ref.ShipmentID] = true
	return nil
}

// CreateCalls returns the number of CreateShipment invocations.
func (c *Client) CreateCalls() int {
	return int(c.createCalls.Load())
}

// WebhookCalls returns the number of ProcessWebhook invocations.
func (c *Client) WebhookCalls() int {
	return int(c.webhookCalls.Load())
}

// IdempotencyKeys returns the keys seen by CreateShipment, in call order.
func (c *Client) IdempotencyKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lastKeys...)
}

// LastTracked returns the tracking number of the last Track call.
func (c *Client) LastTracked() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTracked
}

// Cancelled reports whether CancelShipment was called for shipmentID.
func (c *Client) Cancelled(shipmentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[shipmentID]
}
