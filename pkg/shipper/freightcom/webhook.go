package freightcom

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body keyed by the
// integration's API secret.
const SignatureHeader = "X-Freightcom-Signature"

// ProcessWebhook verifies and normalizes a Freightcom status callback.
// The order is identified by the reference sent at shipment creation.
func (c *Client) ProcessWebhook(ctx context.Context, req *shipper.WebhookRequest, creds shipper.Credentials) (*shipper.WebhookResult, error) {
	if !shipper.VerifyHMAC(creds.APISecret, req.RawBody, req.Headers.Get(SignatureHeader)) {
		c.logger.Ctx(ctx).Debug("Freightcom webhook signature mismatch",
			zap.String("integration_id", creds.IntegrationID))
		return shipper.Invalid(), nil
	}

	var event WebhookEvent
	if err := json.Unmarshal(req.RawBody, &event); err != nil {
		c.logger.Ctx(ctx).Debug("Freightcom webhook body is not an event", zap.Error(err))
		return shipper.Invalid(), nil
	}

	return &shipper.WebhookResult{
		Valid:          true,
		OrderID:        event.Reference,
		Status:         mapStatus(event.Status),
		TrackingNumber: event.TrackingNumber,
		Data:           json.RawMessage(req.RawBody),
	}, nil
}

var (
	_ shipper.Provider         = (*Client)(nil)
	_ shipper.WebhookProcessor = (*Client)(nil)
	_ shipper.Tracker          = (*Client)(nil)
	_ shipper.Canceller        = (*Client)(nil)
)
