package canadapost

import (
	"context"
	"encoding/json"
	"encoding/xml"

	"go.uber.org/zap"

	"github.com/tournevent/shipflow/pkg/shipper"
)

// ProcessWebhook verifies and normalizes a Canada Post tracking update.
// Canada Post authenticates callbacks with HTTP Basic credentials equal to
// the integration's API key and secret. The XML body is stored as JSON.
func (c *Client) ProcessWebhook(ctx context.Context, req *shipper.WebhookRequest, creds shipper.Credentials) (*shipper.WebhookResult, error) {
	if !shipper.VerifyBasicAuth(req.Headers, creds.APIKey, creds.APISecret) {
		c.logger.Ctx(ctx).Debug("Canada Post webhook credentials mismatch",
			zap.String("integration_id", creds.IntegrationID))
		return shipper.Invalid(), nil
	}

	var update TrackingUpdate
	if err := xml.Unmarshal(req.RawBody, &update); err != nil {
		c.logger.Ctx(ctx).Debug("Canada Post webhook body is not a tracking update", zap.Error(err))
		return shipper.Invalid(), nil
	}

	data, err := json.Marshal(update)
	if err != nil {
		return nil, err
	}

	return &shipper.WebhookResult{
		Valid:          true,
		OrderID:        update.CustomerRef,
		Status:         mapStatus(update.EventType),
		TrackingNumber: update.PIN,
		Data:           data,
	}, nil
}

var (
	_ shipper.Provider         = (*Client)(nil)
	_ shipper.WebhookProcessor = (*Client)(nil)
	_ shipper.Tracker          = (*Client)(nil)
	_ shipper.Canceller        = (*Client)(nil)
)
