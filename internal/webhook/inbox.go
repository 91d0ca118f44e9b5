package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// InboundWebhook is the durable record of a carrier callback as received.
type InboundWebhook struct {
	Provider   string
	BodyHash   string
	Body       []byte
	Headers    http.Header
	ReceivedAt time.Time
}

// InboxStore durably records inbound callbacks before processing.
type InboxStore interface {
	RecordWebhook(ctx context.Context, w InboundWebhook) error
}

// Deduper reports whether a key is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// BodyHash returns the hex SHA-256 of a webhook body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// DedupKey identifies a verified callback for one integration and order.
func DedupKey(provider, integrationID, orderID string, body []byte) string {
	return "webhook:" + provider + ":" + integrationID + ":" + orderID + ":" + BodyHash(body)
}
