package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/tournevent/shipflow/internal/webhook"
)

func (s *Storage) RecordWebhook(ctx context.Context, w webhook.InboundWebhook) error {
	receivedAt := w.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO webhook_inbox (provider, body_hash, body, headers, received_at)
VALUES ($1,$2,$3,$4,$5)
`, w.Provider, w.BodyHash, w.Body, w.Headers, receivedAt.UTC())
	if err != nil {
		return fmt.Errorf("record webhook: %w", err)
	}
	return nil
}

// CountWebhooks returns how many callbacks with the given body hash were
// received from provider.
func (s *Storage) CountWebhooks(ctx context.Context, provider, bodyHash string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM webhook_inbox WHERE provider = $1 AND body_hash = $2`,
		provider, bodyHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count webhooks: %w", err)
	}
	return n, nil
}
