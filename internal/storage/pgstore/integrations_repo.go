package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tournevent/shipflow/pkg/shipper"
)

const selectIntegration = `
SELECT id, tenant_id, type, api_key, api_secret, config, is_active
FROM integrations
`

func (s *Storage) UpsertIntegration(ctx context.Context, i shipper.Integration) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO integrations (id, tenant_id, type, api_key, api_secret, config, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  tenant_id = EXCLUDED.tenant_id,
  type = EXCLUDED.type,
  api_key = EXCLUDED.api_key,
  api_secret = EXCLUDED.api_secret,
  config = EXCLUDED.config,
  is_active = EXCLUDED.is_active
`, i.ID, i.TenantID, i.Type, i.APIKey, i.APISecret, i.Config, i.IsActive)
	if err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}
	return nil
}

func (s *Storage) FindActive(ctx context.Context, tenantID, integrationType string) (*shipper.Integration, error) {
	rows, err := s.db.Query(ctx, selectIntegration+`
WHERE is_active AND tenant_id = $1 AND upper(type) = upper($2)
ORDER BY id
LIMIT 1
`, tenantID, integrationType)
	if err != nil {
		return nil, fmt.Errorf("select integration: %w", err)
	}
	list, err := collectIntegrations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, shipper.ErrNoIntegration
	}
	return &list[0], nil
}

func (s *Storage) ListActiveByType(ctx context.Context, integrationType string) ([]shipper.Integration, error) {
	rows, err := s.db.Query(ctx, selectIntegration+`
WHERE is_active AND upper(type) = upper($1)
ORDER BY tenant_id, id
`, integrationType)
	if err != nil {
		return nil, fmt.Errorf("select integrations: %w", err)
	}
	return collectIntegrations(rows)
}

func collectIntegrations(rows pgx.Rows) ([]shipper.Integration, error) {
	defer rows.Close()

	var out []shipper.Integration
	for rows.Next() {
		var i shipper.Integration
		if err := rows.Scan(&i.ID, &i.TenantID, &i.Type, &i.APIKey, &i.APISecret, &i.Config, &i.IsActive); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, i)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("rows: %w", rows.Err())
	}
	return out, nil
}
