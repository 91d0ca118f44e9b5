// Package pgstore persists orders, integrations and the webhook inbox in
// PostgreSQL. The shipping lock lives on the order row as a leased token.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/internal/webhook"
)

type Storage struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect pg: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

var (
	_ shipping.OrderStore       = (*Storage)(nil)
	_ shipping.IntegrationStore = (*Storage)(nil)
	_ webhook.InboxStore        = (*Storage)(nil)
)
