package main

import (
	"context"
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/internal/broker/kafka"
	"github.com/tournevent/shipflow/internal/cache/rediscache"
	"github.com/tournevent/shipflow/internal/config"
	"github.com/tournevent/shipflow/internal/events"
	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/internal/storage/memstore"
	"github.com/tournevent/shipflow/internal/storage/pgstore"
	"github.com/tournevent/shipflow/internal/telemetry"
	"github.com/tournevent/shipflow/internal/webhook"
	"github.com/tournevent/shipflow/pkg/shipper"
	"github.com/tournevent/shipflow/pkg/shipper/canadapost"
	"github.com/tournevent/shipflow/pkg/shipper/freightcom"
	"github.com/tournevent/shipflow/pkg/shipper/purolator"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level, service string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level, service)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return noop.NewTracerProvider().Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}

	tp, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
	if err != nil {
		return noop.NewTracerProvider().Tracer(cfg.ServiceName), nil, err
	}
	return tp.Tracer(cfg.ServiceName, trace.WithInstrumentationAttributes(cfg.Attributes()...)), shutdown, nil
}

func initShipperRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) (*shipper.Registry, error) {
	var providers []shipper.Provider

	// Register enabled carriers
	if cfg.FreightcomEnabled {
		providers = append(providers, freightcom.New(freightcom.Config{
			BaseURL:         cfg.FreightcomBaseURL,
			PaymentMethodID: cfg.FreightcomPaymentMethodID,
			ServiceID:       cfg.FreightcomServiceID,
			UseMock:         cfg.FreightcomUseMock,
			Timeout:         cfg.CarrierHTTPTimeout,
		}, logger, tracer))
	}

	if cfg.CanadaPostEnabled {
		providers = append(providers, canadapost.New(canadapost.Config{
			BaseURL:            cfg.CanadaPostBaseURL,
			AccountID:          cfg.CanadaPostAccountID,
			GroupID:            cfg.CanadaPostGroupID,
			DefaultServiceCode: cfg.CanadaPostServiceCode,
			UseMock:            cfg.CanadaPostUseMock,
			Timeout:            cfg.CarrierHTTPTimeout,
		}, logger, tracer))
	}

	if cfg.PurolatorEnabled {
		providers = append(providers, purolator.New(purolator.Config{
			BaseURL:              cfg.PurolatorBaseURL,
			BillingAccountNumber: cfg.PurolatorBillingAccount,
			UseMock:              cfg.PurolatorUseMock,
			Timeout:              cfg.CarrierHTTPTimeout,
		}, logger, tracer))
	}

	registry, err := shipper.NewRegistry(providers...)
	if err != nil {
		return nil, fmt.Errorf("building provider registry: %w", err)
	}
	return registry, nil
}

type storage struct {
	orders       shipping.OrderStore
	integrations shipping.IntegrationStore
	inbox        webhook.InboxStore
	close        func()
}

func initStores(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &storage{orders: pg, integrations: pg, inbox: pg, close: pg.Close}, nil
	default:
		mem := memstore.New()
		return &storage{orders: mem, integrations: mem, inbox: mem, close: func() {}}, nil
	}
}

func initPublisher(cfg *config.Config, logger *otelzap.Logger) (events.Publisher, func()) {
	switch cfg.EventsDriver {
	case config.EventsKafka:
		p := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("Failed to close kafka producer", zap.Error(err))
			}
		}
	default:
		return events.NewLogPublisher(logger), func() {}
	}
}

// initDeduper returns nil when webhook de-duplication is not configured.
func initDeduper(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) *rediscache.Deduper {
	if cfg.RedisAddr == "" {
		return nil
	}
	d := rediscache.New(cfg.RedisAddr, cfg.WebhookDedupTTL)
	if err := d.Ping(ctx); err != nil {
		// Processing still works without de-duplication.
		logger.Warn("Redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return d
}
