package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Storage and event drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	EventsLog   = "log"
	EventsKafka = "kafka"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port                int           `envconfig:"PORT" default:"80"`
	LogLevel            string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	WebhookMaxBodyBytes int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`

	// Shipping core
	ProviderTimeout           time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	ShippingLockTTL           time.Duration `envconfig:"SHIPPING_LOCK_TTL" default:"2m"`
	WebhookIntegrationTimeout time.Duration `envconfig:"WEBHOOK_INTEGRATION_TIMEOUT" default:"5s"`
	WebhookConcurrency        int           `envconfig:"WEBHOOK_CONCURRENCY" default:"4"`

	// Storage
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"memory"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	// Webhook de-duplication; disabled when REDIS_ADDR is empty.
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	WebhookDedupTTL time.Duration `envconfig:"WEBHOOK_DEDUP_TTL" default:"24h"`

	// Events
	EventsDriver      string        `envconfig:"EVENTS_DRIVER" default:"log"`
	KafkaBrokers      []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic        string        `envconfig:"KAFKA_TOPIC" default:"shipping-events"`
	EventQueueSize    int           `envconfig:"EVENT_QUEUE_SIZE" default:"256"`
	EventPublishLimit time.Duration `envconfig:"EVENT_PUBLISH_TIMEOUT" default:"5s"`

	// Freightcom
	FreightcomBaseURL         string `envconfig:"FREIGHTCOM_BASE_URL" default:"https://external-api.freightcom.com"`
	FreightcomPaymentMethodID int    `envconfig:"FREIGHTCOM_PAYMENT_METHOD_ID"`
	FreightcomServiceID       string `envconfig:"FREIGHTCOM_SERVICE_ID"`
	FreightcomEnabled         bool   `envconfig:"FREIGHTCOM_ENABLED" default:"true"`
	FreightcomUseMock         bool   `envconfig:"FREIGHTCOM_USE_MOCK" default:"false"`

	// Canada Post
	CanadaPostBaseURL     string `envconfig:"CANADAPOST_BASE_URL" default:"https://soa-gw.canadapost.ca"`
	CanadaPostAccountID   string `envconfig:"CANADAPOST_ACCOUNT_ID"`
	CanadaPostGroupID     string `envconfig:"CANADAPOST_GROUP_ID"`
	CanadaPostServiceCode string `envconfig:"CANADAPOST_SERVICE_CODE" default:"DOM.EP"`
	CanadaPostEnabled     bool   `envconfig:"CANADAPOST_ENABLED" default:"true"`
	CanadaPostUseMock     bool   `envconfig:"CANADAPOST_USE_MOCK" default:"false"`

	// Purolator
	PurolatorBaseURL        string `envconfig:"PUROLATOR_BASE_URL" default:"https://webservices.purolator.com"`
	PurolatorBillingAccount string `envconfig:"PUROLATOR_BILLING_ACCOUNT"`
	PurolatorEnabled        bool   `envconfig:"PUROLATOR_ENABLED" default:"true"`
	PurolatorUseMock        bool   `envconfig:"PUROLATOR_USE_MOCK" default:"false"`

	// Carrier HTTP timeout
	CarrierHTTPTimeout time.Duration `envconfig:"CARRIER_HTTP_TIMEOUT" default:"25s"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"shipflow"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks driver selections and their required settings.
func (c *Config) Validate() error {
	c.StorageDriver = strings.ToLower(c.StorageDriver)
	c.EventsDriver = strings.ToLower(c.EventsDriver)

	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required with STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.EventsDriver {
	case EventsLog:
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("config: KAFKA_BROKERS is required with EVENTS_DRIVER=kafka")
		}
	default:
		return fmt.Errorf("config: unknown EVENTS_DRIVER %q", c.EventsDriver)
	}
	return nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("storage.driver", c.StorageDriver),
		attribute.String("events.driver", c.EventsDriver),
		attribute.Bool("webhook.dedup", c.RedisAddr != ""),
		attribute.Bool("freightcom.enabled", c.FreightcomEnabled),
		attribute.Bool("canadapost.enabled", c.CanadaPostEnabled),
		attribute.Bool("purolator.enabled", c.PurolatorEnabled),
	}
}
