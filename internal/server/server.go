package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/internal/webhook"
	"github.com/tournevent/shipflow/pkg/shipper"
)

// ShippingService is the tenant-facing shipping surface.
type ShippingService interface {
	RetryOrder(ctx context.Context, tenantID, orderID, userID string) *shipper.ShipmentResult
	TrackOrder(ctx context.Context, tenantID, orderID string) (*shipper.TrackingInfo, error)
	CancelOrder(ctx context.Context, tenantID, orderID, userID string) error
}

// WebhookHandler ingests carrier callbacks.
type WebhookHandler interface {
	Resolve(providerSlug string) (shipper.Provider, shipper.WebhookProcessor, error)
	Handle(ctx context.Context, providerSlug string, body []byte, headers http.Header) (webhook.Ack, error)
}

// Server is the HTTP server for the shipping service.
type Server struct {
	cfg      Config
	registry *shipper.Registry
	shipping ShippingService
	webhooks WebhookHandler
	tenants  TenantResolver
	metrics  http.Handler
	logger   *otelzap.Logger
}

// Config holds server configuration.
type Config struct {
	Port int
	// MaxWebhookBodyBytes caps inbound webhook bodies.
	MaxWebhookBodyBytes int64
	ShutdownTimeout     time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithTenantResolver replaces the header-based tenant resolver.
func WithTenantResolver(r TenantResolver) Option {
	return func(s *Server) { s.tenants = r }
}

// WithMetricsHandler replaces the default Prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New creates a new server instance.
func New(cfg Config, registry *shipper.Registry, shipping ShippingService, webhooks WebhookHandler, logger *otelzap.Logger, opts ...Option) *Server {
	if cfg.MaxWebhookBodyBytes <= 0 {
		cfg.MaxWebhookBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		shipping: shipping,
		webhooks: webhooks,
		tenants:  HeaderTenantResolver{},
		metrics:  promhttp.Handler(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Route("/shipping", func(r chi.Router) {
		// Carriers call this without tenant credentials.
		r.Post("/webhook/{provider}", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireTenant)
			r.Get("/providers", s.handleProviders)
			r.Post("/retry/{orderId}", s.handleRetry)
			r.Get("/track/{orderId}", s.handleTrack)
			r.Post("/cancel/{orderId}", s.handleCancel)
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
