// Package webhook ingests carrier callbacks. A callback is fanned out to
// every active integration of the carrier, and each integration's result
// is applied independently. The caller always gets an acknowledgement.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/internal/telemetry"
	"github.com/tournevent/shipflow/pkg/shipper"
)

// Outcome labels for per-integration processing.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
)

// IntegrationLister loads the integrations a callback is fanned out to.
type IntegrationLister interface {
	ListActiveByType(ctx context.Context, integrationType string) ([]shipper.Integration, error)
}

// StatusUpdater applies normalized results.
type StatusUpdater interface {
	UpdateShippingStatus(ctx context.Context, update shipping.StatusUpdate)
}

// Ack is returned to the carrier.
type Ack struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Config tunes the pipeline.
type Config struct {
	// IntegrationTimeout bounds each integration's ProcessWebhook call,
	// whether or not the processor honors its context.
	IntegrationTimeout time.Duration
	// Concurrency bounds parallel integrations per callback.
	Concurrency int
}

// Pipeline processes inbound carrier callbacks.
type Pipeline struct {
	cfg          Config
	registry     *shipper.Registry
	integrations IntegrationLister
	updater      StatusUpdater
	inbox        InboxStore
	deduper      Deduper
	logger       *otelzap.Logger
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithInbox records every callback before processing.
func WithInbox(inbox InboxStore) Option {
	return func(p *Pipeline) { p.inbox = inbox }
}

// WithDeduper suppresses repeated verified deliveries of the same body to
// the same integration and order.
func WithDeduper(d Deduper) Option {
	return func(p *Pipeline) { p.deduper = d }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config, registry *shipper.Registry, integrations IntegrationLister, updater StatusUpdater, logger *otelzap.Logger, opts ...Option) *Pipeline {
	if cfg.IntegrationTimeout <= 0 {
		cfg.IntegrationTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	p := &Pipeline{
		cfg:          cfg,
		registry:     registry,
		integrations: integrations,
		updater:      updater,
		logger:       logger,
		tracer:       noop.NewTracerProvider().Tracer("webhook"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve returns the webhook processor for a provider slug. It fails with
// shipper.ErrProviderNotFound or shipper.ErrWebhookNotSupported.
func (p *Pipeline) Resolve(providerSlug string) (shipper.Provider, shipper.WebhookProcessor, error) {
	provider, err := p.registry.Lookup(providerSlug)
	if err != nil {
		return nil, nil, err
	}
	processor, ok := provider.(shipper.WebhookProcessor)
	if !provider.Descriptor().Supports(shipper.FeatureWebhook) || !ok {
		return nil, nil, fmt.Errorf("%w: %s", shipper.ErrWebhookNotSupported, provider.Descriptor().Slug)
	}
	return provider, processor, nil
}

// Handle processes one callback. Only provider resolution errors are
// returned; everything after that is logged and acknowledged.
func (p *Pipeline) Handle(ctx context.Context, providerSlug string, body []byte, headers http.Header) (Ack, error) {
	provider, processor, err := p.Resolve(providerSlug)
	if err != nil {
		return Ack{}, err
	}
	desc := provider.Descriptor()

	ctx, span := p.tracer.Start(ctx, "webhook.Handle", trace.WithAttributes(
		attribute.String("shipping.provider", desc.Slug),
		attribute.Int("webhook.body_bytes", len(body)),
	))
	defer span.End()

	log := p.logger.Ctx(ctx).WithOptions(zap.Fields(zap.String("provider", desc.Slug)))

	if p.inbox != nil {
		if err := p.inbox.RecordWebhook(ctx, InboundWebhook{
			Provider:   desc.Slug,
			BodyHash:   BodyHash(body),
			Body:       body,
			Headers:    headers,
			ReceivedAt: time.Now().UTC(),
		}); err != nil {
			log.Warn("Failed to record inbound webhook", zap.Error(err))
		}
	}

	integrations, err := p.integrations.ListActiveByType(ctx, desc.IntegrationType())
	if err != nil {
		log.Error("Failed to load integrations for webhook", zap.Error(err))
		p.metrics.RecordWebhook(desc.Slug, OutcomeError)
		return Ack{Received: true}, nil
	}
	if len(integrations) == 0 {
		log.Debug("No active integrations for webhook")
		p.metrics.RecordWebhook(desc.Slug, OutcomeUnmatched)
		return Ack{Received: true}, nil
	}

	contentType := headers.Get("Content-Type")

	var matched, duplicates atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, integration := range integrations {
		g.Go(func() error {
			outcome := p.process(ctx, desc.Slug, processor, integration, body, contentType, headers)
			switch outcome {
			case OutcomeMatched:
				matched.Add(1)
			case OutcomeDuplicate:
				duplicates.Add(1)
			}
			p.metrics.RecordWebhook(desc.Slug, outcome)
			return nil
		})
	}
	_ = g.Wait()

	return Ack{Received: true, Duplicate: duplicates.Load() > 0 && matched.Load() == 0}, nil
}

type processed struct {
	res *shipper.WebhookResult
	err error
}

// process runs one integration. Its failures never affect the others.
func (p *Pipeline) process(ctx context.Context, slug string, processor shipper.WebhookProcessor, integration shipper.Integration, body []byte, contentType string, headers http.Header) (outcome string) {
	log := p.logger.Ctx(ctx).WithOptions(zap.Fields(
		zap.String("provider", slug),
		zap.String("integration_id", integration.ID),
		zap.String("tenant_id", integration.TenantID),
	))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Webhook processing panicked", zap.Any("panic", r))
			outcome = OutcomeError
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.IntegrationTimeout)
	defer cancel()

	// Each integration gets its own parsed copy so processors cannot
	// observe each other's mutations.
	req := &shipper.WebhookRequest{
		Payload: ParsePayload(contentType, body),
		RawBody: body,
		Headers: headers.Clone(),
	}
	creds := integration.Credentials()

	// A processor that ignores callCtx is abandoned at the deadline.
	done := make(chan processed, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- processed{err: fmt.Errorf("webhook processor panicked: %v", r)}
			}
		}()
		res, err := processor.ProcessWebhook(callCtx, req, creds)
		done <- processed{res: res, err: err}
	}()

	var out processed
	select {
	case out = <-done:
	case <-callCtx.Done():
		log.Warn("Webhook processing timed out", zap.Duration("timeout", p.cfg.IntegrationTimeout))
		return OutcomeError
	}

	res := out.res
	if out.err != nil {
		log.Warn("Webhook processing failed", zap.Error(out.err))
		return OutcomeError
	}
	if res == nil || !res.Valid {
		log.Debug("Webhook rejected by integration")
		return OutcomeInvalid
	}
	if !res.Matched() {
		log.Debug("Webhook matched no order")
		return OutcomeUnmatched
	}

	if p.deduper != nil {
		first, err := p.deduper.FirstSeen(ctx, DedupKey(slug, integration.ID, res.OrderID, body))
		if err != nil {
			log.Warn("Webhook de-duplication unavailable", zap.Error(err))
		} else if !first {
			log.Debug("Duplicate webhook ignored", zap.String("order_id", res.OrderID))
			return OutcomeDuplicate
		}
	}

	data := res.Data
	if len(data) == 0 {
		data = rawData(body)
	}
	p.updater.UpdateShippingStatus(ctx, shipping.StatusUpdate{
		TenantID:       integration.TenantID,
		OrderID:        res.OrderID,
		Status:         res.Status,
		TrackingNumber: res.TrackingNumber,
		WebhookData:    data,
	})
	return OutcomeMatched
}

// ParsePayload decodes a body according to its content type. JSON objects
// and arrays become map[string]any and []any, form bodies become
// map[string]any. Anything else, including undecodable bodies, is
// returned as the raw text.
func ParsePayload(contentType string, body []byte) any {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return string(body)
		}
		out := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				out[k] = v[0]
				continue
			}
			list := make([]any, len(v))
			for i, s := range v {
				list[i] = s
			}
			out[k] = list
		}
		return out
	case mediaType == "" || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return string(body)
		}
		switch v.(type) {
		case map[string]any, []any:
			return v
		}
		return string(body)
	default:
		return string(body)
	}
}

// rawData stores a body as JSON: verbatim when it is JSON, as a string
// otherwise.
func rawData(body []byte) json.RawMessage {
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
