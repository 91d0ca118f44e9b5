package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tournevent/shipflow/internal/events"
	"github.com/tournevent/shipflow/internal/server"
	"github.com/tournevent/shipflow/internal/shipping"
	"github.com/tournevent/shipflow/internal/telemetry"
	"github.com/tournevent/shipflow/internal/webhook"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shipflow",
	Short:   "Multi-tenant shipping orchestration service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the shipping providers enabled by the current configuration",
	RunE:  runProviders,
}

var providersJSON bool

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(serveCmd, providersCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer func() { _ = tracerShutdown(context.WithoutCancel(ctx)) }()
	}
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize shipper registry with all carriers
	registry, err := initShipperRegistry(cfg, logger, tracer)
	if err != nil {
		return err
	}

	stores, err := initStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.close()

	publisher, closePublisher := initPublisher(cfg, logger)
	defer closePublisher()

	dispatcher := events.NewDispatcher(events.DispatcherConfig{
		QueueSize:      cfg.EventQueueSize,
		PublishTimeout: cfg.EventPublishLimit,
	}, publisher, logger, metrics)
	defer func() {
		if err := dispatcher.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Event dispatcher did not drain", zap.Error(err))
		}
	}()

	manager := shipping.NewManager(shipping.Config{
		ProviderTimeout: cfg.ProviderTimeout,
		LockTTL:         cfg.ShippingLockTTL,
	}, registry, stores.orders, stores.integrations, logger,
		shipping.WithEmitter(dispatcher),
		shipping.WithMetrics(metrics),
		shipping.WithTracer(tracer),
	)

	pipelineOpts := []webhook.Option{
		webhook.WithInbox(stores.inbox),
		webhook.WithMetrics(metrics),
		webhook.WithTracer(tracer),
	}
	if deduper := initDeduper(ctx, cfg, logger); deduper != nil {
		defer func() { _ = deduper.Close() }()
		pipelineOpts = append(pipelineOpts, webhook.WithDeduper(deduper))
	}
	pipeline := webhook.NewPipeline(webhook.Config{
		IntegrationTimeout: cfg.WebhookIntegrationTimeout,
		Concurrency:        cfg.WebhookConcurrency,
	}, registry, stores.integrations, manager, logger, pipelineOpts...)

	logger.Info("Starting shipflow",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Strings("providers", registry.Slugs()),
		zap.String("storage", cfg.StorageDriver),
		zap.String("events", cfg.EventsDriver),
	)

	// Start HTTP server
	srv := server.New(server.Config{
		Port:                cfg.Port,
		MaxWebhookBodyBytes: cfg.WebhookMaxBodyBytes,
		ShutdownTimeout:     cfg.ShutdownTimeout,
	}, registry, manager, pipeline, logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger("error", cfg.ServiceName)
	if err != nil {
		return err
	}
	registry, err := initShipperRegistry(cfg, logger, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if providersJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(registry.List())
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tINTEGRATION TYPE\tFEATURES")
	for _, d := range registry.List() {
		features := make([]string, 0, d.Features.Len())
		for _, f := range d.Features.List() {
			features = append(features, string(f))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Slug, d.DisplayName, d.IntegrationType(), strings.Join(features, ","))
	}
	return tw.Flush()
}
