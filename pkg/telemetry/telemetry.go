// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cnamed/pkg/config"
	"cnamed/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Telemetry holds the meter provider and the Prometheus exporter plumbing.
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics.
type Metrics struct {
	// Query path
	QueriesTotal    metric.Int64Counter
	QueriesByType   metric.Int64Counter
	QueryDuration   metric.Float64Histogram
	Rewritten       metric.Int64Counter
	NXDomain        metric.Int64Counter
	TemplateErrors  metric.Int64Counter
	InflightQueries metric.Int64UpDownCounter

	// Configuration
	RuleSetSize metric.Int64UpDownCounter

	// Storage
	StorageQueriesDropped metric.Int64Counter
}

// New creates a telemetry instance. When disabled it hands out noop
// providers so call sites never have to branch.
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:           cfg,
			meterProvider: noop.NewMeterProvider(),
			logger:        logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if cfg.ProcessMetrics {
		if err := t.registerProcessMetrics(); err != nil {
			return nil, fmt.Errorf("failed to register process metrics: %w", err)
		}
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

// setupMetrics initializes the metrics provider and, when enabled, the
// Prometheus scrape endpoint.
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

// startPrometheusServer starts the /metrics HTTP server.
func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// InitMetrics creates all application metrics on the configured meter.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("cnamed")

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	queriesByType, err := meter.Int64Counter(
		"dns.queries.by_type",
		metric.WithDescription("DNS queries by query type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries by type counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	rewritten, err := meter.Int64Counter(
		"dns.queries.rewritten",
		metric.WithDescription("Number of queries answered with a rewritten CNAME"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rewritten counter: %w", err)
	}

	nxdomain, err := meter.Int64Counter(
		"dns.queries.nxdomain",
		metric.WithDescription("Number of queries answered NXDOMAIN"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nxdomain counter: %w", err)
	}

	templateErrors, err := meter.Int64Counter(
		"dns.template.errors",
		metric.WithDescription("Number of matched rules whose template substitution failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create template errors counter: %w", err)
	}

	inflight, err := meter.Int64UpDownCounter(
		"dns.queries.inflight",
		metric.WithDescription("Number of queries currently being processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inflight gauge: %w", err)
	}

	ruleSetSize, err := meter.Int64UpDownCounter(
		"rules.size",
		metric.WithDescription("Number of compiled rewrite rules"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule set size gauge: %w", err)
	}

	storageDropped, err := meter.Int64Counter(
		"storage.queries.dropped",
		metric.WithDescription("Number of query log entries dropped due to full buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage dropped counter: %w", err)
	}

	return &Metrics{
		QueriesTotal:          queriesTotal,
		QueriesByType:         queriesByType,
		QueryDuration:         queryDuration,
		Rewritten:             rewritten,
		NXDomain:              nxdomain,
		TemplateErrors:        templateErrors,
		InflightQueries:       inflight,
		RuleSetSize:           ruleSetSize,
		StorageQueriesDropped: storageDropped,
	}, nil
}

// MeterProvider returns the meter provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// AddDroppedQuery implements storage.MetricsRecorder, letting Metrics be
// passed into storage without an import cycle.
func (m *Metrics) AddDroppedQuery(ctx context.Context, count int64) {
	if m != nil && m.StorageQueriesDropped != nil {
		m.StorageQueriesDropped.Add(ctx, count)
	}
}

// Shutdown gracefully shuts down telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
