package observability

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// ObservabilityConfig holds configuration for observability
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	ConsoleOutput  bool
	PrettyPrint    bool
	SampleRate     float64
	Prometheus     PrometheusConfig
}

// Pipeline metric types accepted by RecordPipelineMetric.
const (
	MetricAdapterCall      = "adapter_call"
	MetricRanking          = "ranking"
	MetricSemanticDegraded = "semantic_degraded"
	MetricVariantGenerated = "variant_generated"
	MetricOutcomeRecorded  = "outcome_recorded"
	MetricScheduleDropped  = "schedule_dropped"
	MetricServiceEvent     = "service_event"
	MetricRateLimitHit     = "rate_limit_hit"
)

var pipelineCounters = []struct {
	kind string
	name string
	desc string
}{
	{MetricAdapterCall, "jobpilot_ingestion_adapter_calls_total", "Ingestion adapter calls by adapter and outcome"},
	{MetricRanking, "jobpilot_rankings_total", "Job rankings computed"},
	{MetricSemanticDegraded, "jobpilot_semantic_degraded_total", "Rankings computed without the semantic component"},
	{MetricVariantGenerated, "jobpilot_variants_total", "CV variants generated"},
	{MetricOutcomeRecorded, "jobpilot_outcomes_total", "Application outcome updates"},
	{MetricScheduleDropped, "jobpilot_schedule_dropped_total", "Application intents dropped by the scheduler"},
	{MetricServiceEvent, "jobpilot_service_events_total", "Domain events of the mesh services by service and event"},
}

// Metrics holds the instruments of one service. The zero value records
// nothing, so callers never check whether observability is enabled.
type Metrics struct {
	RequestCount    metric.Int64Counter
	RequestDuration metric.Float64Histogram

	// ingestion adapters, embedders, translators, notifiers and peers
	ExternalCallCount    metric.Int64Counter
	ExternalCallErrors   metric.Int64Counter
	ExternalCallDuration metric.Float64Histogram

	RateLimitHits metric.Int64Counter

	pipeline map[string]metric.Int64Counter
}

// ObservabilityManager owns the tracer and meter providers of one service
// process and everything that has to be shut down with them.
type ObservabilityManager struct {
	config         ObservabilityConfig
	fullConfig     *config.Config
	logger         *errors.Logger
	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metrics        *Metrics
	resource       *resource.Resource
	scrape         *metricsEndpoint
	shutdownFuncs  []func(context.Context) error
}

// NewObservabilityManager creates a new observability manager
func NewObservabilityManager(obsConfig ObservabilityConfig, fullConfig *config.Config) (*ObservabilityManager, error) {
	om := &ObservabilityManager{
		config:     obsConfig,
		fullConfig: fullConfig,
		logger:     managerLogger(fullConfig).With("service", obsConfig.ServiceName),
	}
	if !obsConfig.Enabled {
		return om, nil
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"resource", om.initResource},
		{"tracing", om.initTracing},
		{"metrics", om.initMetrics},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			// Release whatever the earlier steps started.
			_ = om.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	om.logger.Info("Observability initialized",
		"console", obsConfig.ConsoleOutput,
		"otlp", om.otlpEnabled(),
		"prometheus", obsConfig.Prometheus.Enabled,
		"sample_rate", obsConfig.SampleRate)
	return om, nil
}

func managerLogger(cfg *config.Config) *errors.Logger {
	if cfg == nil {
		return errors.NewNop()
	}
	logger, err := errors.New(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		return errors.NewNop()
	}
	return logger
}

func (om *ObservabilityManager) otlpEnabled() bool {
	return om.fullConfig != nil && om.fullConfig.Observability.OTLP.Enabled
}

func (om *ObservabilityManager) initResource() error {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(om.config.ServiceName),
			semconv.ServiceVersion(om.config.ServiceVersion),
			attribute.String("service.instance.id", om.serviceInstanceID()),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	om.resource = res
	return nil
}

func (om *ObservabilityManager) initTracing() error {
	var exporter trace.SpanExporter
	var err error

	switch {
	case om.config.ConsoleOutput:
		var opts []stdouttrace.Option
		if om.config.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		exporter, err = stdouttrace.New(opts...)
	case om.otlpEnabled():
		o := om.fullConfig.Observability.OTLP
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(o.Endpoint)}
		if o.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(o.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(o.Headers))
		}
		exporter, err = otlptracehttp.New(context.Background(), opts...)
	default:
		exporter = discardSpans{}
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(om.resource),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(om.config.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	// Peer forwarding propagates the trace to the receiving service.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	om.tracerProvider = tp
	om.shutdownFuncs = append(om.shutdownFuncs, tp.Shutdown)
	return nil
}

func (om *ObservabilityManager) initMetrics() error {
	readers, err := om.metricReaders()
	if err != nil {
		return err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(om.resource)}
	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	mp := sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(mp)
	om.meterProvider = mp
	om.shutdownFuncs = append(om.shutdownFuncs, mp.Shutdown)

	if err := om.initInstruments(mp.Meter(om.config.ServiceName)); err != nil {
		return err
	}

	// The scrape port opens last so a failed instrument never leaves it bound.
	if om.scrape != nil {
		if err := om.scrape.start(); err != nil {
			return err
		}
		om.shutdownFuncs = append(om.shutdownFuncs, om.scrape.shutdown)
	}
	return nil
}

func (om *ObservabilityManager) metricReaders() ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	interval := om.collectionInterval()

	if om.config.ConsoleOutput {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create console metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)))
	}

	if om.otlpEnabled() {
		o := om.fullConfig.Observability.OTLP
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(o.Endpoint)}
		if o.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if len(o.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(o.Headers))
		}
		exporter, err := otlpmetrichttp.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)))
	}

	if om.config.Prometheus.Enabled {
		endpoint, reader, err := newMetricsEndpoint(om.config.Prometheus, om.config.ServiceName, om.config.ServiceVersion, om.logger)
		if err != nil {
			return nil, err
		}
		om.scrape = endpoint
		readers = append(readers, reader)
	}

	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewManualReader())
	}
	return readers, nil
}

func (om *ObservabilityManager) initInstruments(meter metric.Meter) error {
	m := &Metrics{pipeline: make(map[string]metric.Int64Counter, len(pipelineCounters))}

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.RequestCount, "jobpilot_requests_total", "HTTP requests per service and endpoint"},
		{&m.ExternalCallCount, "jobpilot_external_calls_total", "Calls to external providers"},
		{&m.ExternalCallErrors, "jobpilot_external_call_errors_total", "Failed calls to external providers"},
		{&m.RateLimitHits, "jobpilot_rate_limit_hits_total", "Requests rejected by the rate limiter"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return fmt.Errorf("failed to create %s metric: %w", c.name, err)
		}
		*c.target = counter
	}

	histograms := []struct {
		target *metric.Float64Histogram
		name   string
		desc   string
	}{
		{&m.RequestDuration, "jobpilot_request_duration_seconds", "HTTP request duration per endpoint"},
		{&m.ExternalCallDuration, "jobpilot_external_call_duration_seconds", "Time spent in calls to external providers"},
	}
	for _, h := range histograms {
		hist, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return fmt.Errorf("failed to create %s metric: %w", h.name, err)
		}
		*h.target = hist
	}

	for _, c := range pipelineCounters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return fmt.Errorf("failed to create %s metric: %w", c.name, err)
		}
		m.pipeline[c.kind] = counter
	}

	om.metrics = m
	return nil
}

// GetMetrics returns the metrics instance
func (om *ObservabilityManager) GetMetrics() *Metrics {
	if om == nil || om.metrics == nil {
		return &Metrics{}
	}
	return om.metrics
}

// HTTPMiddleware returns HTTP middleware with OpenTelemetry instrumentation
func (om *ObservabilityManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if om == nil || !om.config.Enabled {
		return func(h http.Handler) http.Handler { return h }
	}

	return otelhttp.NewMiddleware(
		om.config.ServiceName,
		otelhttp.WithTracerProvider(om.tracerProvider),
		otelhttp.WithMeterProvider(om.meterProvider),
	)
}

// Shutdown flushes exporters and stops the scrape server. Every component is
// shut down even when an earlier one fails; the first error is returned.
func (om *ObservabilityManager) Shutdown(ctx context.Context) error {
	if om == nil {
		return nil
	}
	var first error
	for i := len(om.shutdownFuncs) - 1; i >= 0; i-- {
		if err := om.shutdownFuncs[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	om.shutdownFuncs = nil
	return first
}

// TrackExternalCall instruments a call to an external provider with a span and metrics.
// kind is the provider category (adapter, embedder, translator, notifier, peer), name the provider.
func (m *Metrics) TrackExternalCall(ctx context.Context, kind, name string, fn func(context.Context) error, om *ObservabilityManager) error {
	ctx, span := otel.Tracer("jobpilot."+kind).Start(ctx, kind+"."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("provider", name),
		attribute.Bool("success", err == nil),
	}
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", errorType(err)))
	}

	if m.ExternalCallCount == nil || !m.pipelineEnabled(om) {
		return err
	}
	set := metric.WithAttributes(attrs...)
	if om == nil || om.fullConfig == nil || om.fullConfig.Observability.CustomMetrics.Pipeline.TrackDuration {
		m.ExternalCallDuration.Record(ctx, time.Since(start).Seconds(), set)
	}
	m.ExternalCallCount.Add(ctx, 1, set)
	if err != nil {
		m.ExternalCallErrors.Add(ctx, 1, set)
	}
	return err
}

func errorType(err error) string {
	if appErr, ok := errors.As(err); ok {
		return string(appErr.Type)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, service, endpoint string, status int, duration time.Duration) {
	if m.RequestCount == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", status),
	)
	m.RequestCount.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) pipelineEnabled(om *ObservabilityManager) bool {
	if om == nil || om.fullConfig == nil {
		return true
	}
	return om.fullConfig.Observability.CustomMetrics.Pipeline.Enabled
}

// RecordPipelineMetric adds n to the counter of metricType. Unknown types
// are ignored.
func (m *Metrics) RecordPipelineMetric(ctx context.Context, metricType string, n int64, om *ObservabilityManager, attributes ...attribute.KeyValue) {
	if n <= 0 {
		return
	}
	if metricType == MetricRateLimitHit {
		if om != nil && om.fullConfig != nil && !om.fullConfig.Observability.CustomMetrics.Infrastructure.TrackRateLimits {
			return
		}
		if m.RateLimitHits != nil {
			m.RateLimitHits.Add(ctx, n, metric.WithAttributes(attributes...))
		}
		return
	}
	if !m.pipelineEnabled(om) {
		return
	}
	if counter, ok := m.pipeline[metricType]; ok {
		counter.Add(ctx, n, metric.WithAttributes(attributes...))
	}
}

type discardSpans struct{}

func (discardSpans) ExportSpans(context.Context, []trace.ReadOnlySpan) error { return nil }
func (discardSpans) Shutdown(context.Context) error                          { return nil }

func (om *ObservabilityManager) serviceInstanceID() string {
	if om.fullConfig != nil && om.fullConfig.Observability.ServiceInstance != "" {
		return om.fullConfig.Observability.ServiceInstance
	}
	return om.config.ServiceName + "-1"
}

func (om *ObservabilityManager) collectionInterval() time.Duration {
	if om.fullConfig != nil && om.fullConfig.Observability.Metrics.CollectionInterval > 0 {
		return om.fullConfig.Observability.Metrics.CollectionInterval
	}
	return 15 * time.Second
}
