package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const (
	meterName = "github.com/wolfeidau/doto-cache"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal           metric.Int64Counter
	responseBytesTotal      metric.Int64Counter
	requestDuration         metric.Float64Histogram
	requestsByEndpointTotal metric.Int64Counter

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	upstreamFetchDuration   metric.Float64Histogram
	upstreamFetchTotal      metric.Int64Counter
	upstreamFetchBytesTotal metric.Int64Counter

	// Bounded cache metrics
	valueSize                metric.Float64Histogram
	admissionRejectionsTotal metric.Int64Counter
	namespaceEvictionsTotal  metric.Int64Counter
	namespaceEvictedKeys     metric.Int64Counter
	namespaceBytes           metric.Int64Gauge

	// Sweeper metrics
	sweepRunsTotal    metric.Int64Counter
	sweepDuration     metric.Float64Histogram
	sweepEvictedTotal metric.Int64Counter
	sweepEvictedBytes metric.Int64Counter

	// Geocode metrics
	geocodeLookupsTotal metric.Int64Counter
	geocodeMemoEntries  metric.Int64Gauge

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "doto-cache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	// Build resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

// newMetrics creates every instrument on the given meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.requestsTotal, err = meter.Int64Counter(
		"doto_cache_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.responseBytesTotal, err = meter.Int64Counter(
		"doto_cache_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in HTTP responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"doto_cache_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}

	if m.requestsByEndpointTotal, err = meter.Int64Counter(
		"doto_cache_http_requests_by_endpoint_total",
		metric.WithDescription("Total number of HTTP requests by endpoint (detail metric)"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.backendRequestDuration, err = meter.Float64Histogram(
		"doto_cache_backend_request_duration_seconds",
		metric.WithDescription("Duration of backend store operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, err
	}

	if m.backendRequestsTotal, err = meter.Int64Counter(
		"doto_cache_backend_requests_total",
		metric.WithDescription("Total number of backend store operations"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.backendBytesTotal, err = meter.Int64Counter(
		"doto_cache_backend_bytes_total",
		metric.WithDescription("Total bytes transferred in backend operations"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.upstreamFetchDuration, err = meter.Float64Histogram(
		"doto_cache_upstream_fetch_duration_seconds",
		metric.WithDescription("Duration of upstream geocoding requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20),
	); err != nil {
		return nil, err
	}

	if m.upstreamFetchTotal, err = meter.Int64Counter(
		"doto_cache_upstream_fetch_total",
		metric.WithDescription("Total number of upstream geocoding requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.upstreamFetchBytesTotal, err = meter.Int64Counter(
		"doto_cache_upstream_fetch_bytes_total",
		metric.WithDescription("Total bytes fetched from upstream providers"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.valueSize, err = meter.Float64Histogram(
		"doto_cache_value_size_bytes",
		metric.WithDescription("Size of values offered to the bounded cache"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(64, 256, 1024, 4096, 16384, 65536, 131072, 262144, 500000, 1048576, 4194304),
	); err != nil {
		return nil, err
	}

	if m.admissionRejectionsTotal, err = meter.Int64Counter(
		"doto_cache_admission_rejections_total",
		metric.WithDescription("Writes refused by the size guard"),
		metric.WithUnit("{write}"),
	); err != nil {
		return nil, err
	}

	if m.namespaceEvictionsTotal, err = meter.Int64Counter(
		"doto_cache_namespace_evictions_total",
		metric.WithDescription("Whole-namespace evictions"),
		metric.WithUnit("{eviction}"),
	); err != nil {
		return nil, err
	}

	if m.namespaceEvictedKeys, err = meter.Int64Counter(
		"doto_cache_namespace_evicted_keys_total",
		metric.WithDescription("Keys removed by whole-namespace evictions"),
		metric.WithUnit("{key}"),
	); err != nil {
		return nil, err
	}

	if m.namespaceBytes, err = meter.Int64Gauge(
		"doto_cache_namespace_bytes",
		metric.WithDescription("Bytes held by a namespace at the last sweep"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.sweepRunsTotal, err = meter.Int64Counter(
		"doto_cache_sweep_runs_total",
		metric.WithDescription("Total sweeper runs"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}

	if m.sweepDuration, err = meter.Float64Histogram(
		"doto_cache_sweep_duration_seconds",
		metric.WithDescription("Duration of sweeper runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}

	if m.sweepEvictedTotal, err = meter.Int64Counter(
		"doto_cache_sweep_evicted_total",
		metric.WithDescription("Entries evicted by the sweeper"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.sweepEvictedBytes, err = meter.Int64Counter(
		"doto_cache_sweep_evicted_bytes_total",
		metric.WithDescription("Bytes freed by the sweeper"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.geocodeLookupsTotal, err = meter.Int64Counter(
		"doto_cache_geocode_lookups_total",
		metric.WithDescription("Geocode lookups by kind and outcome"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.geocodeMemoEntries, err = meter.Int64Gauge(
		"doto_cache_geocode_memo_entries",
		metric.WithDescription("Entries held in the geocode memo"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// Call this from the logging middleware after the request completes.
// Component and cache result are read from request tags set by middleware and handlers.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	tags := GetTags(r)

	component := "unknown"
	cacheResult := string(CacheBypass)
	endpoint := ""
	if tags != nil {
		if tags.Component != "" {
			component = tags.Component
		}
		if tags.CacheResult != "" {
			cacheResult = string(tags.CacheResult)
		}
		endpoint = tags.Endpoint
	}

	statusClass := StatusClass(status)

	sharedAttrs := []attribute.KeyValue{
		attribute.String("component", component),
		attribute.String("status_class", statusClass),
		attribute.String("cache_result", cacheResult),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(sharedAttrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(sharedAttrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(sharedAttrs...))

	// Detail metric: higher cardinality, only when endpoint is set
	if endpoint != "" {
		detailAttrs := []attribute.KeyValue{
			attribute.String("component", component),
			attribute.String("endpoint", endpoint),
			attribute.String("status_class", statusClass),
			attribute.String("cache_result", cacheResult),
		}
		globalMetrics.requestsByEndpointTotal.Add(ctx, 1, metric.WithAttributes(detailAttrs...))
	}
}

// RecordBackendOp records backend store operation metrics.
// The calling component is read from ctx so sweeper traffic can be told apart
// from request traffic.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	component := ComponentFromContext(ctx)
	if component == "" {
		component = "unknown"
	}

	attrs := []attribute.KeyValue{
		attribute.String("component", component),
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordUpstreamFetch records an upstream provider request.
func RecordUpstreamFetch(ctx context.Context, provider string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	}
	globalMetrics.upstreamFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.upstreamFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.upstreamFetchBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// RecordValueSize records the size of a value offered for storage.
// result is "stored", "rejected" or "failed".
func RecordValueSize(ctx context.Context, namespace, result string, size int) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("result", result),
	)
	globalMetrics.valueSize.Record(ctx, float64(size), attrs)
}

// RecordAdmissionRejected records a write refused by the size guard.
// reason is "too_large" or "embedded_image".
func RecordAdmissionRejected(ctx context.Context, namespace, reason string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("reason", reason),
	)
	globalMetrics.admissionRejectionsTotal.Add(ctx, 1, attrs)
}

// RecordNamespaceEviction records one whole-namespace eviction.
// trigger is "capacity" when a store ran out of room, "sweep" or "manual".
func RecordNamespaceEviction(ctx context.Context, namespace, trigger string, keys int) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("trigger", trigger),
	)
	globalMetrics.namespaceEvictionsTotal.Add(ctx, 1, attrs)
	globalMetrics.namespaceEvictedKeys.Add(ctx, int64(keys), attrs)
}

// RecordSweep records one sweeper run.
// Called unconditionally per run so idle runs show up as zero evictions.
func RecordSweep(ctx context.Context, namespace string, evicted int, freed, remaining int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("namespace", namespace))
	globalMetrics.sweepRunsTotal.Add(ctx, 1, attrs)
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds(), attrs)
	globalMetrics.sweepEvictedTotal.Add(ctx, int64(evicted), attrs)
	globalMetrics.sweepEvictedBytes.Add(ctx, freed, attrs)
	globalMetrics.namespaceBytes.Record(ctx, remaining, attrs)
}

// RecordGeocodeLookup records a geocode cache lookup.
// kind is "search", "suggest" or "reverse"; outcome is one of "hit", "miss",
// "empty", "out_of_region", "skipped", "canceled" or "error".
func RecordGeocodeLookup(ctx context.Context, kind, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	globalMetrics.geocodeLookupsTotal.Add(ctx, 1, attrs)
}

// UpdateGeocodeMemoEntries records the current size of the geocode memo.
func UpdateGeocodeMemoEntries(ctx context.Context, entries int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.geocodeMemoEntries.Record(ctx, int64(entries))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
