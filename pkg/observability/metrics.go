package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the pipeline's measurements.
type Metrics interface {
	RecordTurn(ctx context.Context, intent string, duration time.Duration, toolUsed bool, err error)
	RecordRetrieval(ctx context.Context, mode string, duration time.Duration, results int, degraded bool)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, isError bool)
	RecordLLMCall(ctx context.Context, provider, operation string, duration time.Duration, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, size int)
}

// PrometheusMetrics is Metrics backed by an OpenTelemetry meter exported
// through a dedicated Prometheus registry.
type PrometheusMetrics struct {
	registry *prom.Registry
	provider *sdkmetric.MeterProvider

	turnDuration metric.Float64Histogram
	turnsTotal   metric.Int64Counter
	turnErrors   metric.Int64Counter

	retrievalDuration metric.Float64Histogram
	retrievalResults  metric.Int64Histogram
	retrievalDegraded metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	llmDuration metric.Float64Histogram
	llmErrors   metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
	httpSize     metric.Int64Histogram
}

// InitMetrics builds the instruments. Disabled config yields NoopMetrics.
func InitMetrics(cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	registry := prom.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)

	m := &PrometheusMetrics{registry: registry, provider: provider}
	ns := cfg.Namespace

	var errs []error
	fh := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(ns+"_"+name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}
	ih := func(name, desc string) metric.Int64Histogram {
		h, err := meter.Int64Histogram(ns+"_"+name, metric.WithDescription(desc))
		errs = append(errs, err)
		return h
	}
	ic := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(ns+"_"+name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m.turnDuration = fh("turn_duration_seconds", "Conversation turn duration")
	m.turnsTotal = ic("turns_total", "Conversation turns")
	m.turnErrors = ic("turn_errors_total", "Conversation turns that failed")
	m.retrievalDuration = fh("retrieval_duration_seconds", "Retrieval duration")
	m.retrievalResults = ih("retrieval_results", "Documents returned per retrieval")
	m.retrievalDegraded = ic("retrieval_degraded_total", "Retrievals that degraded to empty results")
	m.toolDuration = fh("tool_call_duration_seconds", "Tool call duration")
	m.toolCalls = ic("tool_calls_total", "Tool calls")
	m.toolErrors = ic("tool_errors_total", "Tool calls that returned an error envelope")
	m.llmDuration = fh("llm_request_duration_seconds", "Model provider request duration")
	m.llmErrors = ic("llm_errors_total", "Model provider failures")
	m.httpDuration = fh("http_request_duration_seconds", "HTTP request duration")
	m.httpRequests = ic("http_requests_total", "HTTP requests")
	m.httpSize = ih("http_response_size_bytes", "HTTP response size")

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to create instrument: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, intent string, duration time.Duration, toolUsed bool, err error) {
	attrs := metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.Bool("tool_used", toolUsed),
	)
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
	m.turnsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.turnErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, mode string, duration time.Duration, results int, degraded bool) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.retrievalDuration.Record(ctx, duration.Seconds(), attrs)
	m.retrievalResults.Record(ctx, int64(results), attrs)
	if degraded {
		m.retrievalDegraded.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, isError bool) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if isError {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, provider, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, size int) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpSize.Record(ctx, int64(size), attrs)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordTurn(context.Context, string, time.Duration, bool, error)            {}
func (NoopMetrics) RecordRetrieval(context.Context, string, time.Duration, int, bool)         {}
func (NoopMetrics) RecordToolCall(context.Context, string, time.Duration, bool)               {}
func (NoopMetrics) RecordLLMCall(context.Context, string, string, time.Duration, error)       {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration, int) {}

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

func SetGlobalMetrics(m Metrics) {
	if m == nil {
		m = NoopMetrics{}
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics never returns nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
