package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/emrgen/newsimport"

// Telemetry owns the meter provider and the registry it is exported to.
type Telemetry struct {
	Meter    metric.Meter
	Metrics  *Metrics
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
}

// NewTelemetry exports otel instruments through a private prometheus registry.
func NewTelemetry() (*Telemetry, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Meter:    meter,
		Metrics:  metrics,
		registry: registry,
		provider: provider,
	}, nil
}

// Handler serves the registry in the prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Metrics are the counters recorded by the ingestion path.
type Metrics struct {
	messages metric.Int64Counter
	triggers metric.Int64Counter
	changes  metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	messages, err := meter.Int64Counter("newsimport_messages_total",
		metric.WithDescription("Inbound messages by outcome"))
	if err != nil {
		return nil, err
	}
	triggers, err := meter.Int64Counter("newsimport_triggers_total",
		metric.WithDescription("Downstream notifications published by topic"))
	if err != nil {
		return nil, err
	}
	changes, err := meter.Int64Counter("newsimport_field_changes_total",
		metric.WithDescription("Article fields changed by merges"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		messages: messages,
		triggers: triggers,
		changes:  changes,
	}, nil
}

// NewNoopMetrics records nothing.
func NewNoopMetrics() *Metrics {
	metrics, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return metrics
}

func (m *Metrics) Message(ctx context.Context, outcome string) {
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Trigger(ctx context.Context, topic string) {
	m.triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *Metrics) FieldChanged(ctx context.Context, field string) {
	m.changes.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}
