// Package metrics wires an in-process otel MeterProvider and the firewall's
// admission/anchor instruments, deliberately using only
// go.opentelemetry.io/otel's metric and sdk/metric subset: a single-process
// firewall has no distributed trace to export, only local counters. No
// exporter or endpoint reads them out of the process.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments the pipeline and anchor worker record
// against.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	AdmissionDecisions metric.Int64Counter
	AnchorAttempts     metric.Int64Counter
	FailedQueueDepth   metric.Int64UpDownCounter
	ForwardLatency     metric.Float64Histogram
}

// New builds a MeterProvider with a manual reader and registers the
// instruments this service emits. The reader is not retained, so nothing
// calls Collect on it.
func New() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("aegis-firewall")

	admissionDecisions, err := meter.Int64Counter("aegis.admission.decisions",
		metric.WithDescription("Count of admission decisions by outcome and kind"))
	if err != nil {
		return nil, fmt.Errorf("metrics: admission counter: %w", err)
	}

	anchorAttempts, err := meter.Int64Counter("aegis.anchor.attempts",
		metric.WithDescription("Count of recordSpend anchor attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("metrics: anchor counter: %w", err)
	}

	failedQueueDepth, err := meter.Int64UpDownCounter("aegis.queue.failed_depth",
		metric.WithDescription("Approximate depth of the failed queue"))
	if err != nil {
		return nil, fmt.Errorf("metrics: failed queue gauge: %w", err)
	}

	forwardLatency, err := meter.Float64Histogram("aegis.forward.latency_ms",
		metric.WithDescription("Policy pipeline evaluation duration per decision in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("metrics: forward latency histogram: %w", err)
	}

	return &Metrics{
		provider:           provider,
		AdmissionDecisions: admissionDecisions,
		AnchorAttempts:     anchorAttempts,
		FailedQueueDepth:   failedQueueDepth,
		ForwardLatency:     forwardLatency,
	}, nil
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
