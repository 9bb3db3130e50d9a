// Package telemetry wraps OpenTelemetry metric instruments used by kfs.
//
// Instruments are created from a Telemetry instance, either one built with
// New (exporting over OTLP/HTTP) or one wrapping an existing meter:
//
//	tel := telemetry.NewWithMeter(provider.Meter("kfs"))
//	counter, _ := tel.NewCounter(telemetry.CounterConfig{
//	    Name:        "kfs.chunk.operations",
//	    Description: "Chunk operations by type",
//	})
//	counter.Inc(ctx, telemetry.StringAttr("operation", "put"))
//
// StoreMetrics groups the instruments recorded by shards and tables.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Telemetry struct {
	provider *Provider
	meter    metric.Meter
}

func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	provider, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry provider: %w", err)
	}

	return &Telemetry{
		provider: provider,
		meter:    provider.Meter(),
	}, nil
}

// NewWithMeter creates a new Telemetry instance with a custom meter.
// This is useful for testing with in-memory exporters or manual readers.
func NewWithMeter(meter metric.Meter) *Telemetry {
	return &Telemetry{
		meter: meter,
	}
}

func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

func (t *Telemetry) NewCounter(cfg CounterConfig) (*Counter, error) {
	return NewCounter(t.meter, cfg)
}

func (t *Telemetry) NewGauge(cfg GaugeConfig) (*Gauge, error) {
	return NewGauge(t.meter, cfg)
}

func (t *Telemetry) NewTimer(cfg TimerConfig) (*Timer, error) {
	return NewTimer(t.meter, cfg)
}

func (t *Telemetry) NewHistogram(cfg HistogramConfig) (*Histogram, error) {
	return NewHistogram(t.meter, cfg)
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

// LatencyBoundaries bucket durations in milliseconds.
var LatencyBoundaries = []float64{
	0.1, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000,
}

// ChunkSizeBoundaries bucket chunk payloads in bytes, up to 1MiB.
var ChunkSizeBoundaries = []float64{
	1, 512, 1024, 4096, 16384, 32768, 65536, 131072, 262144, 1048576,
}
