package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Counter struct {
	counter metric.Int64Counter
	attrs   []attribute.KeyValue
}

type CounterConfig struct {
	Name        string
	Description string
	Unit        string
	Attributes  map[string]string
}

func NewCounter(meter metric.Meter, cfg CounterConfig) (*Counter, error) {
	opts := []metric.Int64CounterOption{
		metric.WithDescription(cfg.Description),
	}

	if cfg.Unit != "" {
		opts = append(opts, metric.WithUnit(cfg.Unit))
	}

	counter, err := meter.Int64Counter(cfg.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", cfg.Name, err)
	}

	return &Counter{
		counter: counter,
		attrs:   toAttributes(cfg.Attributes),
	}, nil
}

func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(joinAttributes(c.attrs, attrs)...))
}

func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

func (c *Counter) WithAttributes(attrs ...attribute.KeyValue) *Counter {
	return &Counter{
		counter: c.counter,
		attrs:   joinAttributes(c.attrs, attrs),
	}
}

func toAttributes(m map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// joinAttributes never appends into base, which is shared between callers.
func joinAttributes(base, extra []attribute.KeyValue) []attribute.KeyValue {
	if len(extra) == 0 {
		return base
	}
	all := make([]attribute.KeyValue, 0, len(base)+len(extra))
	all = append(all, base...)
	return append(all, extra...)
}
