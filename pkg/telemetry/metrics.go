package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

// StoreMetrics are the instruments recorded by shards and tables. Use
// ForShard to get metrics tagged with a shard index.
type StoreMetrics struct {
	transitions   *Counter
	chunkOps      *Counter
	chunkSize     *Histogram
	openDuration  *Timer
	flushDuration *Timer
	shardUsed     *Gauge
	// attrs are added to every timer and histogram record
	attrs []attribute.KeyValue
}

func NewStoreMetrics(tel *Telemetry) (*StoreMetrics, error) {
	transitions, err := tel.NewCounter(CounterConfig{
		Name:        "kfs.shard.transitions",
		Description: "Shard lifecycle transitions by shard and resulting state",
	})
	if err != nil {
		return nil, err
	}

	chunkOps, err := tel.NewCounter(CounterConfig{
		Name:        "kfs.chunk.operations",
		Description: "Chunk operations against shard stores by operation and status",
	})
	if err != nil {
		return nil, err
	}

	chunkSize, err := tel.NewHistogram(HistogramConfig{
		Name:        "kfs.chunk.size",
		Description: "Size of chunks read and written in bytes",
		Unit:        "By",
		Boundaries:  ChunkSizeBoundaries,
	})
	if err != nil {
		return nil, err
	}

	openDuration, err := tel.NewTimer(TimerConfig{
		Name:        "kfs.shard.open.duration",
		Description: "Time taken to open a shard store",
		Boundaries:  LatencyBoundaries,
	})
	if err != nil {
		return nil, err
	}

	flushDuration, err := tel.NewTimer(TimerConfig{
		Name:        "kfs.shard.flush.duration",
		Description: "Time taken to lock, repair and unlock a shard",
		Boundaries:  LatencyBoundaries,
	})
	if err != nil {
		return nil, err
	}

	shardUsed, err := tel.NewGauge(GaugeConfig{
		Name:        "kfs.shard.used",
		Description: "Approximate bytes used by a shard",
		Unit:        "By",
	})
	if err != nil {
		return nil, err
	}

	return &StoreMetrics{
		transitions:   transitions,
		chunkOps:      chunkOps,
		chunkSize:     chunkSize,
		openDuration:  openDuration,
		flushDuration: flushDuration,
		shardUsed:     shardUsed,
	}, nil
}

// NoopStoreMetrics returns metrics that record nothing.
func NoopStoreMetrics() *StoreMetrics {
	m, err := NewStoreMetrics(NewWithMeter(noop.NewMeterProvider().Meter("noop")))
	if err != nil {
		// the noop meter never fails to create instruments
		panic(err)
	}
	return m
}

// ForShard returns metrics that tag every record with the shard index.
func (m *StoreMetrics) ForShard(index int) *StoreMetrics {
	attr := IntAttr("shard", index)
	return &StoreMetrics{
		transitions:   m.transitions.WithAttributes(attr),
		chunkOps:      m.chunkOps.WithAttributes(attr),
		chunkSize:     m.chunkSize,
		openDuration:  m.openDuration,
		flushDuration: m.flushDuration,
		shardUsed:     m.shardUsed.WithAttributes(attr),
		attrs:         append(append([]attribute.KeyValue{}, m.attrs...), attr),
	}
}

func (m *StoreMetrics) RecordTransition(ctx context.Context, state string) {
	m.transitions.Inc(ctx, StringAttr("state", state))
}

func (m *StoreMetrics) RecordChunk(ctx context.Context, op string, size int, err error) {
	m.chunkOps.Inc(ctx, StringAttr("operation", op), StringAttr("status", status(err)))
	if err == nil && size > 0 {
		m.chunkSize.Record(ctx, int64(size), joinAttributes(m.attrs, []attribute.KeyValue{StringAttr("operation", op)})...)
	}
}

// TimeOpen starts timing a store open. Call the returned func with the
// result of the open.
func (m *StoreMetrics) TimeOpen(ctx context.Context) func(error) {
	timed := m.openDuration.Start(ctx, m.attrs...)
	return func(err error) {
		timed.End(StringAttr("status", status(err)))
	}
}

func (m *StoreMetrics) RecordFlush(ctx context.Context, duration time.Duration, err error) {
	m.flushDuration.Record(ctx, duration, joinAttributes(m.attrs, []attribute.KeyValue{StringAttr("status", status(err))})...)
}

func (m *StoreMetrics) RecordShardUsage(ctx context.Context, used int64) {
	m.shardUsed.Record(ctx, used)
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
