package broker

import (
	"context"
	"simbridge/internal/metrics"
	"sync/atomic"
	"time"
)

type MetricStorage struct {
	Enqueued     atomic.Uint64
	LateEnqueues atomic.Uint64
	Dispatched   atomic.Uint64
	Failures     atomic.Uint64
	Relayed      atomic.Uint64
	Unclaimed    atomic.Uint64
}

// Gathers broker counters plus both inbound queues
func (broker *Broker) CollectMetrics(interval time.Duration) (collection []metrics.Metric) {
	now := time.Now()

	add := func(name, desc, unit string, value uint64) {
		collection = append(collection, metrics.Metric{
			Name:        name,
			Description: desc,
			Namespace:   broker.Namespace,
			Type:        metrics.Counter,
			Value: metrics.MetricValue{
				Raw:      value,
				Unit:     unit,
				Interval: interval,
			},
			Timestamp: now,
		})
	}

	add("enqueued", "Record requests accepted from controllers", "count", broker.Metrics.Enqueued.Swap(0))
	add("late_enqueues", "Record requests accepted after stop", "count", broker.Metrics.LateEnqueues.Swap(0))
	add("dispatched", "Record requests submitted to the protocol client", "count", broker.Metrics.Dispatched.Swap(0))
	add("failures", "Record requests dropped on submit error", "count", broker.Metrics.Failures.Swap(0))
	add("relayed", "Completions broadcast to subscribers", "count", broker.Metrics.Relayed.Swap(0))
	add("unclaimed", "Completions with no subscriber", "count", broker.Metrics.Unclaimed.Swap(0))

	collection = append(collection, metrics.Metric{
		Name:        "subscribers",
		Description: "Controllers subscribed to completions",
		Namespace:   broker.Namespace,
		Type:        metrics.Gauge,
		Value: metrics.MetricValue{
			Raw:      uint64(broker.subscribers.Len()),
			Unit:     "count",
			Interval: interval,
		},
		Timestamp: now,
	})

	collection = append(collection, broker.writes.CollectMetrics(interval)...)
	collection = append(collection, broker.reads.CollectMetrics(interval)...)
	return
}

// Inbound queue depth samples feed capacity scaling
func (broker *Broker) QueueDepths() (writes, reads uint64) {
	writes = broker.writes.Len()
	reads = broker.reads.Len()
	return
}

// Resizes the inbound queues from recent depth samples
func (broker *Broker) ScaleQueues(ctx context.Context, writeDepths, readDepths []uint64) {
	broker.writes.ScaleCapacity(ctx, writeDepths)
	broker.reads.ScaleCapacity(ctx, readDepths)
}
