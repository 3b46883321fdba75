package mpmc

import (
	"simbridge/internal/metrics"
	"sync/atomic"
	"time"
)

type MetricStorage struct {
	Depth atomic.Uint64 // Current items in ring
	Bytes atomic.Uint64 // Current byte size in ring (caller supplied sizes)

	PushAttempts   atomic.Uint64 // every push call
	PushSuccess    atomic.Uint64 // CAS success
	PushCASRetries atomic.Uint64 // CAS failed (seq==pos but CAS failed)
	PushFull       atomic.Uint64 // ring was full

	PopAttempts   atomic.Uint64 // every pop call
	PopSuccess    atomic.Uint64 // CAS success
	PopCASRetries atomic.Uint64 // CAS failed
	PopEmpty      atomic.Uint64 // ring was empty
	PopWaits      atomic.Uint64 // blocking pops that had to wait
}

func (container *Queue[T]) CollectMetrics(interval time.Duration) (collection []metrics.Metric) {
	agg := struct {
		Depth, Bytes                                        uint64
		PushAttempts, PushSuccess, PushCASRetries, PushFull uint64
		PopAttempts, PopSuccess, PopCASRetries, PopEmpty    uint64
		PopWaits, Rings                                     uint64
	}{}

	// Walk every ring still reachable from the read view
	for q := container.ActiveRead.Load(); q != nil; q = q.next.Load() {
		agg.Rings++
		agg.Depth += q.Metrics.Depth.Load()
		agg.Bytes += q.Metrics.Bytes.Load()
		agg.PushAttempts += q.Metrics.PushAttempts.Swap(0)
		agg.PushSuccess += q.Metrics.PushSuccess.Swap(0)
		agg.PushCASRetries += q.Metrics.PushCASRetries.Swap(0)
		agg.PushFull += q.Metrics.PushFull.Swap(0)
		agg.PopAttempts += q.Metrics.PopAttempts.Swap(0)
		agg.PopSuccess += q.Metrics.PopSuccess.Swap(0)
		agg.PopCASRetries += q.Metrics.PopCASRetries.Swap(0)
		agg.PopEmpty += q.Metrics.PopEmpty.Swap(0)
		agg.PopWaits += q.Metrics.PopWaits.Swap(0)
	}

	recordTime := time.Now()

	// Helper to add metrics
	add := func(name string, raw uint64, unit string, t metrics.MetricType, description string) {
		collection = append(collection, metrics.Metric{
			Name:        name,
			Description: description,
			Namespace:   container.Namespace,
			Type:        t,
			Timestamp:   recordTime,
			Value: metrics.MetricValue{
				Raw:      raw,
				Unit:     unit,
				Interval: interval,
			},
		})
	}

	add("depth", agg.Depth, "count", metrics.Gauge, "Current number of items in the queue")
	add("byte_sum", agg.Bytes, "bytes", metrics.Gauge, "Byte sum of all items in the queue")
	add("capacity", uint64(container.Capacity()), "count", metrics.Gauge, "Capacity of the ring accepting writes")
	add("rings", agg.Rings, "count", metrics.Gauge, "Rings alive (more than one while a resize drains)")
	add("push_attempts", agg.PushAttempts, "count", metrics.Counter, "Total push attempts in the interval")
	add("push_success", agg.PushSuccess, "count", metrics.Counter, "Total push attempts that succeeded in the interval")
	add("push_cas_retries", agg.PushCASRetries, "count", metrics.Counter, "Sum of retries to push in the interval")
	add("push_full", agg.PushFull, "count", metrics.Counter, "Push attempts that found the ring full in the interval")
	add("pop_attempts", agg.PopAttempts, "count", metrics.Counter, "Total pop attempts in the interval")
	add("pop_success", agg.PopSuccess, "count", metrics.Counter, "Total pop attempts that succeeded in the interval")
	add("pop_cas_retries", agg.PopCASRetries, "count", metrics.Counter, "Sum of retries to pop in the interval")
	add("pop_empty", agg.PopEmpty, "count", metrics.Counter, "Pop attempts that found the ring empty in the interval")
	add("pop_waits", agg.PopWaits, "count", metrics.Counter, "Blocking pops that waited for an item in the interval")
	return
}
