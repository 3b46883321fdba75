package controller

import (
	"simbridge/internal/calc"
	"simbridge/internal/metrics"
	"sync/atomic"
	"time"
)

type MetricStorage struct {
	Cycles          atomic.Uint64
	Overruns        atomic.Uint64 // cycles longer than twice the cycle time
	Faults          atomic.Uint64 // failed or panicked cycles
	SettleWaits     atomic.Uint64 // cycles started while the instance was not running
	WritesForwarded atomic.Uint64
	ReadsForwarded  atomic.Uint64
	WritesCompleted atomic.Uint64
	ReadsCompleted  atomic.Uint64
	Accepted        atomic.Uint64 // completions addressed to this instance
	Foreign         atomic.Uint64 // completions for other instances
}

func (controller *Controller) CollectMetrics(interval time.Duration) (collection []metrics.Metric) {
	recordTime := time.Now()

	add := func(name string, raw uint64, unit string, t metrics.MetricType, description string) {
		collection = append(collection, metrics.Metric{
			Name:        name,
			Description: description,
			Namespace:   controller.Namespace,
			Type:        t,
			Timestamp:   recordTime,
			Value: metrics.MetricValue{
				Raw:      raw,
				Unit:     unit,
				Interval: interval,
			},
		})
	}

	controller.tickMu.Lock()
	ticks := controller.tickTimes
	controller.tickTimes = nil
	controller.tickMu.Unlock()

	add("cycles", controller.Metrics.Cycles.Swap(0), "count", metrics.Counter, "Completed cycles in the interval")
	add("overruns", controller.Metrics.Overruns.Swap(0), "count", metrics.Counter, "Cycles that took over twice the cycle time")
	add("faults", controller.Metrics.Faults.Swap(0), "count", metrics.Counter, "Failed cycles in the interval")
	add("settle_waits", controller.Metrics.SettleWaits.Swap(0), "count", metrics.Counter, "Cycles started while the instance was not running")
	add("writes_forwarded", controller.Metrics.WritesForwarded.Swap(0), "count", metrics.Counter, "Write requests sent to the broker")
	add("reads_forwarded", controller.Metrics.ReadsForwarded.Swap(0), "count", metrics.Counter, "Read requests sent to the broker")
	add("writes_completed", controller.Metrics.WritesCompleted.Swap(0), "count", metrics.Counter, "Write completions handed to the instance")
	add("reads_completed", controller.Metrics.ReadsCompleted.Swap(0), "count", metrics.Counter, "Read completions handed to the instance")
	add("accepted", controller.Metrics.Accepted.Swap(0), "count", metrics.Counter, "Completions addressed to this instance")
	add("foreign", controller.Metrics.Foreign.Swap(0), "count", metrics.Counter, "Completions dropped as belonging to another instance")
	add("cycle_time_avg", uint64(calc.TrimmedMeanDuration(ticks, 0.05)), "ns", metrics.Summary, "Trimmed mean cycle duration")
	add("cycle_time_max", uint64(calc.MaxDuration(ticks)), "ns", metrics.Summary, "Longest cycle duration")
	add("state", uint64(controller.State()), "state", metrics.Gauge, "Controller state (0 idle, 1 connecting, 2 running, 3 draining, 4 stopped)")

	collection = append(collection, controller.writeRes.CollectMetrics(interval)...)
	collection = append(collection, controller.readRes.CollectMetrics(interval)...)
	return
}
