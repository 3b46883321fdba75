package server

import (
	"simbridge/internal/metrics"
	"time"
)

func mockDiscoverer(results []metrics.Metric) Discoverer {
	return func(name, desc string, ns []string, unit string, mt metrics.MetricType) []metrics.Metric {
		return results
	}
}

func mockDataSearcher(results []metrics.Metric) DataSearcher {
	return func(name string, ns []string, start, end time.Time) []metrics.Metric {
		return results
	}
}

func mockAggSearcher(result metrics.Metric, err error) AggSearcher {
	return func(agg, name string, ns []string, start, end time.Time) (metrics.Metric, error) {
		return result, err
	}
}

func mockLatest(results []metrics.Metric) LatestReader {
	return func() []metrics.Metric {
		return results
	}
}

// Registry holding two collection rounds of broker and controller metrics, 20s and 10s before now
func bridgeRegistry(now time.Time) *metrics.Registry {
	registry := metrics.New()

	rounds := []struct {
		age                    time.Duration
		dispatched, depth      uint64
		plc1Cycles, plc2Cycles uint64
	}{
		{20 * time.Second, 3, 2, 500, 480},
		{10 * time.Second, 5, 4, 500, 490},
	}
	for _, round := range rounds {
		ts := registry.NewTimeSlice(now.Add(-round.age), 0)
		sample := func(name string, namespace []string, raw uint64, unit string, metricType metrics.MetricType) metrics.Metric {
			return metrics.Metric{
				Name:      name,
				Namespace: namespace,
				Type:      metricType,
				Timestamp: ts,
				Value:     metrics.MetricValue{Raw: raw, Unit: unit, Interval: 10 * time.Second},
			}
		}
		registry.Add(ts, []metrics.Metric{
			sample("dispatched", []string{"Bridge", "Broker"}, round.dispatched, "count", metrics.Counter),
			sample("depth", []string{"Bridge", "Broker", "WriteRequests", "Queue"}, round.depth, "count", metrics.Gauge),
			sample("cycles", []string{"Bridge", "Controller", "plc1"}, round.plc1Cycles, "count", metrics.Counter),
			sample("cycle_time_avg", []string{"Bridge", "Controller", "plc1"}, 1_500_000, "ns", metrics.Summary),
			sample("cycles", []string{"Bridge", "Controller", "plc2"}, round.plc2Cycles, "count", metrics.Counter),
		})
	}
	return registry
}
