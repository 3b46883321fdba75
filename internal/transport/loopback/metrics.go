package loopback

import (
	"simbridge/internal/metrics"
	"sync/atomic"
	"time"
)

type MetricStorage struct {
	Requests  atomic.Uint64 // accepted into the request queue
	Writes    atomic.Uint64 // write requests answered
	Reads     atomic.Uint64 // read requests answered
	Abandoned atomic.Uint64 // dropped by disconnect before an answer
}

func (transport *Transport) CollectMetrics(interval time.Duration) (collection []metrics.Metric) {
	recordTime := time.Now()

	add := func(name string, raw uint64, description string) {
		collection = append(collection, metrics.Metric{
			Name:        name,
			Description: description,
			Namespace:   transport.Namespace,
			Type:        metrics.Counter,
			Timestamp:   recordTime,
			Value: metrics.MetricValue{
				Raw:      raw,
				Unit:     "count",
				Interval: interval,
			},
		})
	}

	add("requests", transport.Metrics.Requests.Swap(0), "Requests accepted in the interval")
	add("writes_answered", transport.Metrics.Writes.Swap(0), "Write requests confirmed in the interval")
	add("reads_answered", transport.Metrics.Reads.Swap(0), "Read requests confirmed in the interval")
	add("abandoned", transport.Metrics.Abandoned.Swap(0), "Requests dropped by disconnect in the interval")

	collection = append(collection, transport.inbox.CollectMetrics(interval)...)
	return
}
