package protocol

import (
	"simbridge/internal/metrics"
	"sync/atomic"
	"time"
)

type MetricStorage struct {
	InFlight        atomic.Uint64 // submitted, not yet confirmed
	PeakInFlight    atomic.Uint64 // highest InFlight since last collection
	WritesSubmitted atomic.Uint64
	ReadsSubmitted  atomic.Uint64
	Skipped         atomic.Uint64 // offset outside the record range
	NotConnected    atomic.Uint64 // submitted while disconnected
	SubmitErrors    atomic.Uint64 // transport refused the request
	Completions     atomic.Uint64 // confirmations received
}

func (client *Client) CollectMetrics(interval time.Duration) (collection []metrics.Metric) {
	recordTime := time.Now()

	add := func(name string, raw uint64, t metrics.MetricType, description string) {
		collection = append(collection, metrics.Metric{
			Name:        name,
			Description: description,
			Namespace:   client.Namespace,
			Type:        t,
			Timestamp:   recordTime,
			Value: metrics.MetricValue{
				Raw:      raw,
				Unit:     "count",
				Interval: interval,
			},
		})
	}

	add("in_flight", client.Metrics.InFlight.Load(), metrics.Gauge, "Requests submitted and not yet confirmed")
	add("in_flight_peak", client.Metrics.PeakInFlight.Swap(client.Metrics.InFlight.Load()), metrics.Gauge, "Most requests awaiting confirmation at once in the interval")
	add("subscribers", uint64(client.completions.Len()), metrics.Gauge, "Completion subscribers")
	add("writes_submitted", client.Metrics.WritesSubmitted.Swap(0), metrics.Counter, "Write requests handed to the transport in the interval")
	add("reads_submitted", client.Metrics.ReadsSubmitted.Swap(0), metrics.Counter, "Read requests handed to the transport in the interval")
	add("skipped", client.Metrics.Skipped.Swap(0), metrics.Counter, "Requests for unknown record offsets in the interval")
	add("not_connected", client.Metrics.NotConnected.Swap(0), metrics.Counter, "Requests submitted while disconnected in the interval")
	add("submit_errors", client.Metrics.SubmitErrors.Swap(0), metrics.Counter, "Requests refused by the transport in the interval")
	add("completions", client.Metrics.Completions.Swap(0), metrics.Counter, "Confirmations received in the interval")
	return
}
