package output

import (
	"simbridge/internal/metrics"
	"sync/atomic"
	"time"
)

type MetricStorage struct {
	ReceivedTraces        atomic.Uint64
	Dropped               atomic.Uint64
	SuccessfulFileWrites  atomic.Uint64
	SuccessfulBeatsWrites atomic.Uint64
}

func (instance *Instance) CollectMetrics(interval time.Duration) (collection []metrics.Metric) {
	// Read and clear
	received := instance.Metrics.ReceivedTraces.Swap(0)
	dropped := instance.Metrics.Dropped.Swap(0)
	fileWrites := instance.Metrics.SuccessfulFileWrites.Swap(0)
	beatsWrites := instance.Metrics.SuccessfulBeatsWrites.Swap(0)

	recordTime := time.Now()

	collection = []metrics.Metric{
		{
			Name:        "received_traces",
			Description: "Telegram traces accepted from controllers",
			Namespace:   instance.Namespace,
			Value: metrics.MetricValue{
				Raw:      received,
				Unit:     "count",
				Interval: interval,
			},
			Type:      metrics.Counter,
			Timestamp: recordTime,
		},
		{
			Name:        "dropped_traces",
			Description: "Telegram traces dropped on a full queue",
			Namespace:   instance.Namespace,
			Value: metrics.MetricValue{
				Raw:      dropped,
				Unit:     "count",
				Interval: interval,
			},
			Type:      metrics.Counter,
			Timestamp: recordTime,
		},
		{
			Name:        "success_file_writes",
			Description: "Trace lines written to the file output",
			Namespace:   instance.Namespace,
			Value: metrics.MetricValue{
				Raw:      fileWrites,
				Unit:     "count",
				Interval: interval,
			},
			Type:      metrics.Counter,
			Timestamp: recordTime,
		},
		{
			Name:        "success_beats_writes",
			Description: "Trace events shipped to the beats output",
			Namespace:   instance.Namespace,
			Value: metrics.MetricValue{
				Raw:      beatsWrites,
				Unit:     "count",
				Interval: interval,
			},
			Type:      metrics.Counter,
			Timestamp: recordTime,
		},
	}
	collection = append(collection, instance.Inbox.CollectMetrics(interval)...)
	return
}
