package metrics

import (
	"simbridge/internal/metrics"
	"sync"
	"time"
)

// Any component exposing interval metrics
type Collector interface {
	CollectMetrics(interval time.Duration) []metrics.Metric
}

type Gatherer struct {
	Interval  time.Duration     // Polling interval to gather metrics at
	Retention time.Duration     // Maximum time to maintain metrics for
	Registry  *metrics.Registry // Storage for metric data

	mu      sync.Mutex
	sources []Collector
}
