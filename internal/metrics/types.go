package metrics

import (
	"sync"
	"time"
)

// Time sliced metric storage.
// key0=slice start, key1=joined namespace, key2=name
type Registry struct {
	mu     sync.RWMutex
	slices map[time.Time]map[string]map[string]Metric
}

type MetricType string

const (
	Counter MetricType = "counter" // reset each interval, value is the interval delta
	Gauge   MetricType = "gauge"   // can go up/down
	Summary MetricType = "summary" // avg/min/max
)

// Container for a metric and associated data
type Metric struct {
	Name        string // e.g. depth, tick_overruns
	Description string
	Namespace   []string // e.g. "Bridge/Broker/WriteRequests/Queue"
	Value       MetricValue
	Type        MetricType
	Timestamp   time.Time // time when the metric was recorded
}

// Specific value of a metric
type MetricValue struct {
	Raw      interface{}   // uint64, int64, float64 (numeric strings tolerated)
	Unit     string        // e.g., "ns", "bytes", "count"
	Interval time.Duration // measurement window
}

// JSON version
type JMetric struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Namespace   string       `json:"namespace"`
	Value       JMetricValue `json:"value"`
	Type        string       `json:"type"`
	Timestamp   string       `json:"timestamp"`
}

type JMetricValue struct {
	Raw      string `json:"raw"`
	Unit     string `json:"unit"`
	Interval string `json:"interval"`
}
