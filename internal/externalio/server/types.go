package server

import (
	"context"
	metricGlb "simbridge/internal/metrics"
	"time"
)

type httpLogWriter struct {
	ctx context.Context
}

type Jerror struct {
	Msg string `json:"error"`
}

type DataSearcher func(name string, namespacePrefix []string, start, end time.Time) []metricGlb.Metric
type Discoverer func(name, description string, namespacePrefix []string, unit string, metricType metricGlb.MetricType) []metricGlb.Metric
type AggSearcher func(aggType string, name string, namespacePrefix []string, start, end time.Time) (metricGlb.Metric, error)
type LatestReader func() []metricGlb.Metric

// Query handlers backing the server
type Sources struct {
	Search      DataSearcher
	Discover    Discoverer
	Aggregation AggSearcher
	Latest      LatestReader
}
