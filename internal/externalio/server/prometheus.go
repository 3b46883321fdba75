package server

import (
	"simbridge/internal/global"
	"simbridge/internal/metrics"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Exposes the latest registry slice as gauges.
// Interval counters reset every slice, so nothing is exported as a Prometheus counter.
type latestCollector struct {
	latest LatestReader
}

// Unchecked collector, the metric set changes with controllers
func (collector latestCollector) Describe(chan<- *prometheus.Desc) {}

func (collector latestCollector) Collect(out chan<- prometheus.Metric) {
	seen := make(map[string]struct{})
	for _, metric := range collector.latest() {
		value, err := metrics.ToFloat(metric.Value.Raw)
		if err != nil {
			continue
		}

		fqName := PrometheusName(metric.Namespace, metric.Name)
		if _, duplicate := seen[fqName]; duplicate {
			continue
		}
		seen[fqName] = struct{}{}

		help := metric.Description
		if help == "" {
			help = metric.Name
		}
		desc := prometheus.NewDesc(fqName, help, nil, prometheus.Labels{
			"type": string(metric.Type),
			"unit": metric.Value.Unit,
		})

		constMetric, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, value)
		if err != nil {
			continue
		}
		out <- constMetric
	}
}

// simbridge_<namespace>_<name>, lower case, invalid characters replaced
func PrometheusName(namespace []string, name string) (fqName string) {
	parts := append([]string{global.ProgBaseName}, namespace...)
	parts = append(parts, name)

	var builder strings.Builder
	for i, part := range parts {
		if i > 0 {
			builder.WriteByte('_')
		}
		for _, char := range strings.ToLower(part) {
			switch {
			case char >= 'a' && char <= 'z', char >= '0' && char <= '9', char == '_':
				builder.WriteRune(char)
			default:
				builder.WriteByte('_')
			}
		}
	}
	fqName = builder.String()
	return
}

func newPrometheusRegistry(latest LatestReader) (registry *prometheus.Registry) {
	registry = prometheus.NewRegistry()
	registry.MustRegister(latestCollector{latest: latest})
	return
}
