package metrics

import (
	"sort"
	"strings"
	"time"
)

// Exact match or prefix match. Empty query matches all.
func matchesNamespace(metricNS, queryNS []string) (matches bool) {
	if len(queryNS) > len(metricNS) {
		return
	}
	for i := range queryNS {
		if metricNS[i] != queryNS[i] {
			return
		}
	}
	matches = true
	return
}

// Slice keys inside [start, end] (zero bounds are open), oldest first. Caller holds read lock.
func (registry *Registry) orderedSlices(start, end time.Time) (timestamps []time.Time) {
	for ts := range registry.slices {
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool {
		return timestamps[i].Before(timestamps[j])
	})
	return
}

// Returns all metrics matching exact name and namespace prefix, oldest first.
// Empty name or prefix match everything. Zero start/end leave the window open.
func (registry *Registry) Search(name string, namespacePrefix []string, start, end time.Time) (results []Metric) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, ts := range registry.orderedSlices(start, end) {
		for nsStr, byName := range registry.slices[ts] {
			if !matchesNamespace(strings.Split(nsStr, "/"), namespacePrefix) {
				continue
			}
			for metricName, metric := range byName {
				if name == "" || metricName == name {
					results = append(results, metric)
				}
			}
		}
	}
	return
}

// Every metric from the newest slice
func (registry *Registry) Latest() (results []Metric) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	var newest time.Time
	for ts := range registry.slices {
		if ts.After(newest) {
			newest = ts
		}
	}
	for _, byName := range registry.slices[newest] {
		for _, metric := range byName {
			results = append(results, metric)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		left := strings.Join(results[i].Namespace, "/")
		right := strings.Join(results[j].Namespace, "/")
		if left != right {
			return left < right
		}
		return results[i].Name < results[j].Name
	})
	return
}

// Last `limit` numeric values of one exact metric, oldest first. Non-numeric samples are skipped.
func (registry *Registry) Series(name string, namespace []string, limit int) (values []float64) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	key := strings.Join(namespace, "/")
	for _, ts := range registry.orderedSlices(time.Time{}, time.Time{}) {
		metric, ok := registry.slices[ts][key][name]
		if !ok {
			continue
		}
		value, err := ToFloat(metric.Value.Raw)
		if err != nil {
			continue
		}
		values = append(values, value)
	}

	if limit > 0 && len(values) > limit {
		values = values[len(values)-limit:]
	}
	return
}

// Finds all metric kinds matching the filters (time-independent). Returns all when all filters are empty.
func (registry *Registry) Discover(name, description string, namespacePrefix []string, unit string, metricType MetricType) (results []Metric) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	seen := make(map[string]struct{})

	for _, slice := range registry.slices {
		for nsStr, byName := range slice {
			if !matchesNamespace(strings.Split(nsStr, "/"), namespacePrefix) {
				continue
			}

			for _, metric := range byName {
				if name != "" && !strings.Contains(metric.Name, name) {
					continue
				}
				if description != "" && !strings.Contains(metric.Description, description) {
					continue
				}
				if unit != "" && metric.Value.Unit != unit {
					continue
				}
				if metricType != "" && metric.Type != metricType {
					continue
				}

				key := nsStr + "|" + metric.Name + "|" + string(metric.Type) + "|" + metric.Value.Unit
				if _, exists := seen[key]; exists {
					continue
				}
				seen[key] = struct{}{}

				// Strip time + raw value
				results = append(results, Metric{
					Name:        metric.Name,
					Description: metric.Description,
					Namespace:   metric.Namespace,
					Type:        metric.Type,
					Value:       MetricValue{Unit: metric.Value.Unit},
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		left := strings.Join(results[i].Namespace, "/")
		right := strings.Join(results[j].Namespace, "/")
		if left != right {
			return left < right
		}
		return results[i].Value.Unit < results[j].Value.Unit
	})
	return
}
