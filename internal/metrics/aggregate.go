package metrics

import (
	"fmt"
	"math"
	"simbridge/internal/calc"
	"simbridge/internal/global"
	"strconv"
	"time"
)

// Folds every sample of name under namespacePrefix within [start, end] into one Summary metric.
// Raw value of the result is always float64.
func (registry *Registry) Aggregate(aggType, name string, namespacePrefix []string, start, end time.Time) (result Metric, err error) {
	samples := registry.Search(name, namespacePrefix, start, end)
	if len(samples) == 0 {
		err = fmt.Errorf("no metrics named %q found for aggregation", name)
		return
	}

	values := make([]float64, 0, len(samples))
	for _, sample := range samples {
		var value float64
		value, err = ToFloat(sample.Value.Raw)
		if err != nil {
			err = fmt.Errorf("metric %q at %s: %w", name, sample.Timestamp.Format(time.RFC3339), err)
			return
		}
		values = append(values, value)
	}

	var folded float64
	switch aggType {
	case global.MetricSum:
		for _, v := range values {
			folded += v
		}
	case global.MetricAvg:
		for _, v := range values {
			folded += v
		}
		folded /= float64(len(values))
	case global.MetricTAvg:
		folded = calc.TrimmedMean(values, 0.10)
	case global.MetricMin:
		folded = math.Inf(1)
		for _, v := range values {
			folded = math.Min(folded, v)
		}
	case global.MetricMax:
		folded = math.Inf(-1)
		for _, v := range values {
			folded = math.Max(folded, v)
		}
	default:
		err = fmt.Errorf("unknown aggregation type %q", aggType)
		return
	}

	first := samples[0]
	last := samples[len(samples)-1]
	result = Metric{
		Name:        name,
		Description: first.Description,
		Namespace:   namespacePrefix,
		Type:        Summary,
		Timestamp:   last.Timestamp,
		Value: MetricValue{
			Raw:      folded,
			Unit:     first.Value.Unit,
			Interval: last.Timestamp.Sub(first.Timestamp) + last.Value.Interval,
		},
	}
	return
}

// Numeric view of a raw metric value
func ToFloat(raw interface{}) (value float64, err error) {
	switch v := raw.(type) {
	case int:
		value = float64(v)
	case int32:
		value = float64(v)
	case int64:
		value = float64(v)
	case uint:
		value = float64(v)
	case uint16:
		value = float64(v)
	case uint32:
		value = float64(v)
	case uint64:
		value = float64(v)
	case float32:
		value = float64(v)
	case float64:
		value = v
	case time.Duration:
		value = float64(v)
	case string:
		value, err = strconv.ParseFloat(v, 64)
		if err != nil {
			err = fmt.Errorf("non-numeric value %q", v)
		}
	default:
		err = fmt.Errorf("non-numeric value type %T", raw)
	}
	return
}
