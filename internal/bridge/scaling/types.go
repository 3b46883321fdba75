package scaling

import (
	"context"
	"simbridge/internal/metrics"
	"time"
)

// Broker side of queue scaling
type QueueScaler interface {
	ScaleQueues(ctx context.Context, writeDepths, readDepths []uint64)
}

type Instance struct {
	PollInterval time.Duration
	MetricStore  *metrics.Registry
	Broker       QueueScaler
	Namespace    []string // broker namespace the depth samples live under
}
