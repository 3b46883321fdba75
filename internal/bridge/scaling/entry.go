// Watches broker queue depth samples and resizes its request queues within configured bounds
package scaling

import (
	"context"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/metrics"
	"time"
)

// Depth samples considered per decision
const pastNIntervals = 5

func New(metrics *metrics.Registry, interval time.Duration, broker QueueScaler, namespace []string) (new *Instance) {
	new = &Instance{
		MetricStore:  metrics,
		PollInterval: interval,
		Broker:       broker,
		Namespace:    append([]string{}, namespace...),
	}
	return
}

func (instance *Instance) Run(ctx context.Context) {
	ctx = logctx.AppendCtxTag(ctx, global.NSQueue)

	ticker := time.NewTicker(instance.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			instance.ScaleOnce(ctx)
		}
	}
}

// One scaling decision for both request queues
func (instance *Instance) ScaleOnce(ctx context.Context) {
	writes := instance.depths(global.NSWriteReq)
	reads := instance.depths(global.NSReadReq)
	instance.Broker.ScaleQueues(ctx, writes, reads)
}

func (instance *Instance) depths(queueName string) (values []uint64) {
	ns := append(append([]string{}, instance.Namespace...), queueName, global.NSQueue)
	for _, value := range instance.MetricStore.Series("depth", ns, pastNIntervals) {
		values = append(values, uint64(value))
	}
	return
}
