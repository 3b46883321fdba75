// Gathers component metrics and saves to central registry
package metrics

import (
	"context"
	"runtime/debug"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/metrics"
	"time"
)

func New(interval time.Duration, maximumMetricAge time.Duration) (new *Gatherer) {
	new = &Gatherer{
		Registry:  metrics.New(),
		Interval:  interval,
		Retention: maximumMetricAge,
	}
	return
}

// Registers components to read every interval. Nil sources are skipped.
func (gatherer *Gatherer) Add(sources ...Collector) {
	gatherer.mu.Lock()
	defer gatherer.mu.Unlock()
	for _, source := range sources {
		if source == nil {
			continue
		}
		gatherer.sources = append(gatherer.sources, source)
	}
}

func (gatherer *Gatherer) Run(ctx context.Context) {
	ctx = logctx.AppendCtxTag(ctx, global.NSMetric)
	defer func() { ctx = logctx.RemoveLastCtxTag(ctx) }()

	// Tracking last interval run time
	lastRun := time.Now()

	ticker := time.NewTicker(gatherer.Interval / 2) // Use polling interval half of desired record interval
	defer ticker.Stop()

	// Counter to track how many ticks have passed (for retention)
	var tickCount int

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastRun) >= gatherer.Interval {
				lastRun = now
				gatherer.Collect(ctx, now)
			}

			// Conduct old metric evaluations and cleanup
			tickCount++
			if tickCount >= 30 {
				gatherer.Registry.Prune(now, gatherer.Retention)
				tickCount = 0
			}
		}
	}
}

// Reads every registered component into a new time slice
func (gatherer *Gatherer) Collect(ctx context.Context, now time.Time) {
	timeSlice := gatherer.Registry.NewTimeSlice(now, gatherer.Interval)

	gatherer.mu.Lock()
	sources := append([]Collector(nil), gatherer.sources...)
	gatherer.mu.Unlock()

	for _, source := range sources {
		gatherer.collectOne(ctx, timeSlice, source)
	}
}

// Record panics and continue with the next component
func (gatherer *Gatherer) collectOne(ctx context.Context, timeSlice time.Time, source Collector) {
	defer func() {
		if fatalError := recover(); fatalError != nil {
			stack := debug.Stack()
			logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
				"panic in metric collector: %v\n%s", fatalError, stack)
		}
	}()

	gatherer.Registry.Add(timeSlice, source.CollectMetrics(gatherer.Interval))
}
