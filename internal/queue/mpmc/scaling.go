package mpmc

import (
	"context"
	"simbridge/internal/global"
	"simbridge/internal/logctx"

	"github.com/pbnjay/memory"
)

// Resizes the write ring from recent depth samples (oldest first).
// With fewer than three samples the current utilization decides.
func (container *Queue[T]) ScaleCapacity(ctx context.Context, depthHistory []uint64) {
	activeQueue := container.ActiveWrite.Load()
	currentCapacity := activeQueue.Size
	currentDepth := activeQueue.Metrics.Depth.Load()

	var scaleUp, scaleDown bool
	if len(depthHistory) >= 3 {
		scaleUp, scaleDown = Trend(depthHistory, currentCapacity)
	} else {
		utilization := float64(currentDepth) / float64(currentCapacity) * 100
		scaleUp = utilization >= 90
		scaleDown = utilization <= 2
	}

	if scaleUp {
		if currentCapacity >= container.maximumSize {
			return
		}
		newSize := nextPowerOfTwo(currentCapacity + 1)

		// No scaling up when near system memory limit
		availMem := memory.FreeMemory()
		perItem := activeQueue.Metrics.Bytes.Load() / uint64(currentCapacity)
		if availMem > 0 && uint64(newSize)*perItem > availMem {
			logctx.LogEvent(ctx, global.VerbosityProgress, global.WarnLog,
				"Skipped queue scale up, %d bytes free\n", availMem)
			return
		}

		err := container.mutateSize(activeQueue, uint64(newSize))
		if err != nil {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
				"Failed to scale queue capacity: %v\n", err)
			return
		}
		logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
			"Scaled up queue %v from %d to %d capacity\n", container.Namespace, currentCapacity, newSize)
	} else if scaleDown {
		if currentCapacity <= container.minimumSize {
			return
		}
		newSize := prevPowerOfTwo(currentCapacity)
		if newSize < 2 || currentDepth > uint64(newSize/2) {
			return
		}

		err := container.mutateSize(activeQueue, uint64(newSize))
		if err != nil {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
				"Failed to scale queue capacity: %v\n", err)
			return
		}
		logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
			"Scaled down queue %v from %d to %d capacity\n", container.Namespace, currentCapacity, newSize)
	}
}

func nextPowerOfTwo(start int) (next int) {
	if start <= 1 {
		next = 1
		return
	}
	start--
	start |= start >> 1
	start |= start >> 2
	start |= start >> 4
	start |= start >> 8
	start |= start >> 16
	start |= start >> 32
	next = start + 1
	return
}

// Largest power of two strictly below start (start itself a power of two)
func prevPowerOfTwo(start int) (prev int) {
	if start <= 1 {
		return
	}
	prev = nextPowerOfTwo(start) >> 1
	return
}

// Decides whether to scale up or down from depth samples.
// Needs the last three steps moving the same way plus a watermark crossing.
func Trend(depthValues []uint64, queueSize int) (scaleUp bool, scaleDown bool) {
	const (
		upThresholdPct    = 70.0
		downThresholdPct  = 15.0
		requireConsistent = 3
	)

	n := len(depthValues)
	if n < 3 || queueSize <= 0 {
		return
	}

	latestPct := float64(depthValues[n-1]) / float64(queueSize) * 100

	// +1 = growing, -1 = shrinking, 0 = flat
	direction := func(i int) (d int) {
		switch {
		case depthValues[i+1] > depthValues[i]:
			d = 1
		case depthValues[i+1] < depthValues[i]:
			d = -1
		}
		return
	}

	trend := direction(n - 2)
	streak := 1
	for i := n - 3; i >= 0 && streak < requireConsistent; i-- {
		if direction(i) != trend {
			break
		}
		streak++
	}
	if trend == 0 || streak < requireConsistent {
		return
	}

	if latestPct > upThresholdPct && trend > 0 {
		scaleUp = true
	} else if latestPct < downThresholdPct && trend < 0 {
		scaleDown = true
	}
	return
}
