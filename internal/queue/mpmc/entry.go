// Multi-producer Multi-Consumer lock-free ring buffer queue with power-of-two capacity.
// Capacity can be replaced at runtime, consumers drain the old ring before moving on.
package mpmc

import (
	"context"
	"fmt"
	"runtime"
	"simbridge/internal/atomics"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"time"

	"github.com/pbnjay/memory"
)

// Upper wait between emptiness re-checks for blocking consumers
const popPollFallback time.Duration = 100 * time.Millisecond

// Creates a new queue
func New[T any](namespace []string, initialCapacity uint64, minCapacity, maxCapacity int) (new *Queue[T], err error) {
	qInst, err := newQueueInst[T](initialCapacity)
	if err != nil {
		return
	}

	new = &Queue[T]{
		Namespace:   append(append([]string{}, namespace...), global.NSQueue),
		minimumSize: minCapacity,
		maximumSize: maxCapacity,
	}
	new.ActiveRead.Store(qInst)
	new.ActiveWrite.Store(qInst)
	return
}

// Creates new ring instance
func newQueueInst[T any](capacity uint64) (new *QueueInst[T], err error) {
	if capacity < 2 {
		err = fmt.Errorf("capacity must be greater than or equal to 2")
		return
	}
	if (capacity & (capacity - 1)) != 0 {
		err = fmt.Errorf("capacity must be a power of two")
		return
	}

	buf := make([]cell[T], capacity)
	for i := uint64(0); i < capacity; i++ {
		buf[i].seq.Store(i)
	}

	new = &QueueInst[T]{
		Size:     int(capacity),
		mask:     capacity - 1,
		buf:      buf,
		notEmpty: make(chan struct{}, 1),
		Metrics:  &MetricStorage{},
	}
	return
}

// Replaces the write ring if it is still `from`. Consumers move over once `from` is empty.
func (container *Queue[T]) mutateSize(from *QueueInst[T], newCapacity uint64) (err error) {
	container.resizeMu.Lock()
	defer container.resizeMu.Unlock()

	if container.ActiveWrite.Load() != from {
		// Someone else already replaced it
		return
	}

	qInst, err := newQueueInst[T](newCapacity)
	if err != nil {
		return
	}

	from.next.Store(qInst)
	container.ActiveWrite.Store(qInst)
	from.draining.Store(true)

	// Wake a consumer blocked on the old ring so it can move forward
	select {
	case from.notEmpty <- struct{}{}:
	default:
	}
	return
}

// Attempts to write an element (false = current ring full)
func (container *Queue[T]) Push(value T, size int) (success bool) {
	for {
		queue := container.ActiveWrite.Load()

		queue.writers.Add(1)
		if queue.draining.Load() {
			// Loaded ring was replaced, reload
			queue.writers.Add(-1)
			runtime.Gosched()
			continue
		}

		success = queue.push(value, uint64(size))
		queue.writers.Add(-1)
		return
	}
}

// Writes to the ring, growing it when full. Never blocks on capacity.
func (container *Queue[T]) Enqueue(ctx context.Context, value T, size int) {
	for {
		if container.Push(value, size) {
			return
		}

		full := container.ActiveWrite.Load()
		newCapacity := uint64(nextPowerOfTwo(full.Size + 1))

		if newCapacity > uint64(container.maximumSize) && container.overMax.CompareAndSwap(false, true) {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog,
				"queue %v growing past configured maximum (%d > %d items)\n",
				container.Namespace, newCapacity, container.maximumSize)
		}

		availMem := memory.FreeMemory()
		perItem := uint64(0)
		if full.Size > 0 {
			perItem = full.Metrics.Bytes.Load() / uint64(full.Size)
		}
		if availMem > 0 && perItem*newCapacity > availMem {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog,
				"queue %v growth to %d items is near system memory limit (%d bytes free)\n",
				container.Namespace, newCapacity, availMem)
		}

		err := container.mutateSize(full, newCapacity)
		if err != nil {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
				"failed to grow queue %v: %v\n", container.Namespace, err)
			runtime.Gosched()
		}
	}
}

// Attempts to read an element without waiting. Returns false if empty.
func (container *Queue[T]) TryPop() (out T, success bool) {
	for {
		queue := container.ActiveRead.Load()

		out, success = queue.pop()
		if success {
			return
		}
		if !container.advance(queue) {
			return
		}
	}
}

// Reads an element, waiting until one arrives or ctx ends.
// Pending items are still returned when ctx is already done.
func (container *Queue[T]) Pop(ctx context.Context) (out T, success bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		out, success = container.TryPop()
		if success {
			return
		}

		queue := container.ActiveRead.Load()
		queue.Metrics.PopWaits.Add(1)

		if timer == nil {
			timer = time.NewTimer(popPollFallback)
		} else {
			timer.Reset(popPollFallback)
		}

		select {
		case <-ctx.Done():
			return
		case <-queue.notEmpty:
		case <-timer.C:
		}
	}
}

// Items currently held across all rings
func (container *Queue[T]) Len() (depth uint64) {
	for queue := container.ActiveRead.Load(); queue != nil; queue = queue.next.Load() {
		depth += queue.Metrics.Depth.Load()
	}
	return
}

// Current write ring capacity
func (container *Queue[T]) Capacity() (size int) {
	size = container.ActiveWrite.Load().Size
	return
}

// Moves the read view past a drained ring. True when the read view changed.
func (container *Queue[T]) advance(queue *QueueInst[T]) (moved bool) {
	if !queue.draining.Load() {
		return
	}
	if queue.writers.Load() != 0 {
		return
	}
	if queue.head.Load() != queue.tail.Load() {
		// Unclaimed items remain (or a claim raced us), caller retries
		return
	}
	next := queue.next.Load()
	if next == nil {
		return
	}
	container.ActiveRead.CompareAndSwap(queue, next)
	moved = true
	return
}

func (queue *QueueInst[T]) push(value T, size uint64) (success bool) {
	queue.Metrics.PushAttempts.Add(1)

	var pos uint64
	var slot *cell[T]
	for {
		pos = queue.tail.Load()
		slot = &queue.buf[pos&queue.mask]
		seq := slot.seq.Load()

		if seq == pos {
			if queue.tail.CompareAndSwap(pos, pos+1) {
				break
			}
			queue.Metrics.PushCASRetries.Add(1)
		} else if seq < pos {
			queue.Metrics.PushFull.Add(1)
			return
		} else {
			// Another producer claimed this slot, reload tail
			runtime.Gosched()
		}
	}

	slot.data = value
	slot.size = size
	slot.seq.Store(pos + 1)

	queue.Metrics.PushSuccess.Add(1)
	queue.Metrics.Depth.Add(1)
	queue.Metrics.Bytes.Add(size)

	// notify blocked consumers, non-blocking
	select {
	case queue.notEmpty <- struct{}{}:
	default:
	}
	success = true
	return
}

func (queue *QueueInst[T]) pop() (out T, success bool) {
	queue.Metrics.PopAttempts.Add(1)

	for {
		pos := queue.head.Load()
		slot := &queue.buf[pos&queue.mask]
		seq := slot.seq.Load()
		readySeq := pos + 1

		if seq == readySeq {
			if !queue.head.CompareAndSwap(pos, pos+1) {
				queue.Metrics.PopCASRetries.Add(1)
				continue
			}

			var zero T
			out = slot.data
			size := slot.size
			slot.data = zero
			slot.size = 0
			slot.seq.Store(pos + queue.mask + 1)

			queue.Metrics.PopSuccess.Add(1)
			atomics.Subtract(&queue.Metrics.Depth, 1, 8)
			atomics.Subtract(&queue.Metrics.Bytes, size, 8)

			// Pass the wake on so other consumers see remaining items
			if queue.head.Load() != queue.tail.Load() {
				select {
				case queue.notEmpty <- struct{}{}:
				default:
				}
			}
			success = true
			return
		}

		if seq < readySeq {
			queue.Metrics.PopEmpty.Add(1)
			return
		}
		// seq > readySeq, another consumer ahead, retry
		runtime.Gosched()
	}
}
