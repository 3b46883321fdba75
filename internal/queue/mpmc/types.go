package mpmc

import (
	"sync"
	"sync/atomic"
)

type cell[T any] struct {
	seq  atomic.Uint64
	size uint64 // caller supplied byte size, published by seq
	data T
}

// One fixed capacity ring. Rings are chained through next while a resize drains.
type QueueInst[T any] struct {
	Size     int
	mask     uint64
	buf      []cell[T]
	head     atomic.Uint64
	tail     atomic.Uint64
	notEmpty chan struct{}
	writers  atomic.Int64                 // producers currently inside push on this ring
	draining atomic.Bool                  // Gates new producers from writing to this ring
	next     atomic.Pointer[QueueInst[T]] // Successor ring, set before draining
	Metrics  *MetricStorage
}

// Container for split read/write views.
// ActiveWrite is the ring currently accepting writes.
// ActiveRead is the oldest ring that may still hold items.
// Both point at the same ring unless a resize is still draining.
type Queue[T any] struct {
	Namespace   []string
	ActiveWrite atomic.Pointer[QueueInst[T]]
	ActiveRead  atomic.Pointer[QueueInst[T]]
	resizeMu    sync.Mutex // serializes ring replacement
	minimumSize int        // Lower configurable bound for scaling
	maximumSize int        // Soft upper bound, growth past it is logged
	overMax     atomic.Bool
}
