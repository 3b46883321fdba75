package mpmc

import (
	"fmt"
	"simbridge/internal/global"
	"testing"
)

func BenchmarkQueue_Scaling(b *testing.B) {
	sizes := []int{1024, 16384, 131072}

	for _, n := range sizes {
		queue, err := New[int]([]string{global.NSTest}, uint64(n), 2, global.DefaultMaxQueueSize)
		if err != nil {
			b.Fatalf("expected no error in creating queue, but got '%v'", err)
		}

		b.Run(fmt.Sprintf("QueueCapacity=%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				queue.Push(i, 8)
				queue.TryPop()
			}
		})
	}
}

func BenchmarkQueue_PushAllocations(b *testing.B) {
	queue, err := New[int]([]string{global.NSTest}, 4, 2, global.DefaultMaxQueueSize)
	if err != nil {
		b.Fatalf("expected no error in creating queue, but got '%v'", err)
	}

	allocs := testing.AllocsPerRun(10000, func() {
		queue.Push(42, 8)
		queue.TryPop()
	})
	if allocs != 0 {
		b.Fatalf("Expected 0 allocations, got %f", allocs)
	}
}
