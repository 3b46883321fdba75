package mpmc

import (
	"simbridge/internal/global"
	"testing"
	"time"
)

func TestMetricsPresence(t *testing.T) {
	tests := []struct {
		name          string
		pushCount     int
		popCount      int
		bytesPerItem  int
		expectDepth   uint64
		expectBytes   uint64
		expectPushSuc uint64
		expectPopSuc  uint64
	}{
		{
			name:          "simple producer-consumer",
			pushCount:     5,
			popCount:      5,
			bytesPerItem:  10,
			expectDepth:   0,
			expectBytes:   0,
			expectPushSuc: 5,
			expectPopSuc:  5,
		},
		{
			name:          "partial consumption",
			pushCount:     3,
			popCount:      2,
			bytesPerItem:  20,
			expectDepth:   1,
			expectBytes:   20,
			expectPushSuc: 3,
			expectPopSuc:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New[int]([]string{global.NSTest}, 8, 4, 16)
			if err != nil {
				t.Fatalf("failed to create queue: %v", err)
			}

			for i := 0; i < tt.pushCount; i++ {
				if !q.Push(i, tt.bytesPerItem) {
					t.Fatalf("push %d failed unexpectedly", i)
				}
			}
			for i := 0; i < tt.popCount; i++ {
				if _, ok := q.TryPop(); !ok {
					t.Fatalf("pop %d failed unexpectedly", i)
				}
			}

			mmap := map[string]uint64{}
			for _, m := range q.CollectMetrics(time.Second) {
				if v, ok := m.Value.Raw.(uint64); ok {
					mmap[m.Name] = v
				}
				if len(m.Namespace) != 2 || m.Namespace[1] != global.NSQueue {
					t.Fatalf("unexpected namespace %v on %s", m.Namespace, m.Name)
				}
			}

			if got := mmap["depth"]; got != tt.expectDepth {
				t.Errorf("depth: got %d, want %d", got, tt.expectDepth)
			}
			if got := mmap["byte_sum"]; got != tt.expectBytes {
				t.Errorf("byte_sum: got %d, want %d", got, tt.expectBytes)
			}
			if got := mmap["push_success"]; got != tt.expectPushSuc {
				t.Errorf("push_success: got %d, want %d", got, tt.expectPushSuc)
			}
			if got := mmap["pop_success"]; got != tt.expectPopSuc {
				t.Errorf("pop_success: got %d, want %d", got, tt.expectPopSuc)
			}
			if got := mmap["capacity"]; got != 8 {
				t.Errorf("capacity: got %d, want 8", got)
			}

			// Counters reset after collection
			for _, m := range q.CollectMetrics(time.Second) {
				if m.Name == "push_success" && m.Value.Raw.(uint64) != 0 {
					t.Errorf("push_success not reset after collection")
				}
			}
		})
	}
}

func TestMetrics_SpansDrainingRings(t *testing.T) {
	q, err := New[int]([]string{global.NSTest}, 2, 2, 16)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	q.Push(1, 5)
	q.Push(2, 5)
	if err := q.mutateSize(q.ActiveWrite.Load(), 4); err != nil {
		t.Fatalf("failed to mutate size: %v", err)
	}
	q.Push(3, 5)

	mmap := map[string]uint64{}
	for _, m := range q.CollectMetrics(time.Second) {
		mmap[m.Name] = m.Value.Raw.(uint64)
	}
	if mmap["depth"] != 3 || mmap["byte_sum"] != 15 || mmap["rings"] != 2 {
		t.Fatalf("unexpected aggregate metrics: %v", mmap)
	}
}
