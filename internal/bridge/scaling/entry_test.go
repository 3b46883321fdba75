package scaling

import (
	"context"
	"simbridge/internal/global"
	"simbridge/internal/metrics"
	"testing"
	"time"
)

type recordingScaler struct {
	calls  int
	writes []uint64
	reads  []uint64
}

func (scaler *recordingScaler) ScaleQueues(ctx context.Context, writeDepths, readDepths []uint64) {
	scaler.calls++
	scaler.writes = writeDepths
	scaler.reads = readDepths
}

func addDepth(registry *metrics.Registry, at time.Time, queueName string, depth uint64) {
	slice := registry.NewTimeSlice(at, time.Second)
	registry.Add(slice, []metrics.Metric{{
		Name:      "depth",
		Namespace: []string{global.NSBridge, global.NSBroker, queueName, global.NSQueue},
		Value:     metrics.MetricValue{Raw: depth},
		Type:      metrics.Gauge,
	}})
}

func TestScaleOnce(t *testing.T) {
	registry := metrics.New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		addDepth(registry, start.Add(time.Duration(i)*time.Second), global.NSWriteReq, uint64(i*10))
	}
	addDepth(registry, start, global.NSReadReq, 3)

	scaler := &recordingScaler{}
	instance := New(registry, time.Second, scaler, []string{global.NSBridge, global.NSBroker})
	instance.ScaleOnce(context.Background())

	if scaler.calls != 1 {
		t.Fatalf("expected one scaling call, got %d", scaler.calls)
	}
	want := []uint64{20, 30, 40, 50, 60}
	if len(scaler.writes) != len(want) {
		t.Fatalf("write depths=%v want=%v", scaler.writes, want)
	}
	for i := range want {
		if scaler.writes[i] != want[i] {
			t.Fatalf("write depths=%v want=%v", scaler.writes, want)
		}
	}
	if len(scaler.reads) != 1 || scaler.reads[0] != 3 {
		t.Fatalf("read depths=%v want=[3]", scaler.reads)
	}
}

func TestScaleOnce_NoSamples(t *testing.T) {
	scaler := &recordingScaler{}
	instance := New(metrics.New(), time.Second, scaler, []string{global.NSBridge, global.NSBroker})
	instance.ScaleOnce(context.Background())

	if scaler.calls != 1 || len(scaler.writes) != 0 || len(scaler.reads) != 0 {
		t.Fatalf("expected empty depth histories, got writes=%v reads=%v", scaler.writes, scaler.reads)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scaler := &recordingScaler{}
	instance := New(metrics.New(), time.Millisecond, scaler, nil)

	done := make(chan struct{})
	go func() {
		instance.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scaler did not stop after cancel")
	}
}
