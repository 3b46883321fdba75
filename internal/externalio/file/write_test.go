package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"simbridge/internal/record"
	"strings"
	"testing"
	"time"
)

type memSink struct {
	strings.Builder
	failAfter int
	writes    int
	closed    bool
}

func (sink *memSink) Write(data []byte) (int, error) {
	if sink.failAfter > 0 && sink.writes >= sink.failAfter {
		return 0, errors.New("disk full")
	}
	sink.writes++
	return sink.Builder.Write(data)
}

func (sink *memSink) Close() error {
	sink.closed = true
	return nil
}

func testTrace(at time.Time, recordIndex uint32) record.Trace {
	info := record.Info{RecordIndex: recordIndex, HardwareID: 5, DataSize: 4}
	return record.Trace{Time: at, Instance: "plc1", Telegram: record.FromReadRequest(info, 1)}
}

func TestFormatAsText(t *testing.T) {
	at := time.Date(2020, 1, 1, 10, 10, 10, 123456789, time.UTC)
	got := FormatAsText(testTrace(at, 2))
	want := "2020-01-01T10:10:10.123456789Z plc1[1]: " + testTrace(at, 2).Telegram.Message()
	if got != want {
		t.Fatalf("FormatAsText() = %q, want %q", got, want)
	}
}

func TestWrite_BatchesAndOrders(t *testing.T) {
	sink := &memSink{}
	mod := &OutModule{sink: sink, batchBuffer: &[]string{}}
	ctx := context.Background()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	// Out of order arrival
	for i := batchLines - 1; i >= 1; i-- {
		n, err := mod.Write(ctx, testTrace(base.Add(time.Duration(i)*time.Second), uint32(i)))
		if err != nil || n != 0 {
			t.Fatalf("Write() = %d, %v before batch is full", n, err)
		}
	}
	if sink.Len() != 0 {
		t.Fatalf("data written before batch filled")
	}

	n, err := mod.Write(ctx, testTrace(base, 0))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != batchLines {
		t.Fatalf("flushed %d lines, want %d", n, batchLines)
	}

	lines := strings.Split(strings.TrimSuffix(sink.String(), "\n"), "\n")
	if len(lines) != batchLines {
		t.Fatalf("got %d lines, want %d", len(lines), batchLines)
	}
	if !strings.HasPrefix(lines[0], "2020-01-01T00:00:00Z") {
		t.Fatalf("first line %q is not the oldest", lines[0])
	}
}

func TestFlushBuffer_KeepsUnwrittenOnError(t *testing.T) {
	sink := &memSink{failAfter: 1}
	mod := &OutModule{sink: sink, batchBuffer: &[]string{}}
	ctx := context.Background()
	base := time.Now()

	mod.Write(ctx, testTrace(base, 1))
	mod.Write(ctx, testTrace(base.Add(time.Second), 2))

	n, err := mod.FlushBuffer()
	if err == nil {
		t.Fatalf("expected write error")
	}
	if n != 1 {
		t.Fatalf("flushed %d, want 1", n)
	}
	if len(*mod.batchBuffer) != 1 {
		t.Fatalf("buffer holds %d lines, want 1", len(*mod.batchBuffer))
	}
}

func TestShutdown_FlushesAndCloses(t *testing.T) {
	sink := &memSink{}
	mod := &OutModule{sink: sink, batchBuffer: &[]string{}}
	mod.Write(context.Background(), testTrace(time.Now(), 1))

	if err := mod.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !sink.closed || sink.Len() == 0 {
		t.Fatalf("Shutdown did not flush and close")
	}

	var missing *OutModule
	if err := missing.Shutdown(); err != nil {
		t.Fatalf("nil module Shutdown() error = %v", err)
	}
}

func TestNewOutput(t *testing.T) {
	mod, err := NewOutput("")
	if mod != nil || err != nil {
		t.Fatalf("empty path must return nil nil")
	}

	path := filepath.Join(t.TempDir(), "trace.log")
	mod, err = NewOutput(path)
	if err != nil {
		t.Fatalf("NewOutput() error = %v", err)
	}
	mod.Write(context.Background(), testTrace(time.Now(), 1))
	if err := mod.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "plc1[1]") {
		t.Fatalf("trace file content %q, err %v", data, err)
	}
}
