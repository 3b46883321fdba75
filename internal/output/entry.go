// Telegram trace output: controllers hand traces over without blocking,
// one worker writes them to the file and beats outputs.
package output

import (
	"context"
	"fmt"
	"runtime/debug"
	"simbridge/internal/externalio/beats"
	"simbridge/internal/externalio/file"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/queue/mpmc"
	"simbridge/internal/record"
	"time"
)

const flushInterval = 500 * time.Millisecond

// Creates new worker instance. Either module may be nil.
func New(namespace []string, fileMod *file.OutModule, beatsMod *beats.OutModule, queueSize, maxQueueSize int) (new *Instance, err error) {
	ns := append(append([]string{}, namespace...), global.NSTrace)

	inbox, err := mpmc.New[record.Trace](ns, uint64(queueSize), queueSize, maxQueueSize)
	if err != nil {
		err = fmt.Errorf("failed to create trace queue: %w", err)
		return
	}

	new = &Instance{
		Namespace: ns,
		FileMod:   fileMod,
		BeatsMod:  beatsMod,
		Inbox:     inbox,
		Metrics:   MetricStorage{},
	}
	return
}

// Queues one telegram trace. Dropped when the queue is full.
func (instance *Instance) Trace(name string, telegram record.Telegram) {
	trace := record.Trace{Time: time.Now(), Instance: name, Telegram: telegram}
	if !instance.Inbox.Push(trace, trace.Size()) {
		instance.Metrics.Dropped.Add(1)
		return
	}
	instance.Metrics.ReceivedTraces.Add(1)
}

// Take queued traces and write to configured outputs
func (instance *Instance) Run(ctx context.Context) {
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			instance.flush(ctx)
			return
		default:
		}

		// Bounded wait so idle buffers still get flushed
		popCtx, popCancel := context.WithTimeout(ctx, flushInterval)
		trace, ok := instance.Inbox.Pop(popCtx)
		popCancel()
		if ok {
			instance.write(ctx, trace)
		}

		// Buffers might never fill on low traffic
		if time.Since(lastFlush) >= flushInterval {
			instance.flush(ctx)
			lastFlush = time.Now()
		}
	}
}

func (instance *Instance) write(ctx context.Context, trace record.Trace) {
	// Record panics and continue output
	defer func() {
		if fatalError := recover(); fatalError != nil {
			stack := debug.Stack()
			logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
				"panic in trace output worker thread: %v\n%s", fatalError, stack)
		}
	}()

	n, err := instance.FileMod.Write(ctx, trace)
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
			"Failed to write trace(s) to file output: %v\n", err)
	}
	instance.Metrics.SuccessfulFileWrites.Add(uint64(n))

	n, err = instance.BeatsMod.Write(ctx, trace)
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
			"Failed to write trace(s) to beats output: %v\n", err)
	}
	instance.Metrics.SuccessfulBeatsWrites.Add(uint64(n))
}

func (instance *Instance) flush(ctx context.Context) {
	n, err := instance.FileMod.FlushBuffer()
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
			"Failed to flush file output: %v\n", err)
	}
	instance.Metrics.SuccessfulFileWrites.Add(uint64(n))

	n, err = instance.BeatsMod.FlushBuffer()
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
			"Failed to flush beats output: %v\n", err)
	}
	instance.Metrics.SuccessfulBeatsWrites.Add(uint64(n))
}

// Writes whatever is still queued, then closes the outputs. Call after Run returned.
func (instance *Instance) Shutdown(ctx context.Context) {
	for {
		trace, ok := instance.Inbox.TryPop()
		if !ok {
			break
		}
		instance.write(ctx, trace)
	}

	if err := instance.FileMod.Shutdown(); err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog,
			"file output did not close cleanly: %v\n", err)
	}
	if err := instance.BeatsMod.Shutdown(); err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog,
			"beats output did not close cleanly: %v\n", err)
	}
}
