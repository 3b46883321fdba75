// FIFO broker: the single owner of the protocol client.
// Controllers enqueue record telegrams, a dispatch loop submits at most one write and one read
// per tick, and every completion is broadcast to all subscribed controllers unfiltered.
package broker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"simbridge/internal/atomics"
	"simbridge/internal/fanout"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/queue/mpmc"
	"simbridge/internal/record"
	"time"

	"github.com/Jeffail/shutdown"
)

var ErrAlreadyStarted = errors.New("broker already started")

// Creates a stopped broker around client
func New(namespace []string, client Client, cfg Config) (new *Broker, err error) {
	cfg.setDefaults()

	ns := append(append([]string{}, namespace...), global.NSBroker)

	writes, err := mpmc.New[record.Telegram](append(append([]string{}, ns...), global.NSWriteReq), uint64(cfg.QueueSize), cfg.MinQueueSize, cfg.MaxQueueSize)
	if err != nil {
		err = fmt.Errorf("failed to create write request queue: %w", err)
		return
	}
	reads, err := mpmc.New[record.Telegram](append(append([]string{}, ns...), global.NSReadReq), uint64(cfg.QueueSize), cfg.MinQueueSize, cfg.MaxQueueSize)
	if err != nil {
		err = fmt.Errorf("failed to create read request queue: %w", err)
		return
	}

	new = &Broker{
		Namespace:   ns,
		cfg:         cfg,
		client:      client,
		writes:      writes,
		reads:       reads,
		subscribers: fanout.New[record.Completion](),
		shutSig:     shutdown.NewSignaller(),
		Metrics:     &MetricStorage{},
	}
	background := context.Background()
	new.logCtx.Store(&background)
	return
}

func (broker *Broker) ctx() (ctx context.Context) {
	ctx = *broker.logCtx.Load()
	return
}

func (cfg *Config) setDefaults() {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = global.DefaultDispatchInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = global.DefaultMinQueueSize
	}
	if cfg.MinQueueSize <= 0 {
		cfg.MinQueueSize = global.DefaultMinQueueSize
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = global.DefaultMaxQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = global.BrokerDrainTimeout
	}
}

// Connects the client and starts dispatching. A connect failure leaves the broker stopped.
func (broker *Broker) Start(ctx context.Context) (err error) {
	if !broker.started.CompareAndSwap(false, true) {
		err = ErrAlreadyStarted
		return
	}

	ctx = logctx.AppendCtxTag(ctx, global.NSBroker)
	broker.logCtx.Store(&ctx)

	err = broker.client.Connect(ctx)
	if err != nil {
		broker.started.Store(false)
		err = fmt.Errorf("broker could not connect: %w", err)
		return
	}
	broker.clientSub = broker.client.Subscribe(broker.relay)

	go broker.run(logctx.AppendCtxTag(ctx, global.NSDispatch))

	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
		"Broker started, dispatching every %s\n", broker.cfg.DispatchInterval)
	return
}

// Appends to the write FIFO. Never blocks.
func (broker *Broker) EnqueueWrite(telegram record.Telegram) {
	broker.enqueue(broker.writes, telegram)
}

// Appends to the read FIFO. Never blocks.
func (broker *Broker) EnqueueRead(telegram record.Telegram) {
	broker.enqueue(broker.reads, telegram)
}

func (broker *Broker) enqueue(queue *mpmc.Queue[record.Telegram], telegram record.Telegram) {
	if broker.shutSig.IsSoftStopSignalled() {
		// Kept, but nothing dispatches it anymore
		broker.Metrics.LateEnqueues.Add(1)
		logctx.LogEvent(broker.ctx(), global.VerbosityDebug, global.InfoLog,
			"Queued %s after stop, it will not be sent\n", telegram.Message())
	}
	queue.Enqueue(broker.ctx(), telegram, telegram.PayloadSize())
	broker.Metrics.Enqueued.Add(1)
}

// Subscribes handler to every completion. Safe while dispatch runs.
func (broker *Broker) Subscribe(handler fanout.Handler[record.Completion]) (id fanout.ID) {
	id = broker.subscribers.Subscribe(handler)
	return
}

func (broker *Broker) Unsubscribe(id fanout.ID) {
	broker.subscribers.Unsubscribe(id)
}

// Requests waiting in both FIFOs
func (broker *Broker) Pending() (depth uint64) {
	depth = broker.writes.Len() + broker.reads.Len()
	return
}

func (broker *Broker) relay(completion record.Completion) {
	delivered := broker.subscribers.Publish(broker.ctx(), completion)
	broker.Metrics.Relayed.Add(1)
	if delivered == 0 {
		broker.Metrics.Unclaimed.Add(1)
	}
}

// Dispatch loop. Exits only on the explicit stop signal or when ctx ends.
func (broker *Broker) run(ctx context.Context) {
	defer broker.shutSig.TriggerHasStopped()

	ticker := time.NewTicker(broker.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-broker.shutSig.HardStopChan():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		broker.DispatchOnce(ctx)

		if broker.shutSig.IsSoftStopSignalled() && broker.Pending() == 0 {
			return
		}
	}
}

// Submits at most one queued write and one queued read. Each path fails on its own.
func (broker *Broker) DispatchOnce(ctx context.Context) (wrote, read bool) {
	wrote = broker.dispatch(ctx, broker.writes, record.WriteRequest)
	read = broker.dispatch(ctx, broker.reads, record.ReadRequest)
	return
}

func (broker *Broker) dispatch(ctx context.Context, queue *mpmc.Queue[record.Telegram], kind record.Kind) (submitted bool) {
	defer func() {
		if fatalError := recover(); fatalError != nil {
			broker.Metrics.Failures.Add(1)
			logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
				"panic dispatching %s: %v\n%s", kind, fatalError, debug.Stack())
			submitted = false
		}
	}()

	telegram, ok := queue.TryPop()
	if !ok {
		return
	}

	var err error
	info := telegram.Info()
	if kind == record.WriteRequest {
		err = broker.client.SubmitWrite(ctx, telegram.InvokeID(), telegram.IndexGroup(), telegram.IndexOffset(), info.DataSize, telegram.Payload())
	} else {
		err = broker.client.SubmitRead(ctx, telegram.InvokeID(), telegram.IndexGroup(), telegram.IndexOffset(), info.DataSize)
	}
	if err != nil {
		// Dropped, no retry at this layer
		broker.Metrics.Failures.Add(1)
		logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
			"Failed to submit %s: %v\n", telegram.Message(), err)
		return
	}

	broker.Metrics.Dispatched.Add(1)
	logctx.LogEvent(ctx, global.VerbosityData, global.InfoLog, "%s\n", telegram.Message())
	submitted = true
	return
}

// Stops dispatch and releases the client.
// Queued requests get up to DrainTimeout (bounded by ctx) to go out first.
func (broker *Broker) Stop(ctx context.Context) (err error) {
	broker.stopOnce.Do(func() {
		if !broker.started.Load() {
			return
		}
		logCtx := broker.ctx()

		broker.shutSig.TriggerSoftStop()

		drained, left := atomics.WaitUntilZero(broker.Pending, broker.cfg.DrainTimeout)
		if !drained {
			logctx.LogEvent(logCtx, global.VerbosityStandard, global.WarnLog,
				"Stopping with %d requests still queued\n", left)
		}
		broker.shutSig.TriggerHardStop()

		select {
		case <-broker.shutSig.HasStoppedChan():
		case <-ctx.Done():
			err = fmt.Errorf("dispatch loop did not exit: %w", ctx.Err())
		}

		broker.client.Unsubscribe(broker.clientSub)
		if disconnectErr := broker.client.Disconnect(logCtx); disconnectErr != nil {
			err = errors.Join(err, disconnectErr)
		}
		broker.subscribers.Clear()

		logctx.LogEvent(logCtx, global.VerbosityProgress, global.InfoLog, "Broker stopped\n")
	})
	return
}

// True once Stop has been requested
func (broker *Broker) Stopping() (stopping bool) {
	stopping = broker.shutSig.IsSoftStopSignalled()
	return
}
