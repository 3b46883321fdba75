// Cycle controller: drives one simulated instance on a fixed period.
// Each cycle copies the host process image into the instance and back, then hands
// at most one write and one read completion to the instance. Record requests raised
// by the instance go to the shared broker; broadcast completions are kept only when
// their result code names this instance.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/queue/mpmc"
	"simbridge/internal/record"
	"strconv"
	"time"
)

var (
	ErrNotIdle        = errors.New("controller already connected")
	ErrNotRunning     = errors.New("controller is not running")
	ErrConnectTimeout = errors.New("instance did not reach Run in time")
	ErrShuttingDown   = errors.New("instance is shutting down")
	ErrStopped        = errors.New("controller stopped")
)

const tickHistorySize int = 128

// Creates an idle controller for instance
func New(namespace []string, instance Instance, broker Broker, cfg Config) (new *Controller, err error) {
	if instance == nil || broker == nil {
		err = fmt.Errorf("controller needs both an instance and a broker")
		return
	}
	cfg.setDefaults()

	ns := append(append([]string{}, namespace...), global.NSController, instance.Name())

	writeRes, err := mpmc.New[record.Telegram](append(append([]string{}, ns...), global.NSWriteRes),
		uint64(cfg.QueueSize), cfg.QueueSize, cfg.MaxQueueSize)
	if err != nil {
		err = fmt.Errorf("failed to create write response queue: %w", err)
		return
	}
	readRes, err := mpmc.New[record.Telegram](append(append([]string{}, ns...), global.NSReadRes),
		uint64(cfg.QueueSize), cfg.QueueSize, cfg.MaxQueueSize)
	if err != nil {
		err = fmt.Errorf("failed to create read response queue: %w", err)
		return
	}

	new = &Controller{
		Namespace: ns,
		cfg:       cfg,
		instance:  instance,
		broker:    broker,
		Image:     newProcessImage(cfg.InputAddress, cfg.OutputAddress),
		writeRes:  writeRes,
		readRes:   readRes,
		stateWake: make(chan struct{}, 1),
		scale:     1.0,
		Metrics:   &MetricStorage{},
	}
	new.lifeCtx, new.lifeCancel = context.WithCancel(context.Background())
	background := context.Background()
	new.logCtx.Store(&background)
	return
}

func (cfg *Config) setDefaults() {
	if cfg.CycleTime <= 0 {
		cfg.CycleTime = global.DefaultCycleTime
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = global.DefaultConnectTimeout
	}
	if cfg.ConnectPoll <= 0 {
		cfg.ConnectPoll = global.DefaultConnectPoll
	}
	if cfg.FaultCooldown <= 0 {
		cfg.FaultCooldown = global.DefaultFaultCooldown
	}
	if cfg.StopSettle <= 0 {
		cfg.StopSettle = global.DefaultStopSettle
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = global.DefaultMinQueueSize
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = global.DefaultMaxQueueSize
	}
}

// Sends every forwarded and completed telegram to tracer. Call before Connect.
func (controller *Controller) SetTracer(tracer Tracer) {
	controller.tracer = tracer
}

func (controller *Controller) State() (state State) {
	state = State(controller.state.Load())
	return
}

func (controller *Controller) InstanceID() (id int) {
	id = controller.cfg.InstanceID
	return
}

func (controller *Controller) ctx() (ctx context.Context) {
	ctx = *controller.logCtx.Load()
	return
}

// Requests a new instance time scale, applied on the next running cycle
func (controller *Controller) SetTimeScaling(factor float64) {
	controller.requestedScale.Store(math.Float64bits(factor))
	controller.scaleRequested.Store(true)
}

// Powers the instance on and waits until it reports Run.
// On failure the controller is left Idle with nothing registered.
func (controller *Controller) Connect(ctx context.Context) (err error) {
	controller.lifecycleMu.Lock()
	defer controller.lifecycleMu.Unlock()

	if !controller.state.CompareAndSwap(int32(Idle), int32(Connecting)) {
		err = ErrNotIdle
		return
	}
	if controller.lifeCtx.Err() != nil {
		controller.state.Store(int32(Idle))
		err = ErrStopped
		return
	}

	ctx = logctx.AppendCtxTag(ctx, global.NSController)
	ctx = logctx.AppendCtxTag(ctx, controller.instance.Name())
	controller.logCtx.Store(&ctx)

	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
		"Trying to start and connect instance '%s' (id %d)...\n", controller.instance.Name(), controller.cfg.InstanceID)

	defer func() {
		if err == nil {
			return
		}
		controller.release()
		controller.state.Store(int32(Idle))
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog,
			"Connecting to instance '%s' aborted: %v\n", controller.instance.Name(), err)
	}()

	// Completions for requests raised during startup must find a subscriber
	controller.brokerSub = controller.broker.Subscribe(controller.onCompletion)
	controller.subscribed = true
	controller.instance.SetHandlers(Handlers{
		OnRecordWrite:           controller.onRecordWrite,
		OnRecordRead:            controller.onRecordRead,
		OnOperatingStateChanged: controller.onOperatingStateChanged,
	})

	err = controller.instance.PowerOn()
	if err != nil {
		err = fmt.Errorf("power on failed: %w", err)
		return
	}

	err = controller.waitForRun(ctx)
	if err != nil {
		return
	}

	inputSize := controller.instance.InputAreaSize()
	outputSize := controller.instance.OutputAreaSize()
	err = controller.Image.validate(inputSize, outputSize)
	if err != nil {
		err = fmt.Errorf("invalid process image mapping: %w", err)
		return
	}
	controller.inputArea = make([]byte, inputSize)
	controller.outputArea = make([]byte, outputSize)
	controller.scale = controller.instance.ScaleFactor()

	controller.state.Store(int32(Running))
	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
		"Connected to instance '%s' (inputs %d bytes, outputs %d bytes)\n", controller.instance.Name(), inputSize, outputSize)
	return
}

// Blocks until Run, ShuttingDown, the timeout or ctx. State changes wake it early.
func (controller *Controller) waitForRun(ctx context.Context) (err error) {
	deadline := time.NewTimer(controller.cfg.ConnectTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(controller.cfg.ConnectPoll)
	defer poll.Stop()

	for {
		switch controller.instance.OperatingState() {
		case Run:
			return
		case ShuttingDown:
			err = ErrShuttingDown
			return
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		case <-controller.lifeCtx.Done():
			err = ErrStopped
			return
		case <-deadline.C:
			err = fmt.Errorf("%w (%s)", ErrConnectTimeout, controller.cfg.ConnectTimeout)
			return
		case <-poll.C:
		case <-controller.stateWake:
		}
	}
}

// Cycles until ctx ends or the instance goes Invalid, then releases everything
func (controller *Controller) Run(ctx context.Context) (err error) {
	controller.lifecycleMu.Lock()
	if controller.State() != Running || controller.loopDone != nil {
		controller.lifecycleMu.Unlock()
		err = ErrNotRunning
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	unlink := context.AfterFunc(controller.lifeCtx, cancel)
	controller.cancel = cancel
	controller.loopDone = make(chan struct{})
	done := controller.loopDone
	controller.lifecycleMu.Unlock()

	defer close(done)
	defer cancel()
	defer unlink()

	logCtx := controller.ctx()
	ticker := time.NewTicker(controller.cfg.CycleTime)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			controller.finish(logCtx)
			return
		case <-ticker.C:
		}

		if controller.State() != Running {
			continue
		}

		func() {
			// Record panics and keep cycling
			defer func() {
				if fatalError := recover(); fatalError != nil {
					controller.Metrics.Faults.Add(1)
					logctx.LogEvent(logCtx, global.VerbosityStandard, global.ErrorLog,
						"panic in cycle: %v\n%s", fatalError, debug.Stack())
					controller.sleep(runCtx, controller.cfg.FaultCooldown)
				}
			}()

			tickErr := controller.IterateOnce(runCtx)
			if tickErr != nil {
				controller.Metrics.Faults.Add(1)
				logctx.LogEvent(logCtx, global.VerbosityStandard, global.ErrorLog, "%v\n", tickErr)
				controller.sleep(runCtx, controller.cfg.FaultCooldown)
			}
		}()
	}
}

// One cycle: state check, scale relay, image exchange, one completion per direction
func (controller *Controller) IterateOnce(ctx context.Context) (err error) {
	if controller.State() != Running {
		return
	}
	started := time.Now()
	logCtx := controller.ctx()

	if controller.instance.OperatingState() != Run {
		controller.Metrics.SettleWaits.Add(1)
		controller.sleep(ctx, controller.cfg.StopSettle)

		if controller.instance.OperatingState() == Invalid {
			controller.drain(logCtx)
			return
		}
	}

	if controller.scaleRequested.Load() {
		requested := math.Float64frombits(controller.requestedScale.Load())
		if requested != controller.scale {
			logctx.LogEvent(logCtx, global.VerbosityProgress, global.InfoLog,
				"Scale factor for instance '%s' changed from %s to %s\n", controller.instance.Name(),
				strconv.FormatFloat(controller.scale, 'g', -1, 64), strconv.FormatFloat(requested, 'g', -1, 64))
			controller.scale = requested
			controller.instance.SetScaleFactor(requested)
		}
	}

	controller.Image.scatterInputs(controller.inputArea)
	err = controller.instance.WriteInputs(controller.inputArea)
	if err != nil {
		err = fmt.Errorf("failed to write instance inputs: %w", err)
		return
	}

	outputs, err := controller.instance.ReadOutputs()
	if err != nil {
		err = fmt.Errorf("failed to read instance outputs: %w", err)
		return
	}
	copy(controller.outputArea, outputs)
	err = controller.Image.gatherOutputs(controller.outputArea)
	if err != nil {
		return
	}

	if telegram, ok := controller.writeRes.TryPop(); ok {
		err = controller.instance.CompleteWrite(telegram.Info(), 0)
		if err != nil {
			err = fmt.Errorf("failed to complete %s: %w", telegram.Message(), err)
			return
		}
		controller.Metrics.WritesCompleted.Add(1)
		controller.trace(logCtx, telegram)
	}

	if telegram, ok := controller.readRes.TryPop(); ok {
		err = controller.instance.CompleteRead(telegram.Info(), telegram.Payload(), 0)
		if err != nil {
			err = fmt.Errorf("failed to complete %s: %w", telegram.Message(), err)
			return
		}
		controller.Metrics.ReadsCompleted.Add(1)
		controller.trace(logCtx, telegram)
	}

	elapsed := time.Since(started)
	controller.recordTick(elapsed)
	if elapsed > 2*controller.cfg.CycleTime {
		controller.Metrics.Overruns.Add(1)
		logctx.LogEvent(logCtx, global.VerbosityStandard, global.WarnLog,
			"Cycle time of instance '%s' exceeded. Delta time = %d ms\n", controller.instance.Name(), elapsed.Milliseconds())
	}
	return
}

// Instance reached Invalid: zero host outputs and stop cycling
func (controller *Controller) drain(ctx context.Context) {
	if !controller.state.CompareAndSwap(int32(Running), int32(Draining)) {
		return
	}
	controller.Image.zeroOutputs()
	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
		"Instance '%s' is no longer valid, stopping\n", controller.instance.Name())

	controller.lifecycleMu.Lock()
	cancel := controller.cancel
	controller.lifecycleMu.Unlock()

	if cancel != nil {
		// Run loop observes this and finishes
		cancel()
		return
	}
	controller.finish(ctx)
}

// Stops cycling and releases the broker subscription and instance handlers.
// A pending Connect is aborted. Waits for a running loop to exit, bounded by ctx.
func (controller *Controller) Stop(ctx context.Context) (err error) {
	controller.lifeCancel()

	controller.lifecycleMu.Lock()
	cancel := controller.cancel
	done := controller.loopDone
	controller.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("cycle loop did not exit: %w", ctx.Err())
		}
		return
	}

	controller.finish(controller.ctx())
	return
}

func (controller *Controller) finish(ctx context.Context) {
	controller.lifecycleMu.Lock()
	defer controller.lifecycleMu.Unlock()

	if controller.State() == Stopped {
		return
	}
	controller.release()
	controller.state.Store(int32(Stopped))
	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
		"Disconnected from instance '%s'\n", controller.instance.Name())
}

// Caller holds lifecycleMu
func (controller *Controller) release() {
	controller.instance.SetHandlers(Handlers{})
	if controller.subscribed {
		controller.broker.Unsubscribe(controller.brokerSub)
		controller.subscribed = false
	}
}

// Sleeps for wait unless ctx ends first
func (controller *Controller) sleep(ctx context.Context, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Raised by the instance
func (controller *Controller) onRecordWrite(info record.Info, payload []byte) {
	telegram := record.FromWriteRequest(info, payload, controller.cfg.InstanceID)
	controller.Metrics.WritesForwarded.Add(1)
	controller.trace(controller.ctx(), telegram)
	controller.broker.EnqueueWrite(telegram)
}

// Raised by the instance
func (controller *Controller) onRecordRead(info record.Info) {
	telegram := record.FromReadRequest(info, controller.cfg.InstanceID)
	controller.Metrics.ReadsForwarded.Add(1)
	controller.trace(controller.ctx(), telegram)
	controller.broker.EnqueueRead(telegram)
}

func (controller *Controller) onOperatingStateChanged(previous, next OperatingState) {
	logctx.LogEvent(controller.ctx(), global.VerbosityProgress, global.InfoLog,
		"Instance '%s' changed from state '%s' to '%s'\n", controller.instance.Name(), previous, next)

	select {
	case controller.stateWake <- struct{}{}:
	default:
	}
}

// Broadcast from the broker. Completions for other instances are dropped silently.
func (controller *Controller) onCompletion(completion record.Completion) {
	if completion.Result != record.ExpectedResult(controller.cfg.InstanceID) {
		controller.Metrics.Foreign.Add(1)
		return
	}
	if controller.State() == Stopped {
		return
	}

	telegram := record.FromCompletion(completion, controller.cfg.InstanceID)
	switch completion.Kind {
	case record.WriteCompletion:
		controller.writeRes.Enqueue(controller.ctx(), telegram, 0)
	case record.ReadCompletion:
		controller.readRes.Enqueue(controller.ctx(), telegram, telegram.PayloadSize())
	default:
		return
	}
	controller.Metrics.Accepted.Add(1)
}

func (controller *Controller) trace(ctx context.Context, telegram record.Telegram) {
	logctx.LogEvent(ctx, global.VerbosityData, global.InfoLog, "%s\n", telegram.Message())
	if controller.tracer != nil {
		controller.tracer.Trace(controller.instance.Name(), telegram)
	}
}

func (controller *Controller) recordTick(elapsed time.Duration) {
	controller.Metrics.Cycles.Add(1)

	controller.tickMu.Lock()
	defer controller.tickMu.Unlock()
	if len(controller.tickTimes) >= tickHistorySize {
		controller.tickTimes = controller.tickTimes[1:]
	}
	controller.tickTimes = append(controller.tickTimes, elapsed)
}

// Pending completions per direction
func (controller *Controller) PendingCompletions() (writes, reads uint64) {
	writes = controller.writeRes.Len()
	reads = controller.readRes.Len()
	return
}
