// Daemon that wires the simulated instances, their cycle controllers, the shared broker
// and the transport together, plus trace output and metric collection
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"simbridge/internal/bridge/metrics"
	"simbridge/internal/bridge/scaling"
	"simbridge/internal/broker"
	"simbridge/internal/controller"
	"simbridge/internal/externalio/beats"
	"simbridge/internal/externalio/file"
	"simbridge/internal/externalio/server"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	metricGlb "simbridge/internal/metrics"
	"simbridge/internal/output"
	"simbridge/internal/protocol"
	"simbridge/internal/record"
	"simbridge/internal/simulation"
	"simbridge/internal/transport/loopback"
	"time"
)

// Create new bridge daemon instance
func NewDaemon(cfg Config) (new *Daemon) {
	ctx, cancel := context.WithCancel(context.Background())
	new = &Daemon{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	return
}

// Starts every component in background - gracefully shuts down if startup error is encountered
func (daemon *Daemon) Start(globalCtx context.Context) (err error) {
	// New context for the daemon
	daemon.ctx, daemon.cancel = context.WithCancel(context.Background())
	daemon.ctx = logctx.WithLogger(daemon.ctx, logctx.GetLogger(globalCtx))

	// Top level tag for daemon logs
	daemon.ctx = logctx.OverwriteCtxTag(daemon.ctx, []string{global.NSBridge})

	logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.InfoLog, "Starting...\n")

	if len(daemon.cfg.Instances) == 0 {
		err = fmt.Errorf("cannot start without a configured instance")
		return
	}

	// Pre-startup
	daemon.cfg.setDefaults()
	global.Hostname, err = os.Hostname()
	if err != nil {
		err = fmt.Errorf("failed to determine local hostname: %w", err)
		return
	}
	global.PID = os.Getpid()
	namespace := []string{global.NSBridge}

	// Transport with its record store
	daemon.Transport, err = loopback.New(namespace, loopback.Options{
		Latency:      daemon.cfg.TransportLatency,
		QueueSize:    daemon.cfg.TransportQueueSize,
		MaxQueueSize: daemon.cfg.TransportMaxQueueSize,
	})
	if err != nil {
		err = fmt.Errorf("error creating transport: %w", err)
		daemon.Shutdown()
		return
	}
	records := protocol.NewRecordRange()
	for _, inst := range daemon.cfg.Instances {
		if len(inst.Spans) == 0 {
			records.AddInstance(inst.Controller.InstanceID)
		}
		for _, span := range inst.Spans {
			records.AddSpan(inst.Controller.InstanceID, span.FirstHardwareID, span.Count)
		}
		for key, data := range inst.Seed {
			daemon.Transport.Seed(record.IndexGroup(key.RecordIndex),
				record.IndexOffset(key.HardwareID, inst.Controller.InstanceID), data)
		}
	}
	daemon.Client = protocol.New(namespace, daemon.Transport, records)

	// Broker, built by the first controller that needs it
	daemon.Brokers = broker.NewShared(func(ctx context.Context) (shared *broker.Broker, err error) {
		shared, err = broker.New(namespace, daemon.Client, daemon.cfg.Broker)
		if err != nil {
			return
		}
		err = shared.Start(ctx)
		if err != nil {
			return
		}
		daemon.broker.Store(shared)
		return
	})

	// Trace output
	err = daemon.startTracer(namespace)
	if err != nil {
		daemon.Shutdown()
		return
	}

	// Instances and controllers
	scriptCtx, scriptCancel := context.WithCancel(daemon.ctx)
	daemon.scriptCancel = scriptCancel
	for _, inst := range daemon.cfg.Instances {
		var node *Node
		node, err = daemon.addNode(namespace, inst)
		if err != nil {
			err = fmt.Errorf("failed starting instance '%s': %w", inst.Name, err)
			daemon.Shutdown()
			return
		}

		if len(inst.Script) > 0 {
			daemon.wg.Add(1)
			go func() {
				defer daemon.wg.Done()
				node.Instance.RunScript(scriptCtx, inst.Script, inst.LoopScript)
			}()
		}
	}

	// Metrics Collector
	daemon.metricsCollector = metrics.New(daemon.cfg.MetricCollectionInterval, daemon.cfg.MetricMaxAge)
	daemon.metricsCollector.Add(daemon.Transport, daemon.Client, currentBroker{daemon: daemon})
	for _, node := range daemon.Nodes {
		daemon.metricsCollector.Add(node.Controller)
	}
	if daemon.Tracer != nil {
		daemon.metricsCollector.Add(daemon.Tracer)
	}
	workerCtx := daemon.ctx
	daemon.wg.Add(1)
	go func() {
		defer daemon.wg.Done()
		daemon.metricsCollector.Run(workerCtx)
	}()

	// Autoscaler
	if daemon.cfg.AutoscaleEnabled {
		scaler := scaling.New(daemon.metricsCollector.Registry,
			daemon.cfg.AutoscaleCheckInterval,
			currentBroker{daemon: daemon},
			append(append([]string{}, namespace...), global.NSBroker))
		daemon.wg.Add(1)
		go func() {
			defer daemon.wg.Done()
			scaler.Run(workerCtx)
		}()
	}

	// Metric Server
	if daemon.cfg.MetricQueryServerEnabled {
		// Top level tag for metric server logs (copy so return doesn't strip ns tags)
		serverCtx := daemon.ctx
		serverCtx = logctx.AppendCtxTag(serverCtx, global.NSMetric)
		serverCtx = logctx.AppendCtxTag(serverCtx, global.NSMetricSrv)

		registry := daemon.metricsCollector.Registry
		daemon.MetricServer, err = server.SetupListener(serverCtx, daemon.cfg.MetricQueryServerPort, server.Sources{
			Search:      registry.Search,
			Discover:    registry.Discover,
			Aggregation: registry.Aggregate,
			Latest:      registry.Latest,
		})
		if err != nil {
			err = fmt.Errorf("failed setting up metric server: %w", err)
			daemon.Shutdown()
			return
		}
		daemon.wg.Add(1)
		go func() {
			defer daemon.wg.Done()
			server.Start(serverCtx, daemon.MetricServer)
		}()
	}

	logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.InfoLog, "Startup complete.\n")
	return
}

// Opens the configured trace outputs and starts the trace worker. No outputs, no worker.
func (daemon *Daemon) startTracer(namespace []string) (err error) {
	if daemon.cfg.TraceFilePath == "" && daemon.cfg.TraceBeatsAddress == "" {
		return
	}

	fileMod, err := file.NewOutput(daemon.cfg.TraceFilePath)
	if err != nil {
		err = fmt.Errorf("failed to create trace file output: %w", err)
		return
	}
	beatsMod, err := beats.NewOutput(daemon.cfg.TraceBeatsAddress)
	if err != nil {
		_ = fileMod.Shutdown()
		err = fmt.Errorf("failed to create trace beats output: %w", err)
		return
	}

	tracer, err := output.New(namespace, fileMod, beatsMod, daemon.cfg.TraceQueueSize, daemon.cfg.MaxQueueSize)
	if err != nil {
		_ = fileMod.Shutdown()
		_ = beatsMod.Shutdown()
		err = fmt.Errorf("failed to create trace worker: %w", err)
		return
	}
	daemon.Tracer = tracer

	traceCtx, traceCancel := context.WithCancel(daemon.ctx)
	traceCtx = logctx.AppendCtxTag(traceCtx, global.NSTrace)
	daemon.traceCancel = traceCancel
	daemon.traceDone = make(chan struct{})
	go func() {
		defer close(daemon.traceDone)
		daemon.Tracer.Run(traceCtx)
	}()
	return
}

// Ends the trace worker and closes its outputs once it has exited
func (daemon *Daemon) stopTracer(stopCtx context.Context) (closed bool) {
	if daemon.Tracer == nil {
		return
	}
	daemon.traceCancel()
	select {
	case <-daemon.traceDone:
		daemon.Tracer.Shutdown(daemon.ctx)
		closed = true
	case <-stopCtx.Done():
		// Worker still owns the outputs, leave them open
		logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.WarnLog,
			"trace worker did not exit in time, outputs not closed\n")
	}
	return
}

// Creates the simulated instance, takes a broker ticket, connects and starts cycling
func (daemon *Daemon) addNode(namespace []string, inst InstanceConfig) (node *Node, err error) {
	node = &Node{
		Name:     inst.Name,
		Instance: simulation.New(inst.Name, inst.Simulation),
	}

	shared, ticket, err := daemon.Brokers.Acquire(daemon.ctx)
	if err != nil {
		return
	}
	node.ticket = ticket
	node.held = true

	node.Controller, err = controller.New(namespace, node.Instance, shared, inst.Controller)
	if err != nil {
		daemon.releaseNode(node)
		return
	}
	if daemon.Tracer != nil {
		node.Controller.SetTracer(daemon.Tracer)
	}

	err = node.Controller.Connect(daemon.ctx)
	if err != nil {
		daemon.releaseNode(node)
		return
	}
	if inst.Scaling > 0 {
		node.Controller.SetTimeScaling(inst.Scaling)
	}

	daemon.Nodes = append(daemon.Nodes, node)

	runCtx := daemon.ctx
	daemon.wg.Add(1)
	go func() {
		defer daemon.wg.Done()
		defer func() {
			if fatalError := recover(); fatalError != nil {
				logctx.LogEvent(runCtx, global.VerbosityStandard, global.ErrorLog,
					"panic in controller '%s': %v\n%s", node.Name, fatalError, debug.Stack())
			}
		}()
		err := node.Controller.Run(runCtx)
		if err != nil && !errors.Is(err, controller.ErrNotRunning) {
			logctx.LogEvent(runCtx, global.VerbosityStandard, global.ErrorLog,
				"controller '%s' stopped: %v\n", node.Name, err)
		}
	}()
	return
}

// Closes the instance and hands back the broker ticket
func (daemon *Daemon) releaseNode(node *Node) {
	node.Instance.Shutdown()
	_ = node.Instance.Close()
	if !node.held {
		return
	}
	node.held = false
	err := daemon.Brokers.Release(daemon.ctx, node.ticket)
	if err != nil {
		logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.WarnLog,
			"broker did not stop cleanly: %v\n", err)
	}
	if daemon.Brokers.Holders() == 0 {
		daemon.broker.Store(nil)
	}
}

// Blocking daemon waiter
func (daemon *Daemon) Run() {
	<-daemon.ctx.Done()
}

// Gracefully shutdown every component, newest first. Safe to call more than once.
func (daemon *Daemon) Shutdown() {
	daemon.shutdownOnce.Do(daemon.shutdown)
}

func (daemon *Daemon) shutdown() {
	logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.InfoLog,
		"Daemon shutdown started...\n")

	stopCtx, stopCancel := context.WithTimeout(daemon.ctx, global.BridgeShutdownTimeout)
	defer stopCancel()

	// Stop metric server
	if daemon.MetricServer != nil {
		err := daemon.MetricServer.Shutdown(stopCtx)
		if err != nil && err != http.ErrServerClosed {
			logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.WarnLog,
				"metric HTTP server did not shutdown gracefully: %v\n", err)
		}
	}

	// Stop record traffic generators
	if daemon.scriptCancel != nil {
		daemon.scriptCancel()
	}

	// Stop controllers, the last ticket stops the broker and with it the transport
	for _, node := range daemon.Nodes {
		err := node.Controller.Stop(stopCtx)
		if err != nil {
			logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.WarnLog,
				"controller '%s' did not stop cleanly: %v\n", node.Name, err)
		}
		daemon.releaseNode(node)
	}

	// Stop trace output after the last telegram was traced
	daemon.stopTracer(stopCtx)

	// Stop the run loop after components are drained and stopped
	daemon.cancel()

	// Wait for all workers to finish (with timeout)
	done := make(chan struct{})
	go func() {
		daemon.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.InfoLog,
			"Daemon shutdown completed successfully\n")
	case <-time.After(global.BridgeShutdownTimeout):
		logctx.LogEvent(daemon.ctx, global.VerbosityStandard, global.WarnLog,
			"Timeout: bridge daemon did not shutdown within %v seconds\n",
			global.BridgeShutdownTimeout.Seconds())
	}
}

// Broker currently owned by the shared holder, nil once released
func (daemon *Daemon) Broker() (current *broker.Broker) {
	current = daemon.broker.Load()
	return
}

// Node by instance name
func (daemon *Daemon) Node(name string) (node *Node, found bool) {
	for _, candidate := range daemon.Nodes {
		if candidate.Name == name {
			node, found = candidate, true
			return
		}
	}
	return
}

// Follows the shared broker for metric collection and queue scaling
type currentBroker struct {
	daemon *Daemon
}

func (source currentBroker) CollectMetrics(interval time.Duration) (collection []metricGlb.Metric) {
	current := source.daemon.Broker()
	if current == nil {
		return
	}
	collection = current.CollectMetrics(interval)
	return
}

func (source currentBroker) ScaleQueues(ctx context.Context, writeDepths, readDepths []uint64) {
	current := source.daemon.Broker()
	if current == nil {
		return
	}
	current.ScaleQueues(ctx, writeDepths, readDepths)
}
