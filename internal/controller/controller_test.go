package controller

import (
	"context"
	"errors"
	"simbridge/internal/broker"
	"simbridge/internal/fanout"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/record"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completedOp struct {
	write   bool
	info    record.Info
	payload []byte
}

type fakeInstance struct {
	mu            sync.Mutex
	name          string
	state         OperatingState
	poweredState  OperatingState
	powerOnErr    error
	inputs        []byte
	outputs       []byte
	scale         float64
	scaleSets     int
	handlers      Handlers
	completed     []completedOp
	inputDelay    time.Duration
	panicOnOutput bool
}

func newFakeInstance(name string, areaSize int) *fakeInstance {
	return &fakeInstance{
		name:         name,
		state:        Off,
		poweredState: Run,
		inputs:       make([]byte, areaSize),
		outputs:      make([]byte, areaSize),
		scale:        1.0,
	}
}

func (fake *fakeInstance) Name() string { return fake.name }

func (fake *fakeInstance) PowerOn() error {
	if fake.powerOnErr != nil {
		return fake.powerOnErr
	}
	fake.setState(fake.poweredState)
	return nil
}

func (fake *fakeInstance) setState(next OperatingState) {
	fake.mu.Lock()
	previous := fake.state
	fake.state = next
	handler := fake.handlers.OnOperatingStateChanged
	fake.mu.Unlock()
	if handler != nil {
		handler(previous, next)
	}
}

func (fake *fakeInstance) OperatingState() OperatingState {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.state
}

func (fake *fakeInstance) InputAreaSize() int  { return len(fake.inputs) }
func (fake *fakeInstance) OutputAreaSize() int { return len(fake.outputs) }

func (fake *fakeInstance) WriteInputs(area []byte) error {
	if fake.inputDelay > 0 {
		time.Sleep(fake.inputDelay)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	copy(fake.inputs, area)
	return nil
}

func (fake *fakeInstance) ReadOutputs() ([]byte, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.panicOnOutput {
		fake.panicOnOutput = false
		panic("output area gone")
	}
	return append([]byte(nil), fake.outputs...), nil
}

func (fake *fakeInstance) CompleteWrite(info record.Info, status uint32) error {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.completed = append(fake.completed, completedOp{write: true, info: info})
	return nil
}

func (fake *fakeInstance) CompleteRead(info record.Info, payload []byte, status uint32) error {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.completed = append(fake.completed, completedOp{info: info, payload: payload})
	return nil
}

func (fake *fakeInstance) ScaleFactor() float64 {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.scale
}

func (fake *fakeInstance) SetScaleFactor(factor float64) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.scale = factor
	fake.scaleSets++
}

func (fake *fakeInstance) SetHandlers(handlers Handlers) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.handlers = handlers
}

func (fake *fakeInstance) Close() error { return nil }

func (fake *fakeInstance) emitRead(info record.Info) {
	fake.mu.Lock()
	handler := fake.handlers.OnRecordRead
	fake.mu.Unlock()
	if handler != nil {
		handler(info)
	}
}

func (fake *fakeInstance) emitWrite(info record.Info, payload []byte) {
	fake.mu.Lock()
	handler := fake.handlers.OnRecordWrite
	fake.mu.Unlock()
	if handler != nil {
		handler(info, payload)
	}
}

func (fake *fakeInstance) completions() []completedOp {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return append([]completedOp(nil), fake.completed...)
}

func (fake *fakeInstance) hasHandlers() bool {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.handlers.OnRecordRead != nil
}

type fakeBroker struct {
	mu     sync.Mutex
	writes []record.Telegram
	reads  []record.Telegram
	subs   *fanout.Registry[record.Completion]
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: fanout.New[record.Completion]()}
}

func (fake *fakeBroker) EnqueueWrite(telegram record.Telegram) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.writes = append(fake.writes, telegram)
}

func (fake *fakeBroker) EnqueueRead(telegram record.Telegram) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.reads = append(fake.reads, telegram)
}

func (fake *fakeBroker) Subscribe(handler fanout.Handler[record.Completion]) fanout.ID {
	return fake.subs.Subscribe(handler)
}

func (fake *fakeBroker) Unsubscribe(id fanout.ID) {
	fake.subs.Unsubscribe(id)
}

func testCtx() context.Context {
	return logctx.New(context.Background(), global.NSTest, global.VerbosityNone, nil)
}

func testConfig(instanceID int) Config {
	return Config{
		InstanceID:     instanceID,
		CycleTime:      2 * time.Millisecond,
		ConnectTimeout: time.Second,
		ConnectPoll:    5 * time.Millisecond,
		FaultCooldown:  time.Millisecond,
		StopSettle:     time.Millisecond,
		InputAddress:   []int{2, 0},
		OutputAddress:  []int{1},
	}
}

func connected(t *testing.T, instance *fakeInstance, b Broker, cfg Config) *Controller {
	t.Helper()
	controller, err := New([]string{global.NSTest}, instance, b, cfg)
	require.NoError(t, err)
	require.NoError(t, controller.Connect(testCtx()))
	require.Equal(t, Running, controller.State())
	return controller
}

func TestConnect_ReachesRun(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	b := newFakeBroker()
	controller := connected(t, instance, b, testConfig(1))

	assert.Equal(t, 1, b.subs.Len())
	assert.True(t, instance.hasHandlers())
	assert.ErrorIs(t, controller.Connect(testCtx()), ErrNotIdle)
}

func TestConnect_Failures(t *testing.T) {
	tests := []struct {
		name      string
		prepare   func(instance *fakeInstance, cfg *Config)
		expectErr error
	}{
		{
			name: "timeout",
			prepare: func(instance *fakeInstance, cfg *Config) {
				instance.poweredState = Booting
				cfg.ConnectTimeout = 30 * time.Millisecond
			},
			expectErr: ErrConnectTimeout,
		},
		{
			name: "shutting down",
			prepare: func(instance *fakeInstance, cfg *Config) {
				instance.poweredState = ShuttingDown
			},
			expectErr: ErrShuttingDown,
		},
		{
			name: "power on refused",
			prepare: func(instance *fakeInstance, cfg *Config) {
				instance.powerOnErr = errors.New("license missing")
			},
			expectErr: nil,
		},
		{
			name: "mapping outside area",
			prepare: func(instance *fakeInstance, cfg *Config) {
				cfg.OutputAddress = []int{4}
			},
			expectErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance := newFakeInstance("plc1", 4)
			b := newFakeBroker()
			cfg := testConfig(1)
			tt.prepare(instance, &cfg)

			controller, err := New([]string{global.NSTest}, instance, b, cfg)
			require.NoError(t, err)

			err = controller.Connect(testCtx())
			require.Error(t, err)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			}
			assert.Equal(t, Idle, controller.State())
			assert.Zero(t, b.subs.Len())
			assert.False(t, instance.hasHandlers())
		})
	}
}

func TestConnect_Cancelled(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	instance.poweredState = Booting
	cfg := testConfig(1)
	cfg.ConnectTimeout = 10 * time.Second

	controller, err := New([]string{global.NSTest}, instance, newFakeBroker(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(testCtx())
	time.AfterFunc(10*time.Millisecond, cancel)

	started := time.Now()
	err = controller.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(started), time.Second)
}

func TestStop_AbortsPendingConnect(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	instance.poweredState = Booting
	b := newFakeBroker()
	cfg := testConfig(1)
	cfg.ConnectTimeout = 3 * time.Second

	controller, err := New([]string{global.NSTest}, instance, b, cfg)
	require.NoError(t, err)

	connectErr := make(chan error, 1)
	go func() { connectErr <- controller.Connect(testCtx()) }()
	require.Eventually(t, func() bool { return controller.State() == Connecting }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	started := time.Now()
	require.NoError(t, controller.Stop(testCtx()))
	assert.Less(t, time.Since(started), time.Second)

	select {
	case err = <-connectErr:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatalf("connect still pending after stop")
	}
	assert.Equal(t, Stopped, controller.State())
	assert.Zero(t, b.subs.Len())
	assert.False(t, instance.hasHandlers())
	assert.ErrorIs(t, controller.Connect(testCtx()), ErrNotIdle)
}

func TestConnect_WokenByStateChange(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	instance.poweredState = Startup
	cfg := testConfig(1)
	cfg.ConnectPoll = time.Hour

	controller, err := New([]string{global.NSTest}, instance, newFakeBroker(), cfg)
	require.NoError(t, err)

	time.AfterFunc(10*time.Millisecond, func() { instance.setState(Run) })

	started := time.Now()
	require.NoError(t, controller.Connect(testCtx()))
	assert.Less(t, time.Since(started), 500*time.Millisecond)
}

func TestIterateOnce_CyclicCopy(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	instance.outputs = []byte{7, 8, 9, 10}
	controller := connected(t, instance, newFakeBroker(), testConfig(1))

	controller.Image.SetInputs(0, []byte{0x0A, 0x0B})
	require.NoError(t, controller.IterateOnce(testCtx()))

	assert.Equal(t, []byte{0x0B, 0, 0x0A, 0}, instance.inputs)
	assert.Equal(t, []byte{8}, controller.Image.Outputs())
	assert.Equal(t, uint64(1), controller.Metrics.Cycles.Load())
}

func TestRecordEvents_Forwarded(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	b := newFakeBroker()
	connected(t, instance, b, testConfig(3))

	instance.emitRead(record.Info{RecordIndex: 2, HardwareID: 5, DataSize: 4})
	instance.emitWrite(record.Info{RecordIndex: 4, HardwareID: 5, DataSize: 2}, []byte{1, 2})

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.reads, 1)
	require.Len(t, b.writes, 1)
	assert.Equal(t, uint32(0x30005), b.reads[0].IndexOffset())
	assert.Equal(t, record.ReadRequest, b.reads[0].Kind())
	assert.Equal(t, []byte{1, 2}, b.writes[0].Payload())
	assert.Equal(t, 3, b.writes[0].InstanceID())
}

func TestCompletionFilter(t *testing.T) {
	tests := []struct {
		name         string
		completion   record.Completion
		wantAccepted bool
	}{
		{"own read", record.NewReadCompletion(0x20005, 0x80000001, []byte{1}), true},
		{"own write", record.NewWriteCompletion(0x20005, 0x80000001), true},
		{"other instance", record.NewReadCompletion(0x20005, 0x80000002, []byte{1}), false},
		{"error code", record.NewWriteCompletion(0x20005, 0x00000705), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBroker()
			controller := connected(t, newFakeInstance("plc1", 4), b, testConfig(1))

			b.subs.Publish(testCtx(), tt.completion)

			writes, reads := controller.PendingCompletions()
			if tt.wantAccepted {
				assert.Equal(t, uint64(1), writes+reads)
				assert.Equal(t, uint64(1), controller.Metrics.Accepted.Load())
			} else {
				assert.Zero(t, writes+reads)
				assert.Equal(t, uint64(1), controller.Metrics.Foreign.Load())
			}
		})
	}
}

func TestIterateOnce_OneCompletionPerDirection(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	b := newFakeBroker()
	controller := connected(t, instance, b, testConfig(1))
	ctx := testCtx()

	for i := uint32(0); i < 3; i++ {
		b.subs.Publish(ctx, record.NewReadCompletion(record.InvokeID(i, 1), record.ExpectedResult(1), []byte{byte(i)}))
	}
	for i := uint32(0); i < 2; i++ {
		b.subs.Publish(ctx, record.NewWriteCompletion(record.InvokeID(i, 1), record.ExpectedResult(1)))
	}

	require.NoError(t, controller.IterateOnce(ctx))
	done := instance.completions()
	require.Len(t, done, 2)
	assert.True(t, done[0].write)
	assert.False(t, done[1].write)
	assert.Equal(t, []byte{0}, done[1].payload)

	writes, reads := controller.PendingCompletions()
	assert.Equal(t, uint64(1), writes)
	assert.Equal(t, uint64(2), reads)

	require.NoError(t, controller.IterateOnce(ctx))
	require.NoError(t, controller.IterateOnce(ctx))
	done = instance.completions()
	require.Len(t, done, 5)
	// Reads delivered in arrival order
	assert.Equal(t, []byte{1}, done[3].payload)
	assert.Equal(t, []byte{2}, done[4].payload)
}

func TestIterateOnce_Overrun(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	instance.inputDelay = 20 * time.Millisecond
	controller := connected(t, instance, newFakeBroker(), testConfig(1))

	require.NoError(t, controller.IterateOnce(testCtx()))
	assert.Equal(t, uint64(1), controller.Metrics.Overruns.Load())
}

func TestIterateOnce_ScaleRelay(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	controller := connected(t, instance, newFakeBroker(), testConfig(1))
	ctx := testCtx()

	require.NoError(t, controller.IterateOnce(ctx))
	assert.Zero(t, instance.scaleSets)

	controller.SetTimeScaling(2.5)
	require.NoError(t, controller.IterateOnce(ctx))
	require.NoError(t, controller.IterateOnce(ctx))
	assert.Equal(t, 2.5, instance.ScaleFactor())
	assert.Equal(t, 1, instance.scaleSets)
}

func TestIterateOnce_DrainsOnInvalid(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	instance.outputs = []byte{0, 0xFF, 0, 0}
	b := newFakeBroker()
	controller := connected(t, instance, b, testConfig(1))
	ctx := testCtx()

	require.NoError(t, controller.IterateOnce(ctx))
	require.Equal(t, []byte{0xFF}, controller.Image.Outputs())

	instance.setState(Invalid)
	require.NoError(t, controller.IterateOnce(ctx))

	assert.Equal(t, Stopped, controller.State())
	assert.Equal(t, []byte{0}, controller.Image.Outputs())
	assert.Zero(t, b.subs.Len())
	assert.False(t, instance.hasHandlers())

	// Late completion is dropped
	b.subs.Publish(ctx, record.NewWriteCompletion(1, record.ExpectedResult(1)))
	writes, _ := controller.PendingCompletions()
	assert.Zero(t, writes)
}

func TestIterateOnce_NotRunningStillExchanges(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	controller := connected(t, instance, newFakeBroker(), testConfig(1))

	instance.setState(Stop)
	controller.Image.SetInputs(1, []byte{0x42})
	require.NoError(t, controller.IterateOnce(testCtx()))

	assert.Equal(t, Running, controller.State())
	assert.Equal(t, byte(0x42), instance.inputs[0])
	assert.Equal(t, uint64(1), controller.Metrics.SettleWaits.Load())
}

func TestRun_StopsOnInvalid(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	b := newFakeBroker()
	controller := connected(t, instance, b, testConfig(1))

	finished := make(chan error, 1)
	go func() { finished <- controller.Run(testCtx()) }()

	time.Sleep(10 * time.Millisecond)
	instance.setState(Invalid)

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after instance went Invalid")
	}
	assert.Equal(t, Stopped, controller.State())
	assert.Zero(t, b.subs.Len())
}

func TestRun_RecoversFromPanic(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	instance.panicOnOutput = true
	controller := connected(t, instance, newFakeBroker(), testConfig(1))

	ctx, cancel := context.WithCancel(testCtx())
	finished := make(chan error, 1)
	go func() { finished <- controller.Run(ctx) }()

	require.Eventually(t, func() bool {
		return controller.Metrics.Faults.Load() == 1 && controller.Metrics.Cycles.Load() > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-finished
	assert.Equal(t, Stopped, controller.State())
}

func TestStop(t *testing.T) {
	instance := newFakeInstance("plc1", 4)
	b := newFakeBroker()
	controller := connected(t, instance, b, testConfig(1))

	go controller.Run(testCtx())
	require.Eventually(t, func() bool { return controller.Metrics.Cycles.Load() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, controller.Stop(testCtx()))
	assert.Equal(t, Stopped, controller.State())
	assert.Zero(t, b.subs.Len())
	require.NoError(t, controller.Stop(testCtx()))
}

func TestRun_RequiresConnect(t *testing.T) {
	controller, err := New([]string{global.NSTest}, newFakeInstance("plc1", 4), newFakeBroker(), testConfig(1))
	require.NoError(t, err)
	assert.ErrorIs(t, controller.Run(testCtx()), ErrNotRunning)
}

// Stub protocol client in submission order
type recordingClient struct {
	mu        sync.Mutex
	submitted []record.Telegram
	relay     *fanout.Registry[record.Completion]
}

func (client *recordingClient) Connect(ctx context.Context) error    { return nil }
func (client *recordingClient) Disconnect(ctx context.Context) error { return nil }
func (client *recordingClient) SubmitWrite(ctx context.Context, invokeID, indexGroup, indexOffset, length uint32, payload []byte) error {
	return nil
}
func (client *recordingClient) SubmitRead(ctx context.Context, invokeID, indexGroup, indexOffset, length uint32) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	recordIndex, hardwareID := record.DecodeInvokeID(invokeID)
	info := record.Info{RecordIndex: recordIndex, HardwareID: hardwareID, DataSize: length}
	telegram := record.FromReadRequest(info, record.InstanceFromOffset(indexOffset))
	if telegram.IndexGroup() != indexGroup || telegram.IndexOffset() != indexOffset {
		panic("address mismatch")
	}
	client.submitted = append(client.submitted, telegram)
	return nil
}
func (client *recordingClient) Subscribe(handler fanout.Handler[record.Completion]) fanout.ID {
	return client.relay.Subscribe(handler)
}
func (client *recordingClient) Unsubscribe(id fanout.ID) { client.relay.Unsubscribe(id) }

func TestScenario_SharedBrokerReadRoundTrip(t *testing.T) {
	ctx := testCtx()
	client := &recordingClient{relay: fanout.New[record.Completion]()}
	shared, err := broker.New([]string{global.NSTest}, client, broker.Config{DispatchInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, shared.Start(ctx))
	defer shared.Stop(ctx)

	plc1 := newFakeInstance("plc1", 4)
	plc2 := newFakeInstance("plc2", 4)
	first := connected(t, plc1, shared, testConfig(1))
	second := connected(t, plc2, shared, testConfig(2))

	info := record.Info{RecordIndex: 2, HardwareID: 5, DataSize: 4}
	plc1.emitRead(info)
	shared.DispatchOnce(ctx)

	client.mu.Lock()
	require.Len(t, client.submitted, 1)
	submitted := client.submitted[0]
	client.mu.Unlock()
	assert.Equal(t, uint32(0x80000002), submitted.IndexGroup())
	assert.Equal(t, uint32(0x10005), submitted.IndexOffset())
	assert.Equal(t, uint32(0x20005), submitted.InvokeID())

	client.relay.Publish(ctx, record.NewReadCompletion(0x20005, 0x80000001, []byte{0xAA, 0xBB, 0xCC, 0xDD}))

	require.NoError(t, first.IterateOnce(ctx))
	require.NoError(t, second.IterateOnce(ctx))

	done := plc1.completions()
	require.Len(t, done, 1)
	assert.False(t, done[0].write)
	assert.Equal(t, info, done[0].info)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, done[0].payload)

	assert.Empty(t, plc2.completions())
	assert.Equal(t, uint64(1), second.Metrics.Foreign.Load())
}

func TestScenario_DisconnectedWriteDoesNotBlock(t *testing.T) {
	ctx := testCtx()
	b := newFakeBroker()
	instance := newFakeInstance("plc1", 4)
	controller := connected(t, instance, b, testConfig(1))

	// Request goes out, no completion ever comes back
	instance.emitWrite(record.Info{RecordIndex: 1, HardwareID: 1, DataSize: 1}, []byte{1})

	started := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, controller.IterateOnce(ctx))
	}
	assert.Less(t, time.Since(started), time.Second)
	assert.Empty(t, instance.completions())
}
