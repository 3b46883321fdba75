package controller

import (
	"context"
	"simbridge/internal/fanout"
	"simbridge/internal/queue/mpmc"
	"simbridge/internal/record"
	"sync"
	"sync/atomic"
	"time"
)

// Operating state reported by a simulated instance
type OperatingState int

const (
	Invalid OperatingState = iota
	Off
	Booting
	Stop
	Startup
	Run
	Freeze
	ShuttingDown
	Hold
)

func (state OperatingState) String() (label string) {
	switch state {
	case Off:
		label = "Off"
	case Booting:
		label = "Booting"
	case Stop:
		label = "Stop"
	case Startup:
		label = "Startup"
	case Run:
		label = "Run"
	case Freeze:
		label = "Freeze"
	case ShuttingDown:
		label = "ShuttingDown"
	case Hold:
		label = "Hold"
	default:
		label = "Invalid"
	}
	return
}

// Callbacks an instance raises. Any field may be nil.
type Handlers struct {
	OnRecordWrite           func(info record.Info, payload []byte)
	OnRecordRead            func(info record.Info)
	OnOperatingStateChanged func(previous, next OperatingState)
}

// Simulated controller instance driven by one Controller
type Instance interface {
	Name() string
	PowerOn() error
	OperatingState() OperatingState
	InputAreaSize() int
	OutputAreaSize() int
	WriteInputs(area []byte) error
	ReadOutputs() ([]byte, error)
	CompleteWrite(info record.Info, status uint32) error
	CompleteRead(info record.Info, payload []byte, status uint32) error
	ScaleFactor() float64
	SetScaleFactor(factor float64)
	SetHandlers(handlers Handlers)
	Close() error
}

// Record broker as a controller uses it
type Broker interface {
	EnqueueWrite(telegram record.Telegram)
	EnqueueRead(telegram record.Telegram)
	Subscribe(handler fanout.Handler[record.Completion]) fanout.ID
	Unsubscribe(id fanout.ID)
}

// Receives every record telegram a controller forwards or completes
type Tracer interface {
	Trace(instance string, telegram record.Telegram)
}

// Controller lifecycle
type State int32

const (
	Idle State = iota
	Connecting
	Running
	Draining
	Stopped
)

func (state State) String() (label string) {
	switch state {
	case Idle:
		label = "Idle"
	case Connecting:
		label = "Connecting"
	case Running:
		label = "Running"
	case Draining:
		label = "Draining"
	default:
		label = "Stopped"
	}
	return
}

type Config struct {
	InstanceID     int
	CycleTime      time.Duration
	ConnectTimeout time.Duration
	ConnectPoll    time.Duration // fallback poll while waiting for Run
	FaultCooldown  time.Duration // pause after a failed tick
	StopSettle     time.Duration // pause when the instance is not running
	InputAddress   []int         // InputAddress[i] is the instance input byte fed from host input i
	OutputAddress  []int         // OutputAddress[i] is the instance output byte copied to host output i
	QueueSize      int
	MaxQueueSize   int
}

// Host side of the cyclic image
type ProcessImage struct {
	mu            sync.Mutex
	input         []byte
	output        []byte
	inputAddress  []int
	outputAddress []int
}

// Binds one instance to the shared broker on a fixed cycle
type Controller struct {
	Namespace []string
	cfg       Config
	instance  Instance
	broker    Broker
	tracer    Tracer
	Image     *ProcessImage

	writeRes *mpmc.Queue[record.Telegram] // write-responses-out
	readRes  *mpmc.Queue[record.Telegram] // read-responses-out

	state     atomic.Int32
	stateWake chan struct{}
	logCtx    atomic.Pointer[context.Context]

	lifeCtx    context.Context // ends with Stop, observed by Connect and Run
	lifeCancel context.CancelFunc

	lifecycleMu sync.Mutex
	brokerSub   fanout.ID
	subscribed  bool
	cancel      context.CancelFunc
	loopDone    chan struct{}

	// Only touched by the cycle goroutine
	inputArea  []byte
	outputArea []byte
	scale      float64

	requestedScale atomic.Uint64 // float64 bits
	scaleRequested atomic.Bool

	tickMu    sync.Mutex
	tickTimes []time.Duration

	Metrics *MetricStorage
}
