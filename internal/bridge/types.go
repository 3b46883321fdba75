package bridge

import (
	"context"
	"net/http"
	"simbridge/internal/bridge/metrics"
	"simbridge/internal/broker"
	"simbridge/internal/controller"
	"simbridge/internal/output"
	"simbridge/internal/protocol"
	"simbridge/internal/simulation"
	"simbridge/internal/transport/loopback"
	"sync"
	"sync/atomic"
	"time"
)

type JSONConfig struct {
	Transport struct {
		Latency      string `json:"latency,omitempty" yaml:"latency,omitempty"`
		QueueSize    int    `json:"queueSize,omitempty" yaml:"queueSize,omitempty"`
		MaxQueueSize int    `json:"maxQueueSize,omitempty" yaml:"maxQueueSize,omitempty"`
	} `json:"transport" yaml:"transport"`
	Broker struct {
		DispatchInterval string `json:"dispatchInterval,omitempty" yaml:"dispatchInterval,omitempty"`
		DrainTimeout     string `json:"drainTimeout,omitempty" yaml:"drainTimeout,omitempty"`
		QueueSize        int    `json:"queueSize,omitempty" yaml:"queueSize,omitempty"`
	} `json:"broker" yaml:"broker"`
	Instances []JSONInstance `json:"instances" yaml:"instances"`
	Trace     struct {
		FilePath     string `json:"filePath,omitempty" yaml:"filePath,omitempty"`
		BeatsAddress string `json:"beatsAddress,omitempty" yaml:"beatsAddress,omitempty"`
		QueueSize    int    `json:"queueSize,omitempty" yaml:"queueSize,omitempty"`
	} `json:"trace" yaml:"trace"`
	Metrics struct {
		Interval          string `json:"collectionInterval" yaml:"collectionInterval"`
		MaxAge            string `json:"maximumRetention,omitempty" yaml:"maximumRetention,omitempty"`
		EnableQueryServer bool   `json:"enableHTTPQueryServer" yaml:"enableHTTPQueryServer"`
		QueryServerPort   int    `json:"HTTPQueryServerPort" yaml:"HTTPQueryServerPort"`
	} `json:"metrics" yaml:"metrics"`
	AutoScaling struct {
		Enabled      bool   `json:"enabled" yaml:"enabled"`
		PollInterval string `json:"pollInterval" yaml:"pollInterval"`
		MinQueueSize int    `json:"minQueueSize,omitempty" yaml:"minQueueSize,omitempty"`
		MaxQueueSize int    `json:"maxQueueSize,omitempty" yaml:"maxQueueSize,omitempty"`
	} `json:"autoscaling" yaml:"autoscaling"`
}

type JSONInstance struct {
	Name           string       `json:"name" yaml:"name"`
	ID             int          `json:"id" yaml:"id"`
	CycleTime      string       `json:"cycleTime,omitempty" yaml:"cycleTime,omitempty"`
	ConnectTimeout string       `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	BootDelay      string       `json:"bootDelay,omitempty" yaml:"bootDelay,omitempty"`
	InputSize      int          `json:"inputSize" yaml:"inputSize"`
	OutputSize     int          `json:"outputSize" yaml:"outputSize"`
	InputAddress   []int        `json:"inputAddress,omitempty" yaml:"inputAddress,omitempty"`
	OutputAddress  []int        `json:"outputAddress,omitempty" yaml:"outputAddress,omitempty"`
	TimeScaling    float64      `json:"timeScaling,omitempty" yaml:"timeScaling,omitempty"`
	Records        []JSONSpan   `json:"records,omitempty" yaml:"records,omitempty"`
	Seed           []JSONRecord `json:"seed,omitempty" yaml:"seed,omitempty"`
	Script         []JSONStep   `json:"script,omitempty" yaml:"script,omitempty"`
	LoopScript     bool         `json:"loopScript,omitempty" yaml:"loopScript,omitempty"`
}

// Hardware ids the protocol client may address for one instance
type JSONSpan struct {
	FirstHardwareID uint16 `json:"firstHardwareId" yaml:"firstHardwareId"`
	Count           int    `json:"count" yaml:"count"`
}

// Initial content of the loopback record store
type JSONRecord struct {
	RecordIndex uint32 `json:"recordIndex" yaml:"recordIndex"`
	HardwareID  uint16 `json:"hardwareId" yaml:"hardwareId"`
	Data        string `json:"data" yaml:"data"` // hex
}

type JSONStep struct {
	Delay       string `json:"delay,omitempty" yaml:"delay,omitempty"`
	Write       bool   `json:"write,omitempty" yaml:"write,omitempty"`
	RecordIndex uint32 `json:"recordIndex" yaml:"recordIndex"`
	HardwareID  uint16 `json:"hardwareId" yaml:"hardwareId"`
	Length      uint32 `json:"length,omitempty" yaml:"length,omitempty"`
	Data        string `json:"data,omitempty" yaml:"data,omitempty"` // hex, writes only
}

type Config struct {
	// Transport
	TransportLatency      time.Duration
	TransportQueueSize    int
	TransportMaxQueueSize int

	// Broker
	Broker broker.Config

	// Simulated instances
	Instances []InstanceConfig

	// Trace outputs
	TraceFilePath     string
	TraceBeatsAddress string
	TraceQueueSize    int

	// Scaling settings
	AutoscaleEnabled       bool
	AutoscaleCheckInterval time.Duration
	MinQueueSize           int
	MaxQueueSize           int

	// Metrics
	MetricQueryServerEnabled bool
	MetricQueryServerPort    int
	MetricCollectionInterval time.Duration
	MetricMaxAge             time.Duration
}

type InstanceConfig struct {
	Name       string
	Simulation simulation.Options
	Controller controller.Config
	Scaling    float64 // 0 keeps the instance's own factor
	Spans      []JSONSpan
	Seed       map[SeedKey][]byte
	Script     []simulation.Step
	LoopScript bool
}

type SeedKey struct {
	RecordIndex uint32
	HardwareID  uint16
}

// One simulated instance with its cycle controller
type Node struct {
	Name       string
	Instance   *simulation.Instance
	Controller *controller.Controller
	ticket     broker.Ticket
	held       bool
}

type Daemon struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	scriptCancel context.CancelFunc
	traceCancel  context.CancelFunc
	traceDone    chan struct{}
	shutdownOnce sync.Once

	wg sync.WaitGroup

	// Pipeline components (reverse order of shutdown)
	Transport        *loopback.Transport
	Client           *protocol.Client
	Brokers          *broker.Shared
	broker           atomic.Pointer[broker.Broker]
	Nodes            []*Node
	Tracer           *output.Instance
	metricsCollector *metrics.Gatherer
	MetricServer     *http.Server
}
