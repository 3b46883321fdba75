package global

import "time"

const (
	// Descriptive Names for available verbosity levels
	VerbosityNone int = iota
	VerbosityStandard
	VerbosityProgress
	VerbosityData
	VerbosityFullData
	VerbosityDebug

	// Descriptive names for available severity levels
	ErrorLog string = "Error"
	WarnLog  string = "Warn"
	InfoLog  string = "Info"
)

const (
	ProgVersion  string = "v0.3.1"
	ProgBaseName string = "simbridge"

	// Context keys
	LoggerKey  CtxKey = "logger"  // Event queue (mostly for variable log verbosity handling)
	LogTagsKey CtxKey = "logtags" // List of tags in order of broad->specific appended/popped at various parts of the program

	DefaultConfigPath string = "/etc/simbridge.json"

	// Cycle and dispatch pacing
	DefaultCycleTime        time.Duration = 10 * time.Millisecond
	DefaultDispatchInterval time.Duration = 10 * time.Millisecond
	DefaultConnectTimeout   time.Duration = 5 * time.Second
	DefaultConnectPoll      time.Duration = 100 * time.Millisecond
	DefaultFaultCooldown    time.Duration = 200 * time.Millisecond
	DefaultStopSettle       time.Duration = 1 * time.Second

	// Queue boundaries (items)
	DefaultMinQueueSize int = 64
	DefaultMaxQueueSize int = 4096

	// Timeout values
	BrokerDrainTimeout     time.Duration = 2 * time.Second
	BridgeShutdownTimeout  time.Duration = 10 * time.Second
	TraceShipTimeout       time.Duration = 3 * time.Second
	DefaultMetricInterval  time.Duration = 15 * time.Second
	DefaultMetricRetention time.Duration = 1 * time.Hour

	// Metric HTTP server
	HTTPListenPort   int           = 18851
	HTTPListenAddr   string        = "localhost" // Metric queries only exposed to local machine
	HTTPReadTimeout  time.Duration = 30 * time.Second
	HTTPWriteTimeout time.Duration = 10 * time.Second
	HTTPIdleTimeout  time.Duration = 180 * time.Second
	DataPath         string        = "/data/"
	DiscoveryPath    string        = "/discover/"
	AggregationPath  string        = "/aggregate/"
	PrometheusPath   string        = "/metrics"

	// Metric aggregation types
	MetricSum  string = "sum"
	MetricAvg  string = "avg"
	MetricMin  string = "min"
	MetricMax  string = "max"
	MetricTAvg string = "tavg" // mean with the top and bottom 10% trimmed

	// Namespacing Name Components
	NSMetric     string = "Metrics"
	NSMetricSrv  string = "Server"
	NSTest       string = "Test"
	NSCLI        string = "CLI"
	NSBridge     string = "Bridge"
	NSBroker     string = "Broker"
	NSDispatch   string = "Dispatch"
	NSProtocol   string = "Protocol"
	NSTransport  string = "Transport"
	NSController string = "Controller"
	NSQueue      string = "Queue"
	NSWriteReq   string = "WriteRequests"
	NSReadReq    string = "ReadRequests"
	NSWriteRes   string = "WriteResponses"
	NSReadRes    string = "ReadResponses"
	NSTrace      string = "Trace"
	NSSim        string = "Simulation"
)
