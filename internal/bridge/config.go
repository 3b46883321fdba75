package bridge

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"simbridge/internal/global"
	"simbridge/internal/record"
	"simbridge/internal/simulation"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loads config from file. Files ending in .yaml or .yml are read as YAML, everything else as JSON.
func LoadConfig(path string) (cfg JSONConfig, err error) {
	configFile, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read config file: %w", err)
		return
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(configFile, &cfg)
	default:
		err = json.Unmarshal(configFile, &cfg)
	}
	if err != nil {
		err = fmt.Errorf("invalid config syntax in '%s': %w", path, err)
		return
	}
	return
}

// Parses empty strings as zero
func parseDuration(value, field string) (duration time.Duration, err error) {
	if value == "" {
		return
	}
	duration, err = time.ParseDuration(value)
	if err != nil {
		err = fmt.Errorf("failed to parse %s: %w", field, err)
		return
	}
	if duration < 0 {
		err = fmt.Errorf("%s cannot be negative", field)
	}
	return
}

// Parses JSON config into daemon config
func (cfg JSONConfig) NewDaemonConf() (config Config, err error) {
	// Transport settings
	config.TransportLatency, err = parseDuration(cfg.Transport.Latency, "transport latency")
	if err != nil {
		return
	}
	config.TransportQueueSize = cfg.Transport.QueueSize
	config.TransportMaxQueueSize = cfg.Transport.MaxQueueSize

	// Broker settings
	config.Broker.DispatchInterval, err = parseDuration(cfg.Broker.DispatchInterval, "broker dispatch interval")
	if err != nil {
		return
	}
	config.Broker.DrainTimeout, err = parseDuration(cfg.Broker.DrainTimeout, "broker drain timeout")
	if err != nil {
		return
	}
	config.Broker.QueueSize = cfg.Broker.QueueSize

	// Instances
	if len(cfg.Instances) == 0 {
		err = fmt.Errorf("at least one instance must be configured")
		return
	}
	names := make(map[string]struct{})
	ids := make(map[int]struct{})
	for _, jsonInst := range cfg.Instances {
		var inst InstanceConfig
		inst, err = jsonInst.parse()
		if err != nil {
			err = fmt.Errorf("instance '%s': %w", jsonInst.Name, err)
			return
		}
		if _, dup := names[inst.Name]; dup {
			err = fmt.Errorf("instance name '%s' configured twice", inst.Name)
			return
		}
		if _, dup := ids[inst.Controller.InstanceID]; dup {
			err = fmt.Errorf("instance id %d configured twice", inst.Controller.InstanceID)
			return
		}
		names[inst.Name] = struct{}{}
		ids[inst.Controller.InstanceID] = struct{}{}
		config.Instances = append(config.Instances, inst)
	}

	// Trace settings
	config.TraceFilePath = cfg.Trace.FilePath
	config.TraceBeatsAddress = cfg.Trace.BeatsAddress
	config.TraceQueueSize = cfg.Trace.QueueSize

	// Scaling settings
	config.AutoscaleEnabled = cfg.AutoScaling.Enabled
	config.AutoscaleCheckInterval, err = parseDuration(cfg.AutoScaling.PollInterval, "autoscale check interval")
	if err != nil {
		return
	}
	config.MinQueueSize = cfg.AutoScaling.MinQueueSize
	config.MaxQueueSize = cfg.AutoScaling.MaxQueueSize

	// Metric settings
	config.MetricQueryServerEnabled = cfg.Metrics.EnableQueryServer
	config.MetricQueryServerPort = cfg.Metrics.QueryServerPort
	config.MetricMaxAge, err = parseDuration(cfg.Metrics.MaxAge, "metric max age")
	if err != nil {
		return
	}
	config.MetricCollectionInterval, err = parseDuration(cfg.Metrics.Interval, "collection interval")
	if err != nil {
		return
	}
	return
}

func (jsonInst JSONInstance) parse() (inst InstanceConfig, err error) {
	if jsonInst.Name == "" {
		err = fmt.Errorf("missing name")
		return
	}
	if jsonInst.ID < 0 || jsonInst.ID > 0xFFFF {
		err = fmt.Errorf("id %d outside 0-65535", jsonInst.ID)
		return
	}
	if jsonInst.InputSize < 0 || jsonInst.OutputSize < 0 {
		err = fmt.Errorf("area sizes cannot be negative")
		return
	}
	if jsonInst.TimeScaling < 0 {
		err = fmt.Errorf("time scaling cannot be negative")
		return
	}

	inst.Name = jsonInst.Name
	inst.Scaling = jsonInst.TimeScaling
	inst.Spans = jsonInst.Records
	inst.LoopScript = jsonInst.LoopScript

	inst.Simulation.InputSize = jsonInst.InputSize
	inst.Simulation.OutputSize = jsonInst.OutputSize
	inst.Simulation.BootDelay, err = parseDuration(jsonInst.BootDelay, "boot delay")
	if err != nil {
		return
	}

	inst.Controller.InstanceID = jsonInst.ID
	inst.Controller.CycleTime, err = parseDuration(jsonInst.CycleTime, "cycle time")
	if err != nil {
		return
	}
	inst.Controller.ConnectTimeout, err = parseDuration(jsonInst.ConnectTimeout, "connect timeout")
	if err != nil {
		return
	}

	// Identity mapping over the whole area when no map is given
	inst.Controller.InputAddress = jsonInst.InputAddress
	if len(inst.Controller.InputAddress) == 0 {
		inst.Controller.InputAddress = identity(jsonInst.InputSize)
	}
	inst.Controller.OutputAddress = jsonInst.OutputAddress
	if len(inst.Controller.OutputAddress) == 0 {
		inst.Controller.OutputAddress = identity(jsonInst.OutputSize)
	}

	inst.Seed = make(map[SeedKey][]byte)
	for _, seed := range jsonInst.Seed {
		var data []byte
		data, err = hex.DecodeString(seed.Data)
		if err != nil {
			err = fmt.Errorf("seed record %d/%X: invalid hex data: %w", seed.RecordIndex, seed.HardwareID, err)
			return
		}
		inst.Seed[SeedKey{RecordIndex: seed.RecordIndex, HardwareID: seed.HardwareID}] = data
	}

	for i, jsonStep := range jsonInst.Script {
		var step simulation.Step
		step.Delay, err = parseDuration(jsonStep.Delay, fmt.Sprintf("script step %d delay", i))
		if err != nil {
			return
		}
		step.Write = jsonStep.Write
		if jsonStep.Write {
			step.Payload, err = hex.DecodeString(jsonStep.Data)
			if err != nil {
				err = fmt.Errorf("script step %d: invalid hex data: %w", i, err)
				return
			}
		}
		step.Info = record.Info{
			RecordIndex: jsonStep.RecordIndex,
			HardwareID:  jsonStep.HardwareID,
			DataSize:    jsonStep.Length,
		}
		if step.Info.DataSize == 0 {
			step.Info.DataSize = uint32(len(step.Payload))
		}
		inst.Script = append(inst.Script, step)
	}
	return
}

func identity(size int) (addresses []int) {
	addresses = make([]int, size)
	for i := range addresses {
		addresses[i] = i
	}
	return
}

// Sets defaults for any missing/invalid values
func (cfg *Config) setDefaults() {
	// Queue boundaries
	if cfg.MinQueueSize == 0 {
		cfg.MinQueueSize = global.DefaultMinQueueSize
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = global.DefaultMaxQueueSize
	}
	if cfg.MinQueueSize > cfg.MaxQueueSize {
		cfg.MinQueueSize = cfg.MaxQueueSize
	}

	// Broker
	if cfg.Broker.MinQueueSize == 0 {
		cfg.Broker.MinQueueSize = cfg.MinQueueSize
	}
	if cfg.Broker.MaxQueueSize == 0 {
		cfg.Broker.MaxQueueSize = cfg.MaxQueueSize
	}
	if cfg.Broker.QueueSize == 0 {
		cfg.Broker.QueueSize = cfg.Broker.MinQueueSize
	}

	// Transport
	if cfg.TransportQueueSize == 0 {
		cfg.TransportQueueSize = cfg.MinQueueSize
	}
	if cfg.TransportMaxQueueSize == 0 {
		cfg.TransportMaxQueueSize = cfg.MaxQueueSize
	}

	// Trace
	if cfg.TraceQueueSize == 0 {
		cfg.TraceQueueSize = cfg.MaxQueueSize
	}

	// Scaling
	if cfg.AutoscaleCheckInterval == 0 {
		cfg.AutoscaleCheckInterval = 5 * time.Second
	}

	// Metrics
	if cfg.MetricMaxAge == 0 {
		cfg.MetricMaxAge = global.DefaultMetricRetention
	}
	if cfg.MetricQueryServerPort == 0 {
		cfg.MetricQueryServerPort = global.HTTPListenPort
	}
	if cfg.MetricCollectionInterval == 0 {
		cfg.MetricCollectionInterval = global.DefaultMetricInterval
	}
}
