package simulation

import (
	"simbridge/internal/controller"
	"simbridge/internal/record"
	"sync"
	"time"
)

type Options struct {
	InputSize  int
	OutputSize int
	BootDelay  time.Duration        // time spent in Booting and Startup each
	Logic      func(in, out []byte) // program run on every input write, mirrors inputs when nil
}

// In-memory simulated controller instance
type Instance struct {
	name    string
	options Options

	mu       sync.Mutex
	state    controller.OperatingState
	inputs   []byte
	outputs  []byte
	scale    float64
	handlers controller.Handlers
	pending  map[pendingKey]struct{}
	done     []Completed
	closed   bool
	bootStop chan struct{}
}

type pendingKey struct {
	write       bool
	recordIndex uint32
	hardwareID  uint16
}

// Record operation the instance saw resolved
type Completed struct {
	Write   bool
	Info    record.Info
	Payload []byte
	Status  uint32
}

// One scripted record request
type Step struct {
	Delay   time.Duration
	Write   bool
	Info    record.Info
	Payload []byte
}
