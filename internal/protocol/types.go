package protocol

import (
	"context"
	"simbridge/internal/fanout"
	"simbridge/internal/record"
	"sync"
	"sync/atomic"
)

// Receives transport confirmations. Called from transport goroutines, once per request.
type CompletionHandler interface {
	OnWriteConfirmation(invokeID, result uint32)
	OnReadConfirmation(invokeID, result uint32, data []byte)
}

// Asynchronous request/response transport. Requests return once queued, never wait for the reply.
type Transport interface {
	Connect(ctx context.Context, handler CompletionHandler) (err error)
	Disconnect() (err error)
	WriteRequest(invokeID, indexGroup, indexOffset uint32, data []byte) (err error)
	ReadRequest(invokeID, indexGroup, indexOffset, length uint32) (err error)
}

type clientState int32

const (
	stateDisconnected clientState = iota
	stateConnected
	stateStopping
)

// Turns record reads/writes into transport requests and publishes their completions
type Client struct {
	Namespace   []string
	transport   Transport
	records     *RecordRange
	completions *fanout.Registry[record.Completion]
	state       atomic.Int32
	lifecycleMu sync.Mutex                      // serializes Connect/Disconnect
	logCtx      atomic.Pointer[context.Context] // logger used by transport callbacks
	Metrics     *MetricStorage
}

// Index offsets the client is allowed to address
type RecordRange struct {
	mu        sync.RWMutex
	offsets   map[uint32]struct{}
	instances map[uint16]struct{} // every offset of these instances
}
