package loopback

import (
	"context"
	"simbridge/internal/protocol"
	"simbridge/internal/queue/mpmc"
	"sync"
	"sync/atomic"
	"time"
)

type request struct {
	write       bool
	invokeID    uint32
	indexGroup  uint32
	indexOffset uint32
	length      uint32
	data        []byte
}

// Record store keyed by transport address
type address struct {
	indexGroup  uint32
	indexOffset uint32
}

type Transport struct {
	Namespace []string
	options   Options
	inbox     *mpmc.Queue[request]

	storeMu sync.Mutex
	store   map[address][]byte

	stateMu   sync.Mutex                 // guards logCtx and cancel
	handler   protocol.CompletionHandler // only replaced while no worker runs
	logCtx    context.Context
	cancel    context.CancelFunc
	connected atomic.Bool
	wg        sync.WaitGroup

	Metrics MetricStorage
}

type Options struct {
	Latency      time.Duration // reply delay, 0 replies as soon as the worker gets to it
	QueueSize    int           // initial request queue capacity (power of two)
	MaxQueueSize int
}
