// In-process transport that answers record requests from a local record store.
// Replies arrive asynchronously on the transport worker goroutine, the way a remote
// runtime would confirm them. The result code names the instance encoded in the index offset.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/protocol"
	"simbridge/internal/queue/mpmc"
	"simbridge/internal/record"
	"time"
)

var ErrNotConnected = errors.New("transport not connected")

func New(namespace []string, options Options) (new *Transport, err error) {
	if options.QueueSize == 0 {
		options.QueueSize = global.DefaultMinQueueSize
	}
	if options.MaxQueueSize == 0 {
		options.MaxQueueSize = global.DefaultMaxQueueSize
	}

	ns := append(append([]string{}, namespace...), global.NSTransport)

	inbox, err := mpmc.New[request](ns, uint64(options.QueueSize), options.QueueSize, options.MaxQueueSize)
	if err != nil {
		err = fmt.Errorf("failed to create transport request queue: %w", err)
		return
	}

	new = &Transport{
		Namespace: ns,
		options:   options,
		inbox:     inbox,
		store:     make(map[address][]byte),
		logCtx:    context.Background(),
	}
	return
}

// Starts the reply worker. Confirmations go to handler.
func (transport *Transport) Connect(ctx context.Context, handler protocol.CompletionHandler) (err error) {
	transport.stateMu.Lock()
	defer transport.stateMu.Unlock()

	if transport.connected.Load() {
		err = fmt.Errorf("transport already connected")
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	workerCtx = logctx.AppendCtxTag(workerCtx, global.NSTransport)

	transport.handler = handler
	transport.logCtx = workerCtx
	transport.cancel = cancel

	transport.wg.Add(1)
	go func() {
		defer transport.wg.Done()
		transport.Run(workerCtx)
	}()

	transport.connected.Store(true)
	return
}

// Stops the worker. Requests not yet answered are never confirmed.
func (transport *Transport) Disconnect() (err error) {
	transport.stateMu.Lock()
	defer transport.stateMu.Unlock()

	if !transport.connected.Swap(false) {
		return
	}
	transport.cancel()
	transport.wg.Wait()

	// Discard what the worker never reached
	for {
		if _, ok := transport.inbox.TryPop(); !ok {
			break
		}
		transport.Metrics.Abandoned.Add(1)
	}
	return
}

func (transport *Transport) WriteRequest(invokeID, indexGroup, indexOffset uint32, data []byte) (err error) {
	err = transport.submit(request{
		write:       true,
		invokeID:    invokeID,
		indexGroup:  indexGroup,
		indexOffset: indexOffset,
		length:      uint32(len(data)),
		data:        append([]byte(nil), data...),
	})
	return
}

func (transport *Transport) ReadRequest(invokeID, indexGroup, indexOffset, length uint32) (err error) {
	err = transport.submit(request{
		invokeID:    invokeID,
		indexGroup:  indexGroup,
		indexOffset: indexOffset,
		length:      length,
	})
	return
}

func (transport *Transport) submit(req request) (err error) {
	if !transport.connected.Load() {
		err = ErrNotConnected
		return
	}

	transport.stateMu.Lock()
	ctx := transport.logCtx
	transport.stateMu.Unlock()

	transport.inbox.Enqueue(ctx, req, len(req.data))
	transport.Metrics.Requests.Add(1)
	return
}

// Reply worker, answers queued requests in arrival order
func (transport *Transport) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			// Record panics and continue working
			defer func() {
				if fatalError := recover(); fatalError != nil {
					stack := debug.Stack()
					logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
						"panic in transport worker: %v\n%s", fatalError, stack)
				}
			}()

			req, ok := transport.inbox.Pop(ctx)
			if !ok {
				return
			}

			if transport.options.Latency > 0 {
				select {
				case <-ctx.Done():
					transport.Metrics.Abandoned.Add(1)
					return
				case <-time.After(transport.options.Latency):
				}
			}

			transport.answer(ctx, req)
		}()
	}
}

func (transport *Transport) answer(ctx context.Context, req request) {
	result := record.ExpectedResult(record.InstanceFromOffset(req.indexOffset))
	key := address{indexGroup: req.indexGroup, indexOffset: req.indexOffset}

	handler := transport.handler

	if req.write {
		transport.Seed(req.indexGroup, req.indexOffset, req.data)
		transport.Metrics.Writes.Add(1)

		logctx.LogEvent(ctx, global.VerbosityDebug, global.InfoLog,
			"Stored %d bytes at %X:%X\n", len(req.data), key.indexGroup, key.indexOffset)
		handler.OnWriteConfirmation(req.invokeID, result)
		return
	}

	data := make([]byte, req.length)
	stored, _ := transport.Record(req.indexGroup, req.indexOffset)
	copy(data, stored)
	transport.Metrics.Reads.Add(1)

	logctx.LogEvent(ctx, global.VerbosityDebug, global.InfoLog,
		"Read %d bytes from %X:%X\n", len(data), key.indexGroup, key.indexOffset)
	handler.OnReadConfirmation(req.invokeID, result, data)
}

// Sets the stored content of one record
func (transport *Transport) Seed(indexGroup, indexOffset uint32, data []byte) {
	transport.storeMu.Lock()
	defer transport.storeMu.Unlock()
	transport.store[address{indexGroup, indexOffset}] = append([]byte(nil), data...)
}

// Copy of one stored record
func (transport *Transport) Record(indexGroup, indexOffset uint32) (data []byte, found bool) {
	transport.storeMu.Lock()
	defer transport.storeMu.Unlock()

	stored, found := transport.store[address{indexGroup, indexOffset}]
	if found {
		data = append([]byte(nil), stored...)
	}
	return
}

func (transport *Transport) Connected() (connected bool) {
	connected = transport.connected.Load()
	return
}
