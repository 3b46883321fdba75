// Record protocol client: submits correlated read/write requests over a Transport
// and republishes every confirmation as a tagged record.Completion.
package protocol

import (
	"context"
	"fmt"
	"simbridge/internal/atomics"
	"simbridge/internal/fanout"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"simbridge/internal/record"
)

// Creates a disconnected client. Only offsets in records are ever submitted.
func New(namespace []string, transport Transport, records *RecordRange) (new *Client) {
	new = &Client{
		Namespace:   append(append([]string{}, namespace...), global.NSProtocol),
		transport:   transport,
		records:     records,
		completions: fanout.New[record.Completion](),
		Metrics:     &MetricStorage{},
	}
	background := context.Background()
	new.logCtx.Store(&background)
	return
}

// Opens the transport. Submissions are accepted once this returns nil.
func (client *Client) Connect(ctx context.Context) (err error) {
	client.lifecycleMu.Lock()
	defer client.lifecycleMu.Unlock()

	if clientState(client.state.Load()) == stateConnected {
		return
	}

	client.logCtx.Store(&ctx)
	err = client.transport.Connect(ctx, client)
	if err != nil {
		err = fmt.Errorf("failed to connect transport: %w", err)
		return
	}
	client.state.Store(int32(stateConnected))

	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
		"Transport connected (%d known record offsets)\n", client.records.Len())
	return
}

// Stops accepting submissions, closes the transport, then drops every subscriber
func (client *Client) Disconnect(ctx context.Context) (err error) {
	client.lifecycleMu.Lock()
	defer client.lifecycleMu.Unlock()

	if !client.state.CompareAndSwap(int32(stateConnected), int32(stateStopping)) {
		return
	}

	err = client.transport.Disconnect()
	if err != nil {
		err = fmt.Errorf("failed to disconnect transport: %w", err)
	}

	client.completions.Clear()
	client.state.Store(int32(stateDisconnected))

	logctx.LogEvent(ctx, global.VerbosityProgress, global.InfoLog,
		"Transport disconnected (%d requests never confirmed)\n", client.Metrics.InFlight.Load())
	return
}

func (client *Client) Connected() (connected bool) {
	connected = clientState(client.state.Load()) == stateConnected
	return
}

// Sends a write request without waiting for its confirmation.
// Not connected or unknown offset: nothing is sent and nil is returned.
func (client *Client) SubmitWrite(ctx context.Context, invokeID, indexGroup, indexOffset, length uint32, payload []byte) (err error) {
	if !client.admit(ctx, "write", invokeID, indexOffset) {
		return
	}

	data := payload
	if uint32(len(data)) > length {
		data = data[:length]
	}

	atomics.StoreMax(&client.Metrics.PeakInFlight, client.Metrics.InFlight.Add(1))
	err = client.transport.WriteRequest(invokeID, indexGroup, indexOffset, data)
	if err != nil {
		atomics.Subtract(&client.Metrics.InFlight, 1, 8)
		client.Metrics.SubmitErrors.Add(1)
		err = fmt.Errorf("write request %08X: %w", invokeID, err)
		return
	}
	client.Metrics.WritesSubmitted.Add(1)
	return
}

// Sends a read request without waiting for its confirmation. Same guards as SubmitWrite.
func (client *Client) SubmitRead(ctx context.Context, invokeID, indexGroup, indexOffset, length uint32) (err error) {
	if !client.admit(ctx, "read", invokeID, indexOffset) {
		return
	}

	atomics.StoreMax(&client.Metrics.PeakInFlight, client.Metrics.InFlight.Add(1))
	err = client.transport.ReadRequest(invokeID, indexGroup, indexOffset, length)
	if err != nil {
		atomics.Subtract(&client.Metrics.InFlight, 1, 8)
		client.Metrics.SubmitErrors.Add(1)
		err = fmt.Errorf("read request %08X: %w", invokeID, err)
		return
	}
	client.Metrics.ReadsSubmitted.Add(1)
	return
}

func (client *Client) admit(ctx context.Context, operation string, invokeID, indexOffset uint32) (allowed bool) {
	if !client.Connected() {
		client.Metrics.NotConnected.Add(1)
		logctx.LogEvent(ctx, global.VerbosityDebug, global.InfoLog,
			"Dropped %s request %08X, transport not connected\n", operation, invokeID)
		return
	}
	if !client.records.Contains(indexOffset) {
		client.Metrics.Skipped.Add(1)
		logctx.LogEvent(ctx, global.VerbosityDebug, global.InfoLog,
			"Skipped %s request %08X, offset %X is not a known record\n", operation, invokeID, indexOffset)
		return
	}
	allowed = true
	return
}

// Subscribes handler to every completion
func (client *Client) Subscribe(handler fanout.Handler[record.Completion]) (id fanout.ID) {
	id = client.completions.Subscribe(handler)
	return
}

func (client *Client) Unsubscribe(id fanout.ID) {
	client.completions.Unsubscribe(id)
}

// Transport callback for write requests
func (client *Client) OnWriteConfirmation(invokeID, result uint32) {
	client.publish(record.NewWriteCompletion(invokeID, result))
}

// Transport callback for read requests
func (client *Client) OnReadConfirmation(invokeID, result uint32, data []byte) {
	client.publish(record.NewReadCompletion(invokeID, result, data))
}

func (client *Client) publish(completion record.Completion) {
	atomics.Subtract(&client.Metrics.InFlight, 1, 8)
	client.Metrics.Completions.Add(1)

	if clientState(client.state.Load()) == stateDisconnected {
		// Arrived after teardown, nobody is listening anymore
		return
	}

	ctx := *client.logCtx.Load()
	logctx.LogEvent(ctx, global.VerbosityDebug, global.InfoLog,
		"%s confirmation %08X result %08X length %d\n",
		completion.Kind, completion.InvokeID, completion.Result, completion.Length)
	client.completions.Publish(ctx, completion)
}
