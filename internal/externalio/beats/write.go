package beats

import (
	"context"
	"fmt"
	"os"
	"simbridge/internal/global"
	"simbridge/internal/record"
	"strings"
)

const batchEvents int = 32

// Buffers one trace event and ships the batch once full
func (mod *OutModule) Write(ctx context.Context, trace record.Trace) (eventsSent int, err error) {
	if mod == nil {
		return
	}

	mod.batch = append(mod.batch, fields(trace))
	if len(mod.batch) >= batchEvents {
		eventsSent, err = mod.FlushBuffer()
	}
	return
}

// Sends buffered events. Failed batches are dropped.
func (mod *OutModule) FlushBuffer() (eventsSent int, err error) {
	if mod == nil || len(mod.batch) == 0 {
		return
	}

	events := mod.batch
	mod.batch = nil

	eventsSent, err = mod.sink.Send(events)
	if err != nil {
		err = fmt.Errorf("failed to send %d trace events: %w", len(events), err)
	}
	return
}

func fields(trace record.Trace) (event map[string]interface{}) {
	telegram := trace.Telegram
	info := telegram.Info()

	recordFields := map[string]interface{}{
		"kind":         telegram.Kind().String(),
		"invoke_id":    telegram.InvokeID(),
		"index_group":  telegram.IndexGroup(),
		"index_offset": telegram.IndexOffset(),
		"record_index": info.RecordIndex,
		"hardware_id":  info.HardwareID,
		"data_size":    info.DataSize,
	}
	if telegram.Kind().HasPayload() {
		recordFields["data"] = strings.ToUpper(fmt.Sprintf("%x", telegram.Payload()))
	}

	event = map[string]interface{}{
		// Minimum required fields
		"@timestamp": trace.Time,
		"message":    telegram.Message(),

		"host": map[string]interface{}{
			"name":     global.Hostname,
			"hostname": global.Hostname,
		},
		"agent": map[string]interface{}{
			"program": global.ProgBaseName,
			"version": global.ProgVersion,
			"type":    "simbridge",
			"pid":     os.Getpid(),
		},
		"instance": map[string]interface{}{
			"name": trace.Instance,
			"id":   telegram.InstanceID(),
		},
		"record": recordFields,
	}
	return
}

// Sends what is buffered and closes the connection
func (mod *OutModule) Shutdown() (err error) {
	if mod == nil {
		return
	}
	_, err = mod.FlushBuffer()
	if mod.sink != nil {
		closeErr := mod.sink.Close()
		if err == nil {
			err = closeErr
		}
	}
	return
}
