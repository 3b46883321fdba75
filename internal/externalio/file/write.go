package file

import (
	"context"
	"simbridge/internal/record"
	"sort"
	"strconv"
	"strings"
	"time"
)

const batchLines int = 20

// Main trace line format
// Fmt: '2020-01-01T10:10:10.123456789Z plc1[1]: RdRec  IGrp 80000002  IOffs 10005'
func FormatAsText(trace record.Trace) (text string) {
	var line strings.Builder
	line.WriteString(trace.Time.UTC().Format(time.RFC3339Nano))
	line.WriteString(" ")
	line.WriteString(trace.Instance)
	line.WriteString("[")
	line.WriteString(strconv.Itoa(trace.Telegram.InstanceID()))
	line.WriteString("]: ")
	line.WriteString(trace.Telegram.Message())
	text = line.String()
	return
}

// Buffers one trace line, writing to the file in batches
func (mod *OutModule) Write(ctx context.Context, trace record.Trace) (linesWritten int, err error) {
	if mod == nil {
		return
	}

	newLine := FormatAsText(trace)
	if !strings.HasSuffix(newLine, "\n") {
		newLine += "\n"
	}
	*mod.batchBuffer = append(*mod.batchBuffer, newLine)

	if len(*mod.batchBuffer) >= batchLines {
		linesWritten, err = mod.FlushBuffer()
	}
	return
}

// Flushes line buffer to the file, oldest first
func (mod *OutModule) FlushBuffer() (flushedCnt int, err error) {
	if mod == nil || mod.batchBuffer == nil {
		return
	}
	if len(*mod.batchBuffer) == 0 {
		return
	}

	sort.SliceStable(*mod.batchBuffer, func(i, j int) bool {
		// Timestamp prefix up to the first space
		getTime := func(s string) time.Time {
			ts := s
			if idx := strings.IndexByte(s, ' '); idx != -1 {
				ts = s[:idx]
			}
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return time.Time{}
			}
			return t
		}
		return getTime((*mod.batchBuffer)[i]).Before(getTime((*mod.batchBuffer)[j]))
	})

	for _, line := range *mod.batchBuffer {
		data := []byte(line)
		for len(data) > 0 {
			var n int
			n, err = mod.sink.Write(data)
			if err != nil {
				*mod.batchBuffer = (*mod.batchBuffer)[flushedCnt:]
				return
			}
			data = data[n:]
		}
		flushedCnt++
	}

	*mod.batchBuffer = (*mod.batchBuffer)[:0]
	return
}

// Flushes pending lines and closes the file
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
