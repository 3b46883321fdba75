package record

import "time"

// One telegram seen by a controller, as shipped to trace outputs
type Trace struct {
	Time     time.Time
	Instance string // name of the simulated instance
	Telegram Telegram
}

// Payload bytes carried plus fixed overhead, used for queue accounting
func (trace Trace) Size() (size int) {
	size = len(trace.Instance) + trace.Telegram.PayloadSize() + 24
	return
}
