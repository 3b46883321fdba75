package output

import (
	"simbridge/internal/externalio/beats"
	"simbridge/internal/externalio/file"
	"simbridge/internal/queue/mpmc"
	"simbridge/internal/record"
)

// Writes telegram traces to the configured outputs
type Instance struct {
	Namespace []string
	FileMod   *file.OutModule
	BeatsMod  *beats.OutModule
	Inbox     *mpmc.Queue[record.Trace]
	Metrics   MetricStorage
}
