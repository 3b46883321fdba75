package logctx

import (
	"sync"
	"time"
)

// Log Event Structure
type Event struct {
	Timestamp time.Time
	Severity  string
	Tags      []string
	Message   string
}

// Logger Struct
type Logger struct {
	ID         string
	CreatedAt  time.Time
	Done       <-chan struct{}
	PrintLevel int // Level at which the message should be recorded

	mutex   sync.Mutex      // protects queue, history and PrintLevel
	cond    *sync.Cond      // signals new events to the watcher
	queue   []Event         // events not yet written by the watcher
	history eventRing       // most recent accepted events, kept after the watcher consumes them
	wg      *sync.WaitGroup // Holds main execution threads until log watchers are done handling events
}

// Fixed size ring of recent events
type eventRing struct {
	events []Event
	head   int
	count  int
}
