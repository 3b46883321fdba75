// Central logging system. Buffers messages per context-carried logger and writes them to configured outputs
package logctx

import (
	"context"
	"fmt"
	"simbridge/internal/global"
	"strings"
	"sync"
	"time"
)

const defaultHistorySize int = 256

// Logger Constructor
func NewLogger(id string, logLevel int, done <-chan struct{}) (logger *Logger) {
	logger = &Logger{
		ID:         id,
		CreatedAt:  time.Now(),
		Done:       done,
		PrintLevel: logLevel,
		queue:      make([]Event, 0),
		history:    eventRing{events: make([]Event, defaultHistorySize)},
		wg:         &sync.WaitGroup{},
	}
	logger.cond = sync.NewCond(&logger.mutex)
	return
}

// Creates a logger and embeds it in a context derived from baseCtx
func New(baseCtx context.Context, id string, logLevel int, done <-chan struct{}) (ctxLogger context.Context) {
	ctxLogger = WithLogger(baseCtx, NewLogger(id, logLevel, done))
	return
}

// Attach the logger to context
func WithLogger(ctx context.Context, logger *Logger) (ctxLogger context.Context) {
	ctxLogger = context.WithValue(ctx, global.LoggerKey, logger)
	return
}

// Change the loggers level
func SetLogLevel(ctx context.Context, newLevel int) {
	logger := GetLogger(ctx)
	if logger == nil {
		return
	}
	logger.mutex.Lock()
	logger.PrintLevel = newLevel
	logger.mutex.Unlock()
}

// Extracts Logger from context or returns nil
func GetLogger(ctx context.Context) (logger *Logger) {
	logger, _ = ctx.Value(global.LoggerKey).(*Logger)
	return
}

// Entry for logging events
func LogEvent(ctx context.Context, eventLevel int, severity string, message string, vars ...any) {
	logger := GetLogger(ctx)
	if logger == nil {
		return
	}

	text := message
	if len(vars) > 0 && strings.Contains(message, "%") {
		text = fmt.Sprintf(message, vars...)
	}
	logger.log(eventLevel, severity, GetTagList(ctx), text)
}

// Records event if it passes the level filter (errors always pass)
func (logger *Logger) log(eventLevel int, severity string, tags []string, text string) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()

	if eventLevel > logger.PrintLevel && severity != global.ErrorLog {
		return
	}

	event := Event{
		Timestamp: time.Now(),
		Tags:      tags,
		Severity:  severity,
		Message:   text,
	}
	logger.queue = append(logger.queue, event)
	logger.history.put(event)
	logger.cond.Signal()
}

// Hold main thread exit until logger is finished its work
func (logger *Logger) Wait() {
	logger.wg.Wait()
}

// Wake signals/broadcasts to any goroutines waiting on the condition variable
func (logger *Logger) Wake() {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.cond.Broadcast()
}

// Copy of the most recent events, oldest first
func (logger *Logger) Recent() (events []Event) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	events = logger.history.snapshot()
	return
}

func (ring *eventRing) put(event Event) {
	if len(ring.events) == 0 {
		return
	}
	ring.events[ring.head] = event
	ring.head = (ring.head + 1) % len(ring.events)
	if ring.count < len(ring.events) {
		ring.count++
	}
}

func (ring *eventRing) snapshot() (events []Event) {
	events = make([]Event, 0, ring.count)
	start := 0
	if ring.count == len(ring.events) {
		start = ring.head
	}
	for i := 0; i < ring.count; i++ {
		events = append(events, ring.events[(start+i)%len(ring.events)])
	}
	return
}
