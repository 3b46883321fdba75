package broker

import (
	"context"
	"simbridge/internal/fanout"
	"simbridge/internal/queue/mpmc"
	"simbridge/internal/record"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jeffail/shutdown"
)

// Protocol client as the broker uses it
type Client interface {
	Connect(ctx context.Context) (err error)
	Disconnect(ctx context.Context) (err error)
	SubmitWrite(ctx context.Context, invokeID, indexGroup, indexOffset, length uint32, payload []byte) (err error)
	SubmitRead(ctx context.Context, invokeID, indexGroup, indexOffset, length uint32) (err error)
	Subscribe(handler fanout.Handler[record.Completion]) (id fanout.ID)
	Unsubscribe(id fanout.ID)
}

type Config struct {
	DispatchInterval time.Duration // one write and one read per interval at most
	QueueSize        int           // initial inbound queue capacity (power of two)
	MinQueueSize     int
	MaxQueueSize     int           // soft limit, queues grow past it with a warning
	DrainTimeout     time.Duration // how long Stop lets queued requests dispatch
}

// Serializes record requests onto one protocol client and relays its completions
type Broker struct {
	Namespace   []string
	cfg         Config
	client      Client
	writes      *mpmc.Queue[record.Telegram] // write-requests-in
	reads       *mpmc.Queue[record.Telegram] // read-requests-in
	subscribers *fanout.Registry[record.Completion]
	clientSub   fanout.ID
	shutSig     *shutdown.Signaller
	started     atomic.Bool
	stopOnce    sync.Once
	logCtx      atomic.Pointer[context.Context]
	Metrics     *MetricStorage
}

// Process wide broker holder. Built on first Acquire, stopped when the last ticket is released.
type Shared struct {
	mu         sync.Mutex
	tickets    map[Ticket]struct{}
	nextTicket Ticket
	build      func(ctx context.Context) (*Broker, error)
	broker     *Broker
	stopping   chan struct{} // closed once the released broker has stopped
}

// Proof of one Acquire, must be handed back to Release
type Ticket int
