package broker

import (
	"context"
	"fmt"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
)

// Creates an empty holder. build runs on the first Acquire and must return a started broker.
func NewShared(build func(ctx context.Context) (*Broker, error)) (new *Shared) {
	new = &Shared{
		tickets:    make(map[Ticket]struct{}),
		nextTicket: 1,
		build:      build,
	}
	return
}

// Returns the shared broker, building it if no one holds it.
// A broker still stopping from the last Release is waited out first.
func (shared *Shared) Acquire(ctx context.Context) (broker *Broker, ticket Ticket, err error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	for shared.broker == nil && shared.stopping != nil {
		stopping := shared.stopping
		shared.mu.Unlock()
		select {
		case <-stopping:
		case <-ctx.Done():
			shared.mu.Lock()
			err = fmt.Errorf("waiting for previous broker to stop: %w", ctx.Err())
			return
		}
		shared.mu.Lock()
	}

	if shared.broker == nil {
		shared.broker, err = shared.build(ctx)
		if err != nil {
			shared.broker = nil
			err = fmt.Errorf("failed to build shared broker: %w", err)
			return
		}
		logctx.LogEvent(ctx, global.VerbosityDebug, global.InfoLog, "Shared broker created\n")
	}

	ticket = shared.nextTicket
	shared.nextTicket++
	shared.tickets[ticket] = struct{}{}

	broker = shared.broker
	return
}

// Hands back a ticket. Releasing the last one stops the broker outside the lock.
// Unknown or repeated tickets are ignored.
func (shared *Shared) Release(ctx context.Context, ticket Ticket) (err error) {
	shared.mu.Lock()
	if _, held := shared.tickets[ticket]; !held {
		shared.mu.Unlock()
		return
	}
	delete(shared.tickets, ticket)

	if len(shared.tickets) > 0 || shared.broker == nil {
		shared.mu.Unlock()
		return
	}

	last := shared.broker
	shared.broker = nil
	stopped := make(chan struct{})
	shared.stopping = stopped
	shared.mu.Unlock()

	err = last.Stop(ctx)

	shared.mu.Lock()
	shared.stopping = nil
	shared.mu.Unlock()
	close(stopped)

	logctx.LogEvent(ctx, global.VerbosityDebug, global.InfoLog, "Shared broker released\n")
	return
}

// Number of outstanding tickets
func (shared *Shared) Holders() (count int) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	count = len(shared.tickets)
	return
}
