// Package router implements the router/orchestrator: the central decision
// function that persists every inbound customer message, resolves its
// addressee, evaluates handover triggers, invokes agents, drives the
// scheduling sub-protocol on tool calls, and dispatches channel sends.
//
// Each inbound message is handled under its own 30-second context built
// from context.Background, detached from the request's context and
// deadline, so a client that disconnects mid-request doesn't abort a
// write already underway.
package router

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher gives every conversation its own single-worker queue, so
// handling within a conversation is strictly ordered while different
// conversations run in parallel.
// No example in the retrieved pack implements a keyed serialization queue
// in an importable shape, so this is built directly on goroutines and
// channels (stdlib only) rather than adapted from a third-party queue.
type Dispatcher struct {
	mu sync.Mutex
	queues map[string]chan func()
	logger *slog.Logger
}

const queueDepth = 64

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queues: make(map[string]chan func()),
		logger: logger.With("component", "router.dispatcher"),
	}
}

// Enqueue schedules fn to run on conversationID's worker, starting the
// worker on first use. fn runs after every previously enqueued fn for the
// same conversation and concurrently with every other conversation's work.
func (d *Dispatcher) Enqueue(conversationID string, fn func()) {
	d.mu.Lock()
	q, ok := d.queues[conversationID]
	if !ok {
		q = make(chan func(), queueDepth)
		d.queues[conversationID] = q
		go d.run(conversationID, q)
	}
	d.mu.Unlock()

	select {
	case q <- fn:
	default:
		// Queue saturated: run synchronously rather than drop inbound work.
		// A conversation this far behind is already a backpressure signal
		// worth seeing in logs, not a reason to lose a customer message.
		d.logger.Warn("dispatcher queue full, running inline", "conversation_id", conversationID)
		fn()
	}
}

func (d *Dispatcher) run(conversationID string, q chan func()) {
	for fn := range q {
		fn()
	}
}

// Run invokes fn with ctx on a new goroutine and returns when fn completes
// or ctx is done, whichever comes first; after an early return fn keeps
// running. The Router does not call it.
func Run(ctx context.Context, fn func(ctx context.Context)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
