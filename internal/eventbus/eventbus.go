// Package eventbus implements the in-process publish/subscribe bus used by
// the Approval Gate, the Lifecycle Manager, and the Streaming Chat Gateway.
//
// It generalizes the engine's single-consumer graph/emit.Emitter into true
// multi-subscriber fan-out: every subscriber for a kind receives every
// event published under that kind, each subscriber is served by its own
// worker goroutine so its handler always sees events for a kind in
// emission order, and one handler's panic or error never affects another's,
// or the publisher. Subscriber lists are copy-on-write so Emit never blocks
// on a lock held by Subscribe.
package eventbus

import (
	"sync"
	"time"

	"github.com/orchestrator/taskorch/graph/emit"
	"github.com/orchestrator/taskorch/internal/domain"
)

// Handler processes one published event. A non-nil returned error is logged
// by the bus but does not propagate to the publisher or other handlers.
type Handler func(domain.Event) error

// subscriptionQueueSize bounds how many events a single handler can lag
// behind the publisher before Emit blocks waiting for it to drain.
const subscriptionQueueSize = 256

// subscription pairs a handler with its own ordered delivery queue: a
// dedicated worker goroutine drains it one event at a time, so a handler
// never processes two events for its kind out of emission order and never
// races itself across back-to-back Emit calls.
type subscription struct {
	handler Handler
	queue   chan domain.Event
}

// Bus is a concurrent-safe, in-process event bus. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription

	emitter emit.Emitter
}

// New creates a Bus that logs handler failures through emitter (may be nil
// to discard them).
func New(emitter emit.Emitter) *Bus {
	return &Bus{
		subs:    make(map[string][]*subscription),
		emitter: emitter,
	}
}

// Subscribe registers handler to run for every event published under kind.
// Multiple handlers per kind are allowed and run independently, each on its
// own worker goroutine.
func (b *Bus) Subscribe(kind string, h Handler) {
	sub := &subscription{handler: h, queue: make(chan domain.Event, subscriptionQueueSize)}
	go b.serve(sub)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Copy-on-write: never mutate the slice a concurrent Emit snapshotted.
	existing := b.subs[kind]
	next := make([]*subscription, len(existing)+1)
	copy(next, existing)
	next[len(existing)] = sub
	b.subs[kind] = next
}

// Emit fans an event out to every subscriber of kind. Handlers for a single
// kind observe events in emission order relative to each other: Emit
// enqueues the event on each subscriber's queue in the order Emit is
// called, and each subscriber's worker drains its queue strictly in FIFO
// order. Across kinds, or across different subscribers of the same kind, no
// ordering relative to one another is guaranteed.
func (b *Bus) Emit(kind string, payload map[string]any, source, correlationID string) {
	evt := domain.Event{
		Kind:          kind,
		Payload:       payload,
		Source:        source,
		CorrelationID: correlationID,
		EmittedAt:     time.Now(),
	}

	b.mu.Lock()
	snapshot := b.subs[kind]
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.queue <- evt
	}
}

// serve drains sub's queue for the lifetime of the process, running its
// handler once per event with panic recovery.
func (b *Bus) serve(sub *subscription) {
	for evt := range sub.queue {
		b.runHandler(sub.handler, evt)
	}
}

func (b *Bus) runHandler(h Handler, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logFailure(evt, "handler panic")
		}
	}()
	if err := h(evt); err != nil {
		b.logFailure(evt, err.Error())
	}
}

func (b *Bus) logFailure(evt domain.Event, reason string) {
	if b.emitter == nil {
		return
	}
	b.emitter.Emit(emit.Event{
		RunID:  evt.CorrelationID,
		NodeID: evt.Source,
		Kind:   "eventbus_handler_failed",
		Meta: map[string]interface{}{
			"kind":   evt.Kind,
			"reason": reason,
		},
	})
}
