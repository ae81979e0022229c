// Package queue implements the per-request Execution Event Queue: a FIFO
// buffer bound to a single event-bus context that terminates once a Message
// or a final StatusUpdate has been yielded.
package queue

import (
	"sync"

	"github.com/allenheltondev/momento-a2a-agent/internal/eventbus"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// Filter decides whether an event belongs to this queue's request (used by
// resubscribe to narrow a context's events down to a single taskId).
type Filter func(a2a.Event) bool

// Queue is bound to a single (bus, contextId) pair for the lifetime of one
// request. Safe for one producer (the bus poller, via its listener callback)
// and one consumer (the goroutine draining Next).
type Queue struct {
	bus         *eventbus.Bus
	contextID   string
	filter      Filter
	unsubscribe func()

	mu      sync.Mutex
	buffer  []a2a.Event
	notify  chan struct{}
	stopped bool
}

// New registers a context listener on bus that appends matching events
// (subject to filter, which may be nil to accept everything) to an internal
// buffer and wakes any pending consumer.
func New(bus *eventbus.Bus, contextID string, filter Filter) *Queue {
	q := &Queue{
		bus:       bus,
		contextID: contextID,
		filter:    filter,
		notify:    make(chan struct{}, 1),
	}
	q.unsubscribe = bus.OnContext(contextID, q.onEvent)
	return q
}

func (q *Queue) onEvent(event a2a.Event) {
	if q.filter != nil && !q.filter(event) {
		return
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.buffer = append(q.buffer, event)
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the queue is stopped, or done is
// closed. The second return is false once the queue has terminated (after a
// Message, a final StatusUpdate, or an explicit Stop) and no more events are
// buffered, or when done is closed while nothing is buffered.
func (q *Queue) Next(done <-chan struct{}) (a2a.Event, bool) {
	for {
		q.mu.Lock()
		if len(q.buffer) > 0 {
			event := q.buffer[0]
			q.buffer = q.buffer[1:]
			terminal := event.IsFinal()
			q.mu.Unlock()
			if terminal {
				q.Stop()
			}
			return event, true
		}
		if q.stopped {
			q.mu.Unlock()
			return a2a.Event{}, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-done:
			return a2a.Event{}, false
		}
	}
}

// Stop forces termination: it is idempotent and safe to call from another
// goroutine (a timeout, an upstream error, caller disconnect).
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.unsubscribe()
	q.wake()
}
