// Package eventbus fans events out per context: publish writes to the
// context's topic, and one poller goroutine per registered context long-polls
// that topic and dispatches to local listeners.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/cache"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// idlePollDelay is the pause between subscribe calls that returned nothing.
const idlePollDelay = 100 * time.Millisecond

// errorPollDelay is the pause after a subscribe call failed outright.
const errorPollDelay = 500 * time.Millisecond

// Listener receives events dispatched for a registered context.
type Listener func(event a2a.Event)

// pollerState tracks one context's poll position and listeners.
type pollerState struct {
	seqNum    int64
	seqPage   int64
	cancel    context.CancelFunc
	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// Bus is the per-context publish/subscribe fan-out over a cache/topic
// Adapter, keyed the same way the teacher's transport.Manager keys live
// sessions: a mutex-guarded map, one background goroutine per live resource.
type Bus struct {
	adapter *cache.Adapter
	logger  *zap.Logger

	mu      sync.RWMutex
	pollers map[string]*pollerState
}

// New builds a Bus over adapter.
func New(adapter *cache.Adapter, logger *zap.Logger) *Bus {
	return &Bus{
		adapter: adapter,
		logger:  logger.Named("eventbus"),
		pollers: make(map[string]*pollerState),
	}
}

// Publish writes event to the topic named by its contextId. Returns an error
// if the event carries no contextId.
func (b *Bus) Publish(ctx context.Context, event a2a.Event) error {
	contextID := event.GetContextID()
	if contextID == "" {
		return fmt.Errorf("eventbus: event of kind %q carries no contextId", event.Kind)
	}
	payload, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	return b.adapter.TopicPublish(ctx, contextID, payload)
}

// RegisterContext starts a poller for contextId if one is not already
// running. Idempotent, and safe to call concurrently from multiple
// consumers.
func (b *Bus) RegisterContext(contextID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.pollers[contextID]; exists {
		return
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	st := &pollerState{cancel: cancel, listeners: make(map[int]Listener)}
	b.pollers[contextID] = st
	go b.pollLoop(pollCtx, contextID, st)
}

// OnContext registers contextId (if needed) and adds listener, returning an
// unsubscribe function that removes only this listener.
func (b *Bus) OnContext(contextID string, listener Listener) func() {
	b.RegisterContext(contextID)

	b.mu.RLock()
	st := b.pollers[contextID]
	b.mu.RUnlock()

	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.listeners[id] = listener
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		delete(st.listeners, id)
		st.mu.Unlock()
	}
}

// UnregisterContext cancels the poller for contextId and drops all of its
// listeners.
func (b *Bus) UnregisterContext(contextID string) {
	b.mu.Lock()
	st, exists := b.pollers[contextID]
	if exists {
		delete(b.pollers, contextID)
	}
	b.mu.Unlock()
	if exists {
		st.cancel()
	}
}

// Close cancels every poller and removes every listener.
func (b *Bus) Close() {
	b.mu.Lock()
	pollers := b.pollers
	b.pollers = make(map[string]*pollerState)
	b.mu.Unlock()

	for _, st := range pollers {
		st.cancel()
	}
}

func (b *Bus) pollLoop(ctx context.Context, contextID string, st *pollerState) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		st.mu.RLock()
		seqNum, seqPage := st.seqNum, st.seqPage
		st.mu.RUnlock()

		items, err := b.adapter.TopicSubscribe(ctx, contextID, seqNum, seqPage)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("topic subscribe failed, will retry",
				zap.String("contextId", contextID), zap.Error(err))
			sleepOrDone(ctx, errorPollDelay)
			continue
		}

		if len(items) == 0 {
			sleepOrDone(ctx, idlePollDelay)
			continue
		}

		for _, item := range items {
			if item.Discontinuity != nil {
				st.mu.Lock()
				fromSeq := st.seqNum
				st.seqNum = item.Discontinuity.NewTopicSequenceNumber + 1
				st.seqPage = item.Discontinuity.NewSequencePage
				st.mu.Unlock()

				b.dispatch(st, a2a.NewDiscontinuityEvent(a2a.Discontinuity{
					ContextID:    contextID,
					FromSequence: fromSeq,
					ToSequence:   item.Discontinuity.NewTopicSequenceNumber,
				}))
				continue
			}

			event, err := unmarshalEvent(item.Payload)
			if err != nil {
				b.logger.Warn("failed to decode event, skipping",
					zap.String("contextId", contextID), zap.Error(err))
			} else {
				b.dispatch(st, event)
			}

			st.mu.Lock()
			st.seqNum = item.TopicSequenceNumber + 1
			st.mu.Unlock()
		}
	}
}

func (b *Bus) dispatch(st *pollerState, event a2a.Event) {
	st.mu.RLock()
	listeners := make([]Listener, 0, len(st.listeners))
	for _, l := range st.listeners {
		listeners = append(listeners, l)
	}
	st.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// wireEvent is the JSON shape an Event marshals to/from on the topic wire.
type wireEvent struct {
	Kind           a2a.EventKind       `json:"kind"`
	Message        *a2a.Message        `json:"message,omitempty"`
	Task           *a2a.Task           `json:"task,omitempty"`
	StatusUpdate   *a2a.StatusUpdate   `json:"statusUpdate,omitempty"`
	ArtifactUpdate *a2a.ArtifactUpdate `json:"artifactUpdate,omitempty"`
}

func marshalEvent(event a2a.Event) ([]byte, error) {
	return json.Marshal(wireEvent{
		Kind:           event.Kind,
		Message:        event.Message,
		Task:           event.Task,
		StatusUpdate:   event.StatusUpdate,
		ArtifactUpdate: event.ArtifactUpdate,
	})
}

func unmarshalEvent(payload []byte) (a2a.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return a2a.Event{}, err
	}
	return a2a.Event{
		Kind:           w.Kind,
		Message:        w.Message,
		Task:           w.Task,
		StatusUpdate:   w.StatusUpdate,
		ArtifactUpdate: w.ArtifactUpdate,
	}, nil
}
