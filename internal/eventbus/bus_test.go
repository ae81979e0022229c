package eventbus_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/cache"
	"github.com/allenheltondev/momento-a2a-agent/internal/eventbus"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// fakeTopicServer is an in-memory cache+topics stand-in that supports publish
// (append) and subscribe (from a sequence number), plus a way to inject a
// synthetic discontinuity item ahead of time.
type fakeTopicServer struct {
	mu      sync.Mutex
	items   map[string][]topicItem
	nextSeq map[string]int64
}

type topicItem struct {
	message             []byte
	topicSequenceNumber int64
	// position orders this item (message or discontinuity) within the
	// topic for subscribe filtering, so a discontinuity is only returned
	// to polls that haven't yet advanced past it.
	position      int64
	discontinuity *struct {
		newSeq  int64
		newPage int64
	}
}

func newFakeTopicServer() *fakeTopicServer {
	return &fakeTopicServer{items: make(map[string][]topicItem), nextSeq: make(map[string]int64)}
}

func (f *fakeTopicServer) publish(topic string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.nextSeq[topic]
	f.nextSeq[topic] = seq + 1
	f.items[topic] = append(f.items[topic], topicItem{message: payload, topicSequenceNumber: seq, position: seq})
}

// injectDiscontinuity appends a synthetic discontinuity item to topic and
// advances the fake server's own sequence counter to match, so that any
// subsequent publish() on the same topic gets a sequence number at or past
// newSeq — mirroring what a real topic would do after a gap. Its position is
// newSeq, so once a poller advances past newSeq it stops being redelivered.
func (f *fakeTopicServer) injectDiscontinuity(topic string, newSeq, newPage int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[topic] = append(f.items[topic], topicItem{
		position: newSeq,
		discontinuity: &struct {
			newSeq  int64
			newPage int64
		}{newSeq: newSeq, newPage: newPage},
	})
	if f.nextSeq[topic] <= newSeq {
		f.nextSeq[topic] = newSeq + 1
	}
}

func (f *fakeTopicServer) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := r.URL.Path[len("/topics/"):]

		if r.Method != http.MethodGet {
			body, _ := io.ReadAll(r.Body)
			f.publish(topic, body)
			w.WriteHeader(http.StatusOK)
			return
		}

		seqNum, _ := strconv.ParseInt(r.URL.Query().Get("sequence_number"), 10, 64)

		f.mu.Lock()
		all := f.items[topic]
		f.mu.Unlock()

		var pending []topicItem
		for _, it := range all {
			if it.position >= seqNum {
				pending = append(pending, it)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[`)
		for i, it := range pending {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			if it.discontinuity != nil {
				fmt.Fprintf(w, `{"discontinuity":{"new_topic_sequence_number":%d,"new_sequence_page":%d}}`,
					it.discontinuity.newSeq, it.discontinuity.newPage)
			} else {
				fmt.Fprintf(w, `{"message":%s,"topic_sequence_number":%d}`, strconv.Quote(string(it.message)), it.topicSequenceNumber)
			}
		}
		fmt.Fprint(w, `]}`)
	}))
}

func TestBusPublishAndOnContextDelivers(t *testing.T) {
	fake := newFakeTopicServer()
	srv := fake.server()
	defer srv.Close()

	adapter := cache.New(srv.URL, "test-key", zap.NewNop())
	bus := eventbus.New(adapter, zap.NewNop())
	defer bus.Close()

	received := make(chan a2a.Event, 1)
	unsubscribe := bus.OnContext("ctx-1", func(event a2a.Event) {
		received <- event
	})
	defer unsubscribe()

	msg := a2a.Message{MessageID: "m1", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("hi")}}
	ctxID := "ctx-1"
	msg.ContextID = &ctxID
	require.NoError(t, bus.Publish(context.Background(), a2a.NewMessageEvent(msg)))

	select {
	case event := <-received:
		assert.Equal(t, a2a.EventKindMessage, event.Kind)
		require.NotNil(t, event.Message)
		assert.Equal(t, "m1", event.Message.MessageID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestBusPublishRequiresContextID(t *testing.T) {
	adapter := cache.New("http://unused.invalid", "test-key", zap.NewNop())
	bus := eventbus.New(adapter, zap.NewNop())
	defer bus.Close()

	err := bus.Publish(context.Background(), a2a.NewMessageEvent(a2a.Message{MessageID: "m1"}))
	assert.Error(t, err)
}

func TestBusPollLoopSurvivesDiscontinuity(t *testing.T) {
	fake := newFakeTopicServer()
	srv := fake.server()
	defer srv.Close()

	adapter := cache.New(srv.URL, "test-key", zap.NewNop())
	bus := eventbus.New(adapter, zap.NewNop())
	defer bus.Close()

	const contextID = "ctx-3"
	received := make(chan a2a.Event, 3)
	unsubscribe := bus.OnContext(contextID, func(event a2a.Event) {
		received <- event
	})
	defer unsubscribe()

	msg1 := a2a.Message{MessageID: "m1", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("before")}}
	msg1.ContextID = stringPtr(contextID)
	require.NoError(t, bus.Publish(context.Background(), a2a.NewMessageEvent(msg1)))

	first := waitForEvent(t, received)
	assert.Equal(t, a2a.EventKindMessage, first.Kind)
	require.NotNil(t, first.Message)
	assert.Equal(t, "m1", first.Message.MessageID)

	// The poller has now advanced past topicSequenceNumber 0, so fromSequence
	// on the discontinuity below must be 1 (its pre-advance position), not 0.
	fake.injectDiscontinuity(contextID, 10, 2)

	second := waitForEvent(t, received)
	assert.Equal(t, a2a.EventKindDiscontinuity, second.Kind)
	require.NotNil(t, second.Discontinuity)
	assert.Equal(t, contextID, second.Discontinuity.ContextID)
	assert.Equal(t, int64(1), second.Discontinuity.FromSequence)
	assert.Equal(t, int64(10), second.Discontinuity.ToSequence)

	// A discontinuity must not tear down the poller: a message published
	// afterward should still be delivered.
	msg2 := a2a.Message{MessageID: "m2", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("after")}}
	msg2.ContextID = stringPtr(contextID)
	require.NoError(t, bus.Publish(context.Background(), a2a.NewMessageEvent(msg2)))

	third := waitForEvent(t, received)
	assert.Equal(t, a2a.EventKindMessage, third.Kind)
	require.NotNil(t, third.Message)
	assert.Equal(t, "m2", third.Message.MessageID)
}

func waitForEvent(t *testing.T, received <-chan a2a.Event) a2a.Event {
	t.Helper()
	select {
	case event := <-received:
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event delivery")
		return a2a.Event{}
	}
}

func stringPtr(s string) *string { return &s }

func TestBusUnregisterContextStopsDelivery(t *testing.T) {
	fake := newFakeTopicServer()
	srv := fake.server()
	defer srv.Close()

	adapter := cache.New(srv.URL, "test-key", zap.NewNop())
	bus := eventbus.New(adapter, zap.NewNop())
	defer bus.Close()

	bus.RegisterContext("ctx-2")
	bus.RegisterContext("ctx-2") // idempotent
	bus.UnregisterContext("ctx-2")

	// Re-registering after unregister should start a fresh poller without
	// error or panic.
	bus.RegisterContext("ctx-2")
}
