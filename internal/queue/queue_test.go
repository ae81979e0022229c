package queue_test

import (
	"context"
	"fmt"
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
	"github.com/allenheltondev/momento-a2a-agent/internal/queue"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// fakeTopicServer is an in-memory cache+topics stand-in that actually stores
// published items so a later subscribe can observe them (plain empty-always
// stubs can never exercise delivery).
type fakeTopicServer struct {
	mu    sync.Mutex
	items map[string][]topicItem
}

type topicItem struct {
	message             []byte
	topicSequenceNumber int64
}

func newFakeTopicServer() *fakeTopicServer {
	return &fakeTopicServer{items: make(map[string][]topicItem)}
}

func (f *fakeTopicServer) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := r.URL.Path[len("/topics/"):]
		if r.Method == http.MethodPost {
			body := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(body)
			f.mu.Lock()
			seq := int64(len(f.items[topic]))
			f.items[topic] = append(f.items[topic], topicItem{message: body, topicSequenceNumber: seq})
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			return
		}

		seqNum, _ := strconv.ParseInt(r.URL.Query().Get("sequence_number"), 10, 64)
		f.mu.Lock()
		all := f.items[topic]
		f.mu.Unlock()

		var pending []topicItem
		for _, it := range all {
			if it.topicSequenceNumber >= seqNum {
				pending = append(pending, it)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[`)
		for i, it := range pending {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"message":%s,"topic_sequence_number":%d}`, strconv.Quote(string(it.message)), it.topicSequenceNumber)
		}
		fmt.Fprint(w, `]}`)
	}))
}

func TestQueueTerminatesAfterFinalStatusUpdate(t *testing.T) {
	fake := newFakeTopicServer()
	srv := fake.server()
	defer srv.Close()
	adapter := cache.New(srv.URL, "test-key", zap.NewNop())
	bus := eventbus.New(adapter, zap.NewNop())
	defer bus.Close()

	q := queue.New(bus, "ctx-1", nil)
	done := make(chan struct{})
	defer close(done)

	bus.Publish(context.Background(), a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
		TaskID: "t1", ContextID: "ctx-1",
		Status: a2a.TaskStatus{State: a2a.TaskStateWorking}, Final: false,
	}))
	event, ok := q.Next(done)
	require.True(t, ok)
	assert.False(t, event.StatusUpdate.Final)

	bus.Publish(context.Background(), a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
		TaskID: "t1", ContextID: "ctx-1",
		Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}, Final: true,
	}))
	event, ok = q.Next(done)
	require.True(t, ok)
	assert.True(t, event.StatusUpdate.Final)

	// Queue self-terminates once the final event has been consumed.
	_, ok = q.Next(done)
	assert.False(t, ok)
}

func TestQueueStopIsIdempotentAndWakesConsumer(t *testing.T) {
	fake := newFakeTopicServer()
	srv := fake.server()
	defer srv.Close()
	adapter := cache.New(srv.URL, "test-key", zap.NewNop())
	bus := eventbus.New(adapter, zap.NewNop())
	defer bus.Close()

	q := queue.New(bus, "ctx-2", nil)
	done := make(chan struct{})
	defer close(done)

	resultCh := make(chan bool, 1)
	go func() {
		_, ok := q.Next(done)
		resultCh <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	q.Stop() // idempotent

	select {
	case ok := <-resultCh:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not wake the blocked consumer")
	}
}
