package executor_test

import (
	"context"
	"errors"
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
	"github.com/allenheltondev/momento-a2a-agent/internal/executor"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// fakeTopicServer is an in-memory cache+topics stand-in that actually stores
// published items so a later subscribe can observe them.
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

type eventCollector struct {
	mu     sync.Mutex
	events []a2a.Event
}

func (c *eventCollector) listen(e a2a.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) snapshot() []a2a.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]a2a.Event(nil), c.events...)
}

func waitForEvents(t *testing.T, c *eventCollector, n int) []a2a.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if events := c.snapshot(); len(events) >= n {
			return events
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(c.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	fake := newFakeTopicServer()
	srv := fake.server()
	t.Cleanup(srv.Close)
	adapter := cache.New(srv.URL, "test-key", zap.NewNop())
	bus := eventbus.New(adapter, zap.NewNop())
	t.Cleanup(bus.Close)
	return bus
}

func identity() executor.Identity {
	return executor.Identity{AgentName: "test-agent", AgentID: "agent-1", AgentType: a2a.AgentTypeWorker}
}

func TestExecutorTextResultPublishesTaskThenCompletedStatus(t *testing.T) {
	bus := newBus(t)
	collector := &eventCollector{}
	unsubscribe := bus.OnContext("ctx-exec-1", collector.listen)
	defer unsubscribe()

	handler := func(ctx context.Context, hctx a2a.HandlerContext, msg a2a.Message) (a2a.HandlerResult, error) {
		hctx.PublishUpdate("working on it")
		return a2a.TextResult("all done"), nil
	}

	exec := executor.New(bus, handler, identity(), zap.NewNop())
	contextID := "ctx-exec-1"
	msg := a2a.Message{MessageID: "m1", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("hello")}, ContextID: &contextID}

	exec.Execute(context.Background(), msg, nil)

	events := waitForEvents(t, collector, 4)
	require.Equal(t, a2a.EventKindTask, events[0].Kind)
	require.Equal(t, a2a.EventKindStatusUpdate, events[1].Kind)
	assert.Equal(t, a2a.TaskStateWorking, events[1].StatusUpdate.Status.State)
	require.Equal(t, a2a.EventKindStatusUpdate, events[2].Kind)
	assert.Equal(t, "working on it", *events[2].StatusUpdate.Status.Message.Parts[0].Text)

	final := events[3]
	require.Equal(t, a2a.EventKindStatusUpdate, final.Kind)
	assert.True(t, final.StatusUpdate.Final)
	assert.Equal(t, a2a.TaskStateCompleted, final.StatusUpdate.Status.State)
	assert.Equal(t, "all done", *final.StatusUpdate.Status.Message.Parts[0].Text)
}

func TestExecutorHandlerErrorPublishesFailedStatus(t *testing.T) {
	bus := newBus(t)
	collector := &eventCollector{}
	unsubscribe := bus.OnContext("ctx-exec-2", collector.listen)
	defer unsubscribe()

	handler := func(ctx context.Context, hctx a2a.HandlerContext, msg a2a.Message) (a2a.HandlerResult, error) {
		return a2a.HandlerResult{}, errors.New("boom")
	}

	exec := executor.New(bus, handler, identity(), zap.NewNop())
	contextID := "ctx-exec-2"
	msg := a2a.Message{MessageID: "m1", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("hello")}, ContextID: &contextID}

	exec.Execute(context.Background(), msg, nil)

	events := waitForEvents(t, collector, 3)
	final := events[2]
	require.Equal(t, a2a.EventKindStatusUpdate, final.Kind)
	assert.True(t, final.StatusUpdate.Final)
	assert.Equal(t, a2a.TaskStateFailed, final.StatusUpdate.Status.State)
	assert.Contains(t, *final.StatusUpdate.Status.Message.Parts[0].Text, "boom")
}

func TestExecutorTaskPartialResultMergesMetadataAndArtifacts(t *testing.T) {
	bus := newBus(t)
	collector := &eventCollector{}
	unsubscribe := bus.OnContext("ctx-exec-3", collector.listen)
	defer unsubscribe()

	handler := func(ctx context.Context, hctx a2a.HandlerContext, msg a2a.Message) (a2a.HandlerResult, error) {
		overlay := map[string]interface{}{"turns": 2}
		replyMsg := a2a.Message{MessageID: "m2", Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart("needs more")}}
		return a2a.TaskPartialResult(&a2a.Task{
			Status:    a2a.TaskStatus{State: a2a.TaskStateInputRequired, Message: &replyMsg},
			Artifacts: []a2a.Artifact{{ArtifactID: "a1", Parts: []a2a.Part{a2a.TextPart("partial")}}},
			Metadata:  &overlay,
		}), nil
	}

	exec := executor.New(bus, handler, identity(), zap.NewNop())
	contextID := "ctx-exec-3"
	msg := a2a.Message{MessageID: "m1", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("hello")}, ContextID: &contextID}

	exec.Execute(context.Background(), msg, nil)

	events := waitForEvents(t, collector, 4)
	var sawArtifact, sawFinal bool
	for _, e := range events {
		if e.Kind == a2a.EventKindArtifactUpdate {
			sawArtifact = true
			assert.Equal(t, "a1", e.ArtifactUpdate.Artifact.ArtifactID)
		}
		if e.Kind == a2a.EventKindStatusUpdate && e.StatusUpdate.Final {
			sawFinal = true
			assert.Equal(t, a2a.TaskStateInputRequired, e.StatusUpdate.Status.State)
		}
	}
	assert.True(t, sawArtifact)
	assert.True(t, sawFinal)
}
