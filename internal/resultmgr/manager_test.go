package resultmgr_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/cache"
	"github.com/allenheltondev/momento-a2a-agent/internal/resultmgr"
	"github.com/allenheltondev/momento-a2a-agent/internal/taskstore"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

func newInMemoryCacheServer(t *testing.T) (*httptest.Server, *taskstore.Store) {
	t.Helper()
	var mu sync.Mutex
	store := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _ := url.PathUnescape(r.URL.Path[len("/cache/"):])
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(body)
			store[key] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			v, ok := store[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(v)
		}
	}))
	adapter := cache.New(srv.URL, "test-key", zap.NewNop())
	return srv, taskstore.New(adapter, zap.NewNop())
}

func TestManagerAppliesTaskThenStatusUpdate(t *testing.T) {
	srv, store := newInMemoryCacheServer(t)
	defer srv.Close()

	userMsg := a2a.Message{MessageID: "m1", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("hi")}}
	mgr := resultmgr.New(store, zap.NewNop(), nil, &userMsg)

	mgr.Apply(context.Background(), a2a.NewTaskEvent(a2a.Task{
		ID: "t1", ContextID: "ctx-1",
		Status: a2a.TaskStatus{State: a2a.TaskStateSubmitted},
	}))
	task := mgr.CurrentTask()
	require.NotNil(t, task)
	require.Len(t, task.History, 1)
	assert.Equal(t, "m1", task.History[0].MessageID)

	agentMsg := a2a.Message{MessageID: "m2", Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart("done")}}
	mgr.Apply(context.Background(), a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
		TaskID: "t1", ContextID: "ctx-1",
		Status: a2a.TaskStatus{State: a2a.TaskStateCompleted, Message: &agentMsg},
		Final:  true,
	}))

	finalTask, finalMsg := mgr.Result()
	require.Nil(t, finalMsg)
	require.NotNil(t, finalTask)
	assert.Equal(t, a2a.TaskStateCompleted, finalTask.Status.State)
	assert.Len(t, finalTask.History, 2)

	loaded, ok := store.Load(context.Background(), "t1")
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateCompleted, loaded.Status.State)
}

func TestManagerArtifactAppendMergesMetadata(t *testing.T) {
	srv, store := newInMemoryCacheServer(t)
	defer srv.Close()

	mgr := resultmgr.New(store, zap.NewNop(), &a2a.Task{ID: "t2", ContextID: "ctx-2"}, nil)

	mgr.Apply(context.Background(), a2a.NewArtifactUpdateEvent(a2a.ArtifactUpdate{
		TaskID: "t2", ContextID: "ctx-2",
		Artifact: a2a.Artifact{ArtifactID: "a1", Parts: []a2a.Part{a2a.TextPart("a")}},
		Append:   false,
	}))

	name := "file2"
	barMeta := map[string]interface{}{"bar": 2}
	mgr.Apply(context.Background(), a2a.NewArtifactUpdateEvent(a2a.ArtifactUpdate{
		TaskID: "t2", ContextID: "ctx-2",
		Artifact: a2a.Artifact{ArtifactID: "a1", Name: &name, Parts: []a2a.Part{a2a.TextPart("b")}, Metadata: &barMeta},
		Append:   true,
	}))

	task := mgr.CurrentTask()
	require.Len(t, task.Artifacts, 1)
	art := task.Artifacts[0]
	require.Len(t, art.Parts, 2)
	assert.Equal(t, "b", *art.Parts[1].Text)
	require.NotNil(t, art.Name)
	assert.Equal(t, "file2", *art.Name)
	require.NotNil(t, art.Metadata)
	assert.Equal(t, 2, (*art.Metadata)["bar"])
}

func TestManagerMessageEventShortCircuitsTaskResult(t *testing.T) {
	srv, store := newInMemoryCacheServer(t)
	defer srv.Close()

	mgr := resultmgr.New(store, zap.NewNop(), nil, nil)
	mgr.Apply(context.Background(), a2a.NewMessageEvent(a2a.Message{MessageID: "m1", Role: a2a.RoleAgent}))

	task, msg := mgr.Result()
	assert.Nil(t, task)
	require.NotNil(t, msg)
	assert.Equal(t, "m1", msg.MessageID)
}
