package a2a_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

func TestEventMarshalJSONAddsKindDiscriminator(t *testing.T) {
	ev := a2a.NewTaskEvent(a2a.Task{
		ID: "task-1", ContextID: "ctx-1",
		Status: a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: time.Unix(0, 0).UTC()},
	})

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "task", raw["kind"])
	assert.Equal(t, "task-1", raw["id"])
	assert.Equal(t, "ctx-1", raw["contextId"])
}

func TestEventRoundTripsThroughJSONForEveryKind(t *testing.T) {
	msg := a2a.Message{MessageID: "m1", Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart("hi")}}
	events := []a2a.Event{
		a2a.NewMessageEvent(msg),
		a2a.NewTaskEvent(a2a.Task{ID: "t1", ContextID: "c1", Status: a2a.TaskStatus{State: a2a.TaskStateWorking}}),
		a2a.NewStatusUpdateEvent(a2a.StatusUpdate{TaskID: "t1", ContextID: "c1", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}, Final: true}),
		a2a.NewArtifactUpdateEvent(a2a.ArtifactUpdate{TaskID: "t1", ContextID: "c1", Artifact: a2a.Artifact{ArtifactID: "a1"}}),
		a2a.NewDiscontinuityEvent(a2a.Discontinuity{ContextID: "c1", FromSequence: 1, ToSequence: 5}),
	}

	for _, want := range events {
		data, err := json.Marshal(want)
		require.NoError(t, err)

		var got a2a.Event
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.GetContextID(), got.GetContextID())
		assert.Equal(t, want.IsFinal(), got.IsFinal())
	}
}

func TestEventUnmarshalJSONRejectsUnknownKind(t *testing.T) {
	var ev a2a.Event
	err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &ev)
	assert.Error(t, err)
}
