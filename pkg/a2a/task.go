package a2a

import "time"

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateRejected      TaskState = "rejected"
)

// IsTerminal reports whether state ends a task's lifecycle.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
		return true
	default:
		return false
	}
}

// TaskStatus is the current state of a task plus the message that produced it.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is an output produced by a task, assembled from parts that may
// arrive incrementally across ArtifactUpdate events.
type Artifact struct {
	ArtifactID  string                  `json:"artifactId"`
	Name        *string                 `json:"name,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Parts       []Part                  `json:"parts"`
	Metadata    *map[string]interface{} `json:"metadata,omitempty"`
}

// Task is the authoritative, durable snapshot of a unit of work.
type Task struct {
	ID        string                  `json:"id"`
	ContextID string                  `json:"contextId"`
	Status    TaskStatus              `json:"status"`
	History   []Message               `json:"history,omitempty"`
	Artifacts []Artifact              `json:"artifacts,omitempty"`
	Metadata  *map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy of the task so callers can mutate the
// result without racing other holders of the original (the history and
// artifacts slices, each artifact's parts slice, and the task metadata map
// are copied; messages, artifacts and parts are copied by value, so their
// pointer fields, such as text, file content, data and metadata maps, are
// shared with the original).
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.History != nil {
		c.History = append([]Message(nil), t.History...)
	}
	if t.Artifacts != nil {
		c.Artifacts = make([]Artifact, len(t.Artifacts))
		for i, a := range t.Artifacts {
			ac := a
			ac.Parts = append([]Part(nil), a.Parts...)
			c.Artifacts[i] = ac
		}
	}
	if t.Metadata != nil {
		m := make(map[string]interface{}, len(*t.Metadata))
		for k, v := range *t.Metadata {
			m[k] = v
		}
		c.Metadata = &m
	}
	return &c
}

// HistoryHasMessage reports whether a message with the given id already
// appears in history.
func (t *Task) HistoryHasMessage(messageID string) bool {
	for _, m := range t.History {
		if m.MessageID == messageID {
			return true
		}
	}
	return false
}

// FindArtifact returns the index of the artifact with the given id, or -1.
func (t *Task) FindArtifact(artifactID string) int {
	for i := range t.Artifacts {
		if t.Artifacts[i].ArtifactID == artifactID {
			return i
		}
	}
	return -1
}
