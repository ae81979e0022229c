package a2a

import (
	"encoding/json"
	"fmt"
)

// EventKind discriminates the Event union dispatched on the Event Bus.
type EventKind string

const (
	EventKindMessage        EventKind = "message"
	EventKindTask           EventKind = "task"
	EventKindStatusUpdate   EventKind = "status-update"
	EventKindArtifactUpdate EventKind = "artifact-update"
	// EventKindDiscontinuity is synthesized locally by the Event Bus poller;
	// it never crosses the topic wire.
	EventKindDiscontinuity EventKind = "discontinuity"
)

// StatusUpdate signals a change in a task's status during execution.
type StatusUpdate struct {
	TaskID    string                  `json:"taskId"`
	ContextID string                  `json:"contextId"`
	Status    TaskStatus              `json:"status"`
	Final     bool                    `json:"final"`
	Metadata  *map[string]interface{} `json:"metadata,omitempty"`
}

// ArtifactUpdate signals a new or appended artifact during execution.
type ArtifactUpdate struct {
	TaskID    string   `json:"taskId"`
	ContextID string   `json:"contextId"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append"`
	LastChunk *bool    `json:"lastChunk,omitempty"`
}

// Discontinuity is a synthetic, locally-generated notification: the topic
// service signalled that one or more events between two sequence numbers
// were dropped.
type Discontinuity struct {
	ContextID    string `json:"contextId"`
	FromSequence int64  `json:"fromSequence"`
	ToSequence   int64  `json:"toSequence"`
}

// Event is a tagged union over the payloads the Event Bus carries. Exactly
// one of the typed fields is non-nil, selected by Kind. Reducers must switch
// on Kind exhaustively rather than probing fields.
type Event struct {
	Kind           EventKind
	Message        *Message
	Task           *Task
	StatusUpdate   *StatusUpdate
	ArtifactUpdate *ArtifactUpdate
	Discontinuity  *Discontinuity
}

// GetContextID returns the contextId carried by any wire event (empty for a
// synthetic Discontinuity's zero value only if ContextID was left unset,
// which publish() never allows).
func (e Event) GetContextID() string {
	switch e.Kind {
	case EventKindMessage:
		if e.Message != nil && e.Message.ContextID != nil {
			return *e.Message.ContextID
		}
	case EventKindTask:
		if e.Task != nil {
			return e.Task.ContextID
		}
	case EventKindStatusUpdate:
		if e.StatusUpdate != nil {
			return e.StatusUpdate.ContextID
		}
	case EventKindArtifactUpdate:
		if e.ArtifactUpdate != nil {
			return e.ArtifactUpdate.ContextID
		}
	case EventKindDiscontinuity:
		if e.Discontinuity != nil {
			return e.Discontinuity.ContextID
		}
	}
	return ""
}

// IsFinal reports whether this event terminates the task's event stream: a
// standalone Message result, or a StatusUpdate with Final set.
func (e Event) IsFinal() bool {
	switch e.Kind {
	case EventKindMessage:
		return true
	case EventKindStatusUpdate:
		return e.StatusUpdate != nil && e.StatusUpdate.Final
	default:
		return false
	}
}

func NewMessageEvent(m Message) Event { return Event{Kind: EventKindMessage, Message: &m} }
func NewTaskEvent(t Task) Event       { return Event{Kind: EventKindTask, Task: &t} }
func NewStatusUpdateEvent(s StatusUpdate) Event {
	return Event{Kind: EventKindStatusUpdate, StatusUpdate: &s}
}
func NewArtifactUpdateEvent(a ArtifactUpdate) Event {
	return Event{Kind: EventKindArtifactUpdate, ArtifactUpdate: &a}
}
func NewDiscontinuityEvent(d Discontinuity) Event {
	return Event{Kind: EventKindDiscontinuity, Discontinuity: &d}
}

// MarshalJSON flattens the tagged union onto the wire as the selected
// payload plus a top-level "kind" discriminator, matching the shape every
// other A2A object family uses (Part.Kind, TaskState, ...).
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventKindMessage:
		if e.Message == nil {
			return nil, fmt.Errorf("a2a: message event missing payload")
		}
		return json.Marshal(struct {
			Kind EventKind `json:"kind"`
			Message
		}{EventKindMessage, *e.Message})
	case EventKindTask:
		if e.Task == nil {
			return nil, fmt.Errorf("a2a: task event missing payload")
		}
		return json.Marshal(struct {
			Kind EventKind `json:"kind"`
			Task
		}{EventKindTask, *e.Task})
	case EventKindStatusUpdate:
		if e.StatusUpdate == nil {
			return nil, fmt.Errorf("a2a: status-update event missing payload")
		}
		return json.Marshal(struct {
			Kind EventKind `json:"kind"`
			StatusUpdate
		}{EventKindStatusUpdate, *e.StatusUpdate})
	case EventKindArtifactUpdate:
		if e.ArtifactUpdate == nil {
			return nil, fmt.Errorf("a2a: artifact-update event missing payload")
		}
		return json.Marshal(struct {
			Kind EventKind `json:"kind"`
			ArtifactUpdate
		}{EventKindArtifactUpdate, *e.ArtifactUpdate})
	case EventKindDiscontinuity:
		if e.Discontinuity == nil {
			return nil, fmt.Errorf("a2a: discontinuity event missing payload")
		}
		return json.Marshal(struct {
			Kind EventKind `json:"kind"`
			Discontinuity
		}{EventKindDiscontinuity, *e.Discontinuity})
	default:
		return nil, fmt.Errorf("a2a: cannot marshal event with unknown kind %q", e.Kind)
	}
}

// UnmarshalJSON reads the "kind" discriminator and decodes the matching
// payload, the inverse of MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var disc struct {
		Kind EventKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return err
	}
	switch disc.Kind {
	case EventKindMessage:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*e = Event{Kind: EventKindMessage, Message: &m}
	case EventKindTask:
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*e = Event{Kind: EventKindTask, Task: &t}
	case EventKindStatusUpdate:
		var s StatusUpdate
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Event{Kind: EventKindStatusUpdate, StatusUpdate: &s}
	case EventKindArtifactUpdate:
		var a ArtifactUpdate
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*e = Event{Kind: EventKindArtifactUpdate, ArtifactUpdate: &a}
	case EventKindDiscontinuity:
		var d Discontinuity
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		*e = Event{Kind: EventKindDiscontinuity, Discontinuity: &d}
	default:
		return fmt.Errorf("a2a: unknown event kind %q", disc.Kind)
	}
	return nil
}
