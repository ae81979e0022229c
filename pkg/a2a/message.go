// Package a2a defines the Agent-to-Agent wire types: messages, tasks,
// artifacts, and the events the execution substrate passes between its
// internal components and the JSON-RPC transport.
package a2a

// Role identifies the sender of a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind discriminates the union carried by Part.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// FileContent carries file data either inline (base64) or by reference.
type FileContent struct {
	Name     *string `json:"name,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	Bytes    *string `json:"bytes,omitempty"`
	URI      *string `json:"uri,omitempty"`
}

// Part is a discriminated union: exactly one of Text, File, Data is set,
// selected by Kind.
type Part struct {
	Kind     PartKind                `json:"kind"`
	Text     *string                 `json:"text,omitempty"`
	File     *FileContent            `json:"file,omitempty"`
	Data     *map[string]interface{} `json:"data,omitempty"`
	Metadata *map[string]interface{} `json:"metadata,omitempty"`
}

// TextPart builds a text Part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: &text}
}

// Message is a unit of communication between a client and an agent.
// Immutable once emitted onto the event bus.
type Message struct {
	MessageID string                  `json:"messageId"`
	Role      Role                    `json:"role"`
	Parts     []Part                  `json:"parts"`
	ContextID *string                 `json:"contextId,omitempty"`
	TaskID    *string                 `json:"taskId,omitempty"`
	Metadata  *map[string]interface{} `json:"metadata,omitempty"`
}

// FirstText returns the text of the first text part, if any.
func (m Message) FirstText() (string, bool) {
	for _, p := range m.Parts {
		if p.Kind == PartKindText && p.Text != nil {
			return *p.Text, true
		}
	}
	return "", false
}
