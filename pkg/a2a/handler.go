package a2a

import "context"

// AgentType is metadata describing how a handler is composed; it never
// changes executor control flow (worker and supervisor are handled
// identically).
type AgentType string

const (
	AgentTypeWorker     AgentType = "worker"
	AgentTypeSupervisor AgentType = "supervisor"
)

// PublishUpdateFunc lets a running handler surface progress text before it
// returns a final result. Each call publishes exactly one working-state
// StatusUpdate.
type PublishUpdateFunc func(text string)

// HandlerContext carries the task under execution and the progress-reporting
// closure into a Handler invocation.
type HandlerContext struct {
	Task          *Task
	PublishUpdate PublishUpdateFunc
}

// HandlerResultKind discriminates the HandlerResult tagged union.
type HandlerResultKind string

const (
	HandlerResultText        HandlerResultKind = "text"
	HandlerResultParts       HandlerResultKind = "parts"
	HandlerResultTaskPartial HandlerResultKind = "task"
)

// HandlerResult is the polymorphic return of a Handler: exactly one of Text,
// Parts, or TaskPartial is meaningful, selected by Kind.
type HandlerResult struct {
	Kind HandlerResultKind

	// Text is used when Kind == HandlerResultText: becomes a single text part
	// of the agent's reply.
	Text string

	// Parts is used when Kind == HandlerResultParts.
	Parts     []Part
	Artifacts []Artifact
	Metadata  *map[string]interface{}

	// TaskPartial is used when Kind == HandlerResultTaskPartial: a
	// shallow-merge overlay onto the task. Status.State and Status.Message
	// are required.
	TaskPartial *Task
}

// TextResult builds a HandlerResult that becomes a single text reply part.
func TextResult(text string) HandlerResult {
	return HandlerResult{Kind: HandlerResultText, Text: text}
}

// PartsResult builds a HandlerResult carrying parts plus optional artifacts
// and metadata to merge onto the task.
func PartsResult(parts []Part, artifacts []Artifact, metadata *map[string]interface{}) HandlerResult {
	return HandlerResult{Kind: HandlerResultParts, Parts: parts, Artifacts: artifacts, Metadata: metadata}
}

// TaskPartialResult builds a HandlerResult giving the handler full control
// over the completed task.
func TaskPartialResult(partial *Task) HandlerResult {
	return HandlerResult{Kind: HandlerResultTaskPartial, TaskPartial: partial}
}

// Handler is the opaque user-supplied function the Executor drives. For a
// handler started by message/send, ctx is canceled when the Request
// Handler's 30-second deadline expires or when message/send returns after
// observing a final event (including the final StatusUpdate that
// tasks/cancel publishes). A handler started by message/stream receives a
// context that is never canceled. A long-running handler should call
// PublishUpdate periodically and observe ctx.Done().
type Handler func(ctx context.Context, hctx HandlerContext, message Message) (HandlerResult, error)
