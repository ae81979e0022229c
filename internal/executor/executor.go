// Package executor runs the opaque user Handler and drives the task
// lifecycle events onto the Event Bus, generalizing the teacher's
// ScenarioBasedA2AHandler/A2ACapability pairing (server/a2a/handler.go,
// server/a2a/capability.go) into a standalone component that speaks only in
// bus events rather than an in-process update channel plus capability
// struct.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/eventbus"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// Identity names the agent publishing events, carried as task/status
// metadata on every event this executor emits.
type Identity struct {
	AgentName string
	AgentID   string
	AgentType a2a.AgentType
}

// Executor mediates between a Handler and the Event Bus.
type Executor struct {
	bus      *eventbus.Bus
	handler  a2a.Handler
	identity Identity
	logger   *zap.Logger
}

// New builds an Executor bound to bus and handler.
func New(bus *eventbus.Bus, handler a2a.Handler, identity Identity, logger *zap.Logger) *Executor {
	return &Executor{bus: bus, handler: handler, identity: identity, logger: logger.Named("executor")}
}

// Execute runs the full lifecycle for message against existingTask (nil if
// none). It never returns an error to the caller: failures are published as
// a terminal failed StatusUpdate per spec. ctx is passed to the handler,
// which observes cancellation via ctx.Done(). Execute blocks on the handler
// call and returns only once the handler returns, so callers needing a hard
// deadline run Execute in its own goroutine and race it against their own
// timer.
func (e *Executor) Execute(ctx context.Context, message a2a.Message, existingTask *a2a.Task) {
	task := e.initializeTask(ctx, message, existingTask)

	e.publishWorkingStatus(ctx, task, message)

	publishUpdate := func(text string) {
		updateMsg := message
		updateMsg.Parts = []a2a.Part{a2a.TextPart(text)}
		e.publish(ctx, a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
			TaskID:    task.ID,
			ContextID: task.ContextID,
			Status:    a2a.TaskStatus{State: a2a.TaskStateWorking, Message: &updateMsg, Timestamp: time.Now()},
			Final:     false,
			Metadata:  e.identityMetadata(),
		}))
	}

	result, err := e.handler(ctx, a2a.HandlerContext{Task: task, PublishUpdate: publishUpdate}, message)
	if err != nil {
		e.fail(ctx, task, err)
		return
	}

	e.succeed(ctx, task, message, result)
}

func (e *Executor) initializeTask(ctx context.Context, message a2a.Message, existingTask *a2a.Task) *a2a.Task {
	if existingTask != nil {
		return existingTask
	}

	taskID := uuid.NewString()
	if message.TaskID != nil && *message.TaskID != "" {
		taskID = *message.TaskID
	}
	contextID := uuid.NewString()
	if message.ContextID != nil && *message.ContextID != "" {
		contextID = *message.ContextID
	}

	metadata := e.identityMetadataMap()
	if message.Metadata != nil {
		for k, v := range *message.Metadata {
			metadata[k] = v
		}
	}

	task := &a2a.Task{
		ID:        taskID,
		ContextID: contextID,
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateSubmitted,
			Message:   &message,
			Timestamp: time.Now(),
		},
		History:   []a2a.Message{message},
		Artifacts: []a2a.Artifact{},
		Metadata:  &metadata,
	}

	e.publish(ctx, a2a.NewTaskEvent(*task))
	return task
}

func (e *Executor) publishWorkingStatus(ctx context.Context, task *a2a.Task, message a2a.Message) {
	e.publish(ctx, a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking, Message: &message, Timestamp: time.Now()},
		Final:     false,
		Metadata:  e.identityMetadata(),
	}))
}

func (e *Executor) succeed(ctx context.Context, task *a2a.Task, message a2a.Message, result a2a.HandlerResult) {
	var finalStatus a2a.TaskStatus
	var artifacts []a2a.Artifact
	var metadataOverlay *map[string]interface{}

	switch result.Kind {
	case a2a.HandlerResultText:
		// Same messageId as the original message: the Result Manager's
		// dedup rule (append to history only on a new messageId) then
		// treats this as the same turn rather than a second history entry.
		replyMsg := message
		replyMsg.Role = a2a.RoleAgent
		replyMsg.Parts = []a2a.Part{a2a.TextPart(result.Text)}
		finalStatus = a2a.TaskStatus{State: a2a.TaskStateCompleted, Message: &replyMsg, Timestamp: time.Now()}

	case a2a.HandlerResultParts:
		replyMsg := message
		replyMsg.Role = a2a.RoleAgent
		replyMsg.Parts = result.Parts
		finalStatus = a2a.TaskStatus{State: a2a.TaskStateCompleted, Message: &replyMsg, Timestamp: time.Now()}
		artifacts = result.Artifacts
		metadataOverlay = result.Metadata

	case a2a.HandlerResultTaskPartial:
		if result.TaskPartial == nil || result.TaskPartial.Status.Message == nil || result.TaskPartial.Status.State == "" {
			e.fail(ctx, task, fmt.Errorf("task-partial handler result requires status.state and status.message"))
			return
		}
		finalStatus = result.TaskPartial.Status
		artifacts = result.TaskPartial.Artifacts
		metadataOverlay = result.TaskPartial.Metadata

	default:
		e.fail(ctx, task, fmt.Errorf("handler returned unrecognized result kind %q", result.Kind))
		return
	}

	for _, artifact := range artifacts {
		e.publish(ctx, a2a.NewArtifactUpdateEvent(a2a.ArtifactUpdate{
			TaskID: task.ID, ContextID: task.ContextID, Artifact: artifact, Append: false,
		}))
	}

	if metadataOverlay != nil {
		merged := map[string]interface{}{}
		if task.Metadata != nil {
			for k, v := range *task.Metadata {
				merged[k] = v
			}
		}
		for k, v := range *metadataOverlay {
			merged[k] = v
		}
		task.Metadata = &merged
	}

	e.publish(ctx, a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    finalStatus,
		Final:     true,
		Metadata:  e.identityMetadata(),
	}))
}

func (e *Executor) fail(ctx context.Context, task *a2a.Task, handlerErr error) {
	e.logger.Error("handler execution failed", zap.String("taskId", task.ID), zap.Error(handlerErr))
	text := fmt.Sprintf("Agent execution failed: %s", handlerErr.Error())
	failMsg := a2a.Message{
		MessageID: uuid.NewString(),
		Role:      a2a.RoleAgent,
		Parts:     []a2a.Part{a2a.TextPart(text)},
		ContextID: &task.ContextID,
		TaskID:    &task.ID,
	}
	e.publish(ctx, a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateFailed, Message: &failMsg, Timestamp: time.Now()},
		Final:     true,
		Metadata:  e.identityMetadata(),
	}))
}

func (e *Executor) publish(ctx context.Context, event a2a.Event) {
	if err := e.bus.Publish(ctx, event); err != nil {
		e.logger.Error("failed to publish event", zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}

func (e *Executor) identityMetadata() *map[string]interface{} {
	m := e.identityMetadataMap()
	return &m
}

func (e *Executor) identityMetadataMap() map[string]interface{} {
	return map[string]interface{}{
		"agentName": e.identity.AgentName,
		"agentId":   e.identity.AgentID,
		"agentType": string(e.identity.AgentType),
	}
}
