// Package rpchandler composes the Cache Adapter, Task Store, Event Bus,
// Execution Event Queue, Result Manager, and Executor into the six A2A
// operations, generalizing the teacher's A2ACapability (server/a2a/capability.go)
// from a single in-process handler invocation per task into a substrate that
// drives the same lifecycle through bus events so any instance can observe
// it.
package rpchandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/cache"
	"github.com/allenheltondev/momento-a2a-agent/internal/eventbus"
	"github.com/allenheltondev/momento-a2a-agent/internal/executor"
	"github.com/allenheltondev/momento-a2a-agent/internal/queue"
	"github.com/allenheltondev/momento-a2a-agent/internal/resultmgr"
	"github.com/allenheltondev/momento-a2a-agent/internal/taskstore"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// sendDeadline bounds how long message/send waits for a terminal event
// before stopping the queue and failing with InternalError("Timeout").
const sendDeadline = 30 * time.Second

func pushConfigKey(taskID string) string { return "push-config:" + taskID }

// Handler implements the A2A JSON-RPC surface.
type Handler struct {
	store     *taskstore.Store
	bus       *eventbus.Bus
	cache     *cache.Adapter
	executor  *executor.Executor
	agentCard a2a.AgentCard
	logger    *zap.Logger
}

// New builds a Handler over its collaborators.
func New(store *taskstore.Store, bus *eventbus.Bus, cacheAdapter *cache.Adapter, exec *executor.Executor, agentCard a2a.AgentCard, logger *zap.Logger) *Handler {
	return &Handler{store: store, bus: bus, cache: cacheAdapter, executor: exec, agentCard: agentCard, logger: logger.Named("rpchandler")}
}

// SendMessage implements `message/send`: runs the task to completion (or a
// terminal Message result) and returns it. The 30-second deadline is wired
// into the handler's own context, so a timeout actually cancels the running
// handler rather than merely abandoning this wait (see the Open Question
// decision recorded in DESIGN.md).
func (h *Handler) SendMessage(ctx context.Context, params a2a.MessageSendParams) (*a2a.Task, *a2a.Message, error) {
	existingTask, message, contextID, err := h.resolveTaskAndContext(ctx, params.Message)
	if err != nil {
		return nil, nil, err
	}

	h.bus.RegisterContext(contextID)
	q := queue.New(h.bus, contextID, taskFilterFor(existingTask))
	defer q.Stop()

	mgr := resultmgr.New(h.store, h.logger, existingTask, &message)

	execCtx, cancelExec := context.WithTimeout(context.Background(), sendDeadline)
	defer cancelExec()
	go h.executor.Execute(execCtx, message, existingTask)

	for {
		event, ok := q.Next(execCtx.Done())
		if !ok {
			if execCtx.Err() != nil {
				return nil, nil, a2a.NewInternalError("Timeout")
			}
			task, msg := mgr.Result()
			return trimHistory(task, params.HistoryLength), msg, nil
		}
		mgr.Apply(ctx, event)
		if event.IsFinal() {
			task, msg := mgr.Result()
			return trimHistory(task, params.HistoryLength), msg, nil
		}
	}
}

// StreamEvent is one record yielded by SendMessageStream.
type StreamEvent struct {
	Event a2a.Event
	Err   error
}

// SendMessageStream implements `message/stream`: yields each Task /
// StatusUpdate / ArtifactUpdate event in arrival order on the returned
// channel, closing it once a terminal event is observed, the context is
// canceled, or the caller stops consuming.
func (h *Handler) SendMessageStream(ctx context.Context, params a2a.MessageSendParams) (<-chan StreamEvent, error) {
	existingTask, message, contextID, err := h.resolveTaskAndContext(ctx, params.Message)
	if err != nil {
		return nil, err
	}

	h.bus.RegisterContext(contextID)
	q := queue.New(h.bus, contextID, taskFilterFor(existingTask))
	mgr := resultmgr.New(h.store, h.logger, existingTask, &message)

	go h.executor.Execute(context.Background(), message, existingTask)

	out := make(chan StreamEvent)
	go h.drainQueue(ctx, q, mgr, out)
	return out, nil
}

func (h *Handler) drainQueue(ctx context.Context, q *queue.Queue, mgr *resultmgr.Manager, out chan<- StreamEvent) {
	defer close(out)
	defer q.Stop()

	done := ctx.Done()
	for {
		event, ok := q.Next(done)
		if !ok {
			return
		}
		mgr.Apply(ctx, event)
		select {
		case out <- StreamEvent{Event: event}:
		case <-done:
			return
		}
		if event.IsFinal() {
			return
		}
	}
}

// GetTask implements `tasks/get`.
func (h *Handler) GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	task, ok := h.store.Load(ctx, params.ID)
	if !ok {
		return nil, a2a.NewTaskNotFoundError(params.ID)
	}
	return trimHistory(task, params.HistoryLength), nil
}

// CancelTask implements `tasks/cancel`.
func (h *Handler) CancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	task, ok := h.store.Load(ctx, params.ID)
	if !ok {
		return nil, a2a.NewTaskNotFoundError(params.ID)
	}
	if task.Status.State.IsTerminal() {
		return nil, a2a.NewTaskNotCancelableError(params.ID)
	}

	cancelText := "Task canceled by client request."
	cancelMsg := a2a.Message{
		MessageID: uuid.NewString(),
		Role:      a2a.RoleAgent,
		Parts:     []a2a.Part{a2a.TextPart(cancelText)},
		ContextID: &task.ContextID,
		TaskID:    &task.ID,
	}
	task.Status = a2a.TaskStatus{State: a2a.TaskStateCanceled, Message: &cancelMsg, Timestamp: time.Now()}
	if !task.HistoryHasMessage(cancelMsg.MessageID) {
		task.History = append(task.History, cancelMsg)
	}
	h.store.Save(ctx, task, 0)

	if err := h.bus.Publish(ctx, a2a.NewStatusUpdateEvent(a2a.StatusUpdate{
		TaskID: task.ID, ContextID: task.ContextID, Status: task.Status, Final: true,
	})); err != nil {
		h.logger.Warn("failed to publish cancellation status", zap.String("taskId", task.ID), zap.Error(err))
	}

	return task, nil
}

// SetTaskPushNotificationConfig implements `tasks/pushNotificationConfig/set`.
func (h *Handler) SetTaskPushNotificationConfig(ctx context.Context, params a2a.SetTaskPushNotificationConfigParams) (*a2a.TaskPushNotificationConfig, error) {
	if !h.agentCard.Capabilities.PushNotifications {
		return nil, a2a.NewPushNotificationNotSupportedError()
	}
	if _, ok := h.store.Load(ctx, params.TaskID); !ok {
		return nil, a2a.NewTaskNotFoundError(params.TaskID)
	}

	config := a2a.TaskPushNotificationConfig{TaskID: params.TaskID, PushNotificationConfig: params.PushNotificationConfig}
	if err := h.cache.Set(ctx, pushConfigKey(params.TaskID), config, cache.SetOptions{}); err != nil {
		return nil, a2a.NewInternalError(fmt.Sprintf("failed to store push notification config: %v", err))
	}
	return &config, nil
}

// GetTaskPushNotificationConfig implements `tasks/pushNotificationConfig/get`.
func (h *Handler) GetTaskPushNotificationConfig(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error) {
	if !h.agentCard.Capabilities.PushNotifications {
		return nil, a2a.NewPushNotificationNotSupportedError()
	}
	if _, ok := h.store.Load(ctx, params.ID); !ok {
		return nil, a2a.NewTaskNotFoundError(params.ID)
	}

	result, err := h.cache.Get(ctx, pushConfigKey(params.ID), cache.FormatJSON)
	if err != nil || !result.Success {
		return nil, a2a.NewInternalError("no push notification config set for task")
	}
	var config a2a.TaskPushNotificationConfig
	if err := json.Unmarshal(result.Data, &config); err != nil {
		return nil, a2a.NewInternalError(fmt.Sprintf("failed to decode push notification config: %v", err))
	}
	return &config, nil
}

// Resubscribe implements `tasks/resubscribe`: yields the current task
// immediately, then (if not already terminal) further events for this task's
// context filtered to this taskId.
func (h *Handler) Resubscribe(ctx context.Context, params a2a.TaskQueryParams) (<-chan StreamEvent, error) {
	task, ok := h.store.Load(ctx, params.ID)
	if !ok {
		return nil, a2a.NewTaskNotFoundError(params.ID)
	}

	out := make(chan StreamEvent, 1)
	out <- StreamEvent{Event: a2a.NewTaskEvent(*trimHistory(task, params.HistoryLength))}

	if task.Status.State.IsTerminal() {
		close(out)
		return out, nil
	}

	h.bus.RegisterContext(task.ContextID)
	q := queue.New(h.bus, task.ContextID, taskFilterFor(task))
	mgr := resultmgr.New(h.store, h.logger, task, nil)

	go func() {
		defer close(out)
		defer q.Stop()
		done := ctx.Done()
		for {
			event, ok := q.Next(done)
			if !ok {
				return
			}
			mgr.Apply(ctx, event)
			select {
			case out <- StreamEvent{Event: event}:
			case <-done:
				return
			}
			if event.IsFinal() {
				return
			}
		}
	}()
	return out, nil
}

// resolveTaskAndContext loads the task named by message.TaskID (if any) and
// derives the contextId to register on the bus. It returns message with
// ContextID filled in so the caller passes the very same value on to the
// Executor — otherwise the Executor would be free to mint its own contextId
// and its events would never reach the queue registered here.
func (h *Handler) resolveTaskAndContext(ctx context.Context, message a2a.Message) (*a2a.Task, a2a.Message, string, error) {
	if message.MessageID == "" {
		return nil, message, "", a2a.NewInvalidParamsError("messageId is required")
	}

	var existingTask *a2a.Task
	if message.TaskID != nil && *message.TaskID != "" {
		task, ok := h.store.Load(ctx, *message.TaskID)
		if !ok {
			return nil, message, "", a2a.NewTaskNotFoundError(*message.TaskID)
		}
		existingTask = task
	}

	contextID := ""
	switch {
	case message.ContextID != nil && *message.ContextID != "":
		contextID = *message.ContextID
	case existingTask != nil:
		contextID = existingTask.ContextID
	default:
		contextID = uuid.NewString()
	}
	message.ContextID = &contextID
	return existingTask, message, contextID, nil
}

// taskFilterFor restricts a queue to a specific task's events once that
// task's id is known; for a brand-new task (id not yet assigned) every event
// on the context is accepted since the Executor's own Task event is what
// establishes the id.
func taskFilterFor(existingTask *a2a.Task) queue.Filter {
	if existingTask == nil {
		return nil
	}
	taskID := existingTask.ID
	return func(e a2a.Event) bool {
		switch e.Kind {
		case a2a.EventKindTask:
			return e.Task != nil && e.Task.ID == taskID
		case a2a.EventKindStatusUpdate:
			return e.StatusUpdate != nil && e.StatusUpdate.TaskID == taskID
		case a2a.EventKindArtifactUpdate:
			return e.ArtifactUpdate != nil && e.ArtifactUpdate.TaskID == taskID
		case a2a.EventKindMessage:
			return true
		default:
			return true
		}
	}
}

func trimHistory(task *a2a.Task, historyLength *int) *a2a.Task {
	if task == nil || historyLength == nil || *historyLength < 0 {
		return task
	}
	trimmed := task.Clone()
	n := *historyLength
	if len(trimmed.History) > n {
		trimmed.History = trimmed.History[len(trimmed.History)-n:]
	}
	return trimmed
}
