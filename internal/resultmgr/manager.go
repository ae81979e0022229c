// Package resultmgr folds an event stream into the current task snapshot and
// persists each change, the way the teacher's A2ACapability.applyUpdateToTask
// folds handler updates onto a task before saving — generalized here into a
// standalone reducer driven by bus events rather than a single in-process
// update channel.
package resultmgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/taskstore"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// Manager reduces events for one request into a task (or message) result.
type Manager struct {
	store  *taskstore.Store
	logger *zap.Logger

	currentTask        *a2a.Task
	latestUserMessage  *a2a.Message
	finalMessageResult *a2a.Message
}

// New builds a Manager over store, optionally seeded with a pre-existing
// task (e.g. a task loaded by the Request Handler before dispatch) and the
// user message that triggered this request (prepended to history if the
// first Task event doesn't already carry it).
func New(store *taskstore.Store, logger *zap.Logger, existingTask *a2a.Task, userMessage *a2a.Message) *Manager {
	return &Manager{
		store:             store,
		logger:            logger.Named("resultmgr"),
		currentTask:       existingTask,
		latestUserMessage: userMessage,
	}
}

// Apply reduces one event. Callers drive Apply for every event an Execution
// Event Queue yields, in order, until the queue terminates.
func (m *Manager) Apply(ctx context.Context, event a2a.Event) {
	switch event.Kind {
	case a2a.EventKindMessage:
		if event.Message != nil {
			msg := *event.Message
			m.finalMessageResult = &msg
		}

	case a2a.EventKindTask:
		if event.Task == nil {
			return
		}
		task := event.Task.Clone()
		if m.latestUserMessage != nil && !task.HistoryHasMessage(m.latestUserMessage.MessageID) {
			task.History = append([]a2a.Message{*m.latestUserMessage}, task.History...)
		}
		m.currentTask = task
		m.persist(ctx)

	case a2a.EventKindStatusUpdate:
		if event.StatusUpdate == nil {
			return
		}
		if m.currentTask == nil {
			loaded, ok := m.store.Load(ctx, event.StatusUpdate.TaskID)
			if !ok {
				m.logger.Warn("status update for unknown task, dropping",
					zap.String("taskId", event.StatusUpdate.TaskID))
				return
			}
			m.currentTask = loaded
		}
		m.currentTask.Status = event.StatusUpdate.Status
		if msg := event.StatusUpdate.Status.Message; msg != nil && !m.currentTask.HistoryHasMessage(msg.MessageID) {
			m.currentTask.History = append(m.currentTask.History, *msg)
		}
		m.persist(ctx)

	case a2a.EventKindArtifactUpdate:
		if event.ArtifactUpdate == nil {
			return
		}
		if m.currentTask == nil {
			loaded, ok := m.store.Load(ctx, event.ArtifactUpdate.TaskID)
			if !ok {
				m.logger.Warn("artifact update for unknown task, dropping",
					zap.String("taskId", event.ArtifactUpdate.TaskID))
				return
			}
			m.currentTask = loaded
		}
		m.applyArtifactUpdate(event.ArtifactUpdate)
		m.persist(ctx)

	case a2a.EventKindDiscontinuity:
		m.logger.Info("discontinuity observed, continuing", zap.String("contextId", event.GetContextID()))
	}
}

func (m *Manager) applyArtifactUpdate(update *a2a.ArtifactUpdate) {
	idx := m.currentTask.FindArtifact(update.Artifact.ArtifactID)
	if idx < 0 {
		m.currentTask.Artifacts = append(m.currentTask.Artifacts, update.Artifact)
		return
	}

	existing := &m.currentTask.Artifacts[idx]
	if !update.Append {
		m.currentTask.Artifacts[idx] = update.Artifact
		return
	}

	existing.Parts = append(existing.Parts, update.Artifact.Parts...)
	if update.Artifact.Name != nil {
		existing.Name = update.Artifact.Name
	}
	if update.Artifact.Description != nil {
		existing.Description = update.Artifact.Description
	}
	if update.Artifact.Metadata != nil {
		merged := map[string]interface{}{}
		if existing.Metadata != nil {
			for k, v := range *existing.Metadata {
				merged[k] = v
			}
		}
		for k, v := range *update.Artifact.Metadata {
			merged[k] = v
		}
		existing.Metadata = &merged
	}
}

func (m *Manager) persist(ctx context.Context) {
	if m.currentTask == nil {
		return
	}
	m.store.Save(ctx, m.currentTask, 0)
}

// Result returns the outcome of the reduction so far: either the terminal
// task snapshot, or (if a standalone Message event was the final event) that
// message instead.
func (m *Manager) Result() (*a2a.Task, *a2a.Message) {
	if m.finalMessageResult != nil {
		return nil, m.finalMessageResult
	}
	return m.currentTask, nil
}

// CurrentTask returns the task snapshot accumulated so far, regardless of
// whether a terminal event has been observed.
func (m *Manager) CurrentTask() *a2a.Task {
	return m.currentTask
}
