// Package tasks provides the background task manager for CareFlow.
//
// The manager runs asynchronous operations (principally analyses) outside
// the request path, tracks their lifecycle, and garbage-collects stale
// entries. It never inspects task payloads; results are opaque to it.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BridgeWell/CareFlow/internal/models"
	"github.com/google/uuid"
)

// Operation is a background unit of work producing an opaque result.
type Operation func(ctx context.Context) (any, error)

// entry pairs a task record with its completion signal.
type entry struct {
	task *models.Task
	done chan struct{} // closed exactly once when the task settles
}

// Manager tracks background tasks keyed by identifier. The registry is
// mutated by the scheduler, the sweep, and harvesters; each task's status
// only ever moves forward, so interleavings are safe under the mutex.
type Manager struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	taskTimeout time.Duration
}

// DefaultTaskTimeout bounds how long a background operation may run.
const DefaultTaskTimeout = 2 * time.Minute

// NewManager creates a task manager with the given per-task timeout.
// A non-positive timeout falls back to the default.
func NewManager(taskTimeout time.Duration) *Manager {
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	slog.Debug("tasks.NewManager: creating manager", "taskTimeout", taskTimeout)
	return &Manager{
		entries:     make(map[string]*entry),
		taskTimeout: taskTimeout,
	}
}

// Schedule registers a task and immediately starts its operation on its own
// goroutine. The caller never awaits the operation; it only receives the
// task identifier for later polling.
func (m *Manager) Schedule(taskType models.TaskType, ownerID string, op Operation) string {
	id := uuid.NewString()
	e := &entry{
		task: &models.Task{
			ID:        id,
			Type:      taskType,
			OwnerID:   ownerID,
			Status:    models.TaskStatusPending,
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	slog.Info("tasks.Schedule: task scheduled", "taskID", id, "type", taskType, "ownerID", ownerID)

	go m.run(e, op)
	return id
}

// run executes the operation with a bounded context and settles the task.
func (m *Manager) run(e *entry, op Operation) {
	ctx, cancel := context.WithTimeout(context.Background(), m.taskTimeout)
	defer cancel()

	m.mu.Lock()
	if e.task.Status != models.TaskStatusPending {
		// Already swept as failed before the goroutine got going.
		m.mu.Unlock()
		return
	}
	e.task.Status = models.TaskStatusRunning
	m.mu.Unlock()

	result, err := op(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.task.Status.IsTerminal() {
		// The sweep already failed this task; the late result is ignored.
		slog.Debug("tasks.run: operation settled after task was swept", "taskID", e.task.ID, "status", e.task.Status)
		return
	}
	e.task.FinishedAt = time.Now()
	if err != nil {
		e.task.Status = models.TaskStatusFailed
		e.task.Err = err
		slog.Warn("tasks.run: task failed", "taskID", e.task.ID, "ownerID", e.task.OwnerID, "error", err)
	} else {
		e.task.Status = models.TaskStatusCompleted
		e.task.Result = result
		slog.Info("tasks.run: task completed", "taskID", e.task.ID, "ownerID", e.task.OwnerID)
	}
	close(e.done)
}

// Get returns a snapshot copy of the task, or nil if unknown.
func (m *Manager) Get(id string) *models.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	snapshot := *e.task
	return &snapshot
}

// TasksFor returns snapshot copies of all tasks owned by a conversation.
func (m *Manager) TasksFor(ownerID string) []*models.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Task
	for _, e := range m.entries {
		if e.task.OwnerID == ownerID {
			snapshot := *e.task
			result = append(result, &snapshot)
		}
	}
	return result
}

// CompletedFor returns snapshot copies of completed tasks for a conversation.
func (m *Manager) CompletedFor(ownerID string) []*models.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Task
	for _, e := range m.entries {
		if e.task.OwnerID == ownerID && e.task.Status == models.TaskStatusCompleted {
			snapshot := *e.task
			result = append(result, &snapshot)
		}
	}
	return result
}

// RunningCountFor returns the number of not-yet-settled tasks for a conversation.
func (m *Manager) RunningCountFor(ownerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.entries {
		if e.task.OwnerID == ownerID && !e.task.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// WaitFor blocks until the task settles or the timeout elapses. It races the
// task's completion signal against a timer rather than polling.
func (m *Manager) WaitFor(ctx context.Context, id string, timeout time.Duration) (any, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrTaskNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		m.mu.RLock()
		defer m.mu.RUnlock()
		if e.task.Err != nil {
			return nil, e.task.Err
		}
		return e.task.Result, nil
	case <-timer.C:
		slog.Warn("tasks.WaitFor: timed out waiting for task", "taskID", id, "timeout", timeout)
		return nil, models.ErrTaskTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Remove deletes a task from the registry, typically after harvesting.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	slog.Debug("tasks.Remove: task removed", "taskID", id)
}

// Sweep marks still-running tasks older than the task timeout as failed and
// permanently deletes tasks older than twice the timeout. This bounds memory
// and guarantees no task lives forever even if its operation never settles.
func (m *Manager) Sweep() {
	now := time.Now()
	failCutoff := now.Add(-m.taskTimeout)
	deleteCutoff := now.Add(-2 * m.taskTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	failed := 0
	deleted := 0
	for id, e := range m.entries {
		if e.task.StartedAt.Before(deleteCutoff) {
			if !e.task.Status.IsTerminal() {
				e.task.Status = models.TaskStatusFailed
				e.task.Err = fmt.Errorf("task %s: %w", id, models.ErrTaskTimeout)
				e.task.FinishedAt = now
				close(e.done)
			}
			delete(m.entries, id)
			deleted++
			continue
		}
		if !e.task.Status.IsTerminal() && e.task.StartedAt.Before(failCutoff) {
			e.task.Status = models.TaskStatusFailed
			e.task.Err = fmt.Errorf("task %s: %w", id, models.ErrTaskTimeout)
			e.task.FinishedAt = now
			close(e.done)
			failed++
		}
	}

	if failed > 0 || deleted > 0 {
		slog.Info("tasks.Sweep: sweep completed", "failed", failed, "deleted", deleted, "remaining", len(m.entries))
	}
}
