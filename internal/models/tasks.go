// Package models defines background task structures shared between the task
// manager and the orchestrator.
package models

import "time"

// TaskType identifies the kind of background operation a task runs.
type TaskType string

const (
	// TaskTypeAnalysis runs a psychologist-role analysis in the background.
	TaskTypeAnalysis TaskType = "analysis"
	// TaskTypeSummarization condenses history for long sessions.
	TaskTypeSummarization TaskType = "summarization"
)

// TaskStatus tracks a task through its one-way lifecycle.
// Valid moves: pending -> running -> completed | failed. Never backward.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task records the lifecycle of one background operation. Created by the task
// manager when scheduled and mutated only by the manager.
type Task struct {
	ID         string     `json:"id"`
	Type       TaskType   `json:"type"`
	OwnerID    string     `json:"owner_id"` // owning conversation's user ID
	Status     TaskStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	Result     any        `json:"-"`
	Err        error      `json:"-"`
}
