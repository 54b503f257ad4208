package domain

import "time"

// TaskEventType names a task lifecycle event.
type TaskEventType string

const (
	TaskCreated   TaskEventType = "task.created"
	TaskUpdated   TaskEventType = "task.updated"
	TaskCompleted TaskEventType = "task.completed"
	TaskReopened  TaskEventType = "task.reopened"
	TaskDeleted   TaskEventType = "task.deleted"
)

// Operation maps the event to the create/update/delete verb used by sync clients.
func (t TaskEventType) Operation() string {
	switch t {
	case TaskCreated:
		return "create"
	case TaskDeleted:
		return "delete"
	}
	return "update"
}

// TaskEvent describes one committed task mutation.
type TaskEvent struct {
	ID     string        `json:"id"`
	Type   TaskEventType `json:"type"`
	UserID string        `json:"user_id"`
	TaskID string        `json:"task_id"`
	Task   Task          `json:"task"`
	Time   time.Time     `json:"time"`
}
