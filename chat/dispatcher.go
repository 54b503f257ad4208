package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

// TaskService is the subset of tasks.Service the tools operate on.
type TaskService interface {
	Create(ctx context.Context, owner string, in domain.TaskInput) (domain.Task, error)
	List(ctx context.Context, owner string, filter domain.StatusFilter) ([]domain.Task, error)
	GetByPosition(ctx context.Context, owner string, position int) (domain.Task, error)
	Patch(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	UpdateByPosition(ctx context.Context, owner string, position int, patch domain.TaskPatch) (domain.Task, error)
	DeleteByPosition(ctx context.Context, owner string, position int) (domain.Task, error)
}

const (
	msgNoTasks       = "You have no tasks yet. Would you like to add one?"
	msgNeedTitle     = "I need a title for the task. What would you like to call it?"
	msgNeedChange    = "What would you like to change? You can update the title or description."
	msgStoreFailure  = "Something went wrong while updating your tasks. Please try again."
	msgUnknownTool   = "I can't do that yet. I can add, list, complete, delete or update tasks."
	msgBadArguments  = "I couldn't understand that request. Could you rephrase it?"
	msgBadPosition   = "Task numbers are whole numbers like 1, 2 or 3."
	msgTitleTooLong  = "The title is too long. Please keep it under 200 characters."
	msgDescTooLong   = "The description is too long. Please keep it under 2000 characters."
	outcomeOK        = "ok"
	outcomeRejected  = "rejected"
	outcomeNotFound  = "not_found"
	outcomeStoreFail = "error"
)

type dispatcherMetrics struct {
	calls *prometheus.CounterVec
}

func newDispatcherMetrics(reg prometheus.Registerer) *dispatcherMetrics {
	return &dispatcherMetrics{
		calls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "todo_agent_tool_calls_total",
			Help: "Tool calls executed on behalf of the chat agent.",
		}, []string{"tool", "outcome"}),
	}
}

// Dispatcher executes tool calls against the owner's tasks and renders the result as
// a sentence the model can relay. It never returns an error.
type Dispatcher struct {
	tasks   TaskService
	log     *log.Logger
	metrics *dispatcherMetrics
}

// NewDispatcher creates a Dispatcher. A nil reg leaves the metrics unregistered.
func NewDispatcher(tasks TaskService, logger *log.Logger, reg prometheus.Registerer) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Dispatcher{tasks: tasks, log: logger, metrics: newDispatcherMetrics(reg)}
}

// Execute parses and runs one tool call for owner.
func (d *Dispatcher) Execute(ctx context.Context, owner, name, args string) string {
	call, err := ParseCall(name, args)
	if err != nil {
		d.record(name, outcomeRejected)
		return d.parseFailure(name, err)
	}
	result, outcome := d.run(ctx, owner, call)
	d.record(call.Tool(), outcome)
	return result
}

func (d *Dispatcher) record(tool, outcome string) {
	switch tool {
	case ToolAddTask, ToolListTasks, ToolCompleteTask, ToolDeleteTask, ToolUpdateTask:
	default:
		tool = "unknown"
	}
	d.metrics.calls.WithLabelValues(tool, outcome).Inc()
}

func (d *Dispatcher) parseFailure(name string, err error) string {
	var missing *MissingArgumentError
	var invalid *domain.ValidationError
	switch {
	case errors.Is(err, ErrUnknownTool):
		d.log.WithField("tool", name).Warn("model requested unknown tool")
		return msgUnknownTool
	case errors.As(err, &missing):
		return fmt.Sprintf("Please specify which task number to %s.", verb(name))
	case errors.As(err, &invalid) && invalid.Field == "position":
		return msgBadPosition
	case errors.As(err, &invalid) && invalid.Field == "filter":
		return "I can list all, pending or completed tasks. Which would you like?"
	}
	return msgBadArguments
}

func verb(tool string) string {
	switch tool {
	case ToolCompleteTask:
		return "complete"
	case ToolDeleteTask:
		return "delete"
	}
	return "update"
}

func (d *Dispatcher) run(ctx context.Context, owner string, call Call) (string, string) {
	switch c := call.(type) {
	case AddTask:
		return d.addTask(ctx, owner, c)
	case ListTasks:
		return d.listTasks(ctx, owner, c)
	case CompleteTask:
		return d.completeTask(ctx, owner, c)
	case DeleteTask:
		return d.deleteTask(ctx, owner, c)
	case UpdateTask:
		return d.updateTask(ctx, owner, c)
	}
	return msgUnknownTool, outcomeRejected
}

func (d *Dispatcher) addTask(ctx context.Context, owner string, c AddTask) (string, string) {
	if strings.TrimSpace(c.Title) == "" {
		return msgNeedTitle, outcomeRejected
	}
	task, err := d.tasks.Create(ctx, owner, domain.TaskInput{Title: c.Title, Description: c.Description})
	if err != nil {
		return d.failure(ToolAddTask, err, 0)
	}
	return fmt.Sprintf("Created task: '%s'", task.Title), outcomeOK
}

func (d *Dispatcher) listTasks(ctx context.Context, owner string, c ListTasks) (string, string) {
	tasks, err := d.tasks.List(ctx, owner, c.Filter)
	if err != nil {
		return d.failure(ToolListTasks, err, 0)
	}
	if len(tasks) == 0 {
		switch c.Filter {
		case domain.StatusPending:
			return "You have no pending tasks.", outcomeOK
		case domain.StatusCompleted:
			return "You have no completed tasks.", outcomeOK
		}
		return msgNoTasks, outcomeOK
	}
	var b strings.Builder
	b.WriteString("Your tasks:")
	for i, t := range tasks {
		status := "pending"
		if t.IsComplete {
			status = "completed"
		}
		fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, status, t.Title)
	}
	return b.String(), outcomeOK
}

func (d *Dispatcher) completeTask(ctx context.Context, owner string, c CompleteTask) (string, string) {
	task, err := d.tasks.GetByPosition(ctx, owner, c.Position)
	if err != nil {
		return d.failure(ToolCompleteTask, err, c.Position)
	}
	if task.IsComplete {
		return fmt.Sprintf("'%s' is already marked as complete.", task.Title), outcomeOK
	}
	done := true
	task, err = d.tasks.Patch(ctx, owner, task.ID, domain.TaskPatch{IsComplete: &done})
	if err != nil {
		return d.failure(ToolCompleteTask, err, c.Position)
	}
	return fmt.Sprintf("Marked '%s' as complete.", task.Title), outcomeOK
}

func (d *Dispatcher) deleteTask(ctx context.Context, owner string, c DeleteTask) (string, string) {
	task, err := d.tasks.DeleteByPosition(ctx, owner, c.Position)
	if err != nil {
		return d.failure(ToolDeleteTask, err, c.Position)
	}
	return fmt.Sprintf("Deleted task: '%s'", task.Title), outcomeOK
}

func (d *Dispatcher) updateTask(ctx context.Context, owner string, c UpdateTask) (string, string) {
	if c.Title == nil && c.Description == nil {
		return msgNeedChange, outcomeRejected
	}
	task, err := d.tasks.UpdateByPosition(ctx, owner, c.Position, domain.TaskPatch{Title: c.Title, Description: c.Description})
	if err != nil {
		return d.failure(ToolUpdateTask, err, c.Position)
	}
	var changes []string
	if c.Title != nil {
		changes = append(changes, fmt.Sprintf("title to '%s'", task.Title))
	}
	if c.Description != nil {
		changes = append(changes, "description")
	}
	return fmt.Sprintf("Updated %s for task #%d.", strings.Join(changes, " and "), c.Position), outcomeOK
}

// failure renders an error from the task service without exposing ids or internals.
func (d *Dispatcher) failure(tool string, err error, position int) (string, string) {
	var posErr *domain.PositionError
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &posErr):
		return notFoundMessage(posErr.Position, posErr.Count), outcomeNotFound
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("I couldn't find task #%d. It may have just been removed.", position), outcomeNotFound
	case errors.As(err, &invalid):
		switch invalid.Field {
		case "title":
			if strings.Contains(invalid.Message, "empty") {
				return msgNeedTitle, outcomeRejected
			}
			return msgTitleTooLong, outcomeRejected
		case "description":
			return msgDescTooLong, outcomeRejected
		}
		return msgBadArguments, outcomeRejected
	}
	d.log.WithError(err).WithField("tool", tool).Error("tool execution failed")
	return msgStoreFailure, outcomeStoreFail
}

func notFoundMessage(position, count int) string {
	switch count {
	case 0:
		return msgNoTasks
	case 1:
		return fmt.Sprintf("I couldn't find task #%d. You only have 1 task.", position)
	}
	return fmt.Sprintf("I couldn't find task #%d. You only have %d tasks.", position, count)
}
