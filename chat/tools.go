package chat

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai/jsonschema"

	"todo-agent/domain"
)

// Tool names exposed to the model.
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
	ToolUpdateTask   = "update_task"
)

// ErrUnknownTool is returned by ParseCall for a name outside the tool set.
var ErrUnknownTool = errors.New("unknown tool")

// ToolSpec describes one function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

var positionParam = jsonschema.Definition{
	Type:        jsonschema.Integer,
	Description: "The position number of the task (1, 2, 3, etc.)",
}

// Tools is the fixed tool set offered on the first model call.
var Tools = []ToolSpec{
	{
		Name:        ToolAddTask,
		Description: "Create a new task for the user",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"title":       {Type: jsonschema.String, Description: "The title of the task (required)"},
				"description": {Type: jsonschema.String, Description: "Optional description for the task"},
			},
			Required: []string{"title"},
		},
	},
	{
		Name:        ToolListTasks,
		Description: "List all tasks for the user with position numbers",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"filter": {
					Type:        jsonschema.String,
					Enum:        []string{string(domain.StatusAll), string(domain.StatusPending), string(domain.StatusCompleted)},
					Description: "Filter tasks by status (default: all)",
				},
			},
			Required: []string{},
		},
	},
	{
		Name:        ToolCompleteTask,
		Description: "Mark a task as complete by its position number",
		Parameters: jsonschema.Definition{
			Type:       jsonschema.Object,
			Properties: map[string]jsonschema.Definition{"position": positionParam},
			Required:   []string{"position"},
		},
	},
	{
		Name:        ToolDeleteTask,
		Description: "Delete a task by its position number",
		Parameters: jsonschema.Definition{
			Type:       jsonschema.Object,
			Properties: map[string]jsonschema.Definition{"position": positionParam},
			Required:   []string{"position"},
		},
	},
	{
		Name:        ToolUpdateTask,
		Description: "Update a task's title or description by its position number",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"position":    positionParam,
				"title":       {Type: jsonschema.String, Description: "New title for the task (optional)"},
				"description": {Type: jsonschema.String, Description: "New description for the task (optional)"},
			},
			Required: []string{"position"},
		},
	},
}

// Call is a parsed tool invocation. The concrete type is one of AddTask, ListTasks,
// CompleteTask, DeleteTask or UpdateTask.
type Call interface {
	Tool() string
	sealed()
}

type AddTask struct {
	Title       string
	Description string
}

type ListTasks struct {
	Filter domain.StatusFilter
}

type CompleteTask struct {
	Position int
}

type DeleteTask struct {
	Position int
}

// UpdateTask carries only the fields the model supplied; blank strings count as absent.
type UpdateTask struct {
	Position    int
	Title       *string
	Description *string
}

func (AddTask) Tool() string      { return ToolAddTask }
func (ListTasks) Tool() string    { return ToolListTasks }
func (CompleteTask) Tool() string { return ToolCompleteTask }
func (DeleteTask) Tool() string   { return ToolDeleteTask }
func (UpdateTask) Tool() string   { return ToolUpdateTask }

func (AddTask) sealed()      {}
func (ListTasks) sealed()    {}
func (CompleteTask) sealed() {}
func (DeleteTask) sealed()   {}
func (UpdateTask) sealed()   {}

// MissingArgumentError reports a required argument the model left out.
type MissingArgumentError struct {
	Tool  string
	Field string
}

func (e *MissingArgumentError) Error() string {
	return e.Tool + ": missing " + e.Field
}

func (e *MissingArgumentError) Unwrap() error { return domain.ErrValidation }

type rawArgs struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Filter      *string         `json:"filter"`
	Position    json.RawMessage `json:"position"`
}

// ParseCall decodes the JSON arguments of a named tool call into its variant.
func ParseCall(name string, args string) (Call, error) {
	var raw rawArgs
	if strings.TrimSpace(args) != "" {
		if err := sonic.UnmarshalString(args, &raw); err != nil {
			return nil, &domain.ValidationError{Field: "arguments", Message: "malformed JSON"}
		}
	}

	switch name {
	case ToolAddTask:
		return AddTask{Title: deref(raw.Title), Description: deref(raw.Description)}, nil
	case ToolListTasks:
		filter, err := domain.ParseStatusFilter(deref(raw.Filter))
		if err != nil {
			return nil, err
		}
		return ListTasks{Filter: filter}, nil
	case ToolCompleteTask:
		p, err := position(name, raw.Position)
		if err != nil {
			return nil, err
		}
		return CompleteTask{Position: p}, nil
	case ToolDeleteTask:
		p, err := position(name, raw.Position)
		if err != nil {
			return nil, err
		}
		return DeleteTask{Position: p}, nil
	case ToolUpdateTask:
		p, err := position(name, raw.Position)
		if err != nil {
			return nil, err
		}
		return UpdateTask{Position: p, Title: nonBlank(raw.Title), Description: nonBlank(raw.Description)}, nil
	}
	return nil, ErrUnknownTool
}

func position(tool string, raw json.RawMessage) (int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, &MissingArgumentError{Tool: tool, Field: "position"}
	}
	return domain.ParsePosition(raw)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
