// Package chat turns natural-language messages into task operations through model
// function calling, and keeps the conversation transcript.
package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

const (
	// HistoryLimit is the number of prior messages replayed to the model.
	HistoryLimit = 20
	// MaxMessageLength bounds a single user message.
	MaxMessageLength = 2000
	// FallbackReply is returned when the model cannot be reached.
	FallbackReply = "Something went wrong, please try again."
)

// SystemPrompt instructs the model how to use the task tools.
const SystemPrompt = `You are a helpful task management assistant. Help users manage their todo list.

When users want to:
- Add a task: Use add_task with the title (and optionally a description)
- View tasks: Use list_tasks (optionally filter by status: all, pending, completed)
- Complete a task: Use complete_task with the position number (1, 2, 3, etc.)
- Delete a task: Use delete_task with the position number
- Update a task: Use update_task with the position number and the new title/description

Always confirm actions with the task title. Be concise and friendly.
When listing tasks, the position number is shown before each task - users reference tasks by these numbers.`

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ModelMessage is one entry of the model input.
type ModelMessage struct {
	Role       domain.Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Completion is the model output for one call.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Model completes a chat. tools is nil on the follow-up call that produces the final text.
// Implementations report transport and provider failures as *UpstreamError.
type Model interface {
	Complete(ctx context.Context, messages []ModelMessage, tools []ToolSpec) (Completion, error)
}

// UpstreamError wraps a failed model call.
type UpstreamError struct {
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return "model: " + e.Reason
	}
	return fmt.Sprintf("model: %s: %v", e.Reason, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ToolExecutor runs one tool call and returns the text handed back to the model.
type ToolExecutor interface {
	Execute(ctx context.Context, owner, name, args string) string
}

// Reply is the result of one chat turn.
type Reply struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type agentMetrics struct {
	turns         *prometheus.CounterVec
	modelFailures *prometheus.CounterVec
}

func newAgentMetrics(reg prometheus.Registerer) *agentMetrics {
	f := promauto.With(reg)
	return &agentMetrics{
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_agent_chat_turns_total",
			Help: "Chat turns handled, by result.",
		}, []string{"result"}),
		modelFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_agent_model_failures_total",
			Help: "Failed model calls, by stage.",
		}, []string{"stage"}),
	}
}

// Agent runs one chat turn: load history, call the model, execute tools, persist.
type Agent struct {
	conversations *Conversations
	tools         ToolExecutor
	model         Model
	log           *log.Logger
	metrics       *agentMetrics
}

func NewAgent(conversations *Conversations, tools ToolExecutor, model Model, logger *log.Logger, reg prometheus.Registerer) *Agent {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Agent{
		conversations: conversations,
		tools:         tools,
		model:         model,
		log:           logger,
		metrics:       newAgentMetrics(reg),
	}
}

// ValidateMessage trims a user message and bounds its length.
func ValidateMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", &domain.ValidationError{Field: "message", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return "", &domain.ValidationError{Field: "message", Message: fmt.Sprintf("must be at most %d characters", MaxMessageLength)}
	}
	return message, nil
}

// Respond handles one user message. Model failures produce FallbackReply with a nil
// error; the user message is persisted before the model is called and is kept.
// Store failures are returned.
func (a *Agent) Respond(ctx context.Context, owner, conversationID, message string) (Reply, error) {
	message, err := ValidateMessage(message)
	if err != nil {
		return Reply{}, err
	}
	conv, err := a.conversations.GetOrCreate(ctx, owner, conversationID, message)
	if err != nil {
		return Reply{}, err
	}
	history, err := a.conversations.History(ctx, owner, conv.ID, HistoryLimit)
	if err != nil {
		return Reply{}, err
	}
	if _, err := a.conversations.AppendMessage(ctx, conv.ID, owner, domain.RoleUser, message, ""); err != nil {
		return Reply{}, err
	}

	input := make([]ModelMessage, 0, len(history)+2)
	input = append(input, ModelMessage{Role: domain.RoleSystem, Content: SystemPrompt})
	for _, h := range history {
		input = append(input, ModelMessage{Role: h.Role, Content: h.Content})
	}
	input = append(input, ModelMessage{Role: domain.RoleUser, Content: message})

	logger := a.log.WithFields(log.Fields{"user": owner, "conversation": conv.ID})
	reply := Reply{ConversationID: conv.ID}

	first, err := a.model.Complete(ctx, input, Tools)
	if err != nil {
		return a.fallback(logger, reply, "initial", err), nil
	}

	content := first.Content
	var toolCalls string
	if len(first.ToolCalls) > 0 {
		input = append(input, ModelMessage{Role: domain.RoleAssistant, Content: first.Content, ToolCalls: first.ToolCalls})
		for _, call := range first.ToolCalls {
			result := a.tools.Execute(ctx, owner, call.Name, call.Arguments)
			logger.WithField("tool", call.Name).Debug("tool executed")
			input = append(input, ModelMessage{Role: domain.RoleTool, Content: result, ToolCallID: call.ID})
		}
		final, err := a.model.Complete(ctx, input, nil)
		if err != nil {
			return a.fallback(logger, reply, "final", err), nil
		}
		content = final.Content
		toolCalls = encodeToolCalls(first.ToolCalls)
	}

	if _, err := a.conversations.AppendMessage(ctx, conv.ID, owner, domain.RoleAssistant, content, toolCalls); err != nil {
		return Reply{}, err
	}
	a.metrics.turns.WithLabelValues("ok").Inc()
	reply.Message = content
	return reply, nil
}

func (a *Agent) fallback(logger *log.Entry, reply Reply, stage string, err error) Reply {
	logger.WithError(err).WithField("stage", stage).Error("model call failed")
	a.metrics.modelFailures.WithLabelValues(stage).Inc()
	a.metrics.turns.WithLabelValues("fallback").Inc()
	reply.Message = FallbackReply
	return reply
}

type toolCallRecord struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func encodeToolCalls(calls []ToolCall) string {
	records := make([]toolCallRecord, len(calls))
	for i, c := range calls {
		records[i] = toolCallRecord{ID: c.ID, Type: "function", Function: toolCallFunction{Name: c.Name, Arguments: c.Arguments}}
	}
	data, err := sonic.MarshalString(records)
	if err != nil {
		return ""
	}
	return data
}
