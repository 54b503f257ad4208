package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"todo-agent/domain"
	"todo-agent/storage"
	"todo-agent/tasks"
)

type scriptedModel struct {
	replies []Completion
	errs    []error
	calls   [][]ModelMessage
	tools   [][]ToolSpec
}

func (m *scriptedModel) Complete(_ context.Context, messages []ModelMessage, tools []ToolSpec) (Completion, error) {
	i := len(m.calls)
	m.calls = append(m.calls, append([]ModelMessage(nil), messages...))
	m.tools = append(m.tools, tools)
	if i < len(m.errs) && m.errs[i] != nil {
		return Completion{}, m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return Completion{}, &UpstreamError{Reason: "no scripted reply"}
}

type agentFixture struct {
	agent *Agent
	model *scriptedModel
	conv  *Conversations
	tasks *tasks.Service
	store *storage.Memory
	hook  *logtest.Hook
	agm   *agentMetrics
}

func newAgentFixture(model *scriptedModel) *agentFixture {
	store := storage.NewMemory()
	svc := tasks.NewService(store, nil, nil)
	conv := NewConversations(store)
	logger, hook := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()
	agent := NewAgent(conv, NewDispatcher(svc, logger, reg), model, logger, reg)
	return &agentFixture{agent: agent, model: model, conv: conv, tasks: svc, store: store, hook: hook, agm: agent.metrics}
}

func TestAgentDirectReply(t *testing.T) {
	f := newAgentFixture(&scriptedModel{replies: []Completion{{Content: "Hi there!"}}})
	ctx := context.Background()

	reply, err := f.agent.Respond(ctx, "u", "", "  hello  ")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply.Message != "Hi there!" || reply.ConversationID == "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	input := f.model.calls[0]
	if input[0].Role != domain.RoleSystem || input[0].Content != SystemPrompt {
		t.Fatalf("system prompt must come first: %+v", input[0])
	}
	if last := input[len(input)-1]; last.Role != domain.RoleUser || last.Content != "hello" {
		t.Fatalf("user message must come last: %+v", last)
	}
	if len(f.model.tools[0]) != len(Tools) {
		t.Fatalf("first call must offer the tools")
	}

	msgs, _ := f.store.ListMessages(ctx, "u", reply.ConversationID)
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant || msgs[1].ToolCalls != "" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
}

func TestAgentExecutesToolsThenAsksForFinalText(t *testing.T) {
	model := &scriptedModel{replies: []Completion{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: ToolAddTask, Arguments: `{"title":"Buy milk"}`}}},
		{Content: "Done! I added 'Buy milk'."},
	}}
	f := newAgentFixture(model)
	ctx := context.Background()

	reply, err := f.agent.Respond(ctx, "u", "", "add buy milk")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply.Message != "Done! I added 'Buy milk'." {
		t.Fatalf("unexpected reply: %q", reply.Message)
	}
	if len(model.calls) != 2 {
		t.Fatalf("expected two model calls, got %d", len(model.calls))
	}
	if model.tools[1] != nil {
		t.Fatalf("follow-up call must not offer tools")
	}
	second := model.calls[1]
	toolMsg := second[len(second)-1]
	if toolMsg.Role != domain.RoleTool || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "Created task: 'Buy milk'" {
		t.Fatalf("unexpected tool message: %+v", toolMsg)
	}
	if assistant := second[len(second)-2]; assistant.Role != domain.RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool-call message missing: %+v", assistant)
	}

	list, _ := f.tasks.List(ctx, "u", domain.StatusAll)
	if len(list) != 1 || list[0].Title != "Buy milk" {
		t.Fatalf("task not created: %+v", list)
	}
	msgs, _ := f.store.ListMessages(ctx, "u", reply.ConversationID)
	if len(msgs) != 2 || msgs[1].ToolCalls == "" {
		t.Fatalf("assistant message should carry tool call metadata: %+v", msgs)
	}
}

func TestAgentUsesAuthenticatedOwnerForTools(t *testing.T) {
	model := &scriptedModel{replies: []Completion{
		{ToolCalls: []ToolCall{{ID: "c", Name: ToolDeleteTask, Arguments: `{"position":1,"user_id":"victim"}`}}},
		{Content: "ok"},
	}}
	f := newAgentFixture(model)
	ctx := context.Background()
	if _, err := f.tasks.Create(ctx, "victim", domain.TaskInput{Title: "keep"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := f.agent.Respond(ctx, "attacker", "", "delete task 1"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	left, _ := f.tasks.List(ctx, "victim", domain.StatusAll)
	if len(left) != 1 {
		t.Fatalf("victim's task was deleted")
	}
}

func TestAgentFallbackKeepsUserMessage(t *testing.T) {
	model := &scriptedModel{errs: []error{&UpstreamError{Reason: "timeout", Err: context.DeadlineExceeded}}}
	f := newAgentFixture(model)
	ctx := context.Background()

	reply, err := f.agent.Respond(ctx, "u", "", "what's on my list?")
	if err != nil {
		t.Fatalf("model failure must not surface as error: %v", err)
	}
	if reply.Message != FallbackReply {
		t.Fatalf("unexpected reply: %q", reply.Message)
	}
	msgs, _ := f.store.ListMessages(ctx, "u", reply.ConversationID)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("only the user message should be stored: %+v", msgs)
	}
	if n := testutil.ToFloat64(f.agm.modelFailures.WithLabelValues("initial")); n != 1 {
		t.Fatalf("expected one initial failure, got %v", n)
	}
	entry := f.hook.LastEntry()
	if entry == nil || entry.Message != "model call failed" {
		t.Fatalf("expected failure to be logged, got %+v", entry)
	}
}

func TestAgentFallbackOnFollowUpFailure(t *testing.T) {
	model := &scriptedModel{
		replies: []Completion{{ToolCalls: []ToolCall{{ID: "c", Name: ToolListTasks, Arguments: `{}`}}}},
		errs:    []error{nil, &UpstreamError{Reason: "rate limited"}},
	}
	f := newAgentFixture(model)

	reply, err := f.agent.Respond(context.Background(), "u", "", "list")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply.Message != FallbackReply {
		t.Fatalf("unexpected reply: %q", reply.Message)
	}
	if n := testutil.ToFloat64(f.agm.modelFailures.WithLabelValues("final")); n != 1 {
		t.Fatalf("expected one final failure, got %v", n)
	}
}

func TestAgentReplaysHistory(t *testing.T) {
	model := &scriptedModel{replies: []Completion{{Content: "first"}, {Content: "second"}}}
	f := newAgentFixture(model)
	ctx := context.Background()

	r1, err := f.agent.Respond(ctx, "u", "", "one")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := f.agent.Respond(ctx, "u", r1.ConversationID, "two"); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	input := model.calls[1]
	want := []string{SystemPrompt, "one", "first", "two"}
	if len(input) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(input))
	}
	for i, content := range want {
		if input[i].Content != content {
			t.Fatalf("message %d: expected %q, got %q", i, content, input[i].Content)
		}
	}
}

func TestAgentRejectsEmptyMessage(t *testing.T) {
	f := newAgentFixture(&scriptedModel{})
	_, err := f.agent.Respond(context.Background(), "u", "", "   ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.model.calls) != 0 {
		t.Fatalf("model must not be called")
	}
}
