package chat

import (
	"errors"
	"testing"

	"todo-agent/domain"
)

func TestParseCallVariants(t *testing.T) {
	cases := []struct {
		name string
		args string
		want Call
	}{
		{ToolAddTask, `{"title":"Buy milk","description":"2%"}`, AddTask{Title: "Buy milk", Description: "2%"}},
		{ToolAddTask, `{}`, AddTask{}},
		{ToolListTasks, ``, ListTasks{Filter: domain.StatusAll}},
		{ToolListTasks, `{"filter":"pending"}`, ListTasks{Filter: domain.StatusPending}},
		{ToolCompleteTask, `{"position":2}`, CompleteTask{Position: 2}},
		{ToolCompleteTask, `{"position":"3"}`, CompleteTask{Position: 3}},
		{ToolDeleteTask, `{"position":1.0}`, DeleteTask{Position: 1}},
		{ToolDeleteTask, `{"position":0}`, DeleteTask{Position: 0}},
	}
	for _, tc := range cases {
		got, err := ParseCall(tc.name, tc.args)
		if err != nil {
			t.Fatalf("%s %s: unexpected error %v", tc.name, tc.args, err)
		}
		if got != tc.want {
			t.Fatalf("%s %s: expected %#v, got %#v", tc.name, tc.args, tc.want, got)
		}
	}
}

func TestParseCallUpdateTreatsBlankAsAbsent(t *testing.T) {
	call, err := ParseCall(ToolUpdateTask, `{"position":1,"title":"  New  ","description":"   "}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	u, ok := call.(UpdateTask)
	if !ok {
		t.Fatalf("expected UpdateTask, got %T", call)
	}
	if u.Title == nil || *u.Title != "New" {
		t.Fatalf("unexpected title: %v", u.Title)
	}
	if u.Description != nil {
		t.Fatalf("blank description should be absent")
	}
}

func TestParseCallErrors(t *testing.T) {
	if _, err := ParseCall("drop_table", `{}`); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if _, err := ParseCall(ToolAddTask, `{"title":`); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for malformed JSON, got %v", err)
	}
	if _, err := ParseCall(ToolListTasks, `{"filter":"overdue"}`); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for bad filter, got %v", err)
	}

	_, err := ParseCall(ToolCompleteTask, `{}`)
	var missing *MissingArgumentError
	if !errors.As(err, &missing) || missing.Field != "position" {
		t.Fatalf("expected missing position, got %v", err)
	}

	for _, args := range []string{`{"position":"two"}`, `{"position":1.5}`, `{"position":true}`} {
		_, err := ParseCall(ToolDeleteTask, args)
		var invalid *domain.ValidationError
		if !errors.As(err, &invalid) || invalid.Field != "position" {
			t.Fatalf("%s: expected position validation error, got %v", args, err)
		}
	}
}

func TestToolsCoverEveryVariant(t *testing.T) {
	names := map[string]bool{}
	for _, tool := range Tools {
		names[tool.Name] = true
	}
	for _, name := range []string{ToolAddTask, ToolListTasks, ToolCompleteTask, ToolDeleteTask, ToolUpdateTask} {
		if !names[name] {
			t.Fatalf("tool %s not offered to the model", name)
		}
	}
	if len(Tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(Tools))
	}
}
