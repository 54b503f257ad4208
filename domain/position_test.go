package domain

import (
	"errors"
	"testing"
	"time"
)

func orderedTasks(titles ...string) []Task {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := make([]Task, len(titles))
	for i, title := range titles {
		tasks[i] = Task{ID: title, Title: title, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
	}
	return tasks
}

func TestResolvePositionReturnsNthTask(t *testing.T) {
	tasks := orderedTasks("Buy milk", "Call mom", "Pay rent")
	for p := 1; p <= len(tasks); p++ {
		got, err := ResolvePosition(tasks, p)
		if err != nil {
			t.Fatalf("position %d: unexpected error %v", p, err)
		}
		earlier := 0
		for _, other := range tasks {
			if other.CreatedAt.Before(got.CreatedAt) {
				earlier++
			}
		}
		if earlier != p-1 {
			t.Fatalf("position %d resolved to %q with %d earlier tasks", p, got.Title, earlier)
		}
	}
}

func TestResolvePositionOutOfRange(t *testing.T) {
	tasks := orderedTasks("a", "b", "c")
	for _, p := range []int{-1, 0, 4, 100} {
		_, err := ResolvePosition(tasks, p)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("position %d: expected ErrNotFound, got %v", p, err)
		}
		var posErr *PositionError
		if !errors.As(err, &posErr) {
			t.Fatalf("position %d: expected *PositionError, got %T", p, err)
		}
		if posErr.Position != p || posErr.Count != 3 {
			t.Fatalf("unexpected position error: %+v", posErr)
		}
	}
}

func TestPositionOf(t *testing.T) {
	tasks := orderedTasks("a", "b")
	if got := PositionOf(tasks, "b"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := PositionOf(tasks, "zzz"); got != 0 {
		t.Fatalf("expected 0 for missing id, got %d", got)
	}
}

func TestParsePosition(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "2", want: 2},
		{raw: "0", want: 0},
		{raw: "-3", want: -3},
		{raw: "2.0", want: 2},
		{raw: `"4"`, want: 4},
		{raw: "2.5", wantErr: true},
		{raw: `"two"`, wantErr: true},
		{raw: "true", wantErr: true},
		{raw: "null", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "1e300", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePosition([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v (value %d)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
