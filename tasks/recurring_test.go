package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"todo-agent/domain"
	"todo-agent/storage"
)

type notice struct{ owner, title, body string }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) Notify(_ context.Context, owner, title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{owner, title, body})
}

func newRecurringService(t *testing.T) (*Service, *recordingSink, *recordingNotifier) {
	t.Helper()
	mem := storage.NewMemory()
	sink := &recordingSink{}
	n := &recordingNotifier{}
	svc := NewService(mem, sink, nil, WithRecurrences(mem), WithNotifier(n))
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, sink, n
}

func mustRecurrence(t *testing.T, svc *Service, owner string, in domain.RecurrenceInput) domain.Recurrence {
	t.Helper()
	r, err := svc.CreateRecurrence(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("create recurrence: %v", err)
	}
	return r
}

func TestCompletingRecurringTaskCreatesNext(t *testing.T) {
	svc, sink, n := newRecurringService(t)
	ctx := context.Background()
	r := mustRecurrence(t, svc, "alice", domain.RecurrenceInput{Type: "daily", Interval: 2})

	first, err := svc.Create(ctx, "alice", domain.TaskInput{Title: "Water plants", Priority: "high", RecurrenceID: r.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Toggle(ctx, "alice", first.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	all, err := svc.List(ctx, "alice", domain.StatusAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected the next occurrence, got %+v", all)
	}
	next := all[1]
	if next.IsComplete || next.Title != first.Title || next.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected next occurrence %+v", next)
	}
	if next.RecurrenceID != r.ID || next.ParentTaskID != first.ID {
		t.Fatalf("next occurrence not linked: %+v", next)
	}
	// Undated tasks repeat from the moment they were completed.
	if next.DueDate == nil || next.DueDate.Sub(next.CreatedAt) != 48*time.Hour {
		t.Fatalf("expected due two days after completion, got %v (created %v)", next.DueDate, next.CreatedAt)
	}

	want := []domain.TaskEventType{domain.TaskCreated, domain.TaskCompleted, domain.TaskCreated}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	if len(n.notices) != 1 {
		t.Fatalf("expected one notice, got %+v", n.notices)
	}
	if n.notices[0].owner != "alice" || n.notices[0].title != "Next occurrence created" ||
		!strings.Contains(n.notices[0].body, `"Water plants"`) {
		t.Fatalf("unexpected notice %+v", n.notices[0])
	}
}

func TestNextOccurrenceKeepsSeriesRoot(t *testing.T) {
	svc, _, _ := newRecurringService(t)
	ctx := context.Background()
	r := mustRecurrence(t, svc, "alice", domain.RecurrenceInput{Type: "monthly", DayOfMonth: 31})
	due := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)

	first, err := svc.Create(ctx, "alice", domain.TaskInput{Title: "Rent", DueDate: &due, RecurrenceID: r.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Toggle(ctx, "alice", first.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	all, _ := svc.List(ctx, "alice", domain.StatusPending)
	if len(all) != 1 || !all[0].DueDate.Equal(time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected Feb 29 occurrence, got %+v", all)
	}
	if _, err := svc.Toggle(ctx, "alice", all[0].ID); err != nil {
		t.Fatalf("toggle second: %v", err)
	}
	all, _ = svc.List(ctx, "alice", domain.StatusPending)
	if len(all) != 1 || all[0].ParentTaskID != first.ID {
		t.Fatalf("expected third occurrence rooted at %s, got %+v", first.ID, all)
	}
	if !all[0].DueDate.Equal(time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected Mar 31, got %v", all[0].DueDate)
	}
}

func TestRecurrenceStopsAfterEndOrDelete(t *testing.T) {
	svc, _, n := newRecurringService(t)
	ctx := context.Background()
	due := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	end := due.Add(12 * time.Hour)

	ended := mustRecurrence(t, svc, "alice", domain.RecurrenceInput{Type: "daily", EndDate: &end})
	a, err := svc.Create(ctx, "alice", domain.TaskInput{Title: "Last one", DueDate: &due, RecurrenceID: ended.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Toggle(ctx, "alice", a.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	gone := mustRecurrence(t, svc, "alice", domain.RecurrenceInput{Type: "daily"})
	b, err := svc.Create(ctx, "alice", domain.TaskInput{Title: "Orphan", RecurrenceID: gone.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteRecurrence(ctx, "alice", gone.ID); err != nil {
		t.Fatalf("delete recurrence: %v", err)
	}
	if _, err := svc.Toggle(ctx, "alice", b.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	all, _ := svc.List(ctx, "alice", domain.StatusAll)
	if len(all) != 2 || len(n.notices) != 0 {
		t.Fatalf("expected no new occurrences, got %+v and %+v", all, n.notices)
	}
	if err := svc.DeleteRecurrence(ctx, "alice", gone.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecurrenceLinksAreValidated(t *testing.T) {
	svc, _, _ := newRecurringService(t)
	ctx := context.Background()
	theirs := mustRecurrence(t, svc, "bob", domain.RecurrenceInput{Type: "daily"})

	var ve *domain.ValidationError
	_, err := svc.Create(ctx, "alice", domain.TaskInput{Title: "x", RecurrenceID: theirs.ID})
	if !errors.As(err, &ve) || ve.Field != "recurrence_id" {
		t.Fatalf("expected recurrence_id validation error, got %v", err)
	}

	task := mustCreate(t, svc, "alice", "y")
	bad := "nope"
	if _, err := svc.Patch(ctx, "alice", task.ID, domain.TaskPatch{RecurrenceID: &bad}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	mine := mustRecurrence(t, svc, "alice", domain.RecurrenceInput{Type: "weekly"})
	patched, err := svc.Patch(ctx, "alice", task.ID, domain.TaskPatch{RecurrenceID: &mine.ID})
	if err != nil || patched.RecurrenceID != mine.ID {
		t.Fatalf("attach: %+v %v", patched, err)
	}
	empty := ""
	patched, err = svc.Patch(ctx, "alice", task.ID, domain.TaskPatch{RecurrenceID: &empty})
	if err != nil || patched.RecurrenceID != "" {
		t.Fatalf("detach: %+v %v", patched, err)
	}

	plain, _ := newTestService(t)
	if _, err := plain.Create(ctx, "alice", domain.TaskInput{Title: "z", RecurrenceID: mine.ID}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error without a recurrence store, got %v", err)
	}
}

func TestDeleteTagStripsTasksAndEmitsUpdates(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b"} {
		if _, err := svc.Create(ctx, "alice", domain.TaskInput{Title: title, Tags: []string{"errand", "home"}}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustCreate(t, svc, "alice", "untagged")
	if _, err := svc.CreateTag(ctx, "alice", domain.TagInput{Name: "errand"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for a tag in use, got %v", err)
	}

	changed, err := svc.DeleteTag(ctx, "alice", " Errand ")
	if err != nil || changed != 2 {
		t.Fatalf("expected 2 changed tasks, got %d %v", changed, err)
	}
	types := sink.types()
	if types[len(types)-1] != domain.TaskUpdated || types[len(types)-2] != domain.TaskUpdated {
		t.Fatalf("expected update events, got %v", types)
	}
	tags, err := svc.Tags(ctx, "alice")
	if err != nil || len(tags) != 1 || tags[0].Name != "home" || tags[0].TaskCount != 2 {
		t.Fatalf("unexpected tags %+v %v", tags, err)
	}
	if _, err := svc.DeleteTag(ctx, "alice", "errand"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.CreateTag(ctx, "alice", domain.TagInput{Name: "later"}); err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if changed, err := svc.DeleteTag(ctx, "alice", "later"); err != nil || changed != 0 {
		t.Fatalf("expected registered tag removed without task changes, got %d %v", changed, err)
	}
}
