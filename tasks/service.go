// Package tasks implements the owner-scoped task operations shared by the REST API
// and the chat tool dispatcher.
package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

// Store persists tasks. Every method is scoped by owner: a task that exists but belongs
// to somebody else is reported as domain.ErrNotFound.
type Store interface {
	InsertTask(ctx context.Context, t domain.Task) error
	// OrderedTasks returns all tasks of the owner in ascending creation order.
	OrderedTasks(ctx context.Context, owner string) ([]domain.Task, error)
	QueryTasks(ctx context.Context, owner string, q domain.TaskQuery) ([]domain.Task, int, error)
	GetTask(ctx context.Context, owner, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, owner, id string) error
	ListTags(ctx context.Context, owner string) ([]domain.Tag, error)
	CreateTag(ctx context.Context, owner string, tag domain.Tag) error
	// DeleteTag strips name from every task of owner and reports the tasks it changed
	// and whether the tag was known at all.
	DeleteTag(ctx context.Context, owner, name string, at time.Time) ([]domain.Task, bool, error)
}

// EventSink receives committed task mutations.
type EventSink interface {
	Publish(ctx context.Context, ev domain.TaskEvent)
}

// Sinks fans an event out to several sinks.
type Sinks []EventSink

func (s Sinks) Publish(ctx context.Context, ev domain.TaskEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ctx, ev)
		}
	}
}

// Service is the task store contract used by handlers and tools.
type Service struct {
	store       Store
	recurrences RecurrenceStore
	notify      Notifier
	sink        EventSink
	log         *log.Logger
	now         func() time.Time
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithRecurrences enables recurring tasks backed by rs.
func WithRecurrences(rs RecurrenceStore) Option {
	return func(s *Service) { s.recurrences = rs }
}

// WithNotifier sends owner notices, such as a freshly created occurrence, through n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

// NewService creates a Service. sink may be nil.
func NewService(store Store, sink EventSink, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{store: store, sink: sink, log: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input and stores a new task for owner.
func (s *Service) Create(ctx context.Context, owner string, in domain.TaskInput) (domain.Task, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Task{}, err
	}
	now := s.now().UTC()
	t := domain.Task{
		ID:        uuid.NewString(),
		UserID:    owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.Apply(&t); err != nil {
		return domain.Task{}, err
	}
	if err := s.checkRecurrence(ctx, owner, t.RecurrenceID); err != nil {
		return domain.Task{}, err
	}
	if err := s.store.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	s.emit(ctx, domain.TaskCreated, t)
	return t, nil
}

// List returns the owner's tasks in creation order, narrowed by filter.
func (s *Service) List(ctx context.Context, owner string, filter domain.StatusFilter) ([]domain.Task, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	all, err := s.store.OrderedTasks(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(all))
	for _, t := range all {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Query runs a filtered, sorted and paginated listing.
func (s *Service) Query(ctx context.Context, owner string, q domain.TaskQuery) ([]domain.Task, int, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, 0, err
	}
	if err := q.Normalize(); err != nil {
		return nil, 0, err
	}
	return s.store.QueryTasks(ctx, owner, q)
}

// Get returns one task by id.
func (s *Service) Get(ctx context.Context, owner, id string) (domain.Task, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Task{}, err
	}
	return s.store.GetTask(ctx, owner, id)
}

// GetByPosition resolves a 1-based position against the owner's full task list.
func (s *Service) GetByPosition(ctx context.Context, owner string, position int) (domain.Task, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Task{}, err
	}
	all, err := s.store.OrderedTasks(ctx, owner)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.ResolvePosition(all, position)
}

// Replace overwrites all writable fields of a task.
func (s *Service) Replace(ctx context.Context, owner, id string, in domain.TaskInput) (domain.Task, error) {
	return s.mutate(ctx, owner, id, func(t *domain.Task) (domain.TaskEventType, error) {
		if err := in.Apply(t); err != nil {
			return "", err
		}
		return domain.TaskUpdated, nil
	})
}

// Patch applies a partial update to a task.
func (s *Service) Patch(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error) {
	return s.mutate(ctx, owner, id, patchFn(patch))
}

// Toggle flips the completion flag of a task.
func (s *Service) Toggle(ctx context.Context, owner, id string) (domain.Task, error) {
	return s.mutate(ctx, owner, id, toggle)
}

// Delete removes a task and returns its last state.
func (s *Service) Delete(ctx context.Context, owner, id string) (domain.Task, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Task{}, err
	}
	t, err := s.store.GetTask(ctx, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.store.DeleteTask(ctx, owner, id); err != nil {
		return domain.Task{}, err
	}
	s.emit(ctx, domain.TaskDeleted, t)
	return t, nil
}

// UpdateByPosition patches the task at position.
func (s *Service) UpdateByPosition(ctx context.Context, owner string, position int, patch domain.TaskPatch) (domain.Task, error) {
	t, err := s.GetByPosition(ctx, owner, position)
	if err != nil {
		return domain.Task{}, err
	}
	return s.Patch(ctx, owner, t.ID, patch)
}

// ToggleByPosition flips the completion flag of the task at position.
func (s *Service) ToggleByPosition(ctx context.Context, owner string, position int) (domain.Task, error) {
	t, err := s.GetByPosition(ctx, owner, position)
	if err != nil {
		return domain.Task{}, err
	}
	return s.Toggle(ctx, owner, t.ID)
}

// DeleteByPosition removes the task at position.
func (s *Service) DeleteByPosition(ctx context.Context, owner string, position int) (domain.Task, error) {
	t, err := s.GetByPosition(ctx, owner, position)
	if err != nil {
		return domain.Task{}, err
	}
	return s.Delete(ctx, owner, t.ID)
}

// mutate re-reads the task by (owner, id) right before writing. A position resolved
// from an older snapshot therefore fails with ErrNotFound if the task is gone, but it
// can still hit a different task than the caller saw if the list was reordered by
// deletes in between. That race is accepted.
func (s *Service) mutate(ctx context.Context, owner, id string, fn func(*domain.Task) (domain.TaskEventType, error)) (domain.Task, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Task{}, err
	}
	t, err := s.store.GetTask(ctx, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	prevRecurrence := t.RecurrenceID
	evType, err := fn(&t)
	if err != nil {
		return domain.Task{}, err
	}
	if t.RecurrenceID != prevRecurrence {
		if err := s.checkRecurrence(ctx, owner, t.RecurrenceID); err != nil {
			return domain.Task{}, err
		}
	}
	t.UserID = owner
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	s.emit(ctx, evType, t)
	if evType == domain.TaskCompleted && t.RecurrenceID != "" {
		s.spawnNext(ctx, t)
	}
	return t, nil
}

func patchFn(patch domain.TaskPatch) func(*domain.Task) (domain.TaskEventType, error) {
	return func(t *domain.Task) (domain.TaskEventType, error) {
		wasComplete := t.IsComplete
		if err := patch.Apply(t); err != nil {
			return "", err
		}
		return completionEvent(wasComplete, t.IsComplete), nil
	}
}

func toggle(t *domain.Task) (domain.TaskEventType, error) {
	t.IsComplete = !t.IsComplete
	return completionEvent(!t.IsComplete, t.IsComplete), nil
}

func completionEvent(before, after bool) domain.TaskEventType {
	switch {
	case !before && after:
		return domain.TaskCompleted
	case before && !after:
		return domain.TaskReopened
	}
	return domain.TaskUpdated
}

func (s *Service) emit(ctx context.Context, typ domain.TaskEventType, t domain.Task) {
	if s.sink == nil {
		return
	}
	ev := domain.TaskEvent{
		ID:     uuid.NewString(),
		Type:   typ,
		UserID: t.UserID,
		TaskID: t.ID,
		Task:   t,
		Time:   s.now().UTC(),
	}
	s.log.WithFields(log.Fields{"event": typ, "task": t.ID, "user": t.UserID}).Debug("task event")
	s.sink.Publish(context.WithoutCancel(ctx), ev)
}
