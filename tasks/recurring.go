package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

// RecurrenceStore persists recurrence patterns, scoped by owner like Store.
type RecurrenceStore interface {
	CreateRecurrence(ctx context.Context, r domain.Recurrence) error
	GetRecurrence(ctx context.Context, owner, id string) (domain.Recurrence, error)
	ListRecurrences(ctx context.Context, owner string, limit int) ([]domain.Recurrence, error)
	DeleteRecurrence(ctx context.Context, owner, id string) (bool, error)
}

// Notifier delivers a short notice to every live session of an owner.
type Notifier interface {
	Notify(ctx context.Context, owner, title, body string)
}

const (
	DefaultRecurrenceLimit = 50
	MaxRecurrenceLimit     = 200
)

var errRecurrencesDisabled = errors.New("recurring tasks are not enabled")

// CreateRecurrence validates and stores a new pattern for owner.
func (s *Service) CreateRecurrence(ctx context.Context, owner string, in domain.RecurrenceInput) (domain.Recurrence, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Recurrence{}, err
	}
	if s.recurrences == nil {
		return domain.Recurrence{}, errRecurrencesDisabled
	}
	r := domain.Recurrence{
		ID:        uuid.NewString(),
		UserID:    owner,
		CreatedAt: s.now().UTC(),
	}
	if err := in.Apply(&r); err != nil {
		return domain.Recurrence{}, err
	}
	if err := s.recurrences.CreateRecurrence(ctx, r); err != nil {
		return domain.Recurrence{}, err
	}
	return r, nil
}

func (s *Service) Recurrence(ctx context.Context, owner, id string) (domain.Recurrence, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Recurrence{}, err
	}
	if s.recurrences == nil {
		return domain.Recurrence{}, domain.ErrNotFound
	}
	return s.recurrences.GetRecurrence(ctx, owner, id)
}

// Recurrences lists the owner's patterns, newest first.
func (s *Service) Recurrences(ctx context.Context, owner string, limit int) ([]domain.Recurrence, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	if s.recurrences == nil {
		return []domain.Recurrence{}, nil
	}
	if limit <= 0 {
		limit = DefaultRecurrenceLimit
	}
	if limit > MaxRecurrenceLimit {
		limit = MaxRecurrenceLimit
	}
	return s.recurrences.ListRecurrences(ctx, owner, limit)
}

// DeleteRecurrence ends a series. Existing tasks keep their link but completing them
// no longer creates a new instance.
func (s *Service) DeleteRecurrence(ctx context.Context, owner, id string) error {
	if err := domain.RequireOwner(owner); err != nil {
		return err
	}
	if s.recurrences == nil {
		return domain.ErrNotFound
	}
	ok, err := s.recurrences.DeleteRecurrence(ctx, owner, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// checkRecurrence rejects links to patterns the owner does not have.
func (s *Service) checkRecurrence(ctx context.Context, owner, id string) error {
	if id == "" {
		return nil
	}
	if s.recurrences == nil {
		return &domain.ValidationError{Field: "recurrence_id", Message: errRecurrencesDisabled.Error()}
	}
	_, err := s.recurrences.GetRecurrence(ctx, owner, id)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ValidationError{Field: "recurrence_id", Message: "unknown recurrence"}
	}
	return err
}

// spawnNext creates the following instance of a completed recurring task. The series
// is anchored on the due date, or on the completion time for undated tasks. Failures
// are logged; the completion itself has already been committed.
func (s *Service) spawnNext(ctx context.Context, done domain.Task) {
	if s.recurrences == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	entry := s.log.WithFields(log.Fields{"task": done.ID, "user": done.UserID, "recurrence": done.RecurrenceID})

	r, err := s.recurrences.GetRecurrence(ctx, done.UserID, done.RecurrenceID)
	if errors.Is(err, domain.ErrNotFound) {
		entry.Debug("recurrence gone, no next occurrence")
		return
	}
	if err != nil {
		entry.WithError(err).Error("load recurrence")
		return
	}

	now := s.now().UTC()
	from := now
	if done.DueDate != nil {
		from = *done.DueDate
	}
	due, ok := r.Next(from)
	if !ok {
		entry.Debug("recurrence ended")
		return
	}

	parent := done.ParentTaskID
	if parent == "" {
		parent = done.ID
	}
	next := domain.Task{
		ID:           uuid.NewString(),
		UserID:       done.UserID,
		Title:        done.Title,
		Description:  done.Description,
		Priority:     done.Priority,
		Tags:         append([]string(nil), done.Tags...),
		DueDate:      &due,
		RecurrenceID: r.ID,
		ParentTaskID: parent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertTask(ctx, next); err != nil {
		entry.WithError(err).Error("create next occurrence")
		return
	}
	s.emit(ctx, domain.TaskCreated, next)
	entry.WithField("next", next.ID).Info("next occurrence created")

	if s.notify != nil {
		s.notify.Notify(ctx, next.UserID, "Next occurrence created",
			fmt.Sprintf("%q is due %s.", next.Title, due.Format("Mon, 02 Jan 2006")))
	}
}

// Tags lists the owner's tags with the number of tasks carrying each.
func (s *Service) Tags(ctx context.Context, owner string) ([]domain.Tag, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.ListTags(ctx, owner)
}

// CreateTag registers a tag ahead of use. Names already present return domain.ErrConflict.
func (s *Service) CreateTag(ctx context.Context, owner string, in domain.TagInput) (domain.Tag, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Tag{}, err
	}
	tag, err := in.Validate()
	if err != nil {
		return domain.Tag{}, err
	}
	if err := s.store.CreateTag(ctx, owner, tag); err != nil {
		return domain.Tag{}, err
	}
	return tag, nil
}

// DeleteTag removes a tag from the registry and from every task of owner, and
// reports how many tasks changed.
func (s *Service) DeleteTag(ctx context.Context, owner, name string) (int, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return 0, err
	}
	name, err := domain.NormalizeTagName(name)
	if err != nil {
		return 0, err
	}
	changed, existed, err := s.store.DeleteTag(ctx, owner, name, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if !existed {
		return 0, domain.ErrNotFound
	}
	for _, t := range changed {
		s.emit(ctx, domain.TaskUpdated, t)
	}
	return len(changed), nil
}
