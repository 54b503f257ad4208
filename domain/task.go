package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxTags              = 10
	MaxTagLength         = 50
)

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities from low to urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return -1
}

// ParsePriority validates a priority value. Empty input yields medium.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if p == "" {
		return PriorityMedium, nil
	}
	if p.Rank() < 0 {
		return "", invalid("priority", "must be one of low, medium, high, urgent")
	}
	return p, nil
}

// Task is a single todo item owned by exactly one user.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	IsComplete  bool       `json:"is_complete"`
	Priority    Priority   `json:"priority"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	// RecurrenceID links the task to a Recurrence; ParentTaskID points at the first
	// task of the series for generated instances.
	RecurrenceID string    `json:"recurrence_id,omitempty"`
	ParentTaskID string    `json:"parent_task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TaskInput carries the client-writable fields of a task for create and full update.
type TaskInput struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Priority     string     `json:"priority,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	RecurrenceID string     `json:"recurrence_id,omitempty"`
}

// TaskPatch is a partial update; nil fields are left untouched.
// An empty RecurrenceID detaches the task from its series.
type TaskPatch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	IsComplete   *bool      `json:"is_complete,omitempty"`
	Priority     *string    `json:"priority,omitempty"`
	Tags         *[]string  `json:"tags,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	RecurrenceID *string    `json:"recurrence_id,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.IsComplete == nil &&
		p.Priority == nil && p.Tags == nil && p.DueDate == nil && p.RecurrenceID == nil
}

// ValidateTitle trims and bounds a title.
func ValidateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", invalid("title", "must be at most %d characters", MaxTitleLength)
	}
	return title, nil
}

// ValidateDescription trims and bounds a description.
func ValidateDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", invalid("description", "must be at most %d characters", MaxDescriptionLength)
	}
	return description, nil
}

// NormalizeTags lowercases, trims and de-duplicates tag names.
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, invalid("tags", "tag %q is longer than %d characters", tag, MaxTagLength)
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, invalid("tags", "at most %d tags are allowed", MaxTags)
	}
	return out, nil
}

// Apply validates the input and writes it onto t, replacing all writable fields.
func (in TaskInput) Apply(t *Task) error {
	title, err := ValidateTitle(in.Title)
	if err != nil {
		return err
	}
	description, err := ValidateDescription(in.Description)
	if err != nil {
		return err
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return err
	}
	tags, err := NormalizeTags(in.Tags)
	if err != nil {
		return err
	}
	t.Title = title
	t.Description = description
	t.Priority = priority
	t.Tags = tags
	t.DueDate = in.DueDate
	t.RecurrenceID = strings.TrimSpace(in.RecurrenceID)
	return nil
}

// Apply validates the patch and writes the present fields onto t.
func (p TaskPatch) Apply(t *Task) error {
	next := *t
	if p.Title != nil {
		title, err := ValidateTitle(*p.Title)
		if err != nil {
			return err
		}
		next.Title = title
	}
	if p.Description != nil {
		description, err := ValidateDescription(*p.Description)
		if err != nil {
			return err
		}
		next.Description = description
	}
	if p.Priority != nil {
		priority, err := ParsePriority(*p.Priority)
		if err != nil {
			return err
		}
		next.Priority = priority
	}
	if p.Tags != nil {
		tags, err := NormalizeTags(*p.Tags)
		if err != nil {
			return err
		}
		next.Tags = tags
	}
	if p.IsComplete != nil {
		next.IsComplete = *p.IsComplete
	}
	if p.DueDate != nil {
		due := *p.DueDate
		next.DueDate = &due
	}
	if p.RecurrenceID != nil {
		next.RecurrenceID = strings.TrimSpace(*p.RecurrenceID)
	}
	*t = next
	return nil
}
