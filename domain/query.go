package domain

import (
	"sort"
	"strings"
)

// StatusFilter selects tasks by completion state.
type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusPending   StatusFilter = "pending"
	StatusCompleted StatusFilter = "completed"
)

// ParseStatusFilter accepts all, pending or completed. Empty input yields all.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return StatusAll, nil
	case StatusAll, StatusPending, StatusCompleted:
		return f, nil
	}
	return "", invalid("filter", "must be one of all, pending, completed")
}

// Match reports whether t passes the filter.
func (f StatusFilter) Match(t Task) bool {
	switch f {
	case StatusPending:
		return !t.IsComplete
	case StatusCompleted:
		return t.IsComplete
	}
	return true
}

// Sortable task columns.
const (
	SortCreatedAt = "created_at"
	SortUpdatedAt = "updated_at"
	SortTitle     = "title"
	SortPriority  = "priority"
	SortDueDate   = "due_date"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TaskQuery is the REST list query: filtering, sorting and pagination.
type TaskQuery struct {
	Status     StatusFilter
	Priorities []Priority
	Tags       []string
	Search     string
	SortBy     string
	Desc       bool
	Limit      int
	Offset     int
}

// Normalize fills defaults and validates sort and paging values.
func (q *TaskQuery) Normalize() error {
	if q.Status == "" {
		q.Status = StatusAll
	}
	switch q.SortBy {
	case "":
		q.SortBy = SortCreatedAt
	case SortCreatedAt, SortUpdatedAt, SortTitle, SortPriority, SortDueDate:
	default:
		return invalid("sort_by", "unsupported sort column %q", q.SortBy)
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit < 0 || q.Limit > MaxPageSize {
		return invalid("limit", "must be between 1 and %d", MaxPageSize)
	}
	if q.Offset < 0 {
		return invalid("offset", "must not be negative")
	}
	q.Search = strings.TrimSpace(q.Search)
	for i, tag := range q.Tags {
		q.Tags[i] = strings.ToLower(strings.TrimSpace(tag))
	}
	return nil
}

// Match reports whether t satisfies every filter in q.
func (q TaskQuery) Match(t Task) bool {
	if !q.Status.Match(t) {
		return false
	}
	if len(q.Priorities) > 0 && !containsPriority(q.Priorities, t.Priority) {
		return false
	}
	if len(q.Tags) > 0 && !anyTag(t.Tags, q.Tags) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) {
			return false
		}
	}
	return true
}

// Compare orders a before b by the sort column, then by creation time, honouring
// Desc. Tasks without a due date sort last in both directions, like NULLS LAST.
func (q TaskQuery) Compare(a, b Task) int {
	c := 0
	switch q.SortBy {
	case SortUpdatedAt:
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	case SortTitle:
		c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case SortPriority:
		c = a.Priority.Rank() - b.Priority.Rank()
	case SortDueDate:
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return 1
		case a.DueDate != nil && b.DueDate == nil:
			return -1
		case a.DueDate != nil:
			c = a.DueDate.Compare(*b.DueDate)
		}
	}
	if c == 0 {
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if q.Desc {
		return -c
	}
	return c
}

// Sort orders tasks in place with Compare. Full ties keep their input order.
func (q TaskQuery) Sort(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return q.Compare(tasks[i], tasks[j]) < 0
	})
}

func containsPriority(list []Priority, p Priority) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
