package events

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"todo-agent/domain"
)

const (
	DefaultProductivityDays = 7
	MaxProductivityDays     = 365
)

// Since returns every entry of owner recorded at or after from, newest first.
func (a *ActivityLog) Since(ctx context.Context, owner string, from time.Time) ([]ActivityEntry, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	// Row keys invert the timestamp, so "at or after from" is a row key upper bound.
	bound := fmt.Sprintf("%019d", math.MaxInt64-from.UnixNano()+1)
	return a.query(ctx, partitionFilter(owner)+" and RowKey lt "+quote(bound), 0)
}

// TaskHistory returns the entries recorded for one task, newest first.
func (a *ActivityLog) TaskHistory(ctx context.Context, owner, taskID string, limit int) ([]ActivityEntry, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []ActivityEntry{}, nil
	}
	return a.query(ctx, partitionFilter(owner)+" and TaskID eq "+quote(taskID), limit)
}

// TypeCount is the number of logged events of one type.
type TypeCount struct {
	Type  domain.TaskEventType `json:"event_type"`
	Count int                  `json:"count"`
}

// TypeCounts tallies the owner's whole history by event type, most frequent first.
func (a *ActivityLog) TypeCounts(ctx context.Context, owner string, limit int) ([]TypeCount, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	entries, err := a.query(ctx, partitionFilter(owner), 0)
	if err != nil {
		return nil, err
	}
	counts := map[domain.TaskEventType]int{}
	for _, e := range entries {
		counts[e.Type]++
	}
	out := make([]TypeCount, 0, len(counts))
	for typ, n := range counts {
		out = append(out, TypeCount{Type: typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DayCount is the number of completions on one UTC day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Productivity summarises an owner's activity over a trailing window.
type Productivity struct {
	PeriodDays       int        `json:"period_days"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	TasksCompleted   int        `json:"tasks_completed"`
	TasksCreated     int        `json:"tasks_created"`
	TasksDeleted     int        `json:"tasks_deleted"`
	NetTasks         int        `json:"net_tasks"`
	CompletionRate   float64    `json:"completion_rate"`
	CompletionsByDay []DayCount `json:"completions_by_day"`
}

// Productivity counts the events of the last days days up to now. CompletionsByDay
// has one entry per UTC calendar day from the start date through today, zeros included.
func (a *ActivityLog) Productivity(ctx context.Context, owner string, days int, now time.Time) (Productivity, error) {
	if days <= 0 {
		days = DefaultProductivityDays
	}
	if days > MaxProductivityDays {
		days = MaxProductivityDays
	}
	now = now.UTC()
	start := now.AddDate(0, 0, -days)
	entries, err := a.Since(ctx, owner, start)
	if err != nil {
		return Productivity{}, err
	}

	p := Productivity{PeriodDays: days, StartDate: start, EndDate: now}
	perDay := map[string]int{}
	for _, e := range entries {
		switch e.Type {
		case domain.TaskCompleted:
			p.TasksCompleted++
			perDay[e.Time.UTC().Format(time.DateOnly)]++
		case domain.TaskCreated:
			p.TasksCreated++
		case domain.TaskDeleted:
			p.TasksDeleted++
		}
	}
	p.NetTasks = p.TasksCreated - p.TasksDeleted
	if p.TasksCreated > 0 {
		p.CompletionRate = roundTenth(float64(p.TasksCompleted) / float64(p.TasksCreated) * 100)
	}

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	p.CompletionsByDay = make([]DayCount, 0, days+1)
	for !day.After(now) {
		key := day.Format(time.DateOnly)
		p.CompletionsByDay = append(p.CompletionsByDay, DayCount{Date: key, Count: perDay[key]})
		day = day.AddDate(0, 0, 1)
	}
	return p, nil
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
