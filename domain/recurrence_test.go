package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestRecurrenceNext(t *testing.T) {
	tests := []struct {
		name string
		r    Recurrence
		from time.Time
		want time.Time
	}{
		{"daily interval", Recurrence{Type: RecurDaily, Interval: 2}, day(2025, 1, 1), day(2025, 1, 3)},
		{"custom is days", Recurrence{Type: RecurCustom, Interval: 10}, day(2025, 1, 25), day(2025, 2, 4)},
		{"weekly later this week", Recurrence{Type: RecurWeekly, Interval: 1, DaysOfWeek: []int{0, 2, 4}}, day(2025, 1, 1), day(2025, 1, 3)},
		{"weekly wraps to monday", Recurrence{Type: RecurWeekly, Interval: 1, DaysOfWeek: []int{0, 2, 4}}, day(2025, 1, 3), day(2025, 1, 6)},
		{"biweekly wraps", Recurrence{Type: RecurWeekly, Interval: 2, DaysOfWeek: []int{0, 2, 4}}, day(2025, 1, 3), day(2025, 1, 13)},
		{"weekly without days", Recurrence{Type: RecurWeekly, Interval: 1}, day(2025, 1, 1), day(2025, 1, 8)},
		{"monthly clamps short month", Recurrence{Type: RecurMonthly, Interval: 1, DayOfMonth: 31}, day(2025, 1, 31), day(2025, 2, 28)},
		{"monthly leap february", Recurrence{Type: RecurMonthly, Interval: 1, DayOfMonth: 31}, day(2024, 1, 31), day(2024, 2, 29)},
		{"monthly crosses year", Recurrence{Type: RecurMonthly, Interval: 12, DayOfMonth: 15}, day(2025, 3, 15), day(2026, 3, 15)},
		{"monthly december", Recurrence{Type: RecurMonthly, Interval: 1, DayOfMonth: 5}, day(2025, 12, 5), day(2026, 1, 5)},
		{"yearly leap day", Recurrence{Type: RecurYearly, Interval: 1, MonthOfYear: 2, DayOfMonth: 29}, day(2024, 2, 29), day(2025, 2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.r.Next(tt.from)
			if !ok {
				t.Fatalf("expected a next occurrence")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%s) = %s, want %s", tt.from.Format(time.DateOnly), got.Format(time.RFC3339), tt.want.Format(time.RFC3339))
			}
		})
	}
}

func TestRecurrenceNextRespectsEndDate(t *testing.T) {
	end := day(2025, 1, 10)
	r := Recurrence{Type: RecurDaily, Interval: 3, EndDate: &end}
	if _, ok := r.Next(day(2025, 1, 10)); ok {
		t.Fatalf("expected no occurrence once from reaches the end date")
	}
	if _, ok := r.Next(day(2025, 1, 8)); ok {
		t.Fatalf("expected no occurrence past the end date")
	}
	if got, ok := r.Next(day(2025, 1, 7)); !ok || !got.Equal(end) {
		t.Fatalf("expected occurrence on the end date, got %v %v", got, ok)
	}
}

func TestRecurrenceInputDefaults(t *testing.T) {
	tests := []struct {
		in   RecurrenceInput
		desc string
	}{
		{RecurrenceInput{Type: "weekly"}, "Every Monday"},
		{RecurrenceInput{Type: "Monthly"}, "Every month on the 1st"},
		{RecurrenceInput{Type: "yearly"}, "Every year on January 1"},
		{RecurrenceInput{Type: "daily", Interval: 3}, "Every 3 days"},
		{RecurrenceInput{Type: "weekly", Interval: 2, DaysOfWeek: []int{4, 0, 4}}, "Every 2 weeks on Monday, Friday"},
		{RecurrenceInput{Type: "monthly", DayOfMonth: 22, Interval: 2}, "Every 2 months on the 22nd"},
	}
	for _, tt := range tests {
		var r Recurrence
		if err := tt.in.Apply(&r); err != nil {
			t.Fatalf("apply %+v: %v", tt.in, err)
		}
		if r.Description != tt.desc {
			t.Fatalf("apply %+v: description %q, want %q", tt.in, r.Description, tt.desc)
		}
	}
}

func TestRecurrenceInputRejects(t *testing.T) {
	for _, in := range []RecurrenceInput{
		{Type: "hourly"},
		{Type: "daily", Interval: MaxRecurrenceInterval + 1},
		{Type: "daily", Interval: -1},
		{Type: "weekly", DaysOfWeek: []int{7}},
		{Type: "monthly", DayOfMonth: 32},
		{Type: "yearly", MonthOfYear: 13},
	} {
		var r Recurrence
		if err := in.Apply(&r); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
}

func TestTagInputValidate(t *testing.T) {
	tag, err := TagInput{Name: "  Errands ", Color: "#3B82F6"}.Validate()
	if err != nil || tag.Name != "errands" || tag.Color != "#3B82F6" {
		t.Fatalf("unexpected tag %+v, %v", tag, err)
	}
	for _, in := range []TagInput{{Name: " "}, {Name: "x", Color: "blue"}, {Name: strings.Repeat("x", MaxTagLength+1)}} {
		if _, err := in.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
}
