package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RecurrenceType is the unit a recurring task repeats in.
type RecurrenceType string

const (
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
	RecurYearly  RecurrenceType = "yearly"
	// RecurCustom repeats every Interval days.
	RecurCustom RecurrenceType = "custom"
)

const MaxRecurrenceInterval = 365

// Recurrence describes how a task repeats. Completing a task that references it
// creates the next instance; deleting it stops the series without touching tasks.
//
// DaysOfWeek uses 0 for Monday through 6 for Sunday.
type Recurrence struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Type        RecurrenceType `json:"type"`
	Interval    int            `json:"interval"`
	DaysOfWeek  []int          `json:"days_of_week,omitempty"`
	DayOfMonth  int            `json:"day_of_month,omitempty"`
	MonthOfYear int            `json:"month_of_year,omitempty"`
	EndDate     *time.Time     `json:"end_date,omitempty"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RecurrenceInput is the client-writable part of a Recurrence.
type RecurrenceInput struct {
	Type        string     `json:"type"`
	Interval    int        `json:"interval,omitempty"`
	DaysOfWeek  []int      `json:"days_of_week,omitempty"`
	DayOfMonth  int        `json:"day_of_month,omitempty"`
	MonthOfYear int        `json:"month_of_year,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Apply validates the input, fills in per-type defaults and writes it onto r.
// Weekly defaults to Monday, monthly to the 1st and yearly to January 1st.
func (in RecurrenceInput) Apply(r *Recurrence) error {
	typ := RecurrenceType(strings.ToLower(strings.TrimSpace(in.Type)))
	switch typ {
	case RecurDaily, RecurWeekly, RecurMonthly, RecurYearly, RecurCustom:
	default:
		return invalid("type", "must be one of daily, weekly, monthly, yearly, custom")
	}
	interval := in.Interval
	if interval == 0 {
		interval = 1
	}
	if interval < 1 || interval > MaxRecurrenceInterval {
		return invalid("interval", "must be between 1 and %d", MaxRecurrenceInterval)
	}
	if in.DayOfMonth < 0 || in.DayOfMonth > 31 {
		return invalid("day_of_month", "must be between 1 and 31")
	}
	if in.MonthOfYear < 0 || in.MonthOfYear > 12 {
		return invalid("month_of_year", "must be between 1 and 12")
	}

	var days []int
	seen := map[int]bool{}
	for _, d := range in.DaysOfWeek {
		if d < 0 || d > 6 {
			return invalid("days_of_week", "must contain values between 0 (Monday) and 6 (Sunday)")
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)

	next := *r
	next.Type = typ
	next.Interval = interval
	next.DaysOfWeek = nil
	next.DayOfMonth = 0
	next.MonthOfYear = 0
	next.EndDate = in.EndDate
	switch typ {
	case RecurWeekly:
		if len(days) == 0 {
			days = []int{0}
		}
		next.DaysOfWeek = days
	case RecurMonthly:
		next.DayOfMonth = orDefault(in.DayOfMonth, 1)
	case RecurYearly:
		next.DayOfMonth = orDefault(in.DayOfMonth, 1)
		next.MonthOfYear = orDefault(in.MonthOfYear, 1)
	}
	next.Description = next.Describe()
	*r = next
	return nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Next returns the occurrence after from, or false once the series has ended.
func (r Recurrence) Next(from time.Time) (time.Time, bool) {
	if r.EndDate != nil && !from.Before(*r.EndDate) {
		return time.Time{}, false
	}
	next := r.advance(from)
	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

func (r Recurrence) advance(from time.Time) time.Time {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	switch r.Type {
	case RecurWeekly:
		return nextWeekly(from, interval, r.DaysOfWeek)
	case RecurMonthly:
		total := int(from.Month()) - 1 + interval
		return clampDate(from, from.Year()+total/12, time.Month(total%12+1), orDefault(r.DayOfMonth, from.Day()))
	case RecurYearly:
		month := from.Month()
		if r.MonthOfYear != 0 {
			month = time.Month(r.MonthOfYear)
		}
		return clampDate(from, from.Year()+interval, month, orDefault(r.DayOfMonth, from.Day()))
	}
	return from.AddDate(0, 0, interval)
}

// mondayIndex maps time.Weekday onto 0 = Monday .. 6 = Sunday.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func nextWeekly(from time.Time, interval int, days []int) time.Time {
	if len(days) == 0 {
		return from.AddDate(0, 0, 7*interval)
	}
	today := mondayIndex(from.Weekday())
	for _, d := range days {
		if d > today {
			return from.AddDate(0, 0, d-today)
		}
	}
	// First listed day of the week that starts interval weeks after this one.
	return from.AddDate(0, 0, 7-today+7*(interval-1)+days[0])
}

// clampDate keeps the clock of from and moves day back to the month's last day when
// the month is shorter, so Jan 31 + 1 month is Feb 28 (or 29).
func clampDate(from time.Time, year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, from.Location()).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func ordinal(day int) string {
	switch day {
	case 1, 21, 31:
		return fmt.Sprintf("%dst", day)
	case 2, 22:
		return fmt.Sprintf("%dnd", day)
	case 3, 23:
		return fmt.Sprintf("%drd", day)
	}
	return fmt.Sprintf("%dth", day)
}

// Describe renders the pattern for people, e.g. "Every 2 weeks on Monday, Friday".
func (r Recurrence) Describe() string {
	n := r.Interval
	switch r.Type {
	case RecurDaily:
		if n == 1 {
			return "Every day"
		}
		return fmt.Sprintf("Every %d days", n)
	case RecurWeekly:
		if len(r.DaysOfWeek) == 0 {
			if n == 1 {
				return "Every week"
			}
			return fmt.Sprintf("Every %d weeks", n)
		}
		names := make([]string, 0, len(r.DaysOfWeek))
		for _, d := range r.DaysOfWeek {
			if d >= 0 && d < len(weekdayNames) {
				names = append(names, weekdayNames[d])
			}
		}
		if n == 1 {
			return "Every " + strings.Join(names, ", ")
		}
		return fmt.Sprintf("Every %d weeks on %s", n, strings.Join(names, ", "))
	case RecurMonthly:
		day := orDefault(r.DayOfMonth, 1)
		if n == 1 {
			return "Every month on the " + ordinal(day)
		}
		return fmt.Sprintf("Every %d months on the %s", n, ordinal(day))
	case RecurYearly:
		month := time.Month(orDefault(r.MonthOfYear, 1))
		day := orDefault(r.DayOfMonth, 1)
		if n == 1 {
			return fmt.Sprintf("Every year on %s %d", month, day)
		}
		return fmt.Sprintf("Every %d years on %s %d", n, month, day)
	case RecurCustom:
		if n == 1 {
			return "Every day (custom)"
		}
		return fmt.Sprintf("Every %d days (custom)", n)
	}
	return "Unknown pattern: " + string(r.Type)
}
