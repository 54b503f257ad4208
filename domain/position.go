package domain

import (
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// ResolvePosition returns the p-th task (1-based) of a creation-ordered list.
// Positions are recomputed from the live list on every call and are not identifiers:
// a concurrent delete shifts every later position.
func ResolvePosition(tasks []Task, p int) (Task, error) {
	if p < 1 || p > len(tasks) {
		return Task{}, &PositionError{Position: p, Count: len(tasks)}
	}
	return tasks[p-1], nil
}

// PositionOf returns the 1-based position of the task with the given id, or 0.
func PositionOf(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i + 1
		}
	}
	return 0
}

// ParsePosition decodes a raw JSON position argument. Integral numbers and numeric
// strings are accepted; anything else is a validation error. Range checks are left to
// ResolvePosition so that 0 and negatives are reported as not found.
func ParsePosition(raw []byte) (int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, invalid("position", "is required")
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := sonic.UnmarshalString(text, &s); err != nil {
			return 0, invalid("position", "must be a whole number")
		}
		text = strings.TrimSpace(s)
	}
	if n, err := strconv.Atoi(text); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, invalid("position", "must be a whole number")
	}
	return int(f), nil
}
