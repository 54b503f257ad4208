package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var tagColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Tag is a label as the owner sees it: either registered explicitly or in use on at
// least one task. TaskCount counts the owner's tasks carrying it.
type Tag struct {
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	TaskCount int    `json:"task_count"`
}

// TagInput registers a tag ahead of use.
type TagInput struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// NormalizeTagName applies the same rules tasks use for their tags.
func NormalizeTagName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxTagLength {
		return "", invalid("name", "must be at most %d characters", MaxTagLength)
	}
	return name, nil
}

// Validate returns the normalized tag described by the input.
func (in TagInput) Validate() (Tag, error) {
	name, err := NormalizeTagName(in.Name)
	if err != nil {
		return Tag{}, err
	}
	color := strings.TrimSpace(in.Color)
	if color != "" && !tagColor.MatchString(color) {
		return Tag{}, invalid("color", "must be a hex color such as #3B82F6")
	}
	return Tag{Name: name, Color: color}, nil
}
