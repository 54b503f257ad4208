package domain

import (
	"time"
	"unicode/utf8"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ParseRole accepts only the fixed set of roles.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return r, nil
	}
	return "", invalid("role", "unknown role %q", raw)
}

const conversationTitleLength = 50

// Conversation groups the messages of one chat session.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationTitle derives a title from the first user message.
func ConversationTitle(message string) string {
	if utf8.RuneCountInString(message) <= conversationTitleLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:conversationTitleLength]) + "..."
}

// Message is one entry of a conversation transcript.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ToolCalls      string    `json:"tool_calls,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryEntry is the role/content pair fed back to the model.
type HistoryEntry struct {
	Role    Role
	Content string
}
