package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"todo-agent/domain"
)

// ConversationStore persists conversations and their messages, scoped by owner.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c domain.Conversation) error
	GetConversation(ctx context.Context, owner, id string) (domain.Conversation, error)
	ListConversations(ctx context.Context, owner string, limit, offset int) ([]domain.Conversation, int, error)
	AppendMessage(ctx context.Context, m domain.Message) error
	RecentMessages(ctx context.Context, owner, conversationID string, limit int) ([]domain.Message, error)
	ListMessages(ctx context.Context, owner, conversationID string) ([]domain.Message, error)
	DeleteConversation(ctx context.Context, owner, id string) (bool, error)
}

// Transcript is a conversation with every message in chronological order.
type Transcript struct {
	domain.Conversation
	Messages []domain.Message `json:"messages"`
}

// Conversations manages chat sessions on top of a ConversationStore.
type Conversations struct {
	store ConversationStore
	now   func() time.Time
}

func NewConversations(store ConversationStore) *Conversations {
	return &Conversations{store: store, now: time.Now}
}

// GetOrCreate returns the owner's conversation with the given id. A missing, unknown or
// foreign id yields a fresh conversation titled after firstMessage.
func (c *Conversations) GetOrCreate(ctx context.Context, owner, id, firstMessage string) (domain.Conversation, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Conversation{}, err
	}
	if id != "" {
		conv, err := c.store.GetConversation(ctx, owner, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, err
		}
	}
	now := c.now().UTC()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    owner,
		Title:     domain.ConversationTitle(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// AppendMessage stores a message and bumps the conversation's updated_at.
func (c *Conversations) AppendMessage(ctx context.Context, conversationID, owner string, role domain.Role, content, toolCalls string) (domain.Message, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return domain.Message{}, err
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         owner,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		CreatedAt:      c.now().UTC(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// History returns up to limit most recent messages, oldest first.
func (c *Conversations) History(ctx context.Context, owner, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, err
	}
	if _, err := c.store.GetConversation(ctx, owner, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.HistoryEntry{}, nil
	}
	msgs, err := c.store.RecentMessages(ctx, owner, conversationID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, len(msgs))
	for i, m := range msgs {
		out[i] = domain.HistoryEntry{Role: m.Role, Content: m.Content}
	}
	return out, nil
}

// Transcript loads a conversation and all of its messages.
func (c *Conversations) Transcript(ctx context.Context, owner, conversationID string) (Transcript, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return Transcript{}, err
	}
	conv, err := c.store.GetConversation(ctx, owner, conversationID)
	if err != nil {
		return Transcript{}, err
	}
	msgs, err := c.store.ListMessages(ctx, owner, conversationID)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{Conversation: conv, Messages: msgs}, nil
}

// List returns the owner's conversations, most recently updated first.
func (c *Conversations) List(ctx context.Context, owner string, limit, offset int) ([]domain.Conversation, int, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return nil, 0, err
	}
	return c.store.ListConversations(ctx, owner, limit, offset)
}

// Delete removes a conversation and its messages. It reports false when nothing of the
// owner's was deleted.
func (c *Conversations) Delete(ctx context.Context, owner, conversationID string) (bool, error) {
	if err := domain.RequireOwner(owner); err != nil {
		return false, err
	}
	return c.store.DeleteConversation(ctx, owner, conversationID)
}
