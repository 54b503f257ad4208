package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"todo-agent/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type conversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Total         int                   `json:"total"`
}

func pageParams(c echo.Context) (int, int, error) {
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil {
		return 0, 0, err
	}
	if limit < 1 || limit > maxListLimit {
		return 0, 0, &domain.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 {
		return 0, 0, &domain.ValidationError{Field: "offset", Message: "must not be negative"}
	}
	return limit, offset, nil
}

func postChat(agent ChatAgent, limiter *Limiter) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := ownerOf(c)
		if !limiter.Allow(owner) {
			return writeError(c, "rate_limited", errRateLimited)
		}

		var req chatRequest
		if err := decodeBody(c, &req); err != nil {
			return writeError(c, "invalid_body", err)
		}

		start := time.Now()
		reply, err := agent.Respond(c.Request().Context(), owner, req.ConversationID, req.Message)
		metricsFrom(c).Observe("agent", time.Since(start))
		if err != nil {
			return writeError(c, "agent", err)
		}
		metricsFrom(c).SetBool("new_conversation", req.ConversationID != reply.ConversationID)
		return c.JSON(http.StatusOK, reply)
	}
}

func listConversations(svc ConversationService) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset, err := pageParams(c)
		if err != nil {
			return writeError(c, "invalid_query", err)
		}
		convs, total, err := svc.List(c.Request().Context(), ownerOf(c), limit, offset)
		if err != nil {
			return writeError(c, "store", err)
		}
		if convs == nil {
			convs = []domain.Conversation{}
		}
		return c.JSON(http.StatusOK, conversationsResponse{Conversations: convs, Total: total})
	}
}

func getConversation(svc ConversationService) echo.HandlerFunc {
	return func(c echo.Context) error {
		tr, err := svc.Transcript(c.Request().Context(), ownerOf(c), c.Param("id"))
		if err != nil {
			return writeError(c, "store", err)
		}
		if tr.Messages == nil {
			tr.Messages = []domain.Message{}
		}
		return c.JSON(http.StatusOK, tr)
	}
}

// deleteConversation answers 204 whether or not anything was removed.
func deleteConversation(svc ConversationService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := svc.Delete(c.Request().Context(), ownerOf(c), c.Param("id")); err != nil {
			return writeError(c, "store", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
