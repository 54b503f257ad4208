// Package api exposes tasks, chat and sync over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-agent/chat"
	"todo-agent/domain"
	"todo-agent/events"
)

// Authenticator resolves the owner id from an Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(h string) (string, error)
}

// TaskService is the task CRUD surface used by the REST routes.
type TaskService interface {
	Create(ctx context.Context, owner string, in domain.TaskInput) (domain.Task, error)
	Query(ctx context.Context, owner string, q domain.TaskQuery) ([]domain.Task, int, error)
	Get(ctx context.Context, owner, id string) (domain.Task, error)
	Replace(ctx context.Context, owner, id string, in domain.TaskInput) (domain.Task, error)
	Patch(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	Toggle(ctx context.Context, owner, id string) (domain.Task, error)
	Delete(ctx context.Context, owner, id string) (domain.Task, error)
}

type ChatAgent interface {
	Respond(ctx context.Context, owner, conversationID, message string) (chat.Reply, error)
}

type ConversationService interface {
	List(ctx context.Context, owner string, limit, offset int) ([]domain.Conversation, int, error)
	Transcript(ctx context.Context, owner, conversationID string) (chat.Transcript, error)
	Delete(ctx context.Context, owner, conversationID string) (bool, error)
}

// TagService lists, registers and removes an owner's tags.
type TagService interface {
	Tags(ctx context.Context, owner string) ([]domain.Tag, error)
	CreateTag(ctx context.Context, owner string, in domain.TagInput) (domain.Tag, error)
	DeleteTag(ctx context.Context, owner, name string) (int, error)
}

type RecurrenceService interface {
	CreateRecurrence(ctx context.Context, owner string, in domain.RecurrenceInput) (domain.Recurrence, error)
	Recurrence(ctx context.Context, owner, id string) (domain.Recurrence, error)
	Recurrences(ctx context.Context, owner string, limit int) ([]domain.Recurrence, error)
	DeleteRecurrence(ctx context.Context, owner, id string) error
}

type ActivityReader interface {
	Recent(ctx context.Context, owner string, limit int) ([]events.ActivityEntry, error)
	TaskHistory(ctx context.Context, owner, taskID string, limit int) ([]events.ActivityEntry, error)
	TypeCounts(ctx context.Context, owner string, limit int) ([]events.TypeCount, error)
	Productivity(ctx context.Context, owner string, days int, now time.Time) (events.Productivity, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deduper records idempotency keys for task creation.
type Deduper interface {
	Add(ctx context.Context, owner, key string) (bool, error)
	Remove(ctx context.Context, owner, key string) error
}

// Deps carries everything the routes need. Tags, Recurrences, Activity, Deduper,
// Limiter and Sync are optional.
type Deps struct {
	Tasks         TaskService
	Tags          TagService
	Recurrences   RecurrenceService
	Agent         ChatAgent
	Conversations ConversationService
	Activity      ActivityReader
	Health        Pinger
	Auth          Authenticator
	Deduper       Deduper
	Limiter       *Limiter
	Sync          http.Handler
	Log           *log.Logger
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Log == nil {
		d.Log = log.StandardLogger()
	}
	obs := observe(d.Log)
	authed := authenticate(d.Auth)

	e.GET("/healthz", healthz(d.Health, d.Log))

	t := e.Group("/api/tasks", obs, authed)
	t.GET("", listTasks(d.Tasks))
	t.POST("", createTask(d.Tasks, d.Deduper, d.Log))
	t.GET("/:id", getTask(d.Tasks))
	t.PUT("/:id", replaceTask(d.Tasks))
	t.PATCH("/:id", patchTask(d.Tasks))
	t.DELETE("/:id", deleteTask(d.Tasks))
	t.PATCH("/:id/toggle", toggleTask(d.Tasks))

	c := e.Group("/chat", obs, authed)
	c.POST("", postChat(d.Agent, d.Limiter))
	c.GET("/conversations", listConversations(d.Conversations))
	c.GET("/conversations/:id", getConversation(d.Conversations))
	c.DELETE("/conversations/:id", deleteConversation(d.Conversations))

	if d.Tags != nil {
		g := e.Group("/api/tags", obs, authed)
		g.GET("", listTags(d.Tags))
		g.POST("", createTag(d.Tags))
		g.DELETE("/:name", deleteTag(d.Tags))
	}
	if d.Recurrences != nil {
		g := e.Group("/api/recurrences", obs, authed)
		g.GET("", listRecurrences(d.Recurrences))
		g.POST("", createRecurrence(d.Recurrences))
		g.GET("/:id", getRecurrence(d.Recurrences))
		g.DELETE("/:id", deleteRecurrence(d.Recurrences))
	}
	if d.Activity != nil {
		g := e.Group("/api/activity", obs, authed)
		g.GET("", listActivity(d.Activity))
		g.GET("/productivity", productivity(d.Activity))
		g.GET("/types", activityTypes(d.Activity))
		g.GET("/tasks/:id", taskHistory(d.Activity))
	}
	if d.Sync != nil {
		e.GET("/ws/sync", echo.WrapHandler(d.Sync))
	}
}

const ownerContextKey = "owner"

// authenticate resolves the owner once per request and rejects anonymous calls.
func authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			owner, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			metricsFrom(c).Observe("auth", time.Since(start))
			if err != nil || owner == "" {
				return unauthorized(c)
			}
			c.Set(ownerContextKey, owner)
			return next(c)
		}
	}
}

func ownerOf(c echo.Context) string {
	owner, _ := c.Get(ownerContextKey).(string)
	return owner
}

func healthz(db Pinger, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				logger.WithError(err).Error("healthz: database ping failed")
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
