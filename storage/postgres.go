package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"todo-agent/domain"
)

// Postgres stores tasks and conversations in PostgreSQL through a shared pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a pool owned by the caller.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title VARCHAR(200) NOT NULL,
	description VARCHAR(2000) NOT NULL DEFAULT '',
	is_complete BOOLEAN NOT NULL DEFAULT FALSE,
	priority TEXT NOT NULL DEFAULT 'medium',
	tags TEXT[] NOT NULL DEFAULT '{}',
	due_date TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at, seq);
ALTER TABLE tasks ADD COLUMN IF NOT EXISTS recurrence_id TEXT NOT NULL DEFAULT '';
ALTER TABLE tasks ADD COLUMN IF NOT EXISTS parent_task_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_tasks_user_tags ON tasks USING GIN (tags);

CREATE TABLE IF NOT EXISTS tags (
	user_id TEXT NOT NULL,
	name VARCHAR(50) NOT NULL,
	color VARCHAR(7) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, name)
);

CREATE TABLE IF NOT EXISTS recurrences (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('daily', 'weekly', 'monthly', 'yearly', 'custom')),
	interval_n INT NOT NULL CHECK (interval_n BETWEEN 1 AND 365),
	days_of_week INT[] NOT NULL DEFAULT '{}',
	day_of_month INT NOT NULL DEFAULT 0,
	month_of_year INT NOT NULL DEFAULT 0,
	end_date TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_recurrences_user_created ON recurrences (user_id, created_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title VARCHAR(200) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
	content TEXT NOT NULL,
	tool_calls TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at, seq);
`

// EnsureSchema creates the tables and indexes when they are missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const taskColumns = `id, user_id, title, description, is_complete, priority, tags, due_date, recurrence_id, parent_task_id, created_at, updated_at`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	var priority string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.IsComplete,
		&priority, &t.Tags, &t.DueDate, &t.RecurrenceID, &t.ParentTaskID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	defer rows.Close()
	tasks := make([]domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (p *Postgres) InsertTask(ctx context.Context, t domain.Task) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.UserID, t.Title, t.Description, t.IsComplete, string(t.Priority), tags, t.DueDate,
		t.RecurrenceID, t.ParentTaskID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (p *Postgres) OrderedTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1 ORDER BY created_at ASC, seq ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

var sortExpressions = map[string]string{
	domain.SortCreatedAt: "created_at",
	domain.SortUpdatedAt: "updated_at",
	domain.SortTitle:     "LOWER(title)",
	domain.SortPriority:  "CASE priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 WHEN 'urgent' THEN 3 END",
	domain.SortDueDate:   "due_date",
}

// taskFilter renders the WHERE clause for q. The owner is always $1.
func taskFilter(owner string, q domain.TaskQuery) (string, []any) {
	clauses := []string{"user_id = $1"}
	args := []any{owner}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	switch q.Status {
	case domain.StatusPending:
		clauses = append(clauses, "is_complete = FALSE")
	case domain.StatusCompleted:
		clauses = append(clauses, "is_complete = TRUE")
	}
	if len(q.Priorities) > 0 {
		priorities := make([]string, len(q.Priorities))
		for i, pr := range q.Priorities {
			priorities[i] = string(pr)
		}
		clauses = append(clauses, "priority = ANY("+next(priorities)+")")
	}
	if len(q.Tags) > 0 {
		clauses = append(clauses, "tags && "+next(q.Tags)+"::text[]")
	}
	if q.Search != "" {
		pattern := "%" + escapeLike(q.Search) + "%"
		ref := next(pattern)
		clauses = append(clauses, "(title ILIKE "+ref+" OR description ILIKE "+ref+")")
	}
	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (p *Postgres) QueryTasks(ctx context.Context, owner string, q domain.TaskQuery) ([]domain.Task, int, error) {
	where, args := taskFilter(owner, q)

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	expr, ok := sortExpressions[q.SortBy]
	if !ok {
		expr = sortExpressions[domain.SortCreatedAt]
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	order := fmt.Sprintf("%s %s NULLS LAST, created_at %s, seq %s", expr, dir, dir, dir)
	limitArgs := append(args, q.Limit, q.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		taskColumns, where, order, len(args)+1, len(args)+2)

	rows, err := p.pool.Query(ctx, sql, limitArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}
	return tasks, total, nil
}

func (p *Postgres) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, owner)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (p *Postgres) UpdateTask(ctx context.Context, t domain.Task) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := p.pool.Exec(ctx, `UPDATE tasks SET title = $3, description = $4, is_complete = $5,
		priority = $6, tags = $7, due_date = $8, recurrence_id = $9, updated_at = $10
		WHERE id = $1 AND user_id = $2`,
		t.ID, t.UserID, t.Title, t.Description, t.IsComplete, string(t.Priority), tags, t.DueDate, t.RecurrenceID, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteTask(ctx context.Context, owner, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, owner)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateConversation(ctx context.Context, c domain.Conversation) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`, c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

const conversationColumns = `id, user_id, title, created_at, updated_at`

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (p *Postgres) GetConversation(ctx context.Context, owner, id string) (domain.Conversation, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND user_id = $2`, id, owner)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (p *Postgres) ListConversations(ctx context.Context, owner string, limit, offset int) ([]domain.Conversation, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = $1`, owner).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	rows, err := p.pool.Query(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = $1 ORDER BY updated_at DESC, id DESC LIMIT $2 OFFSET $3`, owner, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list conversations: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	return out, total, nil
}

// AppendMessage inserts the message and bumps the conversation's updated_at in one
// transaction. A conversation owned by someone else is reported as ErrNotFound.
func (p *Postgres) AppendMessage(ctx context.Context, m domain.Message) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND user_id = $2`, m.ConversationID, m.UserID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	var toolCalls *string
	if m.ToolCalls != "" {
		toolCalls = &m.ToolCalls
	}
	if _, err := tx.Exec(ctx, `INSERT INTO messages (id, conversation_id, user_id, role, content, tool_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.UserID, string(m.Role), m.Content, toolCalls, m.CreatedAt); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()
	out := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var role string
		var toolCalls *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &role, &m.Content, &toolCalls, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		if toolCalls != nil {
			m.ToolCalls = *toolCalls
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const messageColumns = `m.id, m.conversation_id, m.user_id, m.role, m.content, m.tool_calls, m.created_at`

func (p *Postgres) ListMessages(ctx context.Context, owner, conversationID string) ([]domain.Message, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = $1 AND c.user_id = $2
		ORDER BY m.created_at ASC, m.seq ASC`, conversationID, owner)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// RecentMessages fetches the newest limit messages and returns them oldest first.
func (p *Postgres) RecentMessages(ctx context.Context, owner, conversationID string, limit int) ([]domain.Message, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = $1 AND c.user_id = $2
		ORDER BY m.created_at DESC, m.seq DESC LIMIT $3`, conversationID, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (p *Postgres) DeleteConversation(ctx context.Context, owner, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, owner)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListTags merges registered tags with the distinct tags found on the owner's tasks.
func (p *Postgres) ListTags(ctx context.Context, owner string) ([]domain.Tag, error) {
	rows, err := p.pool.Query(ctx, `WITH used AS (
			SELECT tag, COUNT(*) AS n FROM tasks, unnest(tags) AS tag
			WHERE user_id = $1 GROUP BY tag
		), registered AS (
			SELECT name, color FROM tags WHERE user_id = $1
		)
		SELECT COALESCE(r.name, u.tag), COALESCE(r.color, ''), COALESCE(u.n, 0)
		FROM registered r FULL OUTER JOIN used u ON u.tag = r.name
		ORDER BY 1`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Tag, 0)
	for rows.Next() {
		var tag domain.Tag
		if err := rows.Scan(&tag.Name, &tag.Color, &tag.TaskCount); err != nil {
			return nil, fmt.Errorf("list tags: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return out, nil
}

// CreateTag registers a tag unless the name is registered or already used on a task.
func (p *Postgres) CreateTag(ctx context.Context, owner string, tag domain.Tag) error {
	res, err := p.pool.Exec(ctx, `INSERT INTO tags (user_id, name, color)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (SELECT 1 FROM tasks WHERE user_id = $1 AND $2 = ANY(tags))
		ON CONFLICT (user_id, name) DO NOTHING`, owner, tag.Name, tag.Color)
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	if res.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// DeleteTag unregisters the tag and strips it from the owner's tasks in one
// transaction, returning the changed tasks.
func (p *Postgres) DeleteTag(ctx context.Context, owner, name string, at time.Time) ([]domain.Task, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("delete tag: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := tx.Exec(ctx, `DELETE FROM tags WHERE user_id = $1 AND name = $2`, owner, name)
	if err != nil {
		return nil, false, fmt.Errorf("delete tag: %w", err)
	}
	rows, err := tx.Query(ctx, `UPDATE tasks SET tags = array_remove(tags, $2), updated_at = $3
		WHERE user_id = $1 AND $2 = ANY(tags)
		RETURNING `+taskColumns, owner, name, at)
	if err != nil {
		return nil, false, fmt.Errorf("delete tag: %w", err)
	}
	changed, err := collectTasks(rows)
	if err != nil {
		return nil, false, fmt.Errorf("delete tag: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("delete tag: %w", err)
	}
	return changed, res.RowsAffected() > 0 || len(changed) > 0, nil
}

const recurrenceColumns = `id, user_id, type, interval_n, days_of_week, day_of_month, month_of_year, end_date, created_at`

func scanRecurrence(row pgx.Row) (domain.Recurrence, error) {
	var r domain.Recurrence
	var typ string
	if err := row.Scan(&r.ID, &r.UserID, &typ, &r.Interval, &r.DaysOfWeek,
		&r.DayOfMonth, &r.MonthOfYear, &r.EndDate, &r.CreatedAt); err != nil {
		return domain.Recurrence{}, err
	}
	r.Type = domain.RecurrenceType(typ)
	if len(r.DaysOfWeek) == 0 {
		r.DaysOfWeek = nil
	}
	r.Description = r.Describe()
	return r, nil
}

func (p *Postgres) CreateRecurrence(ctx context.Context, r domain.Recurrence) error {
	days := r.DaysOfWeek
	if days == nil {
		days = []int{}
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO recurrences (`+recurrenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, string(r.Type), r.Interval, days, r.DayOfMonth, r.MonthOfYear, r.EndDate, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create recurrence: %w", err)
	}
	return nil
}

func (p *Postgres) GetRecurrence(ctx context.Context, owner, id string) (domain.Recurrence, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+recurrenceColumns+` FROM recurrences WHERE id = $1 AND user_id = $2`, id, owner)
	r, err := scanRecurrence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recurrence{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Recurrence{}, fmt.Errorf("get recurrence: %w", err)
	}
	return r, nil
}

func (p *Postgres) ListRecurrences(ctx context.Context, owner string, limit int) ([]domain.Recurrence, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+recurrenceColumns+` FROM recurrences
		WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list recurrences: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Recurrence, 0)
	for rows.Next() {
		r, err := scanRecurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("list recurrences: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recurrences: %w", err)
	}
	return out, nil
}

// DeleteRecurrence removes the pattern. Tasks keep their recurrence_id but no longer
// produce new instances.
func (p *Postgres) DeleteRecurrence(ctx context.Context, owner, id string) (bool, error) {
	res, err := p.pool.Exec(ctx, `DELETE FROM recurrences WHERE id = $1 AND user_id = $2`, id, owner)
	if err != nil {
		return false, fmt.Errorf("delete recurrence: %w", err)
	}
	return res.RowsAffected() > 0, nil
}
