package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"todo-agent/domain"
)

// Memory is an in-process store used when no database is configured and in tests.
// It honours the same owner scoping and ordering rules as Postgres.
type Memory struct {
	mu            sync.RWMutex
	seq           int64
	tasks         map[string]memTask
	conversations map[string]domain.Conversation
	messages      map[string][]memMessage
	tags          map[string]map[string]domain.Tag
	recurrences   map[string]memRecurrence
}

type memRecurrence struct {
	r   domain.Recurrence
	seq int64
}

type memTask struct {
	task domain.Task
	seq  int64
}

type memMessage struct {
	msg domain.Message
	seq int64
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:         make(map[string]memTask),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]memMessage),
		tags:          make(map[string]map[string]domain.Tag),
		recurrences:   make(map[string]memRecurrence),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func cloneTask(t domain.Task) domain.Task {
	if t.Tags != nil {
		t.Tags = append([]string(nil), t.Tags...)
	} else {
		t.Tags = []string{}
	}
	if t.DueDate != nil {
		due := *t.DueDate
		t.DueDate = &due
	}
	return t
}

func (m *Memory) InsertTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tasks[t.ID] = memTask{task: cloneTask(t), seq: m.seq}
	return nil
}

func (m *Memory) ownedTasks(owner string) []memTask {
	out := make([]memTask, 0)
	for _, rec := range m.tasks {
		if rec.task.UserID == owner {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].task.CreatedAt.Compare(out[j].task.CreatedAt); c != 0 {
			return c < 0
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (m *Memory) OrderedTasks(_ context.Context, owner string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.ownedTasks(owner)
	tasks := make([]domain.Task, len(recs))
	for i, rec := range recs {
		tasks[i] = cloneTask(rec.task)
	}
	return tasks, nil
}

// QueryTasks matches the Postgres ordering: sort column, created_at, then insertion
// sequence, all in the requested direction.
func (m *Memory) QueryTasks(_ context.Context, owner string, q domain.TaskQuery) ([]domain.Task, int, error) {
	m.mu.RLock()
	recs := m.ownedTasks(owner)
	m.mu.RUnlock()

	matched := make([]memTask, 0, len(recs))
	for _, rec := range recs {
		if q.Match(rec.task) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if c := q.Compare(matched[i].task, matched[j].task); c != 0 {
			return c < 0
		}
		if q.Desc {
			return matched[i].seq > matched[j].seq
		}
		return matched[i].seq < matched[j].seq
	})
	total := len(matched)
	if q.Offset >= total {
		return []domain.Task{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	page := make([]domain.Task, 0, end-q.Offset)
	for _, rec := range matched[q.Offset:end] {
		page = append(page, cloneTask(rec.task))
	}
	return page, total, nil
}

func (m *Memory) GetTask(_ context.Context, owner, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	if !ok || rec.task.UserID != owner {
		return domain.Task{}, domain.ErrNotFound
	}
	return cloneTask(rec.task), nil
}

func (m *Memory) UpdateTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[t.ID]
	if !ok || rec.task.UserID != t.UserID {
		return domain.ErrNotFound
	}
	t.CreatedAt = rec.task.CreatedAt
	rec.task = cloneTask(t)
	m.tasks[t.ID] = rec
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok || rec.task.UserID != owner {
		return domain.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) CreateConversation(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

func (m *Memory) GetConversation(_ context.Context, owner, id string) (domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != owner {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListConversations(_ context.Context, owner string, limit, offset int) ([]domain.Conversation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.UserID == owner {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].UpdatedAt.Compare(out[j].UpdatedAt); c != 0 {
			return c > 0
		}
		return out[i].ID > out[j].ID
	})
	total := len(out)
	if offset >= total {
		return []domain.Conversation{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], total, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok || c.UserID != msg.UserID {
		return domain.ErrNotFound
	}
	m.seq++
	m.messages[c.ID] = append(m.messages[c.ID], memMessage{msg: msg, seq: m.seq})
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
		m.conversations[c.ID] = c
	}
	return nil
}

func (m *Memory) orderedMessages(owner, conversationID string) []domain.Message {
	c, ok := m.conversations[conversationID]
	if !ok || c.UserID != owner {
		return []domain.Message{}
	}
	recs := append([]memMessage(nil), m.messages[conversationID]...)
	sort.SliceStable(recs, func(i, j int) bool {
		if cmp := recs[i].msg.CreatedAt.Compare(recs[j].msg.CreatedAt); cmp != 0 {
			return cmp < 0
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]domain.Message, len(recs))
	for i, rec := range recs {
		out[i] = rec.msg
	}
	return out
}

func (m *Memory) ListMessages(_ context.Context, owner, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderedMessages(owner, conversationID), nil
}

func (m *Memory) RecentMessages(_ context.Context, owner, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.orderedMessages(owner, conversationID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *Memory) DeleteConversation(_ context.Context, owner, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != owner {
		return false, nil
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return true, nil
}

func hasTag(t domain.Task, name string) bool {
	for _, tag := range t.Tags {
		if tag == name {
			return true
		}
	}
	return false
}

// ListTags merges registered tags with the tags found on the owner's tasks, by name.
func (m *Memory) ListTags(_ context.Context, owner string) ([]domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName := make(map[string]domain.Tag)
	for name, tag := range m.tags[owner] {
		byName[name] = tag
	}
	for _, rec := range m.tasks {
		if rec.task.UserID != owner {
			continue
		}
		for _, name := range rec.task.Tags {
			tag := byName[name]
			tag.Name = name
			tag.TaskCount++
			byName[name] = tag
		}
	}
	out := make([]domain.Tag, 0, len(byName))
	for _, tag := range byName {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateTag registers a tag. A name that is registered or already on a task conflicts.
func (m *Memory) CreateTag(_ context.Context, owner string, tag domain.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tags[owner][tag.Name]; ok {
		return domain.ErrConflict
	}
	for _, rec := range m.tasks {
		if rec.task.UserID == owner && hasTag(rec.task, tag.Name) {
			return domain.ErrConflict
		}
	}
	if m.tags[owner] == nil {
		m.tags[owner] = make(map[string]domain.Tag)
	}
	tag.TaskCount = 0
	m.tags[owner][tag.Name] = tag
	return nil
}

// DeleteTag unregisters the tag and strips it from every task of the owner. It returns
// the tasks it changed and whether the tag existed at all.
func (m *Memory) DeleteTag(_ context.Context, owner, name string, at time.Time) ([]domain.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, found := m.tags[owner][name]
	delete(m.tags[owner], name)

	changed := make([]domain.Task, 0)
	for id, rec := range m.tasks {
		if rec.task.UserID != owner || !hasTag(rec.task, name) {
			continue
		}
		kept := make([]string, 0, len(rec.task.Tags)-1)
		for _, tag := range rec.task.Tags {
			if tag != name {
				kept = append(kept, tag)
			}
		}
		rec.task.Tags = kept
		rec.task.UpdatedAt = at
		m.tasks[id] = rec
		changed = append(changed, cloneTask(rec.task))
		found = true
	}
	return changed, found, nil
}

func cloneRecurrence(r domain.Recurrence) domain.Recurrence {
	r.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
	if r.EndDate != nil {
		end := *r.EndDate
		r.EndDate = &end
	}
	return r
}

func (m *Memory) CreateRecurrence(_ context.Context, r domain.Recurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.recurrences[r.ID] = memRecurrence{r: cloneRecurrence(r), seq: m.seq}
	return nil
}

func (m *Memory) GetRecurrence(_ context.Context, owner, id string) (domain.Recurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recurrences[id]
	if !ok || rec.r.UserID != owner {
		return domain.Recurrence{}, domain.ErrNotFound
	}
	return cloneRecurrence(rec.r), nil
}

// ListRecurrences returns the newest patterns first.
func (m *Memory) ListRecurrences(_ context.Context, owner string, limit int) ([]domain.Recurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]memRecurrence, 0)
	for _, rec := range m.recurrences {
		if rec.r.UserID == owner {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if c := recs[i].r.CreatedAt.Compare(recs[j].r.CreatedAt); c != 0 {
			return c > 0
		}
		return recs[i].seq > recs[j].seq
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]domain.Recurrence, len(recs))
	for i, rec := range recs {
		out[i] = cloneRecurrence(rec.r)
	}
	return out, nil
}

func (m *Memory) DeleteRecurrence(_ context.Context, owner, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recurrences[id]
	if !ok || rec.r.UserID != owner {
		return false, nil
	}
	delete(m.recurrences, id)
	return true, nil
}
