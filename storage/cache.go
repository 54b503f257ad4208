package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"todo-agent/domain"
)

type backend interface {
	InsertTask(ctx context.Context, t domain.Task) error
	OrderedTasks(ctx context.Context, owner string) ([]domain.Task, error)
	QueryTasks(ctx context.Context, owner string, q domain.TaskQuery) ([]domain.Task, int, error)
	GetTask(ctx context.Context, owner, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, owner, id string) error
	ListTags(ctx context.Context, owner string) ([]domain.Tag, error)
	CreateTag(ctx context.Context, owner string, tag domain.Tag) error
	DeleteTag(ctx context.Context, owner, name string, at time.Time) ([]domain.Task, bool, error)
}

// Cache wraps a task store with Redis-backed caching of list queries.
// Position lookups (OrderedTasks) and single reads always go to the backing store.
//
// Every owner has a generation counter that writes bump. Page keys embed the
// generation, and a page is only stored while the generation it was read under is
// still current, so a query that raced a write never repopulates the cache.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

type cachedPage struct {
	Tasks []domain.Task `json:"tasks"`
	Total int           `json:"total"`
}

func (c *Cache) QueryTasks(ctx context.Context, owner string, q domain.TaskQuery) ([]domain.Task, int, error) {
	gen, ok := c.generation(ctx, owner)
	if !ok {
		return c.base.QueryTasks(ctx, owner, q)
	}
	key := queryCacheKey(owner, gen, q)
	if page, ok := c.load(ctx, key); ok {
		return page.Tasks, page.Total, nil
	}

	tasks, total, err := c.base.QueryTasks(ctx, owner, q)
	if err != nil {
		return nil, 0, err
	}

	c.store(ctx, owner, gen, key, cachedPage{Tasks: tasks, Total: total})
	return tasks, total, nil
}

// generation reads the owner's current cache generation. ok is false when Redis is
// not configured or unreachable, in which case nothing is cached.
func (c *Cache) generation(ctx context.Context, owner string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(owner)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) OrderedTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	return c.base.OrderedTasks(ctx, owner)
}

func (c *Cache) GetTask(ctx context.Context, owner, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, owner, id)
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.UserID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.UserID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, owner, id string) error {
	if err := c.base.DeleteTask(ctx, owner, id); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) ListTags(ctx context.Context, owner string) ([]domain.Tag, error) {
	return c.base.ListTags(ctx, owner)
}

func (c *Cache) CreateTag(ctx context.Context, owner string, tag domain.Tag) error {
	return c.base.CreateTag(ctx, owner, tag)
}

func (c *Cache) DeleteTag(ctx context.Context, owner, name string, at time.Time) ([]domain.Task, bool, error) {
	changed, existed, err := c.base.DeleteTag(ctx, owner, name, at)
	if err != nil {
		return nil, false, err
	}
	if len(changed) > 0 {
		c.evict(ctx, owner)
	}
	return changed, existed, nil
}

func (c *Cache) load(ctx context.Context, key string) (cachedPage, bool) {
	if c.redis == nil {
		return cachedPage{}, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return cachedPage{}, false
	}
	var page cachedPage
	if err := sonic.Unmarshal(data, &page); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return cachedPage{}, false
	}
	if page.Tasks == nil {
		page.Tasks = []domain.Task{}
	}
	return page, true
}

// store writes the page only if the owner's generation still equals gen. The
// WATCH aborts the transaction when a concurrent evict bumps it in between.
func (c *Cache) store(ctx context.Context, owner string, gen int64, key string, page cachedPage) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(page)
	if err != nil {
		return
	}
	genKey := generationKey(owner)
	index := ownerIndexKey(owner)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			pipe.SAdd(ctx, index, key)
			pipe.Expire(ctx, index, c.ttl)
			pipe.Expire(ctx, genKey, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

// evict moves the owner to a new generation and drops every cached page.
func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	genKey := generationKey(owner)
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, genKey)
	if c.ttl > 0 {
		pipe.Expire(ctx, genKey, c.ttl)
	}
	_, _ = pipe.Exec(ctx)

	index := ownerIndexKey(owner)
	keys, err := c.redis.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return
	}
	_, _ = c.redis.Del(ctx, append(keys, index)...).Result()
}

func ownerIndexKey(owner string) string {
	return "tasks:" + owner + ":pages"
}

func generationKey(owner string) string {
	return "tasks:" + owner + ":gen"
}

func queryCacheKey(owner string, gen int64, q domain.TaskQuery) string {
	data, _ := sonic.Marshal(q)
	return "tasks:" + owner + ":g" + strconv.FormatInt(gen, 10) + ":q:" + strconv.FormatUint(xxhash.Sum64(data), 16)
}
