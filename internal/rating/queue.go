package rating

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PendingQueue remembers sessions whose settlement has not completed, so a
// restart or a store outage does not lose them.
type PendingQueue interface {
	Add(ctx context.Context, sessionID string) error
	Remove(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
}

// PendingKey is the redis set of unsettled session ids. Document stores that
// track ended sessions write to it directly.
const PendingKey = "arena:settlement:pending"

// RedisQueue is a PendingQueue on a redis set.
type RedisQueue struct{ rdb *redis.Client }

func NewRedisQueue(rdb *redis.Client) *RedisQueue { return &RedisQueue{rdb: rdb} }

func (q *RedisQueue) Add(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	return q.rdb.SAdd(ctx, PendingKey, strings.TrimSpace(sessionID)).Err()
}

func (q *RedisQueue) Remove(ctx context.Context, sessionID string) error {
	return q.rdb.SRem(ctx, PendingKey, strings.TrimSpace(sessionID)).Err()
}

func (q *RedisQueue) List(ctx context.Context) ([]string, error) {
	ids, err := q.rdb.SMembers(ctx, PendingKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryQueue is the in-process PendingQueue.
type MemoryQueue struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemoryQueue() *MemoryQueue { return &MemoryQueue{ids: make(map[string]struct{})} }

func (q *MemoryQueue) Add(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	q.mu.Lock()
	q.ids[strings.TrimSpace(sessionID)] = struct{}{}
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, sessionID string) error {
	q.mu.Lock()
	delete(q.ids, strings.TrimSpace(sessionID))
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) List(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.ids))
	for id := range q.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
