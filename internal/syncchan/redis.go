package syncchan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/session"
)

// RedisChannel keeps each session as a hash, one field per session field plus
// "version", and publishes every accepted snapshot on a per-session channel.
type RedisChannel struct {
	rdb      *redis.Client
	ttl      time.Duration
	endedSet string
}

// NewRedisChannel wraps rdb. ttl <= 0 disables expiry.
func NewRedisChannel(rdb *redis.Client, ttl time.Duration) *RedisChannel {
	return &RedisChannel{rdb: rdb, ttl: ttl}
}

// TrackEnded makes the write that ends a session also add its id to the set
// at key, inside the same MULTI/EXEC.
func (c *RedisChannel) TrackEnded(key string) *RedisChannel {
	c.endedSet = strings.TrimSpace(key)
	return c
}

// Dial parses redisURL and pings the server.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}

func docKey(id string) string     { return "arena:session:" + strings.TrimSpace(id) }
func changesKey(id string) string { return docKey(id) + ":changes" }

func (c *RedisChannel) Create(ctx context.Context, s *session.Session) (*session.Session, error) {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return nil, session.ErrInvalidArgs
	}
	created := s.Clone()
	created.Version = 1
	doc, err := session.Encode(created)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(created)
	if err != nil {
		return nil, err
	}
	key := docKey(created.ID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: session %s exists", session.ErrConflict, created.ID)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, hashValues(doc))
			if c.ttl > 0 {
				p.Expire(ctx, key, c.ttl)
			}
			p.Publish(ctx, changesKey(created.ID), payload)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, session.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *RedisChannel) Read(ctx context.Context, id string) (*session.Session, error) {
	raw, err := c.rdb.HGetAll(ctx, docKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	return session.Decode(toDocument(raw))
}

func (c *RedisChannel) Update(ctx context.Context, id string, diff session.Diff, pre Precondition) (*session.Session, error) {
	key := docKey(id)
	var out *session.Session
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		cur, err := session.Decode(toDocument(raw))
		if err != nil {
			return err
		}
		if cur.Version != pre.Version {
			return fmt.Errorf("%w: have v%d, write based on v%d", session.ErrConflict, cur.Version, pre.Version)
		}
		next, err := diff.Validate(cur)
		if err != nil {
			return err
		}
		if diff.Empty() {
			out = cur
			return nil
		}
		next.Version = cur.Version + 1
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, hashValues(session.Document(diff)))
			p.HIncrBy(ctx, key, string(session.FieldVersion), 1)
			if c.endedSet != "" && !cur.Ended() && next.Ended() {
				p.SAdd(ctx, c.endedSet, next.ID)
			}
			if c.ttl > 0 {
				p.Expire(ctx, key, c.ttl)
			}
			p.Publish(ctx, changesKey(id), payload)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("%w: concurrent write on %s", session.ErrConflict, id)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, id string, fn Listener) (func(), error) {
	if fn == nil {
		return nil, session.ErrInvalidArgs
	}
	sub := c.rdb.Subscribe(ctx, changesKey(id))
	// wait for the subscription ack so nothing published after Read is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	cur, err := c.Read(ctx, id)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	fn(cur)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := cur.Version
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s session.Session
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					obslog.L().Warn("session_change_decode_error", zap.String("session_id", id), zap.Error(err))
					continue
				}
				if s.Version <= last {
					continue
				}
				last = s.Version
				fn(&s)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			_ = sub.Close()
			<-done
		})
	}, nil
}

func hashValues(doc session.Document) map[string]any {
	out := make(map[string]any, len(doc))
	for f, v := range doc {
		out[string(f)] = v
	}
	return out
}

func toDocument(raw map[string]string) session.Document {
	doc := make(session.Document, len(raw))
	for k, v := range raw {
		doc[session.Field(k)] = v
	}
	return doc
}
