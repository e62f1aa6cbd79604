package syncchan

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/session"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisChannel) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb, err := Dial(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisChannel(rdb, time.Hour)
}

func channels(t *testing.T) map[string]Channel {
	_, rc := newRedis(t)
	return map[string]Channel{
		"redis":  rc,
		"memory": NewMemoryChannel(),
	}
}

func fresh(id string) *session.Session {
	return session.New(id, startFEN, session.Clock{WhiteMs: 600000, BlackMs: 600000, TimeControlMinutes: 10}, t0)
}

func touch(t *testing.T, c Channel, cur *session.Session, d time.Duration) (*session.Session, error) {
	t.Helper()
	next := cur.Clone()
	next.UpdatedAt = cur.UpdatedAt.Add(d)
	diff, err := session.DiffOf(cur, next)
	require.NoError(t, err)
	return c.Update(context.Background(), cur.ID, diff, Precondition{Version: cur.Version})
}

func TestCreateReadUpdate(t *testing.T) {
	for name, c := range channels(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := c.Create(ctx, fresh("g1"))
			require.NoError(t, err)
			assert.EqualValues(t, 1, created.Version)

			_, err = c.Create(ctx, fresh("g1"))
			assert.ErrorIs(t, err, session.ErrConflict)

			_, err = c.Read(ctx, "missing")
			assert.ErrorIs(t, err, session.ErrNotFound)

			next := created.Clone()
			next.White = &session.PlayerRef{ID: "a", Name: "A", Rating: 1200}
			diff, err := session.DiffOf(created, next)
			require.NoError(t, err)
			assert.Equal(t, []session.Field{session.FieldSeatWhite}, diff.Fields())

			got, err := c.Update(ctx, "g1", diff, Precondition{Version: 1})
			require.NoError(t, err)
			assert.EqualValues(t, 2, got.Version)

			read, err := c.Read(ctx, "g1")
			require.NoError(t, err)
			assert.EqualValues(t, 2, read.Version)
			require.NotNil(t, read.White)
			assert.Equal(t, "a", read.White.ID)
			assert.True(t, read.CreatedAt.Equal(t0))
		})
	}
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	for name, c := range channels(t) {
		t.Run(name, func(t *testing.T) {
			created, err := c.Create(context.Background(), fresh("g1"))
			require.NoError(t, err)
			_, err = touch(t, c, created, time.Second)
			require.NoError(t, err)

			_, err = touch(t, c, created, 2*time.Second)
			assert.ErrorIs(t, err, session.ErrConflict)
			assert.True(t, session.Retryable(err))
		})
	}
}

func TestUpdateRejectsInvalidDiffWithoutWriting(t *testing.T) {
	for name, c := range channels(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := c.Create(ctx, fresh("g1"))
			require.NoError(t, err)

			next := created.Clone()
			next.Winner = session.WinnerDraw
			next.WinReason = session.ReasonAgreement
			diff, err := session.DiffOf(created, next)
			require.NoError(t, err)
			_, err = c.Update(ctx, "g1", diff, Precondition{Version: 1})
			assert.ErrorIs(t, err, session.ErrInvalidDocument)

			read, err := c.Read(ctx, "g1")
			require.NoError(t, err)
			assert.EqualValues(t, 1, read.Version)
			assert.Equal(t, session.StatusWaiting, read.Status)
		})
	}
}

func TestEmptyDiffIsNoop(t *testing.T) {
	for name, c := range channels(t) {
		t.Run(name, func(t *testing.T) {
			created, err := c.Create(context.Background(), fresh("g1"))
			require.NoError(t, err)
			got, err := c.Update(context.Background(), "g1", session.Diff{}, Precondition{Version: 1})
			require.NoError(t, err)
			assert.EqualValues(t, created.Version, got.Version)
		})
	}
}

func TestConcurrentWritersOneWins(t *testing.T) {
	for name, c := range channels(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := c.Create(ctx, fresh("g1"))
			require.NoError(t, err)

			const writers = 8
			var wg sync.WaitGroup
			errs := make([]error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					next := created.Clone()
					next.White = &session.PlayerRef{ID: fmt.Sprintf("p%d", i)}
					diff, err := session.DiffOf(created, next)
					if err != nil {
						errs[i] = err
						return
					}
					_, errs[i] = c.Update(ctx, "g1", diff, Precondition{Version: created.Version})
				}(i)
			}
			wg.Wait()

			wins := 0
			for _, err := range errs {
				if err == nil {
					wins++
					continue
				}
				assert.ErrorIs(t, err, session.ErrConflict)
			}
			assert.Equal(t, 1, wins)
			read, err := c.Read(ctx, "g1")
			require.NoError(t, err)
			assert.EqualValues(t, 2, read.Version)
		})
	}
}

func TestSubscribeIsMonotonic(t *testing.T) {
	for name, c := range channels(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cur, err := c.Create(ctx, fresh("g1"))
			require.NoError(t, err)

			var mu sync.Mutex
			var seen []int64
			unsubscribe, err := c.Subscribe(ctx, "g1", func(s *session.Session) {
				mu.Lock()
				seen = append(seen, s.Version)
				mu.Unlock()
			})
			require.NoError(t, err)
			defer unsubscribe()

			for i := 1; i <= 3; i++ {
				cur, err = touch(t, c, cur, time.Duration(i)*time.Second)
				require.NoError(t, err)
			}

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(seen) > 0 && seen[len(seen)-1] == 4
			}, 2*time.Second, 10*time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			assert.EqualValues(t, 1, seen[0])
			for i := 1; i < len(seen); i++ {
				assert.Greater(t, seen[i], seen[i-1])
			}
		})
	}
}

func TestSubscribeMissingSession(t *testing.T) {
	for name, c := range channels(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Subscribe(context.Background(), "nope", func(*session.Session) {})
			assert.ErrorIs(t, err, session.ErrNotFound)
		})
	}
}

func TestRedisDocumentLayoutAndTTL(t *testing.T) {
	mr, c := newRedis(t)
	_, err := c.Create(context.Background(), fresh("g1"))
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet("arena:session:g1", "version"))
	assert.Equal(t, `"waiting"`, mr.HGet("arena:session:g1", "status"))
	assert.Equal(t, time.Hour, mr.TTL("arena:session:g1"))
}

func TestRedisTrackEndedAddsOnEndingWrite(t *testing.T) {
	mr, c := newRedis(t)
	c.TrackEnded("ended")
	ctx := context.Background()
	cur, err := c.Create(ctx, fresh("g1"))
	require.NoError(t, err)

	cur, err = touch(t, c, cur, time.Second)
	require.NoError(t, err)
	assert.False(t, mr.Exists("ended"))

	next := cur.Clone()
	next.End(session.WinnerDraw, session.ReasonAborted)
	diff, err := session.DiffOf(cur, next)
	require.NoError(t, err)
	ended, err := c.Update(ctx, "g1", diff, Precondition{Version: cur.Version})
	require.NoError(t, err)
	ids, err := mr.Members("ended")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)

	// an ended session is never re-added by later writes
	mr.Del("ended")
	_, err = touch(t, c, ended, time.Second)
	require.NoError(t, err)
	assert.False(t, mr.Exists("ended"))
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = ParseRedisURL("http://localhost")
	assert.Error(t, err)
	_, err = ParseRedisURL("redis://localhost/x")
	assert.Error(t, err)
}
