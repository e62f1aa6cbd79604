package notify

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

func serve(t *testing.T, h fasthttp.RequestHandler) fasthttp.DialFunc {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return func(string) (net.Conn, error) { return ln.Dial() }
}

func ended() *session.Session {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := session.New("g1", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", session.Clock{TimeControlMinutes: 3, IncrementSeconds: 2, WhiteMs: 180000, BlackMs: 180000}, t0)
	s.White = &session.PlayerRef{ID: "a", Name: "Ann", Rating: 1500}
	s.Black = &session.PlayerRef{ID: "b", Name: "Bob", Rating: 1400}
	s.Status = session.StatusEnded
	s.Winner = session.WinnerBlack
	s.WinReason = session.ReasonResignation
	return s
}

func TestWebhookPostsEndedEvent(t *testing.T) {
	var got arenadto.EndedEvent
	var auth string
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		auth = string(ctx.Request.Header.Peek("X-Arena-Token"))
		if err := json.Unmarshal(ctx.PostBody(), &got); err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
		}
	})
	c := NewClient("http://hook.local/results", WithDial(dial), WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Arena-Token": "secret"}
	}))
	require.NoError(t, NewWebhook(c).Archive(context.Background(), ended()))
	assert.Equal(t, "secret", auth)
	assert.Equal(t, EventSessionEnded, got.Type)
	assert.Equal(t, "g1", got.Session.ID)
	assert.Equal(t, "resignation", got.Session.WinReason)
	assert.Contains(t, got.PGN, `[Result "0-1"]`)
}

func TestWebhookSkipsUnfinished(t *testing.T) {
	var calls atomic.Int32
	dial := serve(t, func(*fasthttp.RequestCtx) { calls.Add(1) })
	s := ended()
	s.Status = session.StatusOngoing
	require.NoError(t, NewWebhook(NewClient("http://hook.local/", WithDial(dial))).Archive(context.Background(), s))
	assert.Zero(t, calls.Load())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		}
	})
	c := NewClient("http://hook.local/", WithDial(dial), WithRetry(3))
	require.NoError(t, c.PostJSON(context.Background(), map[string]string{"k": "v"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusUnprocessableEntity)
		ctx.SetBodyString("nope")
	})
	err := NewClient("http://hook.local/", WithDial(dial)).PostJSON(context.Background(), struct{}{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 422, se.Status)
	assert.Equal(t, "nope", se.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryDelay(t *testing.T) {
	p := retryPolicy{attempts: 3, base: 100 * time.Millisecond, maxShift: 5}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(3))
	assert.Equal(t, 3200*time.Millisecond, p.delay(9))
	assert.Equal(t, 1, retryPolicy{}.total())
}
