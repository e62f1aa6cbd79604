package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/syncchan"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type harness struct {
	t   *testing.T
	srv *httptest.Server
	eng *engine.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := rating.NewMemoryStore(rating.DefaultRating)
	store.Seed(rating.Record{ID: "a", Rating: 1500})
	store.Seed(rating.Record{ID: "b", Rating: 1400})
	eng := engine.New(syncchan.NewMemoryChannel(), store, nil, nil, engine.Options{
		Coin: func() session.Side { return session.White },
	})
	srv := httptest.NewServer(New(eng, nil, Options{}).Handler())
	t.Cleanup(func() {
		srv.Close()
		eng.Wait()
	})
	return &harness{t: t, srv: srv, eng: eng}
}

func (h *harness) do(method, path, user string, body any, out any) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *harness) seat(id string) {
	h.t.Helper()
	var j arenadto.JoinResponse
	require.Equal(h.t, http.StatusOK, h.do(http.MethodPost, "/sessions/"+id+"/join", "a", nil, &j))
	require.Equal(h.t, "white", j.Side)
	require.Equal(h.t, http.StatusOK, h.do(http.MethodPost, "/sessions/"+id+"/join", "b", nil, &j))
	require.Equal(h.t, "black", j.Side)
	require.Equal(h.t, "waiting", j.Session.Status)
}

func TestOpenAndSnapshot(t *testing.T) {
	h := newHarness(t)
	var s arenadto.Session
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/sessions", "", arenadto.OpenRequest{ID: "g1", Minutes: 3, IncrementSeconds: 2}, &s))
	assert.Equal(t, "g1", s.ID)
	assert.Equal(t, "waiting", s.Status)
	assert.Equal(t, int64(180000), s.Clock.WhiteMs)
	assert.False(t, s.Clock.Running)

	var got arenadto.Session
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/sessions/g1", "", nil, &got))
	assert.Equal(t, s.Version, got.Version)

	var env arenadto.ErrorEnvelope
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/sessions", "", arenadto.OpenRequest{ID: "g1"}, &env))
	assert.Equal(t, "conflict", env.Error.Code)
}

func TestOpenGeneratesID(t *testing.T) {
	h := newHarness(t)
	var s arenadto.Session
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/sessions", "", nil, &s))
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 10, s.Clock.TimeControlMinutes)
}

func TestMissingSession(t *testing.T) {
	h := newHarness(t)
	var env arenadto.ErrorEnvelope
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/sessions/nope", "", nil, &env))
	assert.Equal(t, "not_found", env.Error.Code)
	assert.Nil(t, env.Session)
}

func TestMoveRejectionCarriesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.seat("g2")

	var s arenadto.Session
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions/g2/move", "a", arenadto.MoveRequest{Move: "e4"}, &s))
	require.Len(t, s.Moves, 1)
	assert.Equal(t, "e2", s.Moves[0].From)
	assert.Equal(t, "black", s.Turn)

	var env arenadto.ErrorEnvelope
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/sessions/g2/move", "a", arenadto.MoveRequest{From: "d2", To: "d4"}, &env))
	assert.Equal(t, "not_your_turn", env.Error.Code)
	assert.Equal(t, "move not applied: it is not your turn", env.Error.Message)
	assert.False(t, env.Error.Retryable)
	require.NotNil(t, env.Session)
	assert.Equal(t, s.Version, env.Session.Version)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/sessions/g2/move", "b", arenadto.MoveRequest{From: "e7", To: "e3"}, &env))
	assert.Equal(t, "illegal_move", env.Error.Code)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/sessions/g2/move", "c", arenadto.MoveRequest{Move: "e5"}, &env))
	assert.Equal(t, "not_seated", env.Error.Code)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/sessions/g2/move", strings.NewReader(`{"bogus":1}`))
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "b")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDrawAndResignRoutes(t *testing.T) {
	h := newHarness(t)
	h.seat("g3")
	var s arenadto.Session
	var env arenadto.ErrorEnvelope
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/sessions/g3/draw/offer", "a", nil, &env))
	assert.Equal(t, "not_started", env.Error.Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions/g3/move", "a", arenadto.MoveRequest{Move: "e4"}, &s))
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions/g3/draw/offer", "a", nil, &s))
	assert.Equal(t, "a", s.DrawOfferedBy)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/sessions/g3/draw/accept", "a", nil, &env))
	assert.Equal(t, "own_draw_offer", env.Error.Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions/g3/draw/decline", "b", nil, &s))
	assert.Empty(t, s.DrawOfferedBy)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions/g3/resign", "b", nil, &s))
	assert.Equal(t, "ended", s.Status)
	assert.Equal(t, "white", s.Winner)
	assert.Equal(t, "resignation", s.WinReason)
	assert.False(t, s.Clock.Running)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/sessions/g3/abort", "a", nil, &env))
	assert.Equal(t, "game_ended", env.Error.Code)
}

func TestClockRoute(t *testing.T) {
	h := newHarness(t)
	h.seat("g4")
	var v map[string]any
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/sessions/g4/clock", "", nil, &v))
	assert.Equal(t, "white", v["active"])
	assert.Equal(t, false, v["running"])
	assert.Equal(t, float64(600000), v["white_ms"])

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions/g4/move", "a", arenadto.MoveRequest{Move: "d4"}, nil))
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/sessions/g4/clock", "", nil, &v))
	assert.Equal(t, "black", v["active"])
	assert.Equal(t, true, v["running"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil, nil))
	resp, err := h.srv.Client().Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamDeliversNewerSnapshots(t *testing.T) {
	h := newHarness(t)
	h.seat("g5")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/sessions/g5/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first arenadto.Session
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "waiting", first.Status)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions/g5/move", "a", arenadto.MoveRequest{Move: "e2e4"}, nil))

	var next arenadto.Session
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	assert.Greater(t, next.Version, first.Version)
	assert.Equal(t, "ongoing", next.Status)
	require.Len(t, next.Moves, 1)
	assert.Equal(t, "e4", next.Moves[0].SAN)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func TestStreamMissingSession(t *testing.T) {
	h := newHarness(t)
	resp, err := h.srv.Client().Get(h.srv.URL + "/sessions/none/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf("conflict"))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf("settlement_failure"))
	assert.Equal(t, http.StatusInternalServerError, statusOf("internal"))
}
