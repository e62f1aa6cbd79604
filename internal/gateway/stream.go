package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

const writeTimeout = 5 * time.Second

// stream pushes every newer snapshot of a session to a websocket client.
// A slow client only ever sees the newest snapshot, never a stale one after
// a fresh one.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.eng.Snapshot(r.Context(), id); err != nil {
		s.fail(w, "stream", nil, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		obslog.L().Debug("ws_accept_error", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// clients never send; CloseRead handles control frames and ends ctx on close
	ctx := conn.CloseRead(r.Context())

	latest := make(chan *session.Session, 1)
	unsubscribe, err := s.eng.Subscribe(ctx, id, func(snap *session.Session) {
		for {
			select {
			case latest <- snap:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer unsubscribe()
	obslog.L().Debug("ws_stream_open", zap.String("session_id", id))

	var sent int64
	for {
		select {
		case <-ctx.Done():
			obslog.L().Debug("ws_stream_closed", zap.String("session_id", id))
			return
		case snap := <-latest:
			if snap.Version <= sent {
				continue
			}
			if err := write(ctx, conn, arenadto.FromSession(snap, s.opts.Now())); err != nil {
				if !errors.Is(err, context.Canceled) {
					obslog.L().Debug("ws_write_error", zap.String("session_id", id), zap.Error(err))
				}
				return
			}
			sent = snap.Version
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
