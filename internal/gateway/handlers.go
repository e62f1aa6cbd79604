package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

const maxBody = 16 << 10

type actionFunc func(ctx context.Context, id string, who engine.Identity) (*session.Session, error)

func identity(r *http.Request) engine.Identity {
	return engine.Identity{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderUserName)),
	}
}

func (s *Server) open(w http.ResponseWriter, r *http.Request) {
	var req arenadto.OpenRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "open", nil, session.ErrInvalidArgs)
		return
	}
	out, err := s.eng.Open(r.Context(), req.ID, engine.TimeControl{Minutes: req.Minutes, IncrementSeconds: req.IncrementSeconds})
	if err != nil {
		s.fail(w, "open", out, err)
		return
	}
	writeJSON(w, http.StatusCreated, arenadto.FromSession(out, s.opts.Now()))
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	out, err := s.eng.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "snapshot", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, arenadto.FromSession(out, s.opts.Now()))
}

func (s *Server) clock(w http.ResponseWriter, r *http.Request) {
	v, err := s.eng.Remaining(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "clock", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"white_ms": v.WhiteMs,
		"black_ms": v.BlackMs,
		"active":   v.Active,
		"running":  v.Running,
	})
}

func (s *Server) join(w http.ResponseWriter, r *http.Request) {
	side, out, err := s.eng.Join(r.Context(), chi.URLParam(r, "id"), identity(r))
	if err != nil {
		s.fail(w, "join", out, err)
		return
	}
	writeJSON(w, http.StatusOK, arenadto.JoinResponse{Side: string(side), Session: arenadto.FromSession(out, s.opts.Now())})
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	var req arenadto.MoveRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "move", nil, session.ErrInvalidArgs)
		return
	}
	out, err := s.eng.Move(r.Context(), chi.URLParam(r, "id"), identity(r), engine.MoveInput{
		From:      req.From,
		To:        req.To,
		Promotion: req.Promotion,
		Text:      req.Move,
	})
	if err != nil {
		s.fail(w, "move", out, err)
		return
	}
	writeJSON(w, http.StatusOK, arenadto.FromSession(out, s.opts.Now()))
}

func (s *Server) action(name string, fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), chi.URLParam(r, "id"), identity(r))
		if err != nil {
			s.fail(w, name, out, err)
			return
		}
		writeJSON(w, http.StatusOK, arenadto.FromSession(out, s.opts.Now()))
	}
}

func (s *Server) fail(w http.ResponseWriter, action string, cur *session.Session, err error) {
	code := session.Code(err)
	status := statusOf(code)
	if status >= http.StatusInternalServerError {
		obslog.L().Error("http_action_error", zap.String("action", action), zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, arenadto.ErrorEnvelope{
		Error:   arenadto.FromError(err, s.cat.Rejection(action, code)),
		Session: arenadto.FromSession(cur, s.opts.Now()),
	})
}

func statusOf(code string) int {
	switch code {
	case "invalid_args", "illegal_move":
		return http.StatusBadRequest
	case "not_seated":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "not_your_turn", "seat_not_filled", "already_full", "already_seated", "clock_expired",
		"conflict", "game_ended", "not_started", "no_draw_offer", "own_draw_offer",
		"draw_already_offered", "abort_too_late", "invalid_transition":
		return http.StatusConflict
	case "settlement_failure":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_error", zap.Error(err))
	}
}
