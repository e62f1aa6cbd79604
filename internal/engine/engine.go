// Package engine orchestrates a two-player chess session on top of the shared
// document channel. Each action reads the latest snapshot, computes the next
// one, and writes only the changed fields under a version precondition. A
// failed precondition means another writer got there first: the action is
// recomputed from the fresh snapshot a bounded number of times.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/seat"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/syncchan"
)

// Identity is the authenticated caller. Authentication happens upstream.
type Identity struct {
	ID   string
	Name string
}

type TimeControl struct {
	Minutes          int
	IncrementSeconds int
}

// MoveInput carries either squares or a notation string (UCI or SAN).
type MoveInput struct {
	From      string
	To        string
	Promotion string
	Text      string
}

// Ratings is the read side of the rating store.
type Ratings interface {
	Read(ctx context.Context, identity string) (rating.Record, error)
}

// Settlements accepts ended sessions for rating settlement.
type Settlements interface {
	Enqueue(ctx context.Context, sessionID string) error
}

type Options struct {
	Now                func() time.Time
	Coin               seat.Coin
	ConflictRetries    int
	DefaultTimeControl TimeControl
	// StartPosition is the FEN new sessions open from.
	StartPosition string
	// BackgroundTimeout bounds settlement enqueue and archive after a game ends.
	BackgroundTimeout time.Duration
}

type Engine struct {
	docs     syncchan.Channel
	rules    *rules.Adapter
	ratings  Ratings
	settler  Settlements
	archiver archive.Archiver
	opts     Options

	wg sync.WaitGroup
}

func New(docs syncchan.Channel, ratings Ratings, settler Settlements, archiver archive.Archiver, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Coin == nil {
		opts.Coin = seat.RandomCoin
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	if opts.DefaultTimeControl.Minutes <= 0 {
		opts.DefaultTimeControl.Minutes = 10
	}
	if strings.TrimSpace(opts.StartPosition) == "" {
		opts.StartPosition = rules.StartFEN
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = 10 * time.Second
	}
	if archiver == nil {
		archiver = archive.Noop{}
	}
	return &Engine{
		docs:     docs,
		rules:    rules.NewAdapter(),
		ratings:  ratings,
		settler:  settler,
		archiver: archiver,
		opts:     opts,
	}
}

// Wait blocks until post-game background work has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// step computes the next snapshot from cur. A non-nil next is written; err
// is returned to the caller after the write, or instead of it when next is
// nil. Both nil means nothing to do.
type step func(cur *session.Session, now time.Time) (next *session.Session, err error)

// mutate runs fn against the latest snapshot and writes the result under a
// version precondition, recomputing on conflict.
func (e *Engine) mutate(ctx context.Context, action, id string, fn step) (*session.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, session.ErrInvalidArgs
	}
	for attempt := 0; ; attempt++ {
		cur, err := e.docs.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		next, stepErr := fn(cur.Clone(), e.opts.Now())
		if next == nil {
			return cur, stepErr
		}
		diff, err := session.DiffOf(cur, next)
		if err != nil {
			return cur, err
		}
		if diff.Empty() {
			return cur, stepErr
		}
		out, err := e.docs.Update(ctx, id, diff, syncchan.Precondition{Version: cur.Version})
		if err == nil {
			if !cur.Ended() && out.Ended() {
				e.ended(out)
			}
			return out, stepErr
		}
		if !errors.Is(err, session.ErrConflict) || attempt >= e.opts.ConflictRetries {
			return cur, err
		}
		metrics.RecordConflict(action)
		obslog.L().Debug("session_conflict_retry",
			zap.String("session_id", id),
			zap.String("action", action),
			zap.Int("attempt", attempt+1),
		)
	}
}

// ended runs once per session, from the write that ended it.
func (e *Engine) ended(s *session.Session) {
	metrics.RecordTermination(string(s.WinReason))
	obslog.L().Info("session_end",
		zap.String("session_id", s.ID),
		zap.String("winner", string(s.Winner)),
		zap.String("win_reason", string(s.WinReason)),
		zap.Int("plies", len(s.Moves)),
		zap.Int64("version", s.Version),
	)
	snap := s.Clone()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.BackgroundTimeout)
		defer cancel()
		if snap.WinReason != session.ReasonAborted && e.settler != nil {
			if err := e.settler.Enqueue(ctx, snap.ID); err != nil {
				obslog.L().Warn("session_settle_enqueue_error", zap.String("session_id", snap.ID), zap.Error(err))
			}
		}
		if err := e.archiver.Archive(ctx, snap); err != nil {
			obslog.L().Error("session_archive_error", zap.String("session_id", snap.ID), zap.Error(err))
		}
	}()
}

func (e *Engine) record(action, id string, s *session.Session, who Identity, err error) {
	metrics.RecordAction(action, session.Code(err))
	if err != nil {
		obslog.L().Debug("session_"+action+"_rejected",
			zap.String("session_id", strings.TrimSpace(id)),
			zap.String("user_id", who.ID),
			zap.String("code", session.Code(err)),
			zap.Error(err),
		)
		return
	}
	if s == nil {
		return
	}
	obslog.L().Info("session_"+action,
		zap.String("session_id", s.ID),
		zap.String("user_id", who.ID),
		zap.String("status", string(s.Status)),
		zap.Int64("version", s.Version),
	)
}

// Open creates a waiting session. An empty id gets a fresh uuid and a zero
// time control gets the configured default.
func (e *Engine) Open(ctx context.Context, id string, tc TimeControl) (*session.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if tc.Minutes <= 0 {
		tc = e.opts.DefaultTimeControl
	}
	if tc.Minutes > 180 || tc.IncrementSeconds < 0 || tc.IncrementSeconds > 60 {
		return nil, session.ErrInvalidArgs
	}
	s := session.New(id, e.opts.StartPosition, clock.NewState(tc.Minutes, tc.IncrementSeconds), e.opts.Now())
	created, err := e.docs.Create(ctx, s)
	e.record("open", id, created, Identity{}, err)
	return created, err
}

// Join seats who in session id, creating the session on first use. Joining
// a session the identity already sits in returns that seat unchanged.
func (e *Engine) Join(ctx context.Context, id string, who Identity) (session.Side, *session.Session, error) {
	who.ID = strings.TrimSpace(who.ID)
	if who.ID == "" || strings.TrimSpace(id) == "" {
		return "", nil, session.ErrInvalidArgs
	}
	if _, err := e.docs.Read(ctx, id); errors.Is(err, session.ErrNotFound) {
		if _, err := e.Open(ctx, id, TimeControl{}); err != nil && !errors.Is(err, session.ErrConflict) {
			return "", nil, err
		}
	} else if err != nil {
		return "", nil, err
	}

	ref := session.PlayerRef{ID: who.ID, Name: strings.TrimSpace(who.Name), Rating: rating.DefaultRating}
	if e.ratings != nil {
		rec, err := e.ratings.Read(ctx, who.ID)
		if err != nil {
			return "", nil, err
		}
		ref.Rating = rec.Rating
	}
	if ref.Name == "" {
		ref.Name = who.ID
	}

	var side session.Side
	s, err := e.mutate(ctx, "join", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		d, err := seat.Assign(cur, ref, e.opts.Coin)
		if err != nil {
			return nil, err
		}
		side = d.Side
		if !d.Changed {
			return nil, nil
		}
		cur.UpdatedAt = now
		return cur, nil
	})
	e.record("join", id, s, who, err)
	if err != nil {
		return "", s, err
	}
	return side, s, nil
}

// Move validates and applies one ply for who. When the mover's clock has run
// out the session is ended on time instead and ErrClockExpired is returned
// together with the ended snapshot.
func (e *Engine) Move(ctx context.Context, id string, who Identity, in MoveInput) (*session.Session, error) {
	s, err := e.mutate(ctx, "move", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		if cur.Ended() {
			return nil, session.ErrGameEnded
		}
		if !cur.Full() {
			return nil, session.ErrSeatNotFilled
		}
		side, ok := cur.SideOf(who.ID)
		if !ok {
			return nil, session.ErrNotSeated
		}
		if side != cur.Turn {
			return nil, session.ErrNotYourTurn
		}
		if clock.Expired(side, cur.Clock, cur.Status, cur.Turn, cur.UpdatedAt, now) {
			endOnTime(cur, side, now)
			return cur, session.ErrClockExpired
		}

		from, to, promo := in.From, in.To, in.Promotion
		if strings.TrimSpace(in.Text) != "" {
			var err error
			if from, to, promo, err = e.rules.ParseMove(cur.Position, in.Text); err != nil {
				return nil, err
			}
		}
		res, err := e.rules.TryMove(rules.Request{
			Position:  cur.Position,
			History:   cur.Positions(),
			From:      from,
			To:        to,
			Promotion: promo,
		})
		if err != nil {
			return nil, err
		}

		committed := clock.Commit(cur.Clock, cur.Status, side, cur.UpdatedAt, now)
		rec := session.MoveRecord{
			Ply:       len(cur.Moves) + 1,
			Side:      side,
			From:      res.UCI[0:2],
			To:        res.UCI[2:4],
			Promotion: res.Promotion,
			Notation:  res.Notation,
			UCI:       res.UCI,
			Position:  res.Position,
			At:        now,
			Clock:     committed,
		}
		cur.Moves = append(cur.Moves, rec)
		cur.LastMove = &session.LastMove{From: rec.From, To: rec.To, Notation: rec.Notation}
		cur.Position = res.Position
		cur.Turn = res.Turn
		cur.Clock = committed
		cur.UpdatedAt = now
		cur.DrawOfferedBy = ""
		if cur.Status == session.StatusWaiting {
			cur.Status = session.StatusOngoing
		}
		if reason := res.Terminal(); reason != "" {
			winner := session.WinnerDraw
			if reason == session.ReasonCheckmate {
				winner = session.WinnerOf(side)
			}
			cur.End(winner, reason)
		}
		return cur, nil
	})
	e.record("move", id, s, who, err)
	return s, err
}

// OfferDraw records a pending offer from who.
func (e *Engine) OfferDraw(ctx context.Context, id string, who Identity) (*session.Session, error) {
	s, err := e.mutate(ctx, "draw_offer", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		if _, err := playing(cur, who); err != nil {
			return nil, err
		}
		if cur.DrawOfferedBy != "" {
			return nil, session.ErrDrawAlreadyOffered
		}
		settle(cur, now)
		cur.DrawOfferedBy = who.ID
		return cur, nil
	})
	e.record("draw_offer", id, s, who, err)
	return s, err
}

// AcceptDraw ends the session as a draw by agreement. Only the seated player
// who did not make the offer may accept.
func (e *Engine) AcceptDraw(ctx context.Context, id string, who Identity) (*session.Session, error) {
	s, err := e.mutate(ctx, "draw_accept", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		if err := answerable(cur, who); err != nil {
			return nil, err
		}
		settle(cur, now)
		cur.End(session.WinnerDraw, session.ReasonAgreement)
		return cur, nil
	})
	e.record("draw_accept", id, s, who, err)
	return s, err
}

// DeclineDraw clears a pending offer made by the opponent.
func (e *Engine) DeclineDraw(ctx context.Context, id string, who Identity) (*session.Session, error) {
	s, err := e.mutate(ctx, "draw_decline", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		if err := answerable(cur, who); err != nil {
			return nil, err
		}
		settle(cur, now)
		cur.DrawOfferedBy = ""
		return cur, nil
	})
	e.record("draw_decline", id, s, who, err)
	return s, err
}

// Resign ends the session with the opponent winning.
func (e *Engine) Resign(ctx context.Context, id string, who Identity) (*session.Session, error) {
	s, err := e.mutate(ctx, "resign", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		side, err := playing(cur, who)
		if err != nil {
			return nil, err
		}
		settle(cur, now)
		cur.End(session.WinnerOf(side.Opponent()), session.ReasonResignation)
		return cur, nil
	})
	e.record("resign", id, s, who, err)
	return s, err
}

// Abort ends a session with no rating effect. Allowed while fewer than two
// plies are recorded.
func (e *Engine) Abort(ctx context.Context, id string, who Identity) (*session.Session, error) {
	s, err := e.mutate(ctx, "abort", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		if cur.Ended() {
			return nil, session.ErrGameEnded
		}
		if _, ok := cur.SideOf(who.ID); !ok {
			return nil, session.ErrNotSeated
		}
		if len(cur.Moves) >= 2 {
			return nil, session.ErrAbortTooLate
		}
		settle(cur, now)
		cur.End(session.WinnerDraw, session.ReasonAborted)
		return cur, nil
	})
	e.record("abort", id, s, who, err)
	return s, err
}

// ClaimTimeout is the expiry notification from an observing client. It ends
// the session on time when the side to move has no time left, and is a
// no-op otherwise.
func (e *Engine) ClaimTimeout(ctx context.Context, id string, who Identity) (*session.Session, error) {
	s, err := e.mutate(ctx, "timeout", id, func(cur *session.Session, now time.Time) (*session.Session, error) {
		if cur.Status != session.StatusOngoing {
			return nil, nil
		}
		if !clock.Expired(cur.Turn, cur.Clock, cur.Status, cur.Turn, cur.UpdatedAt, now) {
			return nil, nil
		}
		endOnTime(cur, cur.Turn, now)
		return cur, nil
	})
	e.record("timeout", id, s, who, err)
	return s, err
}

// Snapshot returns the latest session document.
func (e *Engine) Snapshot(ctx context.Context, id string) (*session.Session, error) {
	return e.docs.Read(ctx, id)
}

// Subscribe forwards snapshots of session id to fn until the returned func
// is called or ctx ends.
func (e *Engine) Subscribe(ctx context.Context, id string, fn syncchan.Listener) (func(), error) {
	unsubscribe, err := e.docs.Subscribe(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	metrics.ActiveSubscriptions.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			metrics.ActiveSubscriptions.Dec()
		})
	}, nil
}

// ClockView is both clocks evaluated at one instant.
type ClockView struct {
	WhiteMs int64
	BlackMs int64
	Active  session.Side
	Running bool
}

// Remaining evaluates the session clocks at the current time.
func (e *Engine) Remaining(ctx context.Context, id string) (ClockView, error) {
	s, err := e.docs.Read(ctx, id)
	if err != nil {
		return ClockView{}, err
	}
	return ViewAt(s, e.opts.Now()), nil
}

// ViewAt evaluates s's clocks at now.
func ViewAt(s *session.Session, now time.Time) ClockView {
	return ClockView{
		WhiteMs: clock.Remaining(session.White, s.Clock, s.Status, s.Turn, s.UpdatedAt, now),
		BlackMs: clock.Remaining(session.Black, s.Clock, s.Status, s.Turn, s.UpdatedAt, now),
		Active:  s.Turn,
		Running: s.Status == session.StatusOngoing,
	}
}

// playing checks that who is seated in an ongoing session.
func playing(cur *session.Session, who Identity) (session.Side, error) {
	if cur.Ended() {
		return "", session.ErrGameEnded
	}
	side, ok := cur.SideOf(who.ID)
	if !ok {
		return "", session.ErrNotSeated
	}
	if cur.Status != session.StatusOngoing {
		return "", session.ErrNotStarted
	}
	return side, nil
}

func answerable(cur *session.Session, who Identity) error {
	if _, err := playing(cur, who); err != nil {
		return err
	}
	if cur.DrawOfferedBy == "" {
		return session.ErrNoDrawOffer
	}
	if cur.DrawOfferedBy == strings.TrimSpace(who.ID) {
		return session.ErrOwnDrawOffer
	}
	return nil
}

// settle moves the clock epoch to now, charging the side to move.
func settle(cur *session.Session, now time.Time) {
	cur.Clock = clock.Settle(cur.Clock, cur.Status, cur.Turn, cur.UpdatedAt, now)
	cur.UpdatedAt = now
}

func endOnTime(cur *session.Session, loser session.Side, now time.Time) {
	settle(cur, now)
	cur.Clock = cur.Clock.With(loser, 0)
	cur.End(session.WinnerOf(loser.Opponent()), session.ReasonTimeout)
}
