package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/metrics"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/syncchan"
)

// Documents is the part of the session store the settler needs.
type Documents interface {
	Read(ctx context.Context, id string) (*session.Session, error)
	Update(ctx context.Context, id string, diff session.Diff, pre syncchan.Precondition) (*session.Session, error)
}

type SettlerOptions struct {
	// RetryInterval is the base delay for re-trying a failed settlement.
	RetryInterval time.Duration
	// ConflictRetries bounds re-reads while writing final ratings.
	ConflictRetries int
	Now             func() time.Time
}

// Settler applies rating changes for ended sessions outside the move path.
// Pending ids are persisted first, so a failure is retried on a later tick
// and never rolls back or re-opens the session.
type Settler struct {
	docs  Documents
	store Store
	queue PendingQueue
	opts  SettlerOptions
	wake  chan string

	// touched only by the Run goroutine
	failures  map[string]int
	notBefore map[string]time.Time
}

func NewSettler(docs Documents, store Store, queue PendingQueue, opts SettlerOptions) *Settler {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if queue == nil {
		queue = NewMemoryQueue()
	}
	return &Settler{
		docs:      docs,
		store:     store,
		queue:     queue,
		opts:      opts,
		wake:      make(chan string, 64),
		failures:  make(map[string]int),
		notBefore: make(map[string]time.Time),
	}
}

// Enqueue records sessionID as pending and nudges the worker. It never blocks
// on the worker; when the nudge buffer is full the next tick picks it up.
func (s *Settler) Enqueue(ctx context.Context, sessionID string) error {
	err := s.queue.Add(ctx, sessionID)
	if err != nil {
		obslog.L().Warn("settlement_enqueue_error", zap.String("session_id", sessionID), zap.Error(err))
	}
	select {
	case s.wake <- sessionID:
	default:
	}
	return err
}

// Run processes nudges and drains the pending queue every RetryInterval until
// ctx is done.
func (s *Settler) Run(ctx context.Context) error {
	s.drain(ctx)
	ticker := time.NewTicker(s.opts.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-s.wake:
			s.attempt(ctx, id)
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Settler) drain(ctx context.Context) {
	ids, err := s.queue.List(ctx)
	if err != nil {
		obslog.L().Warn("settlement_queue_list_error", zap.Error(err))
		return
	}
	now := s.opts.Now()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if t, ok := s.notBefore[id]; ok && now.Before(t) {
			continue
		}
		s.attempt(ctx, id)
	}
}

func (s *Settler) attempt(ctx context.Context, id string) {
	applied, err := s.Apply(ctx, id)
	if err != nil {
		n := s.failures[id] + 1
		s.failures[id] = n
		s.notBefore[id] = s.opts.Now().Add(s.backoff(n))
		metrics.RecordSettlement("failed")
		obslog.L().Error("settlement_error",
			zap.String("session_id", id),
			zap.Int("attempt", n),
			zap.Error(err),
		)
		return
	}
	delete(s.failures, id)
	delete(s.notBefore, id)
	if applied {
		metrics.RecordSettlement("applied")
	} else {
		metrics.RecordSettlement("skipped")
	}
}

// backoff doubles from RetryInterval up to 32x.
func (s *Settler) backoff(failures int) time.Duration {
	if failures > 6 {
		failures = 6
	}
	return s.opts.RetryInterval * time.Duration(1<<(failures-1))
}

// Apply settles one session. It reports false with no error when there is
// nothing to do: the session is gone, not ended, aborted, or already settled.
func (s *Settler) Apply(ctx context.Context, sessionID string) (bool, error) {
	snap, err := s.docs.Read(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return false, s.done(ctx, sessionID)
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", session.ErrSettlementFailure, sessionID, err)
	}
	if !Settleable(snap) {
		return false, s.done(ctx, sessionID)
	}

	white, black := Changes(snap)
	if err := s.store.Increment(ctx, snap.ID, snap.White.ID, white); err != nil {
		return false, fmt.Errorf("%w: white %s: %v", session.ErrSettlementFailure, snap.White.ID, err)
	}
	if err := s.store.Increment(ctx, snap.ID, snap.Black.ID, black); err != nil {
		return false, fmt.Errorf("%w: black %s: %v", session.ErrSettlementFailure, snap.Black.ID, err)
	}
	final := session.Ratings{
		White: snap.StartingRating.White + white.Delta,
		Black: snap.StartingRating.Black + black.Delta,
	}
	if err := s.writeFinal(ctx, snap, final); err != nil {
		return false, fmt.Errorf("%w: final rating: %v", session.ErrSettlementFailure, err)
	}
	obslog.L().Info("settlement_applied",
		zap.String("session_id", snap.ID),
		zap.String("winner", string(snap.Winner)),
		zap.String("win_reason", string(snap.WinReason)),
		zap.Int("white_delta", white.Delta),
		zap.Int("black_delta", black.Delta),
	)
	return true, s.done(ctx, sessionID)
}

func (s *Settler) writeFinal(ctx context.Context, cur *session.Session, final session.Ratings) error {
	for attempt := 0; ; attempt++ {
		if cur.FinalRating != nil {
			return nil
		}
		next := cur.Clone()
		next.FinalRating = &final
		diff, err := session.DiffOf(cur, next)
		if err != nil {
			return err
		}
		_, err = s.docs.Update(ctx, cur.ID, diff, syncchan.Precondition{Version: cur.Version})
		if err == nil {
			return nil
		}
		if !errors.Is(err, session.ErrConflict) || attempt >= s.opts.ConflictRetries {
			return err
		}
		metrics.RecordConflict("settle")
		if cur, err = s.docs.Read(ctx, cur.ID); err != nil {
			return err
		}
	}
}

func (s *Settler) done(ctx context.Context, sessionID string) error {
	if err := s.queue.Remove(ctx, sessionID); err != nil {
		obslog.L().Warn("settlement_dequeue_error", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// Settleable reports whether s still needs rating changes.
func Settleable(s *session.Session) bool {
	return s != nil && s.Ended() && s.WinReason != session.ReasonAborted &&
		s.FinalRating == nil && s.StartingRating != nil && s.Full()
}

// Changes computes per-seat rating changes from the captured starting ratings.
func Changes(s *session.Session) (white, black Change) {
	sr := *s.StartingRating
	switch s.Winner {
	case session.WinnerWhite:
		d := Settle(sr.White, sr.Black, false)
		return Change{Delta: d.Winner, Result: ResultWin}, Change{Delta: d.Loser, Result: ResultLoss}
	case session.WinnerBlack:
		d := Settle(sr.Black, sr.White, false)
		return Change{Delta: d.Loser, Result: ResultLoss}, Change{Delta: d.Winner, Result: ResultWin}
	}
	d := Settle(sr.White, sr.Black, true)
	return Change{Delta: d.Winner, Result: ResultDraw}, Change{Delta: d.Loser, Result: ResultDraw}
}
