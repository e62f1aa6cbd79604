// Package clock does chess-clock accounting over stored session state.
// Nothing here reads the wall clock; callers pass now.
package clock

import (
	"fmt"
	"time"

	"github.com/park285/cheese-arena/internal/session"
)

// NewState returns a full clock for the time control.
func NewState(minutes, incrementSeconds int) session.Clock {
	if minutes < 0 {
		minutes = 0
	}
	if incrementSeconds < 0 {
		incrementSeconds = 0
	}
	full := int64(minutes) * int64(time.Minute/time.Millisecond)
	return session.Clock{
		WhiteMs:            full,
		BlackMs:            full,
		TimeControlMinutes: minutes,
		IncrementSeconds:   incrementSeconds,
	}
}

// Remaining returns the time left for side at now. Only the active side burns
// time and nothing burns while the session is waiting. Never negative.
func Remaining(side session.Side, c session.Clock, status session.Status, active session.Side, updatedAt, now time.Time) int64 {
	stored := c.Of(side)
	if side != active || status != session.StatusOngoing {
		return floor(stored)
	}
	elapsed := now.Sub(updatedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return floor(stored - elapsed)
}

// Expired reports whether side has no time left at now.
func Expired(side session.Side, c session.Clock, status session.Status, active session.Side, updatedAt, now time.Time) bool {
	return Remaining(side, c, status, active, updatedAt, now) == 0
}

// Settle charges the elapsed time to the active side without increment. Use
// it whenever the epoch (updatedAt) moves for anything other than a move.
func Settle(c session.Clock, status session.Status, active session.Side, updatedAt, now time.Time) session.Clock {
	return c.With(active, Remaining(active, c, status, active, updatedAt, now))
}

// Commit charges the mover's elapsed time, floored at zero, then adds the
// increment. The other side keeps its stored value.
func Commit(c session.Clock, status session.Status, mover session.Side, updatedAt, now time.Time) session.Clock {
	left := Remaining(mover, c, status, mover, updatedAt, now)
	left += int64(c.IncrementSeconds) * 1000
	return c.With(mover, left)
}

// Format renders milliseconds as m:ss, or s.t under ten seconds.
func Format(ms int64) string {
	ms = floor(ms)
	totalSeconds := ms / 1000
	if ms < 10000 {
		return fmt.Sprintf("%d.%d", totalSeconds, (ms%1000)/100)
	}
	return fmt.Sprintf("%d:%02d", totalSeconds/60, totalSeconds%60)
}

func floor(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}
