package session

import (
	"strings"
	"time"
)

// Side identifies a seat.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// Opponent returns the other seat.
func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) Valid() bool { return s == White || s == Black }

// Status represents the session lifecycle state.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusOngoing Status = "ongoing"
	StatusEnded   Status = "ended"
)

// Winner is the terminal result.
type Winner string

const (
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

// WinnerOf maps a seat to its winning result.
func WinnerOf(s Side) Winner {
	if s == White {
		return WinnerWhite
	}
	return WinnerBlack
}

// WinReason explains a terminal result.
type WinReason string

const (
	ReasonCheckmate            WinReason = "checkmate"
	ReasonStalemate            WinReason = "stalemate"
	ReasonInsufficientMaterial WinReason = "insufficient_material"
	ReasonThreefoldRepetition  WinReason = "threefold_repetition"
	ReasonFiftyMoveRule        WinReason = "fifty_move_rule"
	ReasonTimeout              WinReason = "timeout"
	ReasonResignation          WinReason = "resignation"
	ReasonAgreement            WinReason = "agreement"
	ReasonAborted              WinReason = "aborted"
)

// Decisive reports whether the reason always produces a winning side.
func (r WinReason) Decisive() bool {
	switch r {
	case ReasonCheckmate, ReasonTimeout, ReasonResignation:
		return true
	}
	return false
}

// PlayerRef is the identity snapshot taken when a player sits down.
type PlayerRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// Clock holds stored remaining time per side. Only the side to move burns
// time, measured from Session.UpdatedAt.
type Clock struct {
	WhiteMs            int64 `json:"white_ms"`
	BlackMs            int64 `json:"black_ms"`
	TimeControlMinutes int   `json:"time_control_minutes"`
	IncrementSeconds   int   `json:"increment_seconds"`
}

// Of returns the stored value for a side.
func (c Clock) Of(s Side) int64 {
	if s == White {
		return c.WhiteMs
	}
	return c.BlackMs
}

// With returns a copy with the side's stored value replaced.
func (c Clock) With(s Side, ms int64) Clock {
	if s == White {
		c.WhiteMs = ms
	} else {
		c.BlackMs = ms
	}
	return c
}

// Ratings is a per-side rating pair.
type Ratings struct {
	White int `json:"white"`
	Black int `json:"black"`
}

func (r Ratings) Of(s Side) int {
	if s == White {
		return r.White
	}
	return r.Black
}

// MoveRecord is one ply. Immutable once appended.
type MoveRecord struct {
	Ply       int       `json:"ply"`
	Side      Side      `json:"side"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Promotion string    `json:"promotion,omitempty"`
	Notation  string    `json:"notation"`
	UCI       string    `json:"uci"`
	Position  string    `json:"position"`
	At        time.Time `json:"at"`
	Clock     Clock     `json:"clock"`
}

// LastMove is the display denormalization of the latest MoveRecord.
type LastMove struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Notation string `json:"notation"`
}

// Session is the authoritative game document.
type Session struct {
	ID             string       `json:"id"`
	Version        int64        `json:"version"`
	StartPosition  string       `json:"start_position"`
	Position       string       `json:"position"`
	Moves          []MoveRecord `json:"moves"`
	LastMove       *LastMove    `json:"last_move,omitempty"`
	White          *PlayerRef   `json:"white,omitempty"`
	Black          *PlayerRef   `json:"black,omitempty"`
	Turn           Side         `json:"turn"`
	Status         Status       `json:"status"`
	Winner         Winner       `json:"winner,omitempty"`
	WinReason      WinReason    `json:"win_reason,omitempty"`
	Clock          Clock        `json:"clock"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	DrawOfferedBy  string       `json:"draw_offered_by,omitempty"`
	StartingRating *Ratings     `json:"starting_rating,omitempty"`
	FinalRating    *Ratings     `json:"final_rating,omitempty"`
}

// Seat returns the occupant of a side, nil when empty.
func (s *Session) Seat(side Side) *PlayerRef {
	if side == White {
		return s.White
	}
	return s.Black
}

// SideOf returns the seat held by identity.
func (s *Session) SideOf(identity string) (Side, bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", false
	}
	if s.White != nil && s.White.ID == identity {
		return White, true
	}
	if s.Black != nil && s.Black.ID == identity {
		return Black, true
	}
	return "", false
}

// Full reports whether both seats are taken.
func (s *Session) Full() bool { return s.White != nil && s.Black != nil }

// Ended reports whether the session reached its terminal state.
func (s *Session) Ended() bool { return s.Status == StatusEnded }

// Clone returns a deep copy; pointer fields and the move slice are not shared.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Moves = append([]MoveRecord(nil), s.Moves...)
	if s.LastMove != nil {
		lm := *s.LastMove
		c.LastMove = &lm
	}
	if s.White != nil {
		w := *s.White
		c.White = &w
	}
	if s.Black != nil {
		b := *s.Black
		c.Black = &b
	}
	if s.StartingRating != nil {
		r := *s.StartingRating
		c.StartingRating = &r
	}
	if s.FinalRating != nil {
		r := *s.FinalRating
		c.FinalRating = &r
	}
	return &c
}

// Positions returns the opening position followed by the position after
// every ply, oldest first.
func (s *Session) Positions() []string {
	out := make([]string, 0, len(s.Moves)+1)
	out = append(out, s.StartPosition)
	for _, m := range s.Moves {
		out = append(out, m.Position)
	}
	return out
}

// CheckTurn verifies turn agrees with the side-to-move field of the position.
func (s *Session) CheckTurn() error {
	if len(strings.Fields(s.Position)) < 2 || s.Turn != sideToMove(s.Position) {
		return ErrInvalidDocument
	}
	return nil
}

func sideToMove(fen string) Side {
	if fields := strings.Fields(fen); len(fields) >= 2 && fields[1] == "b" {
		return Black
	}
	return White
}

// New returns a waiting session with a full clock and empty seats.
func New(id, position string, clock Clock, now time.Time) *Session {
	return &Session{
		ID:            strings.TrimSpace(id),
		StartPosition: position,
		Position:      position,
		Moves:         []MoveRecord{},
		Turn:          sideToMove(position),
		Status:        StatusWaiting,
		Clock:         clock,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
