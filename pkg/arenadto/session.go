package arenadto

import (
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/session"
)

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// Clock reports remaining time evaluated at AsOf, not the stored values.
type Clock struct {
	WhiteMs            int64     `json:"white_ms"`
	BlackMs            int64     `json:"black_ms"`
	Active             string    `json:"active"`
	Running            bool      `json:"running"`
	TimeControlMinutes int       `json:"time_control_minutes"`
	IncrementSeconds   int       `json:"increment_seconds"`
	AsOf               time.Time `json:"as_of"`
}

type Move struct {
	Ply       int    `json:"ply"`
	Side      string `json:"side"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	UCI       string `json:"uci"`
	Position  string `json:"position"`
}

type Ratings struct {
	White int `json:"white"`
	Black int `json:"black"`
}

type Session struct {
	ID             string    `json:"id"`
	Version        int64     `json:"version"`
	Status         string    `json:"status"`
	Position       string    `json:"position"`
	Turn           string    `json:"turn"`
	White          *Player   `json:"white,omitempty"`
	Black          *Player   `json:"black,omitempty"`
	Moves          []Move    `json:"moves"`
	Clock          Clock     `json:"clock"`
	Winner         string    `json:"winner,omitempty"`
	WinReason      string    `json:"win_reason,omitempty"`
	DrawOfferedBy  string    `json:"draw_offered_by,omitempty"`
	StartingRating *Ratings  `json:"starting_rating,omitempty"`
	FinalRating    *Ratings  `json:"final_rating,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FromSession converts a snapshot, evaluating both clocks at now.
func FromSession(s *session.Session, now time.Time) *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:            s.ID,
		Version:       s.Version,
		Status:        string(s.Status),
		Position:      s.Position,
		Turn:          string(s.Turn),
		White:         player(s.White),
		Black:         player(s.Black),
		Moves:         make([]Move, 0, len(s.Moves)),
		Winner:        string(s.Winner),
		WinReason:     string(s.WinReason),
		DrawOfferedBy: s.DrawOfferedBy,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Clock: Clock{
			WhiteMs:            clock.Remaining(session.White, s.Clock, s.Status, s.Turn, s.UpdatedAt, now),
			BlackMs:            clock.Remaining(session.Black, s.Clock, s.Status, s.Turn, s.UpdatedAt, now),
			Active:             string(s.Turn),
			Running:            s.Status == session.StatusOngoing,
			TimeControlMinutes: s.Clock.TimeControlMinutes,
			IncrementSeconds:   s.Clock.IncrementSeconds,
			AsOf:               now,
		},
	}
	for _, m := range s.Moves {
		out.Moves = append(out.Moves, Move{
			Ply:       m.Ply,
			Side:      string(m.Side),
			From:      m.From,
			To:        m.To,
			Promotion: m.Promotion,
			SAN:       m.Notation,
			UCI:       m.UCI,
			Position:  m.Position,
		})
	}
	if r := s.StartingRating; r != nil {
		out.StartingRating = &Ratings{White: r.White, Black: r.Black}
	}
	if r := s.FinalRating; r != nil {
		out.FinalRating = &Ratings{White: r.White, Black: r.Black}
	}
	return out
}

func player(p *session.PlayerRef) *Player {
	if p == nil {
		return nil
	}
	return &Player{ID: p.ID, Name: p.Name, Rating: p.Rating}
}
