package seat

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/park285/cheese-arena/internal/session"
)

// Coin picks a side when both seats are empty.
type Coin func() session.Side

// RandomCoin flips a uniform coin using crypto/rand.
func RandomCoin() session.Side {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 1 {
		return session.Black
	}
	return session.White
}

// Decision is the outcome of a join attempt.
type Decision struct {
	Side session.Side
	// Changed is false when the identity was already seated.
	Changed bool
}

// Assign decides where p sits in s and, when a seat is taken, writes it into
// s. Filling the second seat also captures both starting ratings. An already
// seated identity gets its seat back with no change.
func Assign(s *session.Session, p session.PlayerRef, coin Coin) (Decision, error) {
	p.ID = strings.TrimSpace(p.ID)
	if s == nil || p.ID == "" {
		return Decision{}, session.ErrInvalidArgs
	}
	if side, ok := s.SideOf(p.ID); ok {
		return Decision{Side: side}, nil
	}
	if s.Ended() {
		return Decision{}, session.ErrGameEnded
	}

	var side session.Side
	switch {
	case s.White == nil && s.Black == nil:
		if coin == nil {
			coin = RandomCoin
		}
		side = coin()
	case s.White == nil:
		side = session.White
	case s.Black == nil:
		side = session.Black
	default:
		return Decision{}, session.ErrAlreadyFull
	}

	ref := p
	if side == session.White {
		s.White = &ref
	} else {
		s.Black = &ref
	}
	if s.Full() && s.StartingRating == nil {
		s.StartingRating = &session.Ratings{White: s.White.Rating, Black: s.Black.Rating}
	}
	return Decision{Side: side, Changed: true}, nil
}
