package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/session"
)

func foolsMate() *session.Session {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := session.New("g1", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		session.Clock{TimeControlMinutes: 5, IncrementSeconds: 3}, start)
	s.White = &session.PlayerRef{ID: "u1", Name: "Kim \"the\" Rook"}
	s.Black = &session.PlayerRef{ID: "u2"}
	uci := []string{"f2f3", "e7e5", "g2g4", "d8h4"}
	for i, san := range []string{"f3", "e5", "g4", "Qh4#"} {
		side := session.White
		if i%2 == 1 {
			side = session.Black
		}
		s.Moves = append(s.Moves, session.MoveRecord{Ply: i + 1, Side: side, Notation: san, UCI: uci[i]})
	}
	s.UpdatedAt = start.Add(time.Minute)
	s.End(session.WinnerBlack, session.ReasonCheckmate)
	return s
}

func TestBuildPGN(t *testing.T) {
	pgn := BuildPGN(foolsMate())

	assert.Contains(t, pgn, "[Date \"2024.05.01\"]\n")
	assert.Contains(t, pgn, "[White \"Kim 'the' Rook\"]\n")
	assert.Contains(t, pgn, "[Black \"u2\"]\n")
	assert.Contains(t, pgn, "[TimeControl \"5+3\"]\n")
	assert.Contains(t, pgn, "[Termination \"checkmate\"]\n")
	assert.Contains(t, pgn, "[ECO \"A00\"]\n")
	assert.Contains(t, pgn, "[Result \"0-1\"]\n\n")
	assert.True(t, strings.HasSuffix(pgn, "1. f3 e5 2. g4 Qh4# 0-1"), pgn)
}

func TestBuildPGNOddPlies(t *testing.T) {
	s := foolsMate()
	s.Moves = s.Moves[:3]
	assert.True(t, strings.HasSuffix(BuildPGN(s), "1. f3 e5 2. g4 0-1"))
}

func TestResultToken(t *testing.T) {
	assert.Equal(t, "1-0", ResultToken(session.WinnerWhite))
	assert.Equal(t, "0-1", ResultToken(session.WinnerBlack))
	assert.Equal(t, "1/2-1/2", ResultToken(session.WinnerDraw))
	assert.Equal(t, "*", ResultToken(""))
}

func TestNoopAndNilPostgres(t *testing.T) {
	require.NoError(t, Noop{}.Archive(context.Background(), foolsMate()))
	var p *Postgres
	require.NoError(t, p.Archive(context.Background(), foolsMate()))
}

type failing struct {
	calls int
	err   error
}

func (f *failing) Archive(context.Context, *session.Session) error {
	f.calls++
	return f.err
}

func TestMultiAttemptsAll(t *testing.T) {
	boom := errors.New("boom")
	a, b := &failing{err: boom}, &failing{}
	err := Multi{a, nil, b}.Archive(context.Background(), foolsMate())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.NoError(t, Multi{b}.Archive(context.Background(), foolsMate()))
}
