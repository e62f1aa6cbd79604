// Package rules wraps corentings/chess as an opaque legality service: a
// position and a candidate move go in, a new position or a rejection comes out.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/session"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Request is one candidate move against a position.
type Request struct {
	Position string
	// History holds earlier positions of the game, oldest first, including
	// Position itself. Needed for repetition detection only.
	History   []string
	From      string
	To        string
	Promotion string
}

// Result describes an accepted move.
type Result struct {
	Position               string
	Notation               string
	UCI                    string
	Promotion              string
	Turn                   session.Side
	IsCheckmate            bool
	IsStalemate            bool
	IsInsufficientMaterial bool
	IsThreefoldRepetition  bool
	IsFiftyMoveRule        bool
}

// Terminal maps the result flags to a win reason, "" when play continues.
// Checkmate wins over every draw flag.
func (r Result) Terminal() session.WinReason {
	switch {
	case r.IsCheckmate:
		return session.ReasonCheckmate
	case r.IsStalemate:
		return session.ReasonStalemate
	case r.IsInsufficientMaterial:
		return session.ReasonInsufficientMaterial
	case r.IsThreefoldRepetition:
		return session.ReasonThreefoldRepetition
	case r.IsFiftyMoveRule:
		return session.ReasonFiftyMoveRule
	}
	return ""
}

// Adapter is stateless; the zero value is ready to use.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

// TryMove validates and applies req. Rejections wrap session.ErrIllegalMove.
func (a *Adapter) TryMove(req Request) (Result, error) {
	from := strings.ToLower(strings.TrimSpace(req.From))
	to := strings.ToLower(strings.TrimSpace(req.To))
	promo := strings.ToLower(strings.TrimSpace(req.Promotion))
	if !validSquare(from) || !validSquare(to) {
		return Result{}, fmt.Errorf("%w: bad squares %q-%q", session.ErrIllegalMove, req.From, req.To)
	}
	if len(promo) > 1 || (promo != "" && !strings.Contains("qrbn", promo)) {
		return Result{}, fmt.Errorf("%w: bad promotion %q", session.ErrIllegalMove, req.Promotion)
	}

	candidates := []string{from + to + promo}
	if promo == "" {
		// strongest piece when the move needs a promotion and none was given
		candidates = append(candidates, from+to+"q")
	}
	var lastErr error
	for _, uci := range candidates {
		res, err := apply(req.Position, uci, nchess.UCINotation{})
		if err != nil {
			lastErr = err
			continue
		}
		res.IsThreefoldRepetition = repeated(req.History, res.Position)
		return res, nil
	}
	return Result{}, fmt.Errorf("%w: %s%s: %v", session.ErrIllegalMove, from, to, lastErr)
}

// Replay applies a SAN notation to position and returns the resulting position.
func (a *Adapter) Replay(position, notation string) (string, error) {
	res, err := apply(position, strings.TrimSpace(notation), nchess.AlgebraicNotation{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", session.ErrIllegalMove, err)
	}
	return res.Position, nil
}

// ParseMove accepts UCI ("e2e4", "e7e8n") or SAN ("Nf3") and returns the
// squares and promotion it denotes in position.
func (a *Adapter) ParseMove(position, text string) (from, to, promo string, err error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return "", "", "", fmt.Errorf("%w: empty move", session.ErrIllegalMove)
	}
	lower := strings.ToLower(raw)
	if looksUCI(lower) {
		return lower[0:2], lower[2:4], lower[4:], nil
	}
	res, err := apply(position, raw, nchess.AlgebraicNotation{})
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %q: %v", session.ErrIllegalMove, raw, err)
	}
	return res.UCI[0:2], res.UCI[2:4], res.UCI[4:], nil
}

func apply(position, text string, notation nchess.Notation) (Result, error) {
	game, err := load(position)
	if err != nil {
		return Result{}, err
	}
	before := game.Position()
	if err := game.PushNotationMove(text, notation, nil); err != nil {
		return Result{}, err
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return Result{}, fmt.Errorf("move not recorded")
	}
	mv := moves[len(moves)-1]
	uci := strings.ToLower(mv.String())
	fen := game.FEN()
	res := Result{
		Position:  fen,
		Notation:  nchess.AlgebraicNotation{}.Encode(before, mv),
		UCI:       uci,
		Promotion: uci[4:],
		Turn:      sideOf(game.Position().Turn()),
	}
	switch game.Method() {
	case nchess.Checkmate:
		res.IsCheckmate = true
	case nchess.Stalemate:
		res.IsStalemate = true
	case nchess.InsufficientMaterial:
		res.IsInsufficientMaterial = true
	case nchess.FivefoldRepetition:
		res.IsThreefoldRepetition = true
	case nchess.SeventyFiveMoveRule:
		res.IsFiftyMoveRule = true
	}
	if halfmoveClock(fen) >= 100 {
		res.IsFiftyMoveRule = true
	}
	return res, nil
}

func load(position string) (*nchess.Game, error) {
	position = strings.TrimSpace(position)
	if position == "" || position == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(position)
	if err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	return nchess.NewGame(opt), nil
}

// SideToMove reads the active colour field of a FEN.
func SideToMove(fen string) session.Side {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "b" {
		return session.Black
	}
	return session.White
}

func sideOf(c nchess.Color) session.Side {
	if c == nchess.Black {
		return session.Black
	}
	return session.White
}

// repetitionKey drops the move counters so equal placements compare equal.
// The en-passant square only counts when the capture is actually legal; the
// FEN writer records it after every double push.
func repetitionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	if len(fields) == 4 && fields[3] != "-" && !enPassantLegal(fen) {
		fields[3] = "-"
	}
	return strings.Join(fields, " ")
}

func enPassantLegal(fen string) bool {
	game, err := load(fen)
	if err != nil {
		return false
	}
	for _, mv := range game.ValidMoves() {
		if mv.HasTag(nchess.EnPassant) {
			return true
		}
	}
	return false
}

func repeated(history []string, next string) bool {
	key := repetitionKey(next)
	seen := 1
	for _, p := range history {
		if repetitionKey(p) == key {
			seen++
		}
	}
	return seen >= 3
}

func halfmoveClock(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return 0
	}
	n, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0
	}
	return n
}

func validSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

func looksUCI(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	if !validSquare(s[0:2]) || !validSquare(s[2:4]) {
		return false
	}
	return len(s) == 4 || strings.ContainsRune("qrbn", rune(s[4]))
}
