package session

import "errors"

var (
	ErrIllegalMove       = errors.New("illegal move")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrSeatNotFilled     = errors.New("both seats must be filled")
	ErrAlreadyFull       = errors.New("both seats are taken")
	ErrAlreadySeated     = errors.New("identity already seated")
	ErrClockExpired      = errors.New("clock expired")
	ErrConflict          = errors.New("concurrent update")
	ErrSettlementFailure = errors.New("rating settlement failed")

	ErrNotFound           = errors.New("session not found")
	ErrNotSeated          = errors.New("identity is not seated")
	ErrGameEnded          = errors.New("session already ended")
	ErrNotStarted         = errors.New("session not started")
	ErrNoDrawOffer        = errors.New("no pending draw offer")
	ErrOwnDrawOffer       = errors.New("cannot answer own draw offer")
	ErrDrawAlreadyOffered = errors.New("draw already offered")
	ErrAbortTooLate       = errors.New("abort no longer permitted")
	ErrInvalidArgs        = errors.New("invalid arguments")
	ErrInvalidDocument    = errors.New("invalid session document")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

var codes = []struct {
	err       error
	code      string
	retryable bool
}{
	{ErrIllegalMove, "illegal_move", false},
	{ErrNotYourTurn, "not_your_turn", false},
	{ErrSeatNotFilled, "seat_not_filled", false},
	{ErrAlreadyFull, "already_full", false},
	{ErrAlreadySeated, "already_seated", false},
	{ErrClockExpired, "clock_expired", false},
	{ErrConflict, "conflict", true},
	{ErrSettlementFailure, "settlement_failure", true},
	{ErrNotFound, "not_found", false},
	{ErrNotSeated, "not_seated", false},
	{ErrGameEnded, "game_ended", false},
	{ErrNotStarted, "not_started", false},
	{ErrNoDrawOffer, "no_draw_offer", false},
	{ErrOwnDrawOffer, "own_draw_offer", false},
	{ErrDrawAlreadyOffered, "draw_already_offered", false},
	{ErrAbortTooLate, "abort_too_late", false},
	{ErrInvalidArgs, "invalid_args", false},
	{ErrInvalidDocument, "invalid_document", false},
	{ErrInvalidTransition, "invalid_transition", false},
}

// Code maps an error to a stable snake_case code. Unknown errors are "internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// Retryable reports whether the caller may retry the same action.
func Retryable(err error) bool {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.retryable
		}
	}
	return false
}

// Validation reports whether err is a local validation failure that left the
// session untouched. A clock expiry is not: it ends the session on time.
func Validation(err error) bool {
	switch Code(err) {
	case "", "conflict", "settlement_failure", "internal", "invalid_document", "clock_expired":
		return false
	}
	return true
}
