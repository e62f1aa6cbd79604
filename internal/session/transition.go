package session

// CanTransition reports whether a status edge is allowed. Staying in place is
// always allowed. waiting→ended exists only for an abort before the first ply.
func CanTransition(from, to Status, reason WinReason) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusWaiting:
		return to == StatusOngoing || (to == StatusEnded && reason == ReasonAborted)
	case StatusOngoing:
		return to == StatusEnded
	}
	return false
}

// ConsistentResult reports whether winner agrees with reason: decisive
// reasons name a side, every other reason is a draw.
func ConsistentResult(w Winner, r WinReason) bool {
	switch r {
	case ReasonCheckmate, ReasonTimeout, ReasonResignation:
		return w == WinnerWhite || w == WinnerBlack
	case ReasonStalemate, ReasonInsufficientMaterial, ReasonThreefoldRepetition,
		ReasonFiftyMoveRule, ReasonAgreement, ReasonAborted:
		return w == WinnerDraw
	}
	return false
}

// End records the terminal result on s. It does not touch the clock.
func (s *Session) End(w Winner, r WinReason) {
	s.Status = StatusEnded
	s.Winner = w
	s.WinReason = r
	s.DrawOfferedBy = ""
}
