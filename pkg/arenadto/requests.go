package arenadto

type OpenRequest struct {
	ID               string `json:"id,omitempty"`
	Minutes          int    `json:"minutes,omitempty"`
	IncrementSeconds int    `json:"increment_seconds,omitempty"`
}

type MoveRequest struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	// Move is UCI or SAN text, used when From/To are empty.
	Move string `json:"move,omitempty"`
}

type JoinResponse struct {
	Side    string   `json:"side"`
	Session *Session `json:"session"`
}

// EndedEvent is posted to the results webhook once per ended session.
type EndedEvent struct {
	Type    string   `json:"type"`
	PGN     string   `json:"pgn"`
	Session *Session `json:"session"`
}
