package arenadto

import "github.com/park285/cheese-arena/internal/session"

// DomainError is the wire shape of a rejected action.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena service error"
}

// FromError classifies err. message is the user-facing text; empty falls
// back to err's own text.
func FromError(err error, message string) DomainError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return DomainError{
		Code:      session.Code(err),
		Message:   message,
		Retryable: session.Retryable(err),
	}
}

// ErrorEnvelope wraps a DomainError as {"error": {...}}. Session is the
// snapshot the action was evaluated against, when one exists.
type ErrorEnvelope struct {
	Error   DomainError `json:"error"`
	Session *Session    `json:"session,omitempty"`
}
