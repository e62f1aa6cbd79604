// Package syncchan stores session documents and fans out changes to
// subscribers. Every accepted write bumps the document version by one;
// writers must present the version they read.
package syncchan

import (
	"context"

	"github.com/park285/cheese-arena/internal/session"
)

// Precondition is the version a write was computed against.
type Precondition struct {
	Version int64
}

// Listener receives snapshots. Versions seen by one listener only go up.
type Listener func(*session.Session)

// Channel is the shared document store between both players.
type Channel interface {
	// Create stores a new document at version 1. ErrConflict if the id exists.
	Create(ctx context.Context, s *session.Session) (*session.Session, error)
	// Read returns the current snapshot or ErrNotFound.
	Read(ctx context.Context, id string) (*session.Session, error)
	// Update applies diff when the stored version equals pre.Version and the
	// result passes session validation. ErrConflict otherwise.
	Update(ctx context.Context, id string, diff session.Diff, pre Precondition) (*session.Session, error)
	// Subscribe delivers the current snapshot, then later ones until the
	// returned func is called or ctx ends. The func must not be called from
	// inside the listener.
	Subscribe(ctx context.Context, id string, fn Listener) (func(), error)
}
