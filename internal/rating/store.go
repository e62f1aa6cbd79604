package rating

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Result is one player's side of a terminal game.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultDraw Result = "draw"
)

// Record is a player's persistent rating counters.
type Record struct {
	ID     string
	Rating int
	Wins   int
	Losses int
	Draws  int
}

// Change is applied to one Record for one session.
type Change struct {
	Delta  int
	Result Result
}

var ErrInvalidIdentity = errors.New("invalid identity")

// Store is the external rating record source of truth. Increment must be
// atomic and idempotent per (sessionID, identity) so a retried settlement
// never counts twice.
type Store interface {
	Read(ctx context.Context, identity string) (Record, error)
	Increment(ctx context.Context, sessionID, identity string, c Change) error
}

// MemoryStore is an in-process Store for tests and ARENA_STORE=memory.
type MemoryStore struct {
	mu            sync.RWMutex
	defaultRating int
	records       map[string]*Record
	applied       map[string]struct{} // sessionID|identity
	// failNext makes the next n Increment calls fail; test hook.
	failNext int
}

func NewMemoryStore(defaultRating int) *MemoryStore {
	if defaultRating <= 0 {
		defaultRating = DefaultRating
	}
	return &MemoryStore{
		defaultRating: defaultRating,
		records:       make(map[string]*Record),
		applied:       make(map[string]struct{}),
	}
}

func (m *MemoryStore) Read(ctx context.Context, identity string) (Record, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Record{}, ErrInvalidIdentity
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[identity]; ok {
		return *r, nil
	}
	return Record{ID: identity, Rating: m.defaultRating}, nil
}

func (m *MemoryStore) Increment(ctx context.Context, sessionID, identity string, c Change) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrInvalidIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errors.New("rating store unavailable")
	}
	key := strings.TrimSpace(sessionID) + "|" + identity
	if _, done := m.applied[key]; done {
		return nil
	}
	r, ok := m.records[identity]
	if !ok {
		r = &Record{ID: identity, Rating: m.defaultRating}
		m.records[identity] = r
	}
	r.Rating += c.Delta
	switch c.Result {
	case ResultWin:
		r.Wins++
	case ResultLoss:
		r.Losses++
	default:
		r.Draws++
	}
	m.applied[key] = struct{}{}
	return nil
}

// Seed sets a player's record directly.
func (m *MemoryStore) Seed(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := r
	m.records[r.ID] = &cp
}

// FailNext makes the next n increments fail.
func (m *MemoryStore) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// Applied counts recorded (session, identity) increments.
func (m *MemoryStore) Applied() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.applied)
}
