package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS arena_players (
	identity   TEXT PRIMARY KEY,
	rating     INTEGER NOT NULL,
	wins       INTEGER NOT NULL DEFAULT 0,
	losses     INTEGER NOT NULL DEFAULT 0,
	draws      INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS arena_rating_settlements (
	session_id TEXT NOT NULL,
	identity   TEXT NOT NULL,
	delta      INTEGER NOT NULL,
	result     TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (session_id, identity)
);`

// PostgresStore keeps rating records in arena_players. Each increment is one
// transaction guarded by a settlement row, which makes it idempotent.
type PostgresStore struct {
	db            *sql.DB
	defaultRating int
}

func NewPostgresStore(db *sql.DB, defaultRating int) *PostgresStore {
	if defaultRating <= 0 {
		defaultRating = DefaultRating
	}
	return &PostgresStore{db: db, defaultRating: defaultRating}
}

// EnsureSchema creates the rating tables when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create rating schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Read(ctx context.Context, identity string) (Record, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Record{}, ErrInvalidIdentity
	}
	const query = `
		SELECT identity, rating, wins, losses, draws
		FROM arena_players
		WHERE identity = $1`
	var r Record
	err := p.db.QueryRowContext(ctx, query, identity).Scan(&r.ID, &r.Rating, &r.Wins, &r.Losses, &r.Draws)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{ID: identity, Rating: p.defaultRating}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("select player rating: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) Increment(ctx context.Context, sessionID, identity string, c Change) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrInvalidIdentity
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rating tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO arena_rating_settlements (session_id, identity, delta, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, identity) DO NOTHING`,
		strings.TrimSpace(sessionID), identity, c.Delta, string(c.Result))
	if err != nil {
		return fmt.Errorf("insert settlement row: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("settlement rows affected: %w", err)
	} else if n == 0 {
		return nil
	}

	wins, losses, draws := counters(c.Result)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO arena_players (identity, rating, wins, losses, draws)
		VALUES ($1, $2::int + $3::int, $4, $5, $6)
		ON CONFLICT (identity) DO UPDATE SET
			rating = arena_players.rating + $3::int,
			wins = arena_players.wins + EXCLUDED.wins,
			losses = arena_players.losses + EXCLUDED.losses,
			draws = arena_players.draws + EXCLUDED.draws,
			updated_at = NOW()`,
		identity, p.defaultRating, c.Delta, wins, losses, draws)
	if err != nil {
		return fmt.Errorf("upsert player rating: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rating tx: %w", err)
	}
	return nil
}

func counters(r Result) (wins, losses, draws int) {
	switch r {
	case ResultWin:
		return 1, 0, 0
	case ResultLoss:
		return 0, 1, 0
	}
	return 0, 0, 1
}
