// Package archive keeps a permanent record of terminal sessions.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-arena/internal/session"
)

// Archiver stores ended sessions. Implementations must tolerate the same
// session arriving more than once.
type Archiver interface {
	Archive(ctx context.Context, s *session.Session) error
}

// Noop drops everything. Used when no DATABASE_URL is configured.
type Noop struct{}

func (Noop) Archive(context.Context, *session.Session) error { return nil }

// Multi fans a session out to every archiver. All are attempted; the
// failures are joined.
type Multi []Archiver

func (m Multi) Archive(ctx context.Context, s *session.Session) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Archive(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open connects to postgres and verifies the connection.
func Open(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS arena_games (
	session_id    TEXT PRIMARY KEY,
	white_id      TEXT NOT NULL,
	white_name    TEXT NOT NULL,
	black_id      TEXT NOT NULL,
	black_name    TEXT NOT NULL,
	time_control  TEXT NOT NULL,
	eco           TEXT NOT NULL DEFAULT '',
	opening       TEXT NOT NULL DEFAULT '',
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
);`

// Postgres upserts ended sessions into arena_games.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

func (p *Postgres) Archive(ctx context.Context, s *session.Session) error {
	if p == nil || p.db == nil || s == nil || !s.Ended() {
		return nil
	}
	uci := make([]string, 0, len(s.Moves))
	san := make([]string, 0, len(s.Moves))
	for _, m := range s.Moves {
		uci = append(uci, m.UCI)
		san = append(san, m.Notation)
	}
	movesUCI, err := json.Marshal(uci)
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(san)
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	white, black := seat(s.White), seat(s.Black)
	eco, name := Opening(s)

	const query = `
		INSERT INTO arena_games (
			session_id, white_id, white_name, black_id, black_name,
			time_control, eco, opening, result, result_method, moves_uci, moves_san, pgn,
			started_at, ended_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO UPDATE SET
			eco = EXCLUDED.eco,
			opening = EXCLUDED.opening,
			result = EXCLUDED.result,
			result_method = EXCLUDED.result_method,
			moves_uci = EXCLUDED.moves_uci,
			moves_san = EXCLUDED.moves_san,
			pgn = EXCLUDED.pgn,
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms`

	_, err = p.db.ExecContext(ctx, query,
		s.ID, white.ID, white.Name, black.ID, black.Name,
		TimeControl(s.Clock), eco, name, string(s.Winner), string(s.WinReason),
		string(movesUCI), string(movesSAN), BuildPGN(s),
		s.CreatedAt, s.UpdatedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("upsert arena game: %w", err)
	}
	return nil
}

func seat(p *session.PlayerRef) session.PlayerRef {
	if p == nil {
		return session.PlayerRef{}
	}
	return *p
}
