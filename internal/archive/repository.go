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
)

var ErrDuplicateGame = errors.New("game already archived")

// Record is one finished or abandoned game.
type Record struct {
	GameID    string
	White     string
	Black     string
	StartFEN  string
	Result    string // PGN result token
	Method    string
	MovesUCI  []string
	MovesSAN  []string
	PGN       string
	StartedAt time.Time
	EndedAt   time.Time
}

// Store persists records. Repository is the Postgres implementation.
type Store interface {
	SaveGame(ctx context.Context, rec *Record) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS relay_games (
	id            BIGSERIAL PRIMARY KEY,
	game_id       TEXT NOT NULL UNIQUE,
	white_conn    TEXT NOT NULL DEFAULT '',
	black_conn    TEXT NOT NULL DEFAULT '',
	start_fen     TEXT NOT NULL,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL DEFAULT '',
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create relay_games: %w", err)
	}
	return nil
}

func (r *Repository) SaveGame(ctx context.Context, rec *Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	movesUCI, err := json.Marshal(nonNil(rec.MovesUCI))
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(rec.MovesSAN))
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `
		INSERT INTO relay_games (
			game_id, white_conn, black_conn, start_fen,
			result, result_method, moves_uci, moves_san, pgn,
			started_at, ended_at, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12)
		ON CONFLICT (game_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, q,
		rec.GameID, rec.White, rec.Black, rec.StartFEN,
		rec.Result, rec.Method, string(movesUCI), string(movesSAN), rec.PGN,
		rec.StartedAt, rec.EndedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("insert relay game: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateGame
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
