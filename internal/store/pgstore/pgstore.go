// Package pgstore persists settlements to PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db            *sql.DB
	defaultRating int
}

var _ store.Store = (*Store)(nil)

// Open connects and pings. defaultRating seeds player rows created by a
// settlement.
func Open(ctx context.Context, databaseURL string, defaultRating int) (*Store, error) {
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
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{db: db, defaultRating: defaultRating}, nil
}

// EnsureSchema creates the tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Players(ctx context.Context, ids []string) (map[string]domain.Player, error) {
	out := make(map[string]domain.Player, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const query = `
		SELECT id, rating, games_played, wins, losses, draws, balance, created_at, updated_at
		FROM arena_players
		WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.ID, &p.Rating, &p.GamesPlayed, &p.Wins, &p.Losses, &p.Draws, &p.Balance, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) CommitSettlement(ctx context.Context, st *domain.Settlement) (err error) {
	if st == nil {
		return fmt.Errorf("nil settlement")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	inserted, err := insertGame(ctx, tx, st)
	if err != nil {
		return err
	}
	if !inserted {
		err = store.ErrDuplicateSettlement
		return err
	}
	for _, p := range st.Players {
		if err = s.upsertPlayer(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, rc := range st.Ratings {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO arena_rating_changes (game_id, player_id, old_rating, new_rating, delta)
			VALUES ($1, $2, $3, $4, $5)`,
			rc.GameID, rc.PlayerID, rc.OldRating, rc.NewRating, rc.Delta,
		); err != nil {
			return fmt.Errorf("insert rating change: %w", err)
		}
	}
	for _, e := range st.Ledger {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO arena_transactions (id, game_id, player_id, kind, amount, affects_balance, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.GameID, e.PlayerID, string(e.Kind), e.Amount, e.AffectsBalance, e.Description, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if !e.AffectsBalance {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO arena_players (id, rating, balance) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET balance = arena_players.balance + EXCLUDED.balance, updated_at = now()`,
			e.PlayerID, s.defaultRating, e.Amount,
		); err != nil {
			return fmt.Errorf("apply balance: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertGame(ctx context.Context, tx *sql.Tx, st *domain.Settlement) (bool, error) {
	g := st.Game
	movesUCI, err := json.Marshal(nonNil(g.MovesUCI))
	if err != nil {
		return false, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(g.MovesSAN))
	if err != nil {
		return false, fmt.Errorf("marshal moves_san: %w", err)
	}
	settledAt := st.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now()
	}
	const query = `
		INSERT INTO arena_games (
			game_id, white_id, black_id, white_machine, black_machine, difficulty,
			rated, stake, time_control, result, end_reason, final_fen,
			moves_uci, moves_san, pgn, white_ms, black_ms, started_at, ended_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13::jsonb, $14::jsonb, $15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (game_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, query,
		g.GameID, g.White, g.Black, g.WhiteMachine, g.BlackMachine, g.Difficulty,
		g.Rated, g.Stake, g.TimeControl, string(g.Result), string(g.EndReason), g.FinalFEN,
		string(movesUCI), string(movesSAN), st.PGN, g.WhiteMs, g.BlackMs,
		nullTime(g.StartedAt), nullTime(g.EndedAt), settledAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) upsertPlayer(ctx context.Context, tx *sql.Tx, p domain.Player) error {
	const query = `
		INSERT INTO arena_players (id, rating, games_played, wins, losses, draws, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			rating = EXCLUDED.rating,
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			updated_at = EXCLUDED.updated_at`
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if _, err := tx.ExecContext(ctx, query, p.ID, p.Rating, p.GamesPlayed, p.Wins, p.Losses, p.Draws, updated); err != nil {
		return fmt.Errorf("upsert player %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) Game(ctx context.Context, id string) (*domain.FinishedGame, error) {
	const query = `
		SELECT game_id, white_id, black_id, white_machine, black_machine, difficulty,
			rated, stake, time_control, result, end_reason, final_fen,
			moves_uci, moves_san, white_ms, black_ms, started_at, ended_at
		FROM arena_games
		WHERE game_id = $1`
	var (
		g                  domain.FinishedGame
		result, reason     string
		movesUCI, movesSAN []byte
		started, ended     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&g.GameID, &g.White, &g.Black, &g.WhiteMachine, &g.BlackMachine, &g.Difficulty,
		&g.Rated, &g.Stake, &g.TimeControl, &result, &reason, &g.FinalFEN,
		&movesUCI, &movesSAN, &g.WhiteMs, &g.BlackMs, &started, &ended,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	g.Result = domain.Result(result)
	g.EndReason = domain.EndReason(reason)
	g.StartedAt = started.Time
	g.EndedAt = ended.Time
	if err := json.Unmarshal(movesUCI, &g.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSAN, &g.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &g, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
