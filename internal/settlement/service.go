// Package settlement turns a finished game into rating changes, tallies and
// stake movements, and commits them through the store in one unit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

const defaultPlayerRating = 1200

type Options struct {
	KFactor       float64
	DefaultRating int
	Now           func() time.Time
	Logger        *zap.Logger
}

type Service struct {
	store         store.Store
	k             float64
	defaultRating int
	now           func() time.Time
	log           *zap.Logger
}

func NewService(st store.Store, opts Options) *Service {
	s := &Service{
		store:         st,
		k:             opts.KFactor,
		defaultRating: opts.DefaultRating,
		now:           opts.Now,
		log:           opts.Logger,
	}
	if s.k <= 0 {
		s.k = DefaultKFactor
	}
	if s.defaultRating <= 0 {
		s.defaultRating = defaultPlayerRating
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Settle loads both players, computes the settlement and commits it. A game
// that was already committed is reported as success with a nil settlement.
func (s *Service) Settle(ctx context.Context, game domain.FinishedGame) (*domain.Settlement, error) {
	if game.GameID == "" {
		return nil, fmt.Errorf("settle: empty game id")
	}
	ids := humans(game)
	players, err := s.store.Players(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	st := s.Compute(game, players)
	if err := s.store.CommitSettlement(ctx, st); err != nil {
		if errors.Is(err, store.ErrDuplicateSettlement) {
			s.log.Info("settlement_duplicate", zap.String("game_id", game.GameID))
			return nil, nil
		}
		return nil, fmt.Errorf("commit settlement %s: %w", game.GameID, err)
	}
	fields := []zap.Field{
		zap.String("game_id", game.GameID),
		zap.String("result", string(game.Result)),
		zap.Bool("rated", game.Rated),
	}
	for _, rc := range st.Ratings {
		fields = append(fields, zap.Int(rc.PlayerID+"_delta", rc.Delta))
	}
	if st.Transfer != nil {
		fields = append(fields, zap.Int64("transfer", st.Transfer.Amount), zap.String("to", st.Transfer.To))
	}
	s.log.Info("settlement_commit", fields...)
	return st, nil
}

// Compute is the pure part of Settle. players may lack entries; missing
// players start at the default rating.
func (s *Service) Compute(game domain.FinishedGame, players map[string]domain.Player) *domain.Settlement {
	now := s.now()
	st := &domain.Settlement{
		Game:      game,
		PGN:       store.BuildPGN(game),
		SettledAt: now,
	}
	if game.Result == domain.ResultAbandoned || game.Result == domain.ResultNone {
		return st
	}

	type side struct {
		id      string
		machine bool
		score   float64
	}
	white := side{id: game.White, machine: game.WhiteMachine}
	black := side{id: game.Black, machine: game.BlackMachine}
	switch game.Result {
	case domain.ResultWhiteWin:
		white.score = 1
	case domain.ResultBlackWin:
		black.score = 1
	default:
		white.score, black.score = 0.5, 0.5
	}

	load := func(sd side) domain.Player {
		if p, ok := players[sd.id]; ok {
			return p
		}
		return domain.Player{ID: sd.id, Rating: s.defaultRating, CreatedAt: now}
	}
	rating := func(sd side, p domain.Player) int {
		if sd.machine {
			return game.MachineRating
		}
		return p.Rating
	}

	// Tallies move only together with the rating.
	if !game.Rated {
		s.addStake(st, game, now)
		return st
	}
	wp, bp := load(white), load(black)
	wOld, bOld := rating(white, wp), rating(black, bp)
	for _, pair := range []struct {
		me      side
		p       domain.Player
		oppRate int
	}{
		{white, wp, bOld},
		{black, bp, wOld},
	} {
		if pair.me.machine {
			continue
		}
		p := pair.p
		p.GamesPlayed++
		switch pair.me.score {
		case 1:
			p.Wins++
		case 0:
			p.Losses++
		default:
			p.Draws++
		}
		p.UpdatedAt = now
		old := p.Rating
		p.Rating = NewRating(old, pair.oppRate, pair.me.score, s.k)
		st.Ratings = append(st.Ratings, domain.RatingChange{
			GameID:    game.GameID,
			PlayerID:  p.ID,
			OldRating: old,
			NewRating: p.Rating,
			Delta:     p.Rating - old,
		})
		st.Players = append(st.Players, p)
	}
	s.addStake(st, game, now)
	return st
}

// addStake moves the whole pot to the winner of a decided human game.
func (s *Service) addStake(st *domain.Settlement, game domain.FinishedGame, now time.Time) {
	if game.Stake <= 0 || game.HasMachine() || game.Result == domain.ResultDraw {
		return
	}
	winner, loser := game.White, game.Black
	if game.Result == domain.ResultBlackWin {
		winner, loser = loser, winner
	}
	st.Transfer = &domain.StakeTransfer{From: loser, To: winner, Amount: game.Stake}
	st.Ledger = append(st.Ledger,
		domain.LedgerEntry{
			ID:             uuid.NewString(),
			GameID:         game.GameID,
			PlayerID:       winner,
			Kind:           domain.LedgerGameWin,
			Amount:         game.Stake,
			AffectsBalance: true,
			Description:    fmt.Sprintf("won game %s against %s", game.GameID, loser),
			CreatedAt:      now,
		},
		domain.LedgerEntry{
			ID:             uuid.NewString(),
			GameID:         game.GameID,
			PlayerID:       loser,
			Kind:           domain.LedgerGameLoss,
			Amount:         -game.Stake / 2,
			AffectsBalance: false,
			Description:    fmt.Sprintf("lost game %s against %s", game.GameID, winner),
			CreatedAt:      now,
		},
	)
}

func humans(g domain.FinishedGame) []string {
	var ids []string
	if !g.WhiteMachine && g.White != "" {
		ids = append(ids, g.White)
	}
	if !g.BlackMachine && g.Black != "" {
		ids = append(ids, g.Black)
	}
	return ids
}
