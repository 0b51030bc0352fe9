// Package memstore is an in-memory store used when no database is
// configured, and in tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

type Store struct {
	mu sync.RWMutex

	players map[string]domain.Player
	games   map[string]domain.FinishedGame
	pgn     map[string]string
	ratings []domain.RatingChange
	ledger  []domain.LedgerEntry

	// failNext makes the next n commits fail; test hook.
	failNext int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		players: make(map[string]domain.Player),
		games:   make(map[string]domain.FinishedGame),
		pgn:     make(map[string]string),
	}
}

// PutPlayer seeds or replaces a player row.
func (m *Store) PutPlayer(p domain.Player) {
	m.mu.Lock()
	m.players[p.ID] = p
	m.mu.Unlock()
}

// FailCommits makes the next n CommitSettlement calls return an error.
func (m *Store) FailCommits(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

func (m *Store) Players(_ context.Context, ids []string) (map[string]domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Player, len(ids))
	for _, id := range ids {
		if p, ok := m.players[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *Store) CommitSettlement(_ context.Context, s *domain.Settlement) error {
	if s == nil {
		return fmt.Errorf("nil settlement")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("memstore: injected commit failure")
	}
	if _, ok := m.games[s.Game.GameID]; ok {
		return store.ErrDuplicateSettlement
	}

	m.games[s.Game.GameID] = s.Game
	m.pgn[s.Game.GameID] = s.PGN
	for _, p := range s.Players {
		cur, ok := m.players[p.ID]
		if !ok {
			cur = domain.Player{ID: p.ID, CreatedAt: p.CreatedAt}
		}
		cur.Rating = p.Rating
		cur.GamesPlayed = p.GamesPlayed
		cur.Wins = p.Wins
		cur.Losses = p.Losses
		cur.Draws = p.Draws
		cur.UpdatedAt = p.UpdatedAt
		m.players[p.ID] = cur
	}
	m.ratings = append(m.ratings, s.Ratings...)
	for _, e := range s.Ledger {
		m.ledger = append(m.ledger, e)
		if !e.AffectsBalance {
			continue
		}
		cur := m.players[e.PlayerID]
		cur.ID = e.PlayerID
		cur.Balance += e.Amount
		m.players[e.PlayerID] = cur
	}
	return nil
}

func (m *Store) Game(_ context.Context, id string) (*domain.FinishedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// PGN returns the stored PGN text for id.
func (m *Store) PGN(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pgn[id]
}

// Ledger returns entries for playerID ordered by creation time.
func (m *Store) Ledger(playerID string) []domain.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range m.ledger {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RatingChanges returns every recorded change for gameID.
func (m *Store) RatingChanges(gameID string) []domain.RatingChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.RatingChange
	for _, r := range m.ratings {
		if r.GameID == gameID {
			out = append(out, r)
		}
	}
	return out
}

func (m *Store) Close() error { return nil }
