// Package store defines the durable record of finished games.
package store

import (
	"context"
	"errors"

	"github.com/park285/cheese-arena/internal/domain"
)

// ErrDuplicateSettlement is returned when a game id was already committed.
// Callers treat it as success; commits are idempotent by game id.
var ErrDuplicateSettlement = errors.New("settlement already committed")

type Store interface {
	// Players returns the stored players among ids. Unknown ids are absent
	// from the map.
	Players(ctx context.Context, ids []string) (map[string]domain.Player, error)
	// CommitSettlement applies the game row, player updates, rating changes
	// and ledger entries as one unit.
	CommitSettlement(ctx context.Context, s *domain.Settlement) error
	// Game returns nil, nil when id has not been committed.
	Game(ctx context.Context, id string) (*domain.FinishedGame, error)
	Close() error
}
