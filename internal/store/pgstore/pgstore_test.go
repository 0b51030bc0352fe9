package pgstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"arena_players", "arena_games", "arena_rating_changes", "arena_transactions"} {
		require.Contains(t, schema, table)
	}
}

func TestHelpers(t *testing.T) {
	raw, err := json.Marshal(nonNil(nil))
	require.NoError(t, err)
	require.Equal(t, "[]", string(raw))
	require.False(t, nullTime(time.Time{}).Valid)
	require.True(t, nullTime(time.Now()).Valid)
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), " ", 1200)
	require.Error(t, err)
}

// TestCommitRoundTrip runs against a real database when ARENA_TEST_DATABASE_URL is set.
func TestCommitRoundTrip(t *testing.T) {
	url := os.Getenv("ARENA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ARENA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url, 1200)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))

	id := "g-test-" + time.Now().Format("150405.000000")
	st := &domain.Settlement{
		Game: domain.FinishedGame{
			GameID: id, White: id + "-w", Black: id + "-b",
			Result: domain.ResultWhiteWin, EndReason: domain.EndResignation,
			FinalFEN: "8/8/8/8/8/8/8/8 w - - 0 1", MovesSAN: []string{"e4"}, MovesUCI: []string{"e2e4"},
		},
		Players: []domain.Player{{ID: id + "-w", Rating: 1216, GamesPlayed: 1, Wins: 1}},
		Ledger: []domain.LedgerEntry{{
			ID: id + "-l", GameID: id, PlayerID: id + "-w", Kind: domain.LedgerGameWin,
			Amount: 40, AffectsBalance: true, CreatedAt: time.Now(),
		}},
		PGN: "1. e4 1-0",
	}
	require.NoError(t, s.CommitSettlement(ctx, st))
	require.ErrorIs(t, s.CommitSettlement(ctx, st), store.ErrDuplicateSettlement)

	players, err := s.Players(ctx, []string{id + "-w"})
	require.NoError(t, err)
	require.Equal(t, 1216, players[id+"-w"].Rating)
	require.EqualValues(t, 40, players[id+"-w"].Balance)

	g, err := s.Game(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"e2e4"}, g.MovesUCI)
}
