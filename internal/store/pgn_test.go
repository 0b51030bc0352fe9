package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/domain"
)

func TestBuildPGN(t *testing.T) {
	g := domain.FinishedGame{
		GameID:      "g-1",
		White:       "alice",
		Black:       `bo"b`,
		TimeControl: "10+0",
		Result:      domain.ResultBlackWin,
		EndReason:   domain.EndCheckmate,
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		EndedAt:     time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(g)
	require.Contains(t, pgn, `[Date "2026.03.07"]`)
	require.Contains(t, pgn, `[Black "bo'b"]`)
	require.Contains(t, pgn, `[Termination "checkmate"]`)
	require.Contains(t, pgn, `[Result "0-1"]`)
	require.True(t, strings.HasSuffix(pgn, "1. f3 e5 2. g4 Qh4# 0-1"), pgn)
}

func TestBuildPGNOddPliesAndMachine(t *testing.T) {
	g := domain.FinishedGame{
		White:        "alice",
		Black:        "machine",
		BlackMachine: true,
		Difficulty:   "hard",
		Result:       domain.ResultWhiteWin,
		MovesSAN:     []string{"e4", "e5", "Qh5"},
	}
	pgn := BuildPGN(g)
	require.Contains(t, pgn, `[Black "machine (hard)"]`)
	require.True(t, strings.HasSuffix(pgn, "1. e4 e5 2. Qh5 1-0"), pgn)
	require.Equal(t, "*", pgnResult(domain.ResultAbandoned))
	require.Equal(t, "1/2-1/2", pgnResult(domain.ResultDraw))
}

func TestBuildPGNNamesOpening(t *testing.T) {
	g := domain.FinishedGame{
		White:    "alice",
		Black:    "bob",
		Result:   domain.ResultDraw,
		MovesSAN: []string{"e4", "e5", "Nf3", "Nc6", "Bb5"},
		MovesUCI: []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"},
	}
	pgn := BuildPGN(g)
	require.Contains(t, pgn, `[ECO "C60"]`)
	require.Contains(t, pgn, "Ruy Lopez")
}
