package chess

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/oracle/chessrules"
)

func legalUCI(pos oracle.Position) map[string]bool {
	out := map[string]bool{}
	for _, mv := range pos.LegalMoves() {
		out[mv.UCI] = true
	}
	return out
}

func TestMoveScore(t *testing.T) {
	pxq := oracle.Move{UCI: "e4d5", Piece: oracle.Pawn, Captured: oracle.Queen, To: oracle.Square{File: 3, Rank: 4}}
	qxp := oracle.Move{UCI: "d1d5", Piece: oracle.Queen, Captured: oracle.Pawn, To: oracle.Square{File: 3, Rank: 4}}
	promo := oracle.Move{UCI: "a7a8q", Piece: oracle.Pawn, Promotion: oracle.Queen, To: oracle.Square{File: 0, Rank: 7}}
	quiet := oracle.Move{UCI: "h2h3", Piece: oracle.Pawn, To: oracle.Square{File: 7, Rank: 2}}
	check := oracle.Move{UCI: "f1b5", Piece: oracle.Bishop, Check: true, To: oracle.Square{File: 1, Rank: 4}}
	near := oracle.Move{UCI: "g1f3", Piece: oracle.Knight, To: oracle.Square{File: 5, Rank: 2}}

	require.Equal(t, 10*900-100+20, moveScore(pxq))
	require.Equal(t, 10*100-900+20, moveScore(qxp))
	require.Equal(t, 900, moveScore(promo))
	require.Equal(t, 0, moveScore(quiet))
	require.Equal(t, 50, moveScore(check))
	require.Equal(t, 10, moveScore(near))

	ordered := orderMoves([]oracle.Move{quiet, near, check, qxp, promo, pxq})
	got := make([]string, 0, len(ordered))
	for _, mv := range ordered {
		got = append(got, mv.UCI)
	}
	require.Equal(t, []string{"e4d5", "a7a8q", "d1d5", "f1b5", "g1f3", "h2h3"}, got)
}

func TestOrderMovesTieBreak(t *testing.T) {
	a := oracle.Move{UCI: "h2h3", To: oracle.Square{File: 7, Rank: 2}}
	b := oracle.Move{UCI: "a2a3", To: oracle.Square{File: 0, Rank: 2}}
	ordered := orderMoves([]oracle.Move{a, b})
	require.Equal(t, "a2a3", ordered[0].UCI)
}

func TestMediumFindsMateInOne(t *testing.T) {
	pos := mustFEN(t, "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1")
	mv, err := MediumSearch{Depth: 3}.ChooseMove(pos)
	require.NoError(t, err)
	require.Equal(t, "a1a8", mv.UCI)
	require.Contains(t, mv.SAN, "Ra8")
}

func TestHardFindsMateInOne(t *testing.T) {
	pos := mustFEN(t, "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1")
	mv, err := HardSearch{Depth: 5, Eval: Evaluator{Structural: true}, MaxQuiescencePly: 8}.ChooseMove(pos)
	require.NoError(t, err)
	require.Equal(t, "a1a8", mv.UCI)
}

func TestMediumTakesHangingQueen(t *testing.T) {
	pos := mustFEN(t, "4k3/8/8/3q4/8/8/3R4/4K3 w - - 0 1")
	mv, err := MediumSearch{Depth: 3}.ChooseMove(pos)
	require.NoError(t, err)
	require.Equal(t, "d2d5", mv.UCI)
}

func TestQuiescenceSeesDefendedPawn(t *testing.T) {
	// d5 is guarded by c6; only the capture extension sees cxd5.
	pos := mustFEN(t, "4k3/8/2p5/3p4/8/8/8/3QK3 w - - 0 1")

	flat, err := Search(pos, 1, Evaluator{}, false, 0)
	require.NoError(t, err)
	require.Equal(t, "d1d5", flat.Move.UCI)

	deep, err := Search(pos, 1, Evaluator{}, true, 8)
	require.NoError(t, err)
	require.NotEqual(t, "d1d5", deep.Move.UCI)
	require.Greater(t, deep.Score, pieceValue(oracle.Queen)/2, "queen kept")
}

func TestQuiescenceLimitCapsExtension(t *testing.T) {
	// doubled rooks on the d-file trade down a chain of captures
	pos := mustFEN(t, "3r3k/3r4/8/8/8/8/3R4/3RK3 w - - 0 1")
	legal := legalUCI(pos)

	capped, err := Search(pos, 1, Evaluator{}, true, 1)
	require.NoError(t, err)
	require.True(t, legal[capped.Move.UCI])

	unbounded, err := Search(pos, 1, Evaluator{}, true, 0)
	require.NoError(t, err)
	require.True(t, legal[unbounded.Move.UCI])

	require.Less(t, capped.Nodes, unbounded.Nodes)
}

func TestSearchDeterministic(t *testing.T) {
	pos := mustPlay(t, "e2e4", "e7e5", "g1f3", "b8c6")
	first, err := Search(pos, 2, Evaluator{}, false, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := Search(pos, 2, Evaluator{}, false, 0)
		require.NoError(t, err)
		require.Equal(t, first.Move.UCI, again.Move.UCI)
		require.Equal(t, first.Score, again.Score)
	}
}

func TestSearchersReturnLegalMoves(t *testing.T) {
	positions := []oracle.Position{
		chessrules.New().Start(),
		mustFEN(t, "8/8/8/4k3/8/8/3QK3/8 w - - 0 1"),
		mustFEN(t, "4k3/8/8/8/8/8/4p3/4K3 w - - 0 1"),
	}
	searchers := []Searcher{
		NewEasySearch(7),
		MediumSearch{Depth: 2},
		HardSearch{Depth: 1, MaxQuiescencePly: 4},
	}
	for _, pos := range positions {
		legal := legalUCI(pos)
		for _, s := range searchers {
			mv, err := s.ChooseMove(pos)
			require.NoError(t, err)
			require.True(t, legal[mv.UCI], "%T chose %s in %s", s, mv.UCI, pos.FEN())
		}
	}
}

func TestSearchNoLegalMoves(t *testing.T) {
	mated := mustPlay(t, "f2f3", "e7e5", "g2g4", "d8h4")
	_, err := Search(mated, 3, Evaluator{}, false, 0)
	require.ErrorIs(t, err, ErrNoLegalMoves)

	_, err = NewEasySearch(1).ChooseMove(mated)
	require.ErrorIs(t, err, ErrNoLegalMoves)
}

func TestEasySearchSeeded(t *testing.T) {
	pos := chessrules.New().Start()
	a, err := NewEasySearch(42).ChooseMove(pos)
	require.NoError(t, err)
	b, err := NewEasySearch(42).ChooseMove(pos)
	require.NoError(t, err)
	require.Equal(t, a.UCI, b.UCI)
}

func TestPresets(t *testing.T) {
	p, err := GetPreset("advanced")
	require.NoError(t, err)
	require.Equal(t, Hard, p.Name)
	require.True(t, p.Quiescence)
	require.Equal(t, 5, p.Depth)

	p, err = GetPreset("Medium")
	require.NoError(t, err)
	require.Equal(t, 3, p.Depth)
	require.False(t, p.Quiescence)

	_, err = GetPreset("grandmaster")
	require.Error(t, err)

	require.Error(t, ValidatePreset(DifficultyPreset{Name: Medium, Depth: 0, ApproxRating: 1}))
	require.Error(t, ValidatePreset(DifficultyPreset{Name: "weird", Depth: 1, ApproxRating: 1}))
	require.NoError(t, ValidatePreset(DefaultPresets[Easy]))
}

func TestNewSearcherSelectsStrategy(t *testing.T) {
	for name, want := range map[Difficulty]string{Easy: "*chess.EasySearch", Medium: "chess.MediumSearch", Hard: "chess.HardSearch"} {
		s, err := NewSearcher(DefaultPresets[name], 1)
		require.NoError(t, err)
		require.Equal(t, want, fmt.Sprintf("%T", s))
	}
}

func TestEngineSearcher(t *testing.T) {
	e := NewEngine()
	e.SetRandomSeed(3)
	s, preset, err := e.Searcher("easy")
	require.NoError(t, err)
	require.Equal(t, Easy, preset.Name)
	mv, err := s.ChooseMove(chessrules.New().Start())
	require.NoError(t, err)
	require.NotEmpty(t, mv.UCI)

	_, _, err = e.Searcher("nope")
	require.Error(t, err)
}

type fixedBook map[string]string

func (b fixedBook) Move(fen string) (string, bool) {
	mv, ok := b[fen]
	return mv, ok
}

func TestEngineBookMoves(t *testing.T) {
	start := chessrules.New().Start()
	e := NewEngine()
	e.SetRandomSeed(3)
	e.SetBook(fixedBook{start.FEN(): "b1c3"})

	s, _, err := e.Searcher("medium")
	require.NoError(t, err)
	mv, err := s.ChooseMove(start)
	require.NoError(t, err)
	require.Equal(t, "b1c3", mv.UCI)
	require.Equal(t, "Nc3", mv.SAN)

	// Out of book falls through to the search.
	pos := mustFEN(t, "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1")
	mv, err = s.ChooseMove(pos)
	require.NoError(t, err)
	require.Equal(t, "a1a8", mv.UCI)

	// Easy ignores the book.
	easy, _, err := e.Searcher("easy")
	require.NoError(t, err)
	_, isBook := easy.(bookSearch)
	require.False(t, isBook)
}
