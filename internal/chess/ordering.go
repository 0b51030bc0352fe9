package chess

import (
	"sort"

	"github.com/park285/cheese-arena/internal/oracle"
)

const (
	checkBonus      = 50
	promotionBonus  = 900
	centerBonus     = 20
	nearCenterBonus = 10
)

var centerSquares = map[string]bool{"d4": true, "d5": true, "e4": true, "e5": true}

var nearCenterSquares = map[string]bool{
	"c3": true, "c4": true, "c5": true, "c6": true,
	"d3": true, "d6": true, "e3": true, "e6": true,
	"f3": true, "f4": true, "f5": true, "f6": true,
}

// moveScore ranks a move for search order: MVV-LVA captures, checks,
// promotions, then central destinations.
func moveScore(mv oracle.Move) int {
	score := 0
	if mv.IsCapture() {
		score += 10*pieceValue(mv.Captured) - pieceValue(mv.Piece)
	}
	if mv.Check {
		score += checkBonus
	}
	if mv.IsPromotion() {
		score += promotionBonus
	}
	to := mv.To.String()
	switch {
	case centerSquares[to]:
		score += centerBonus
	case nearCenterSquares[to]:
		score += nearCenterBonus
	}
	return score
}

// orderMoves returns a sorted copy, best first. Equal scores fall back to
// UCI order so the result does not depend on generator order.
func orderMoves(moves []oracle.Move) []oracle.Move {
	out := make([]oracle.Move, len(moves))
	copy(out, moves)
	scores := make(map[string]int, len(out))
	for _, mv := range out {
		scores[mv.UCI] = moveScore(mv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scores[out[i].UCI], scores[out[j].UCI]
		if si != sj {
			return si > sj
		}
		return out[i].UCI < out[j].UCI
	})
	return out
}

func noisyMoves(moves []oracle.Move) []oracle.Move {
	out := make([]oracle.Move, 0, len(moves))
	for _, mv := range moves {
		if mv.IsCapture() || mv.Check {
			out = append(out, mv)
		}
	}
	return out
}
