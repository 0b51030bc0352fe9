package chess

import "github.com/park285/cheese-arena/internal/oracle"

const (
	MateScore        = 20000
	mobilityWeight   = 10
	bishopPairBonus  = 50
	doubledPawnCost  = 10
	isolatedPawnCost = 15
)

// Evaluator scores positions in centipawns. Structural enables the bishop
// pair and pawn-structure terms.
type Evaluator struct {
	Structural bool
}

// Evaluate returns the score from perspective's point of view. The
// underlying score is White-relative and is negated for Black, so
// Evaluate(p, White) == -Evaluate(p, Black) always holds.
func (e Evaluator) Evaluate(pos oracle.Position, perspective oracle.Color) int {
	score := e.whiteScore(pos)
	if perspective == oracle.Black {
		return -score
	}
	return score
}

func (e Evaluator) whiteScore(pos oracle.Position) int {
	st := pos.Status()
	if st.Checkmate {
		// the side to move is mated
		if pos.Turn() == oracle.White {
			return -MateScore
		}
		return MateScore
	}
	if st.Terminal() {
		return 0
	}

	pieces := pos.Pieces()
	score := 0
	for _, pc := range pieces {
		v := pieceValue(pc.Kind) + squareValue(pc)
		if pc.Color == oracle.White {
			score += v
		} else {
			score -= v
		}
	}

	mobility := len(pos.LegalMoves()) * mobilityWeight
	if pos.Turn() == oracle.White {
		score += mobility
	} else {
		score -= mobility
	}

	if e.Structural {
		score += structure(pieces, oracle.White) - structure(pieces, oracle.Black)
	}
	return score
}

// structure sums the bishop pair bonus and pawn penalties for one color.
func structure(pieces []oracle.Piece, c oracle.Color) int {
	var files [8]int
	bishops := 0
	for _, pc := range pieces {
		if pc.Color != c {
			continue
		}
		switch pc.Kind {
		case oracle.Bishop:
			bishops++
		case oracle.Pawn:
			if pc.Square.File >= 0 && pc.Square.File < 8 {
				files[pc.Square.File]++
			}
		}
	}

	score := 0
	if bishops >= 2 {
		score += bishopPairBonus
	}
	for f, n := range files {
		if n > 1 {
			score -= (n - 1) * doubledPawnCost
		}
		if n == 0 {
			continue
		}
		left := f > 0 && files[f-1] > 0
		right := f < 7 && files[f+1] > 0
		if !left && !right {
			score -= n * isolatedPawnCost
		}
	}
	return score
}
