package session

import (
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/oracle"
)

// classify maps rules-engine flags to a result in fixed precedence:
// checkmate, stalemate, threefold, insufficient material, fifty-move/other.
// mover is the side that just moved.
func classify(st oracle.Status, mover oracle.Color) (domain.Result, domain.EndReason, bool) {
	switch {
	case st.Checkmate:
		return winFor(mover), domain.EndCheckmate, true
	case st.Stalemate:
		return domain.ResultDraw, domain.EndStalemate, true
	case st.ThreefoldRepetition:
		return domain.ResultDraw, domain.EndThreefoldRepetition, true
	case st.InsufficientMaterial:
		return domain.ResultDraw, domain.EndInsufficientMaterial, true
	case st.FiftyMoveRule:
		return domain.ResultDraw, domain.EndFiftyMoveRule, true
	case st.OtherDraw:
		return domain.ResultDraw, domain.EndDraw, true
	}
	return domain.ResultNone, "", false
}

func winFor(c oracle.Color) domain.Result {
	if c == oracle.Black {
		return domain.ResultBlackWin
	}
	return domain.ResultWhiteWin
}
