package chess

import (
	"errors"

	"github.com/park285/cheese-arena/internal/oracle"
)

const infinity = 1 << 30

var ErrNoLegalMoves = errors.New("no legal moves")

// Analysis is the outcome of one search call.
type Analysis struct {
	Move  oracle.Move
	Score int
	Nodes int
	Depth int
}

// searchNode carries per-call state; it is never shared between calls.
type searchNode struct {
	eval       Evaluator
	quiescence bool
	qLimit     int
	nodes      int
}

// Search runs a fixed-depth negamax alpha-beta from pos. With quiescence set
// the horizon is extended over captures and checks, up to qLimit plies.
func Search(pos oracle.Position, depth int, eval Evaluator, quiescence bool, qLimit int) (Analysis, error) {
	moves := orderMoves(pos.LegalMoves())
	if len(moves) == 0 {
		return Analysis{}, ErrNoLegalMoves
	}
	if depth < 1 {
		depth = 1
	}
	n := &searchNode{eval: eval, quiescence: quiescence, qLimit: qLimit}

	var (
		best      oracle.Move
		bestScore = -infinity
		found     bool
		alpha     = -infinity
		beta      = infinity
	)
	for _, mv := range moves {
		child, applied, err := pos.Apply(mv.UCI)
		if err != nil {
			continue
		}
		score := -n.negamax(child, depth-1, -beta, -alpha)
		if !found || score > bestScore {
			best, bestScore, found = applied, score, true
		}
		if score > alpha {
			alpha = score
		}
	}
	if !found {
		return Analysis{Move: moves[0], Score: 0, Nodes: n.nodes, Depth: depth}, nil
	}
	return Analysis{Move: best, Score: bestScore, Nodes: n.nodes, Depth: depth}, nil
}

func (n *searchNode) negamax(pos oracle.Position, depth, alpha, beta int) int {
	n.nodes++
	if pos.Status().Terminal() {
		return n.eval.Evaluate(pos, pos.Turn())
	}
	if depth <= 0 {
		if n.quiescence {
			return n.quiesce(pos, alpha, beta, 0)
		}
		return n.eval.Evaluate(pos, pos.Turn())
	}

	best := -infinity
	for _, mv := range orderMoves(pos.LegalMoves()) {
		child, _, err := pos.Apply(mv.UCI)
		if err != nil {
			continue
		}
		score := -n.negamax(child, depth-1, -beta, -alpha)
		if score > best {
			best = score
		}
		if score > alpha {
			alpha = score
		}
		if beta <= alpha {
			break
		}
	}
	if best == -infinity {
		return n.eval.Evaluate(pos, pos.Turn())
	}
	return best
}

func (n *searchNode) quiesce(pos oracle.Position, alpha, beta, ply int) int {
	n.nodes++
	standPat := n.eval.Evaluate(pos, pos.Turn())
	if pos.Status().Terminal() {
		return standPat
	}
	if standPat >= beta {
		return beta
	}
	if standPat > alpha {
		alpha = standPat
	}
	if n.qLimit > 0 && ply >= n.qLimit {
		return alpha
	}

	for _, mv := range orderMoves(noisyMoves(pos.LegalMoves())) {
		child, _, err := pos.Apply(mv.UCI)
		if err != nil {
			continue
		}
		score := -n.quiesce(child, -beta, -alpha, ply+1)
		if score >= beta {
			return beta
		}
		if score > alpha {
			alpha = score
		}
	}
	return alpha
}
