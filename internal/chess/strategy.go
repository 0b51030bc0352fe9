package chess

import (
	"math/rand"
	"sync"

	"github.com/park285/cheese-arena/internal/oracle"
)

// Searcher picks a move for the side to move.
type Searcher interface {
	ChooseMove(pos oracle.Position) (oracle.Move, error)
}

// EasySearch plays a uniformly random legal move.
type EasySearch struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func NewEasySearch(seed int64) *EasySearch {
	return &EasySearch{rand: rand.New(rand.NewSource(seed))}
}

func (s *EasySearch) ChooseMove(pos oracle.Position) (oracle.Move, error) {
	moves := pos.LegalMoves()
	if len(moves) == 0 {
		return oracle.Move{}, ErrNoLegalMoves
	}
	s.mu.Lock()
	pick := moves[s.rand.Intn(len(moves))]
	s.mu.Unlock()
	if _, applied, err := pos.Apply(pick.UCI); err == nil {
		return applied, nil
	}
	return pick, nil
}

// MediumSearch is depth-limited alpha-beta scored by the plain evaluator.
type MediumSearch struct {
	Depth int
	Eval  Evaluator
}

func (s MediumSearch) ChooseMove(pos oracle.Position) (oracle.Move, error) {
	a, err := Search(pos, s.Depth, s.Eval, false, 0)
	if err != nil {
		return oracle.Move{}, err
	}
	return a.Move, nil
}

// HardSearch adds a quiescence extension at the horizon.
type HardSearch struct {
	Depth            int
	Eval             Evaluator
	MaxQuiescencePly int
}

func (s HardSearch) ChooseMove(pos oracle.Position) (oracle.Move, error) {
	a, err := Search(pos, s.Depth, s.Eval, true, s.MaxQuiescencePly)
	if err != nil {
		return oracle.Move{}, err
	}
	return a.Move, nil
}

// NewSearcher builds the strategy a preset describes.
func NewSearcher(p DifficultyPreset, seed int64) (Searcher, error) {
	if err := ValidatePreset(p); err != nil {
		return nil, err
	}
	eval := Evaluator{Structural: p.Structural}
	switch {
	case p.Depth == 0:
		return NewEasySearch(seed), nil
	case p.Quiescence:
		return HardSearch{Depth: p.Depth, Eval: eval, MaxQuiescencePly: p.MaxQuiescencePly}, nil
	default:
		return MediumSearch{Depth: p.Depth, Eval: eval}, nil
	}
}
