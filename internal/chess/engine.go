package chess

import (
	"math/rand"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/oracle"
)

// Engine hands out searchers per difficulty. Easy searchers get their own
// RNG seeded from the engine so SetRandomSeed makes whole runs repeatable.
type Engine struct {
	randMu sync.Mutex
	rand   *rand.Rand
	book   BookSource
}

// BookSource supplies prepared opening moves in UCI notation.
type BookSource interface {
	Move(fen string) (string, bool)
}

// SetBook makes searching presets play book moves while the position is in
// the book. The easy preset stays random.
func (e *Engine) SetBook(b BookSource) {
	e.randMu.Lock()
	e.book = b
	e.randMu.Unlock()
}

func NewEngine() *Engine {
	return &Engine{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (e *Engine) SetRandomSeed(seed int64) {
	e.randMu.Lock()
	e.rand = rand.New(rand.NewSource(seed))
	e.randMu.Unlock()
}

func (e *Engine) seed() int64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Int63()
}

// Searcher returns a fresh strategy for the named difficulty.
func (e *Engine) Searcher(difficulty string) (Searcher, DifficultyPreset, error) {
	preset, err := GetPreset(difficulty)
	if err != nil {
		return nil, DifficultyPreset{}, err
	}
	s, err := NewSearcher(preset, e.seed())
	if err != nil {
		return nil, DifficultyPreset{}, err
	}
	e.randMu.Lock()
	book := e.book
	e.randMu.Unlock()
	if book != nil && preset.Depth > 0 {
		s = bookSearch{book: book, next: s}
	}
	return s, preset, nil
}

type bookSearch struct {
	book BookSource
	next Searcher
}

func (s bookSearch) ChooseMove(pos oracle.Position) (oracle.Move, error) {
	if uci, ok := s.book.Move(pos.FEN()); ok {
		if _, applied, err := pos.Apply(uci); err == nil {
			return applied, nil
		}
	}
	return s.next.ChooseMove(pos)
}

// ChooseMove is a one-shot convenience over Searcher.
func (e *Engine) ChooseMove(pos oracle.Position, difficulty string) (oracle.Move, error) {
	s, _, err := e.Searcher(difficulty)
	if err != nil {
		return oracle.Move{}, err
	}
	return s.ChooseMove(pos)
}
