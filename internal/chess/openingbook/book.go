// Package openingbook names openings by ECO code and serves Polyglot book
// moves to the machine opponent.
package openingbook

import (
	"fmt"
	"os"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	eco     *opening.BookECO
)

// Opening is the most specific ECO line a move list matches.
type Opening struct {
	Code  string
	Title string
}

// Classify names the opening reached by UCI moves from the standard start.
// Games that leave the ECO tree keep the last line they matched.
func Classify(movesUCI []string) (Opening, bool) {
	if len(movesUCI) == 0 {
		return Opening{}, false
	}
	game, err := buildGameFromPosition("", movesUCI)
	if err != nil {
		return Opening{}, false
	}
	ecoOnce.Do(func() { eco = opening.NewBookECO() })
	found := eco.Find(game.Moves())
	if found == nil {
		return Opening{}, false
	}
	return Opening{Code: found.Code(), Title: found.Title()}, true
}

// Book is a loaded Polyglot opening book.
type Book struct {
	pg *chesslib.PolyglotBook
}

// Load reads a Polyglot .bin file.
func Load(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()

	pg, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return &Book{pg: pg}, nil
}

// Move returns the heaviest book move for fen in UCI notation. Entries that
// are not legal in the position are skipped.
func (b *Book) Move(fen string) (string, bool) {
	if b == nil || b.pg == nil {
		return "", false
	}
	hashStr, err := chesslib.NewZobristHasher().HashPosition(fen)
	if err != nil {
		return "", false
	}
	entries := b.pg.FindMoves(chesslib.ZobristHashToUint64(hashStr))

	best, bestWeight := "", -1
	for _, entry := range entries {
		if int(entry.Weight) <= bestWeight {
			continue
		}
		move := chesslib.DecodeMove(entry.Move).ToMove()
		uci := move.String()
		game, err := buildGameFromPosition(fen, []string{uci})
		if err != nil || game == nil {
			continue
		}
		best, bestWeight = uci, int(entry.Weight)
	}
	return best, best != ""
}

func buildGameFromPosition(fen string, moves []string) (*chesslib.Game, error) {
	var game *chesslib.Game
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		game = chesslib.NewGame()
	} else {
		option, err := chesslib.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse fen %q: %w", fen, err)
		}
		game = chesslib.NewGame(option)
	}

	for _, mv := range moves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
	}
	return game, nil
}
