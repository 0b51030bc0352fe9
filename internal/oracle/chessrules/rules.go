// Package chessrules adapts github.com/corentings/chess/v2 to oracle.Oracle.
package chessrules

import (
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-arena/internal/oracle"
)

// Rules is stateless; every Position owns its own game copy.
type Rules struct{}

func New() *Rules { return &Rules{} }

func (Rules) Start() oracle.Position {
	return &position{game: nchess.NewGame()}
}

func (Rules) Deserialize(fen string) (oracle.Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, oracle.ErrInvalidFEN
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrInvalidFEN, err)
	}
	return &position{game: nchess.NewGame(opt)}, nil
}

type position struct {
	game *nchess.Game

	once  sync.Once
	legal []oracle.Move
}

func (p *position) Turn() oracle.Color {
	return colorOf(p.game.Position().Turn())
}

func (p *position) FEN() string { return p.game.FEN() }

func (p *position) LegalMoves() []oracle.Move {
	p.once.Do(func() {
		pos := p.game.Position()
		board := pos.Board()
		valid := p.game.ValidMoves()
		out := make([]oracle.Move, 0, len(valid))
		for _, mv := range valid {
			from, to := mv.S1(), mv.S2()
			m := oracle.Move{
				UCI:       mv.String(),
				From:      squareOf(from),
				To:        squareOf(to),
				Piece:     kindOf(board.Piece(from).Type()),
				Captured:  kindOf(board.Piece(to).Type()),
				Promotion: kindOf(mv.Promo()),
				Check:     mv.HasTag(nchess.Check),
			}
			if mv.HasTag(nchess.EnPassant) {
				m.Captured = oracle.Pawn
			}
			out = append(out, m)
		}
		p.legal = out
	})
	return p.legal
}

// Apply accepts UCI ("e2e4", "e7e8q") first and falls back to SAN ("Nf3").
func (p *position) Apply(spec string) (oracle.Position, oracle.Move, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return nil, oracle.Move{}, oracle.ErrIllegalMove
	}
	pos := p.game.Position()

	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); err == nil && mv != nil {
		if legal, ok := p.lookup(mv.String()); ok {
			next := p.game.Clone()
			if err := next.Move(mv, nil); err != nil {
				return nil, oracle.Move{}, fmt.Errorf("%w: %v", oracle.ErrIllegalMove, err)
			}
			legal.SAN = nchess.AlgebraicNotation{}.Encode(pos, mv)
			return &position{game: next}, legal, nil
		}
	}

	next := p.game.Clone()
	if err := next.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return nil, oracle.Move{}, fmt.Errorf("%w: %s", oracle.ErrIllegalMove, raw)
	}
	moves := next.Moves()
	if len(moves) == 0 {
		return nil, oracle.Move{}, oracle.ErrIllegalMove
	}
	last := moves[len(moves)-1]
	legal, ok := p.lookup(last.String())
	if !ok {
		return nil, oracle.Move{}, fmt.Errorf("%w: %s", oracle.ErrIllegalMove, raw)
	}
	legal.SAN = nchess.AlgebraicNotation{}.Encode(pos, last)
	return &position{game: next}, legal, nil
}

func (p *position) lookup(uci string) (oracle.Move, bool) {
	for _, m := range p.LegalMoves() {
		if m.UCI == uci {
			return m, true
		}
	}
	return oracle.Move{}, false
}

func (p *position) Status() oracle.Status {
	var st oracle.Status
	method := p.game.Method()

	if len(p.LegalMoves()) == 0 {
		switch method {
		case nchess.Checkmate:
			st.Checkmate = true
		case nchess.Stalemate:
			st.Stalemate = true
		default:
			if p.lastMoveGaveCheck() {
				st.Checkmate = true
			} else {
				st.Stalemate = true
			}
		}
	}

	st.ThreefoldRepetition = p.repetitions() >= 3
	st.FiftyMoveRule = halfMoveClock(p.game.FEN()) >= 100
	st.InsufficientMaterial = method == nchess.InsufficientMaterial || insufficientMaterial(p.Pieces())
	st.OtherDraw = method == nchess.FivefoldRepetition || method == nchess.SeventyFiveMoveRule
	return st
}

func (p *position) lastMoveGaveCheck() bool {
	moves := p.game.Moves()
	if len(moves) == 0 {
		return false
	}
	return moves[len(moves)-1].HasTag(nchess.Check)
}

func (p *position) repetitions() int {
	positions := p.game.Positions()
	if len(positions) == 0 {
		return 0
	}
	current := repetitionKey(p.game.FEN())
	count := 0
	for _, pos := range positions {
		if pos == nil {
			continue
		}
		if repetitionKey(pos.String()) == current {
			count++
		}
	}
	return count
}

func (p *position) Pieces() []oracle.Piece {
	board := p.game.Position().Board()
	out := make([]oracle.Piece, 0, 32)
	for r := nchess.Rank1; r <= nchess.Rank8; r++ {
		for f := nchess.FileA; f <= nchess.FileH; f++ {
			sq := nchess.NewSquare(f, r)
			pc := board.Piece(sq)
			if pc == nchess.NoPiece {
				continue
			}
			out = append(out, oracle.Piece{
				Kind:   kindOf(pc.Type()),
				Color:  colorOf(pc.Color()),
				Square: squareOf(sq),
			})
		}
	}
	return out
}

// repetitionKey keeps placement, side to move, castling and en passant.
func repetitionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

func halfMoveClock(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return 0
	}
	n := 0
	for _, ch := range fields[4] {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

// insufficientMaterial covers K v K, K+minor v K and bishops confined to one
// square color.
func insufficientMaterial(pieces []oracle.Piece) bool {
	minors := 0
	bishopShade := -1
	sameShade := true
	for _, pc := range pieces {
		switch pc.Kind {
		case oracle.King:
			continue
		case oracle.Pawn, oracle.Rook, oracle.Queen:
			return false
		case oracle.Knight:
			minors++
			sameShade = false
		case oracle.Bishop:
			minors++
			shade := (pc.Square.File + pc.Square.Rank) % 2
			if bishopShade == -1 {
				bishopShade = shade
			} else if bishopShade != shade {
				sameShade = false
			}
		}
	}
	return minors <= 1 || sameShade
}

func colorOf(c nchess.Color) oracle.Color {
	switch c {
	case nchess.White:
		return oracle.White
	case nchess.Black:
		return oracle.Black
	}
	return oracle.NoColor
}

func kindOf(t nchess.PieceType) oracle.PieceKind {
	switch t {
	case nchess.Pawn:
		return oracle.Pawn
	case nchess.Knight:
		return oracle.Knight
	case nchess.Bishop:
		return oracle.Bishop
	case nchess.Rook:
		return oracle.Rook
	case nchess.Queen:
		return oracle.Queen
	case nchess.King:
		return oracle.King
	}
	return oracle.NoPiece
}

func squareOf(sq nchess.Square) oracle.Square {
	return oracle.Square{File: int(sq.File()), Rank: int(sq.Rank())}
}
