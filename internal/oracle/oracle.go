// Package oracle defines the rules-engine contract consumed by sessions and
// the search engine. Implementations live in subpackages.
package oracle

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrInvalidFEN  = errors.New("invalid position notation")
)

type Color int8

const (
	NoColor Color = iota
	White
	Black
)

func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return NoColor
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	}
	return "none"
}

// ParseColor accepts "white"/"w" and "black"/"b". Anything else yields NoColor.
func ParseColor(s string) Color {
	switch s {
	case "white", "w", "WHITE", "White":
		return White
	case "black", "b", "BLACK", "Black":
		return Black
	}
	return NoColor
}

type PieceKind int8

const (
	NoPiece PieceKind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

func (k PieceKind) String() string {
	switch k {
	case Pawn:
		return "p"
	case Knight:
		return "n"
	case Bishop:
		return "b"
	case Rook:
		return "r"
	case Queen:
		return "q"
	case King:
		return "k"
	}
	return ""
}

// Square uses zero-based file (a=0) and rank (1=0) coordinates.
type Square struct {
	File int
	Rank int
}

func (s Square) String() string {
	if s.File < 0 || s.File > 7 || s.Rank < 0 || s.Rank > 7 {
		return "-"
	}
	return fmt.Sprintf("%c%d", 'a'+s.File, s.Rank+1)
}

type Piece struct {
	Kind   PieceKind
	Color  Color
	Square Square
}

// Move is a legal move annotated with what the rules engine knows about it.
// SAN is only filled for moves returned by Position.Apply.
type Move struct {
	UCI       string
	SAN       string
	From      Square
	To        Square
	Piece     PieceKind
	Captured  PieceKind
	Promotion PieceKind
	Check     bool
}

func (m Move) IsCapture() bool   { return m.Captured != NoPiece }
func (m Move) IsPromotion() bool { return m.Promotion != NoPiece }

// Status lists every terminal condition the rules engine detected. More than
// one flag may be set; callers decide precedence.
type Status struct {
	Checkmate            bool
	Stalemate            bool
	ThreefoldRepetition  bool
	InsufficientMaterial bool
	FiftyMoveRule        bool
	OtherDraw            bool
}

func (s Status) Terminal() bool {
	return s.Checkmate || s.Stalemate || s.ThreefoldRepetition ||
		s.InsufficientMaterial || s.FiftyMoveRule || s.OtherDraw
}

// Position is an immutable game state. Apply returns a new Position and
// leaves the receiver untouched, so search code can branch freely.
type Position interface {
	Turn() Color
	LegalMoves() []Move
	Apply(move string) (Position, Move, error)
	Status() Status
	Pieces() []Piece
	FEN() string
}

type Oracle interface {
	Start() Position
	Deserialize(fen string) (Position, error)
}
