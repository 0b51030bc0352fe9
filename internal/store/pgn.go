package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/chess/openingbook"
	"github.com/park285/cheese-arena/internal/domain"
)

func pgnResult(r domain.Result) string {
	switch r {
	case domain.ResultWhiteWin:
		return "1-0"
	case domain.ResultBlackWin:
		return "0-1"
	case domain.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders the SAN move list with standard headers.
func BuildPGN(g domain.FinishedGame) string {
	var b strings.Builder
	date := g.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := pgnResult(g.Result)
	white, black := g.White, g.Black
	if g.WhiteMachine {
		white = "machine (" + g.Difficulty + ")"
	}
	if g.BlackMachine {
		black = "machine (" + g.Difficulty + ")"
	}

	b.WriteString("[Event \"Cheese Arena\"]\n")
	b.WriteString("[Site \"cheese-arena\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(white))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(black))
	if tc := strings.TrimSpace(g.TimeControl); tc != "" {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", sanitizePGN(tc))
	}
	if op, ok := openingbook.Classify(g.MovesUCI); ok {
		fmt.Fprintf(&b, "[ECO \"%s\"]\n", op.Code)
		fmt.Fprintf(&b, "[Opening \"%s\"]\n", sanitizePGN(op.Title))
	}
	if g.EndReason != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(string(g.EndReason)))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(g.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(g.MovesSAN[i]))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
