package session

import (
	"time"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/oracle"
)

// MachineID is the participant id bound to a machine-controlled color.
const MachineID = "machine"

// Options are fixed at creation.
type Options struct {
	GameID      string
	TimeControl clock.TimeControl
	Rated       bool
	Stake       int64
	// Machine is the color played by the search engine, NoColor for two
	// human participants.
	Machine    oracle.Color
	Difficulty string
	// StartFEN overrides the initial position.
	StartFEN string
}

// Snapshot is the full externally visible state of a session.
type Snapshot struct {
	GameID      string           `json:"game_id"`
	FEN         string           `json:"fen"`
	MovesSAN    []string         `json:"moves_san"`
	MovesUCI    []string         `json:"moves_uci"`
	White       string           `json:"white,omitempty"`
	Black       string           `json:"black,omitempty"`
	Turn        string           `json:"turn"`
	WhiteMs     int64            `json:"white_ms"`
	BlackMs     int64            `json:"black_ms"`
	TimeControl string           `json:"time_control"`
	Status      domain.Status    `json:"status"`
	Result      domain.Result    `json:"result,omitempty"`
	EndReason   domain.EndReason `json:"end_reason,omitempty"`
	Rated       bool             `json:"rated"`
	Stake       int64            `json:"stake"`
	Difficulty  string           `json:"difficulty,omitempty"`
	Settled     bool             `json:"settled"`
	LastMove    *MoveInfo        `json:"last_move,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type MoveInfo struct {
	UCI       string `json:"uci"`
	SAN       string `json:"san"`
	From      string `json:"from"`
	To        string `json:"to"`
	Captured  string `json:"captured,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Check     bool   `json:"check,omitempty"`
	By        string `json:"by"`
}

func moveInfo(mv oracle.Move, by oracle.Color) *MoveInfo {
	return &MoveInfo{
		UCI:       mv.UCI,
		SAN:       mv.SAN,
		From:      mv.From.String(),
		To:        mv.To.String(),
		Captured:  mv.Captured.String(),
		Promotion: mv.Promotion.String(),
		Check:     mv.Check,
		By:        by.String(),
	}
}

// Participant returns the id bound to color, empty if unbound.
func (s Snapshot) Participant(c oracle.Color) string {
	switch c {
	case oracle.White:
		return s.White
	case oracle.Black:
		return s.Black
	}
	return ""
}
