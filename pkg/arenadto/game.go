package arenadto

import "time"

type Move struct {
	UCI       string `json:"uci"`
	SAN       string `json:"san"`
	From      string `json:"from"`
	To        string `json:"to"`
	Captured  string `json:"captured,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Check     bool   `json:"check,omitempty"`
	By        string `json:"by"`
}

type Clock struct {
	WhiteMs int64 `json:"white_ms"`
	BlackMs int64 `json:"black_ms"`
}

type GameState struct {
	GameID      string    `json:"game_id"`
	FEN         string    `json:"fen"`
	MovesSAN    []string  `json:"moves_san"`
	MovesUCI    []string  `json:"moves_uci"`
	White       string    `json:"white,omitempty"`
	Black       string    `json:"black,omitempty"`
	Turn        string    `json:"turn"`
	Clock       Clock     `json:"clock"`
	TimeControl string    `json:"time_control"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	EndReason   string    `json:"end_reason,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Rated       bool      `json:"rated"`
	Stake       int64     `json:"stake"`
	Difficulty  string    `json:"difficulty,omitempty"`
	Settled     bool      `json:"settled"`
	LastMove    *Move     `json:"last_move,omitempty"`
	PGN         string    `json:"pgn,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Invite struct {
	Code        string    `json:"code"`
	GameID      string    `json:"game_id"`
	Creator     string    `json:"creator"`
	Color       string    `json:"color"`
	TimeControl string    `json:"time_control"`
	Rated       bool      `json:"rated"`
	Stake       int64     `json:"stake"`
	CreatedAt   time.Time `json:"created_at"`
	Message     string    `json:"message,omitempty"`
}

type Challenge struct {
	ID          string    `json:"id"`
	Challenger  string    `json:"challenger"`
	Target      string    `json:"target"`
	Color       string    `json:"color"`
	TimeControl string    `json:"time_control"`
	Rated       bool      `json:"rated"`
	Stake       int64     `json:"stake"`
	Status      string    `json:"status"`
	GameID      string    `json:"game_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
