package domain

import "time"

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWin  Result = "white_win"
	ResultBlackWin  Result = "black_win"
	ResultDraw      Result = "draw"
	ResultAbandoned Result = "abandoned"
)

type EndReason string

const (
	EndCheckmate            EndReason = "checkmate"
	EndStalemate            EndReason = "stalemate"
	EndThreefoldRepetition  EndReason = "threefold_repetition"
	EndInsufficientMaterial EndReason = "insufficient_material"
	EndFiftyMoveRule        EndReason = "fifty_move_rule"
	EndDraw                 EndReason = "draw"
	EndTimeout              EndReason = "timeout"
	EndResignation          EndReason = "resignation"
	EndAgreement            EndReason = "agreement"
	EndAborted              EndReason = "aborted"
)

// FinishedGame is everything settlement needs about a decided game.
type FinishedGame struct {
	GameID       string
	White        string
	Black        string
	WhiteMachine bool
	BlackMachine bool
	Difficulty   string
	// MachineRating stands in for the machine side in rated machine games.
	MachineRating int
	Rated         bool
	Stake         int64
	TimeControl   string
	Result        Result
	EndReason     EndReason
	FinalFEN      string
	MovesSAN      []string
	MovesUCI      []string
	WhiteMs       int64
	BlackMs       int64
	StartedAt     time.Time
	EndedAt       time.Time
}

func (g FinishedGame) HasMachine() bool { return g.WhiteMachine || g.BlackMachine }
