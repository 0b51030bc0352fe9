package domain

import "time"

type Player struct {
	ID          string
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Draws       int
	Balance     int64
	UpdatedAt   time.Time
	CreatedAt   time.Time
}

type RatingChange struct {
	GameID    string
	PlayerID  string
	OldRating int
	NewRating int
	Delta     int
}

type LedgerKind string

const (
	LedgerGameWin  LedgerKind = "game_win"
	LedgerGameLoss LedgerKind = "game_loss"
)

// LedgerEntry is one transaction row. Entries with AffectsBalance=false are
// bookkeeping only.
type LedgerEntry struct {
	ID             string
	GameID         string
	PlayerID       string
	Kind           LedgerKind
	Amount         int64
	AffectsBalance bool
	Description    string
	CreatedAt      time.Time
}

type StakeTransfer struct {
	From   string
	To     string
	Amount int64
}

// Settlement is the single commit handed to storage when a game ends.
type Settlement struct {
	Game      FinishedGame
	Players   []Player
	Ratings   []RatingChange
	Transfer  *StakeTransfer
	Ledger    []LedgerEntry
	PGN       string
	SettledAt time.Time
}
