package session

import "errors"

// Error is a coded session error. Every value except ErrSettlementFailure is
// recoverable and reported only to the caller that caused it.
type Error struct {
	code string
	text string
}

func (e *Error) Error() string { return e.text }
func (e *Error) Code() string  { return e.code }

func errf(code, text string) *Error { return &Error{code: code, text: text} }

var (
	ErrNotFound       = errf("not_found", "game not found")
	ErrUnauthorized   = errf("unauthorized", "not a participant of this game")
	ErrNotYourTurn    = errf("not_your_turn", "not your turn")
	ErrIllegalMove    = errf("illegal_move", "illegal move")
	ErrNotActive      = errf("not_active", "game is not active")
	ErrAlreadyBound   = errf("already_bound", "both colors are already taken")
	ErrColorConflict  = errf("already_other_color", "already playing the other color")
	ErrInvalidPayload = errf("invalid_payload", "invalid payload")
	ErrAbortRejected  = errf("abort_rejected", "abort is only allowed in machine games before the first move")
	// ErrSettlementFailure means the result was decided but could not be committed.
	ErrSettlementFailure = errf("settlement_failure", "settlement could not be committed")
)

// ErrGameFull is the lobby-facing name for ErrAlreadyBound.
var ErrGameFull = ErrAlreadyBound

// CodeOf extracts the taxonomy code from err, or "internal".
func CodeOf(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "internal"
}
