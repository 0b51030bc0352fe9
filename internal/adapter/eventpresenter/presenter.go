// Package eventpresenter converts session, lobby and challenge values into
// wire DTOs with catalog text attached.
package eventpresenter

import (
	"errors"
	"strings"

	"github.com/park285/cheese-arena/internal/challenge"
	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type Presenter struct {
	cat *msgcat.Catalog
}

func New(cat *msgcat.Catalog) *Presenter {
	return &Presenter{cat: cat}
}

func (p *Presenter) GameState(s session.Snapshot) arenadto.GameState {
	return arenadto.GameState{
		GameID:      s.GameID,
		FEN:         s.FEN,
		MovesSAN:    append([]string{}, s.MovesSAN...),
		MovesUCI:    append([]string{}, s.MovesUCI...),
		White:       s.White,
		Black:       s.Black,
		Turn:        s.Turn,
		Clock:       arenadto.Clock{WhiteMs: s.WhiteMs, BlackMs: s.BlackMs},
		TimeControl: s.TimeControl,
		Status:      string(s.Status),
		Result:      string(s.Result),
		EndReason:   string(s.EndReason),
		Summary:     p.Summary(s),
		Rated:       s.Rated,
		Stake:       s.Stake,
		Difficulty:  s.Difficulty,
		Settled:     s.Settled,
		LastMove:    toMove(s.LastMove),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (p *Presenter) FinishedGame(g domain.FinishedGame, pgn string) arenadto.GameState {
	white, black := g.White, g.Black
	if g.WhiteMachine {
		white = session.MachineID
	}
	if g.BlackMachine {
		black = session.MachineID
	}
	status := domain.StatusCompleted
	if g.Result == domain.ResultAbandoned {
		status = domain.StatusAbandoned
	}
	st := arenadto.GameState{
		GameID:      g.GameID,
		FEN:         g.FinalFEN,
		MovesSAN:    append([]string{}, g.MovesSAN...),
		MovesUCI:    append([]string{}, g.MovesUCI...),
		White:       white,
		Black:       black,
		TimeControl: g.TimeControl,
		Status:      string(status),
		Clock:       arenadto.Clock{WhiteMs: g.WhiteMs, BlackMs: g.BlackMs},
		Result:      string(g.Result),
		EndReason:   string(g.EndReason),
		Rated:       g.Rated,
		Stake:       g.Stake,
		Difficulty:  g.Difficulty,
		Settled:     true,
		PGN:         pgn,
		CreatedAt:   g.StartedAt,
		UpdatedAt:   g.EndedAt,
	}
	st.Summary = p.summary(g.Result, g.EndReason, white, black)
	return st
}

// Summary is the catalog line for a finished game, empty while it runs.
func (p *Presenter) Summary(s session.Snapshot) string {
	if !s.Status.Terminal() {
		return ""
	}
	return p.summary(s.Result, s.EndReason, s.White, s.Black)
}

func (p *Presenter) summary(result domain.Result, reason domain.EndReason, white, black string) string {
	if reason == "" {
		return ""
	}
	winner, loser := "", ""
	switch result {
	case domain.ResultWhiteWin:
		winner, loser = nameOr(white, "White"), nameOr(black, "Black")
	case domain.ResultBlackWin:
		winner, loser = nameOr(black, "Black"), nameOr(white, "White")
	}
	data := map[string]string{"Winner": winner, "Loser": loser}
	return p.cat.Text("game_over."+string(reason), data, string(reason))
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

// Event converts a session event. Retired events are internal and report false.
func (p *Presenter) Event(ev session.Event) (arenadto.ServerEvent, bool) {
	out := arenadto.ServerEvent{GameID: ev.GameID}
	if ev.Snapshot != nil {
		st := p.GameState(*ev.Snapshot)
		out.Game = &st
	}
	switch ev.Kind {
	case session.EventSnapshot:
		out.Type = arenadto.EventSnapshot
	case session.EventMove:
		out.Type = arenadto.EventMove
		out.Move = toMove(ev.Move)
		out.Clock = &arenadto.Clock{WhiteMs: ev.WhiteMs, BlackMs: ev.BlackMs}
	case session.EventClock:
		out.Type = arenadto.EventClock
		out.Clock = &arenadto.Clock{WhiteMs: ev.WhiteMs, BlackMs: ev.BlackMs}
	case session.EventDrawOffer:
		out.Type = arenadto.EventDrawOffer
		out.From = ev.From
		out.Message = p.cat.Text("draw_offer", map[string]string{"From": ev.From}, "")
	case session.EventChat:
		out.Type = arenadto.EventChat
		out.From = ev.From
		out.Text = ev.Text
	case session.EventGameOver:
		out.Type = arenadto.EventGameOver
		if out.Game != nil {
			out.Message = out.Game.Summary
		}
	case session.EventSettlementFailed:
		out.Type = arenadto.EventSettlementFailed
		de := p.DomainError(session.ErrSettlementFailure, nil)
		out.Error = &de
		out.Message = de.Message
	default:
		return arenadto.ServerEvent{}, false
	}
	return out, true
}

// ErrorEvent is sent only to the socket whose request failed.
func (p *Presenter) ErrorEvent(gameID string, err error, data map[string]string) arenadto.ServerEvent {
	de := p.DomainError(err, data)
	return arenadto.ServerEvent{Type: arenadto.EventError, GameID: gameID, Error: &de, Message: de.Message}
}

func (p *Presenter) DomainError(err error, data map[string]string) arenadto.DomainError {
	code := CodeOf(err)
	fallback := code
	if err != nil {
		fallback = err.Error()
	}
	if data == nil {
		data = map[string]string{}
	}
	return arenadto.DomainError{
		Code:      code,
		Message:   p.cat.Text("errors."+code, data, fallback),
		Retryable: retryable(code),
	}
}

// CodeOf maps session, lobby and challenge errors onto wire codes.
func CodeOf(err error) string {
	if code := session.CodeOf(err); code != "internal" {
		return code
	}
	switch {
	case errors.Is(err, lobby.ErrInviteGone):
		return "invite_gone"
	case errors.Is(err, lobby.ErrSelfJoin):
		return "self_join"
	case errors.Is(err, lobby.ErrInvalidArgs), errors.Is(err, challenge.ErrInvalidArgs),
		errors.Is(err, challenge.ErrSelfChallenge), errors.Is(err, chess.ErrUnknownDifficulty):
		return "invalid_payload"
	case errors.Is(err, challenge.ErrNotFound):
		return "challenge_not_found"
	case errors.Is(err, challenge.ErrNotPending):
		return "challenge_closed"
	case errors.Is(err, challenge.ErrAlreadyPending):
		return "challenge_conflict"
	case errors.Is(err, challenge.ErrWrongParticipant):
		return "forbidden"
	}
	return "internal"
}

func retryable(code string) bool {
	switch code {
	case "not_your_turn", "settlement_failure", "internal":
		return true
	}
	return false
}

func (p *Presenter) Invite(inv *lobby.Invite) arenadto.Invite {
	if inv == nil {
		return arenadto.Invite{}
	}
	return arenadto.Invite{
		Code:        inv.Code,
		GameID:      inv.GameID,
		Creator:     inv.Creator,
		Color:       inv.Color,
		TimeControl: inv.TimeControl,
		Rated:       inv.Rated,
		Stake:       inv.Stake,
		CreatedAt:   inv.CreatedAt,
		Message:     p.cat.Text("lobby.opened", map[string]string{"Code": inv.Code, "TimeControl": inv.TimeControl}, ""),
	}
}

func (p *Presenter) Joined(user, gameID string) string {
	return p.cat.Text("lobby.joined", map[string]string{"User": user, "GameID": gameID}, "")
}

func Challenge(ch *challenge.Challenge) arenadto.Challenge {
	if ch == nil {
		return arenadto.Challenge{}
	}
	return arenadto.Challenge{
		ID:          ch.ID,
		Challenger:  ch.Challenger,
		Target:      ch.Target,
		Color:       ch.Color.String(),
		TimeControl: ch.TimeControl.String(),
		Rated:       ch.Rated,
		Stake:       ch.Stake,
		Status:      string(ch.Status),
		GameID:      ch.GameID,
		CreatedAt:   ch.CreatedAt,
	}
}

func toMove(m *session.MoveInfo) *arenadto.Move {
	if m == nil {
		return nil
	}
	return &arenadto.Move{
		UCI:       m.UCI,
		SAN:       m.SAN,
		From:      m.From,
		To:        m.To,
		Captured:  m.Captured,
		Promotion: m.Promotion,
		Check:     m.Check,
		By:        m.By,
	}
}
