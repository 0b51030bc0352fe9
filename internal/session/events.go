package session

type EventKind string

const (
	EventSnapshot         EventKind = "snapshot"
	EventMove             EventKind = "move"
	EventClock            EventKind = "clock"
	EventDrawOffer        EventKind = "draw_offer"
	EventChat             EventKind = "chat"
	EventGameOver         EventKind = "game_over"
	EventSettlementFailed EventKind = "settlement_failed"
	EventRetired          EventKind = "retired"
)

// Event is broadcast to everyone watching a game. Snapshot is set for
// snapshot, move, game_over and settlement_failed events.
type Event struct {
	Kind     EventKind `json:"kind"`
	GameID   string    `json:"game_id"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Move     *MoveInfo `json:"move,omitempty"`
	WhiteMs  int64     `json:"white_ms"`
	BlackMs  int64     `json:"black_ms"`
	From     string    `json:"from,omitempty"`
	Text     string    `json:"text,omitempty"`
}

// Sink receives session events. Publish is called from the session
// goroutine and must not block for long.
type Sink interface {
	Publish(ev Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
