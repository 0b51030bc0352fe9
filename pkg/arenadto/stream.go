package arenadto

// Client message types accepted on the realtime stream.
const (
	ClientBind       = "bind"
	ClientMove       = "move"
	ClientResign     = "resign"
	ClientOfferDraw  = "offer_draw"
	ClientAcceptDraw = "accept_draw"
	ClientAbort      = "abort"
	ClientChat       = "chat"
)

// ClientMessage is one inbound frame. Only the fields of its type are read.
type ClientMessage struct {
	Type  string `json:"type"`
	Color string `json:"color,omitempty"`
	Move  string `json:"move,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Server event types.
const (
	EventSnapshot         = "snapshot"
	EventMove             = "move"
	EventClock            = "clock"
	EventDrawOffer        = "draw_offer"
	EventChat             = "chat"
	EventGameOver         = "game_over"
	EventSettlementFailed = "settlement_failed"
	EventError            = "error"
)

// ServerEvent is one outbound frame.
type ServerEvent struct {
	Type    string       `json:"type"`
	GameID  string       `json:"game_id"`
	Game    *GameState   `json:"game,omitempty"`
	Move    *Move        `json:"move,omitempty"`
	Clock   *Clock       `json:"clock,omitempty"`
	From    string       `json:"from,omitempty"`
	Text    string       `json:"text,omitempty"`
	Message string       `json:"message,omitempty"`
	Error   *DomainError `json:"error,omitempty"`
}
