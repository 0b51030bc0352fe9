package arenadto

// OpenLobbyRequest asks for a new invite-code game. Color is white, black or
// empty for a random pick.
type OpenLobbyRequest struct {
	User        string `json:"user"`
	Color       string `json:"color,omitempty"`
	TimeControl string `json:"time_control,omitempty"`
	Rated       bool   `json:"rated"`
	Stake       int64  `json:"stake"`
}

type OpenLobbyResponse struct {
	Invite Invite    `json:"invite"`
	Game   GameState `json:"game"`
}

type JoinLobbyRequest struct {
	User string `json:"user"`
}

type JoinLobbyResponse struct {
	Invite  Invite    `json:"invite"`
	Game    GameState `json:"game"`
	Message string    `json:"message,omitempty"`
}

type ListLobbyResponse struct {
	Invites []Invite `json:"invites"`
}

// MachineGameRequest starts a game against the engine. Color is the human's
// color; empty means white.
type MachineGameRequest struct {
	User        string `json:"user"`
	Color       string `json:"color,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	TimeControl string `json:"time_control,omitempty"`
	Rated       bool   `json:"rated"`
}

type GameResponse struct {
	Game GameState `json:"game"`
}

type ChallengeRequest struct {
	Challenger  string `json:"challenger"`
	Target      string `json:"target"`
	Color       string `json:"color,omitempty"`
	TimeControl string `json:"time_control,omitempty"`
	Rated       bool   `json:"rated"`
	Stake       int64  `json:"stake"`
}

// ChallengeActionRequest names the user accepting, declining or cancelling.
type ChallengeActionRequest struct {
	User string `json:"user"`
}

type ChallengeResponse struct {
	Challenge Challenge  `json:"challenge"`
	Game      *GameState `json:"game,omitempty"`
}

type ChallengeListResponse struct {
	Challenges []Challenge `json:"challenges"`
}

type ActiveGamesResponse struct {
	Games []GameState `json:"games"`
}

type ErrorResponse struct {
	Error DomainError `json:"error"`
}
