package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-arena/internal/adapter/eventpresenter"
	"github.com/park285/cheese-arena/internal/challenge"
	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/livestore"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/oracle/chessrules"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/render"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

type fixture struct {
	api     *API
	handler fasthttp.RequestHandler
	store   *memstore.Store
	health  error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	live := livestore.New(rdb, nil)
	reg := registry.New(session.Config{
		Oracle:       chessrules.New(),
		Sink:         live,
		TickInterval: time.Hour,
		MachineDelay: time.Hour,
	}, chess.NewEngine())
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })

	f := &fixture{store: memstore.New()}
	f.api = New(Deps{
		Games:              reg,
		Lobby:              lobby.New(rdb, reg, time.Hour, nil),
		Challenges:         challenge.NewManager(reg, time.Hour, nil),
		Live:               live,
		Store:              f.store,
		Oracle:             chessrules.New(),
		Renderer:           render.New(24),
		Presenter:          eventpresenter.New(msgcat.MustDefault()),
		DefaultTimeControl: clock.TimeControl{InitialMs: 600000},
		DefaultDifficulty:  "medium",
		Health:             func(context.Context) error { return f.health },
	})
	f.handler = f.api.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, uri string, body any) *fasthttp.RequestCtx {
	t.Helper()
	rc := &fasthttp.RequestCtx{}
	rc.Request.Header.SetMethod(method)
	rc.Request.SetRequestURI(uri)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rc.Request.Header.SetContentType("application/json")
		rc.Request.SetBody(b)
	}
	f.handler(rc)
	return rc
}

func decodeBody[T any](t *testing.T, rc *fasthttp.RequestCtx) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rc.Response.Body(), &out), string(rc.Response.Body()))
	return out
}

func errorCode(t *testing.T, rc *fasthttp.RequestCtx) string {
	t.Helper()
	return decodeBody[arenadto.ErrorResponse](t, rc).Error.Code
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, fasthttp.StatusOK, f.do(t, "GET", "/healthz", nil).Response.StatusCode())
	f.health = errors.New("redis down")
	require.Equal(t, fasthttp.StatusServiceUnavailable, f.do(t, "GET", "/healthz", nil).Response.StatusCode())
}

func TestRoutingAndPayloadErrors(t *testing.T) {
	f := newFixture(t)
	rc := f.do(t, "GET", "/api/nothing", nil)
	require.Equal(t, fasthttp.StatusNotFound, rc.Response.StatusCode())

	rc = f.do(t, "POST", "/api/lobby", nil)
	require.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())
	require.Equal(t, "invalid_payload", errorCode(t, rc))

	rc = f.do(t, "POST", "/api/lobby", arenadto.OpenLobbyRequest{User: "a", TimeControl: "blitz"})
	require.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())

	rc = f.do(t, "POST", "/api/lobby", arenadto.OpenLobbyRequest{User: "a", Color: "purple"})
	require.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())

	rc = f.do(t, "GET", "/api/games/g-missing", nil)
	require.Equal(t, fasthttp.StatusNotFound, rc.Response.StatusCode())
	require.Equal(t, "Game g-missing was not found.", decodeBody[arenadto.ErrorResponse](t, rc).Error.Message)
}

func TestLobbyFlow(t *testing.T) {
	f := newFixture(t)

	rc := f.do(t, "POST", "/api/lobby", arenadto.OpenLobbyRequest{User: "alice", Color: "white", TimeControl: "5+0"})
	require.Equal(t, fasthttp.StatusCreated, rc.Response.StatusCode(), string(rc.Response.Body()))
	opened := decodeBody[arenadto.OpenLobbyResponse](t, rc)
	require.Equal(t, "alice", opened.Game.White)
	require.Equal(t, "5+0", opened.Invite.TimeControl)
	require.NotEmpty(t, opened.Invite.Message)

	listed := decodeBody[arenadto.ListLobbyResponse](t, f.do(t, "GET", "/api/lobby", nil))
	require.Len(t, listed.Invites, 1)

	rc = f.do(t, "POST", "/api/lobby/"+opened.Invite.Code+"/join", arenadto.JoinLobbyRequest{User: "bob"})
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode(), string(rc.Response.Body()))
	joined := decodeBody[arenadto.JoinLobbyResponse](t, rc)
	require.Equal(t, "active", joined.Game.Status)
	require.Equal(t, "bob", joined.Game.Black)

	rc = f.do(t, "POST", "/api/lobby/"+opened.Invite.Code+"/join", arenadto.JoinLobbyRequest{User: "carol"})
	require.Equal(t, fasthttp.StatusNotFound, rc.Response.StatusCode())
	require.Equal(t, "invite_gone", errorCode(t, rc))

	game := decodeBody[arenadto.GameResponse](t, f.do(t, "GET", "/api/games/"+opened.Game.GameID, nil))
	require.Equal(t, "active", game.Game.Status)

	active := decodeBody[arenadto.ActiveGamesResponse](t, f.do(t, "GET", "/api/users/bob/active", nil))
	require.Len(t, active.Games, 1)
	require.Equal(t, opened.Game.GameID, active.Games[0].GameID)

	rc = f.do(t, "GET", "/api/games/"+opened.Game.GameID+"/board.png?orientation=black", nil)
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode())
	require.Equal(t, "image/png", string(rc.Response.Header.ContentType()))
	require.True(t, bytes.HasPrefix(rc.Response.Body(), []byte("\x89PNG")))
}

func TestMachineGame(t *testing.T) {
	f := newFixture(t)

	rc := f.do(t, "POST", "/api/games/machine", arenadto.MachineGameRequest{User: "carol", Difficulty: "easy"})
	require.Equal(t, fasthttp.StatusCreated, rc.Response.StatusCode(), string(rc.Response.Body()))
	game := decodeBody[arenadto.GameResponse](t, rc).Game
	require.Equal(t, "carol", game.White)
	require.Equal(t, session.MachineID, game.Black)
	require.Equal(t, "easy", game.Difficulty)
	require.Equal(t, "10+0", game.TimeControl)

	rc = f.do(t, "POST", "/api/games/machine", arenadto.MachineGameRequest{User: "carol", Difficulty: "grandmaster"})
	require.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())

	rc = f.do(t, "POST", "/api/games/machine", arenadto.MachineGameRequest{User: session.MachineID})
	require.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())
}

func TestChallengeFlow(t *testing.T) {
	f := newFixture(t)

	rc := f.do(t, "POST", "/api/challenges", arenadto.ChallengeRequest{Challenger: "dave", Target: "erin", Color: "black", Rated: true})
	require.Equal(t, fasthttp.StatusCreated, rc.Response.StatusCode(), string(rc.Response.Body()))
	ch := decodeBody[arenadto.ChallengeResponse](t, rc).Challenge
	require.Equal(t, "pending", ch.Status)

	rc = f.do(t, "POST", "/api/challenges", arenadto.ChallengeRequest{Challenger: "dave", Target: "dave"})
	require.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())

	list := decodeBody[arenadto.ChallengeListResponse](t, f.do(t, "GET", "/api/challenges?user=erin", nil))
	require.Len(t, list.Challenges, 1)

	rc = f.do(t, "POST", "/api/challenges/"+ch.ID+"/accept", arenadto.ChallengeActionRequest{User: "mallory"})
	require.Equal(t, fasthttp.StatusForbidden, rc.Response.StatusCode())

	rc = f.do(t, "POST", "/api/challenges/"+ch.ID+"/accept", arenadto.ChallengeActionRequest{User: "erin"})
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode(), string(rc.Response.Body()))
	accepted := decodeBody[arenadto.ChallengeResponse](t, rc)
	require.Equal(t, "accepted", accepted.Challenge.Status)
	require.NotNil(t, accepted.Game)
	require.Equal(t, "dave", accepted.Game.Black)
	require.Equal(t, "erin", accepted.Game.White)

	rc = f.do(t, "POST", "/api/challenges/"+ch.ID+"/decline", arenadto.ChallengeActionRequest{User: "erin"})
	require.Equal(t, fasthttp.StatusConflict, rc.Response.StatusCode())

	rc = f.do(t, "POST", "/api/challenges/CHL-999/cancel", arenadto.ChallengeActionRequest{User: "dave"})
	require.Equal(t, fasthttp.StatusNotFound, rc.Response.StatusCode())
}

func TestFinishedGameFromStore(t *testing.T) {
	f := newFixture(t)
	g := domain.FinishedGame{
		GameID:      "g-done",
		White:       "alice",
		Black:       "bob",
		TimeControl: "10+0",
		Result:      domain.ResultBlackWin,
		EndReason:   domain.EndCheckmate,
		FinalFEN:    "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3",
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		EndedAt:     time.Date(2026, 1, 2, 3, 6, 5, 0, time.UTC),
	}
	require.NoError(t, f.store.CommitSettlement(context.Background(), &domain.Settlement{Game: g}))

	rc := f.do(t, "GET", "/api/games/g-done", nil)
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode(), string(rc.Response.Body()))
	game := decodeBody[arenadto.GameResponse](t, rc).Game
	require.Equal(t, "completed", game.Status)
	require.Equal(t, "Checkmate. bob wins.", game.Summary)
	require.Contains(t, game.PGN, "2. g4 Qh4# 0-1")

	rc = f.do(t, "GET", "/api/games/g-done/board.png", nil)
	require.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode())
}
