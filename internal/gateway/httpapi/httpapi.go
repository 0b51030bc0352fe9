// Package httpapi serves game creation, pairing and lookup over fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/adapter/eventpresenter"
	"github.com/park285/cheese-arena/internal/challenge"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/render"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

const maxBodyBytes = 64 << 10

type Games interface {
	Create(opts session.Options) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Retire(id string)
}

type Lobby interface {
	Open(ctx context.Context, creator string, color oracle.Color, opts session.Options) (*lobby.Invite, session.Snapshot, error)
	Join(ctx context.Context, code, user string) (*lobby.Invite, session.Snapshot, error)
	ListOpen(ctx context.Context) ([]*lobby.Invite, error)
}

type Challenges interface {
	Create(challenger, target string, color oracle.Color, tc clock.TimeControl, rated bool, stake int64) (*challenge.Challenge, error)
	Accept(ctx context.Context, id, target string) (*challenge.Challenge, session.Snapshot, error)
	Decline(id, target string) (*challenge.Challenge, error)
	Cancel(id, challenger string) (*challenge.Challenge, error)
	ListFor(user string) []*challenge.Challenge
}

// Live is the redis mirror of running games.
type Live interface {
	Snapshot(ctx context.Context, id string) (*session.Snapshot, error)
	ActiveGames(ctx context.Context, userID string) ([]session.Snapshot, error)
}

type Deps struct {
	Games      Games
	Lobby      Lobby
	Challenges Challenges
	Live       Live
	Store      store.Store
	Oracle     oracle.Oracle
	Renderer   *render.Renderer
	Presenter  *eventpresenter.Presenter
	Logger     *zap.Logger

	DefaultTimeControl clock.TimeControl
	DefaultDifficulty  string
	RequestTimeout     time.Duration
	// Health reports backend reachability for /healthz.
	Health func(ctx context.Context) error
}

type API struct {
	d   Deps
	log *zap.Logger
}

func New(d Deps) *API {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 5 * time.Second
	}
	if d.Renderer == nil {
		d.Renderer = render.New(render.DefaultSquareSize)
	}
	return &API{d: d, log: d.Logger}
}

// NewServer wraps the handler in a fasthttp server with bounded timeouts.
func (a *API) NewServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            a.Handler(),
		Name:               "cheese-arena",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: maxBodyBytes,
	}
}

func (a *API) Handler() fasthttp.RequestHandler {
	return func(rc *fasthttp.RequestCtx) {
		start := time.Now()
		a.route(rc)
		a.log.Debug("http_request",
			zap.ByteString("method", rc.Method()),
			zap.ByteString("path", rc.Path()),
			zap.Int("status", rc.Response.StatusCode()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (a *API) route(rc *fasthttp.RequestCtx) {
	parts := strings.Split(strings.Trim(string(rc.Path()), "/"), "/")
	get, post := rc.IsGet(), rc.IsPost()

	switch {
	case len(parts) == 1 && parts[0] == "healthz" && get:
		a.health(rc)
	case len(parts) < 2 || parts[0] != "api":
		a.notFound(rc)

	case len(parts) == 2 && parts[1] == "lobby" && post:
		a.openLobby(rc)
	case len(parts) == 2 && parts[1] == "lobby" && get:
		a.listLobby(rc)
	case len(parts) == 4 && parts[1] == "lobby" && parts[3] == "join" && post:
		a.joinLobby(rc, parts[2])

	case len(parts) == 3 && parts[1] == "games" && parts[2] == "machine" && post:
		a.machineGame(rc)
	case len(parts) == 3 && parts[1] == "games" && get:
		a.game(rc, parts[2])
	case len(parts) == 4 && parts[1] == "games" && parts[3] == "board.png" && get:
		a.board(rc, parts[2])

	case len(parts) == 2 && parts[1] == "challenges" && post:
		a.createChallenge(rc)
	case len(parts) == 2 && parts[1] == "challenges" && get:
		a.listChallenges(rc)
	case len(parts) == 4 && parts[1] == "challenges" && post:
		a.challengeAction(rc, parts[2], parts[3])

	case len(parts) == 4 && parts[1] == "users" && parts[3] == "active" && get:
		a.activeGames(rc, parts[2])
	default:
		a.notFound(rc)
	}
}

func (a *API) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.d.RequestTimeout)
}

func (a *API) health(rc *fasthttp.RequestCtx) {
	if a.d.Health != nil {
		ctx, cancel := a.ctx()
		defer cancel()
		if err := a.d.Health(ctx); err != nil {
			a.log.Warn("health_check_failed", zap.Error(err))
			writeJSON(rc, fasthttp.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(rc, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) openLobby(rc *fasthttp.RequestCtx) {
	var req arenadto.OpenLobbyRequest
	if !a.decode(rc, &req) {
		return
	}
	color, ok := parseColor(req.Color)
	tc, tcErr := a.timeControl(req.TimeControl)
	if !ok || tcErr != nil || req.Stake < 0 {
		a.fail(rc, session.ErrInvalidPayload, nil)
		return
	}
	ctx, cancel := a.ctx()
	defer cancel()
	inv, snap, err := a.d.Lobby.Open(ctx, strings.TrimSpace(req.User), color, session.Options{
		TimeControl: tc,
		Rated:       req.Rated,
		Stake:       req.Stake,
	})
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, arenadto.OpenLobbyResponse{
		Invite: a.d.Presenter.Invite(inv),
		Game:   a.d.Presenter.GameState(snap),
	})
}

func (a *API) listLobby(rc *fasthttp.RequestCtx) {
	ctx, cancel := a.ctx()
	defer cancel()
	invites, err := a.d.Lobby.ListOpen(ctx)
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	out := arenadto.ListLobbyResponse{Invites: make([]arenadto.Invite, 0, len(invites))}
	for _, inv := range invites {
		out.Invites = append(out.Invites, a.d.Presenter.Invite(inv))
	}
	writeJSON(rc, fasthttp.StatusOK, out)
}

func (a *API) joinLobby(rc *fasthttp.RequestCtx, code string) {
	var req arenadto.JoinLobbyRequest
	if !a.decode(rc, &req) {
		return
	}
	ctx, cancel := a.ctx()
	defer cancel()
	user := strings.TrimSpace(req.User)
	inv, snap, err := a.d.Lobby.Join(ctx, code, user)
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, arenadto.JoinLobbyResponse{
		Invite:  a.d.Presenter.Invite(inv),
		Game:    a.d.Presenter.GameState(snap),
		Message: a.d.Presenter.Joined(user, snap.GameID),
	})
}

func (a *API) machineGame(rc *fasthttp.RequestCtx) {
	var req arenadto.MachineGameRequest
	if !a.decode(rc, &req) {
		return
	}
	human, ok := parseColor(req.Color)
	tc, tcErr := a.timeControl(req.TimeControl)
	user := strings.TrimSpace(req.User)
	if !ok || tcErr != nil || user == "" || user == session.MachineID {
		a.fail(rc, session.ErrInvalidPayload, nil)
		return
	}
	if human == oracle.NoColor {
		human = oracle.White
	}
	difficulty := strings.TrimSpace(req.Difficulty)
	if difficulty == "" {
		difficulty = a.d.DefaultDifficulty
	}

	sess, err := a.d.Games.Create(session.Options{
		TimeControl: tc,
		Rated:       req.Rated,
		Machine:     human.Other(),
		Difficulty:  difficulty,
	})
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	ctx, cancel := a.ctx()
	defer cancel()
	snap, err := sess.Bind(ctx, user, human)
	if err != nil {
		a.d.Games.Retire(sess.ID())
		a.fail(rc, err, nil)
		return
	}
	a.log.Info("machine_game_created",
		zap.String("game_id", snap.GameID),
		zap.String("user", user),
		zap.String("difficulty", snap.Difficulty),
	)
	writeJSON(rc, fasthttp.StatusCreated, arenadto.GameResponse{Game: a.d.Presenter.GameState(snap)})
}

func (a *API) createChallenge(rc *fasthttp.RequestCtx) {
	var req arenadto.ChallengeRequest
	if !a.decode(rc, &req) {
		return
	}
	color, ok := parseColor(req.Color)
	tc, tcErr := a.timeControl(req.TimeControl)
	if !ok || tcErr != nil {
		a.fail(rc, session.ErrInvalidPayload, nil)
		return
	}
	ch, err := a.d.Challenges.Create(strings.TrimSpace(req.Challenger), strings.TrimSpace(req.Target), color, tc, req.Rated, req.Stake)
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, arenadto.ChallengeResponse{Challenge: eventpresenter.Challenge(ch)})
}

func (a *API) listChallenges(rc *fasthttp.RequestCtx) {
	user := strings.TrimSpace(string(rc.QueryArgs().Peek("user")))
	if user == "" {
		a.fail(rc, session.ErrInvalidPayload, nil)
		return
	}
	list := a.d.Challenges.ListFor(user)
	out := arenadto.ChallengeListResponse{Challenges: make([]arenadto.Challenge, 0, len(list))}
	for _, ch := range list {
		out.Challenges = append(out.Challenges, eventpresenter.Challenge(ch))
	}
	writeJSON(rc, fasthttp.StatusOK, out)
}

func (a *API) challengeAction(rc *fasthttp.RequestCtx, id, action string) {
	var req arenadto.ChallengeActionRequest
	if !a.decode(rc, &req) {
		return
	}
	user := strings.TrimSpace(req.User)
	var (
		ch   *challenge.Challenge
		game *arenadto.GameState
		err  error
	)
	switch action {
	case "accept":
		ctx, cancel := a.ctx()
		defer cancel()
		var snap session.Snapshot
		ch, snap, err = a.d.Challenges.Accept(ctx, id, user)
		if err == nil {
			st := a.d.Presenter.GameState(snap)
			game = &st
		}
	case "decline":
		ch, err = a.d.Challenges.Decline(id, user)
	case "cancel":
		ch, err = a.d.Challenges.Cancel(id, user)
	default:
		a.notFound(rc)
		return
	}
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, arenadto.ChallengeResponse{Challenge: eventpresenter.Challenge(ch), Game: game})
}

// game resolves a live session first, then the redis mirror, then the
// durable record.
func (a *API) game(rc *fasthttp.RequestCtx, id string) {
	ctx, cancel := a.ctx()
	defer cancel()
	if snap, ok := a.liveSnapshot(ctx, id); ok {
		writeJSON(rc, fasthttp.StatusOK, arenadto.GameResponse{Game: a.d.Presenter.GameState(snap)})
		return
	}
	if a.d.Store != nil {
		g, err := a.d.Store.Game(ctx, id)
		if err != nil {
			a.fail(rc, err, nil)
			return
		}
		if g != nil {
			writeJSON(rc, fasthttp.StatusOK, arenadto.GameResponse{Game: a.d.Presenter.FinishedGame(*g, store.BuildPGN(*g))})
			return
		}
	}
	a.fail(rc, session.ErrNotFound, map[string]string{"GameID": id})
}

func (a *API) liveSnapshot(ctx context.Context, id string) (session.Snapshot, bool) {
	if sess, err := a.d.Games.Get(id); err == nil {
		if snap, err := sess.Snapshot(ctx); err == nil {
			return snap, true
		}
	}
	if a.d.Live != nil {
		snap, err := a.d.Live.Snapshot(ctx, id)
		if err != nil {
			a.log.Warn("live_snapshot_failed", zap.String("game_id", id), zap.Error(err))
		} else if snap != nil {
			return *snap, true
		}
	}
	return session.Snapshot{}, false
}

func (a *API) board(rc *fasthttp.RequestCtx, id string) {
	ctx, cancel := a.ctx()
	defer cancel()

	var (
		fen  string
		opts render.Options
	)
	if snap, ok := a.liveSnapshot(ctx, id); ok {
		fen = snap.FEN
		if snap.LastMove != nil {
			opts.LastFrom, opts.LastTo = snap.LastMove.From, snap.LastMove.To
			if snap.LastMove.Check {
				opts.Check = oracle.ParseColor(snap.Turn)
			}
		}
		opts.Header = boardHeader(snap.White, snap.Black, snap.TimeControl)
	} else if a.d.Store != nil {
		g, err := a.d.Store.Game(ctx, id)
		if err != nil {
			a.fail(rc, err, nil)
			return
		}
		if g != nil {
			fen = g.FinalFEN
			opts.Header = boardHeader(g.White, g.Black, g.TimeControl)
		}
	}
	if fen == "" {
		a.fail(rc, session.ErrNotFound, map[string]string{"GameID": id})
		return
	}
	pos, err := a.d.Oracle.Deserialize(fen)
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	if strings.EqualFold(string(rc.QueryArgs().Peek("orientation")), "black") {
		opts.Orientation = oracle.Black
	}
	renderer := a.d.Renderer
	if n, err := strconv.Atoi(string(rc.QueryArgs().Peek("size"))); err == nil && n > 0 {
		renderer = render.New(n)
	}
	png, err := renderer.RenderPNG(ctx, pos.Pieces(), opts)
	if err != nil {
		a.fail(rc, err, nil)
		return
	}
	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetContentType("image/png")
	rc.Response.Header.Set("Cache-Control", "no-store")
	rc.SetBody(png)
}

func boardHeader(white, black, tc string) string {
	if white == "" {
		white = "?"
	}
	if black == "" {
		black = "?"
	}
	return white + " vs " + black + " " + tc
}

func (a *API) activeGames(rc *fasthttp.RequestCtx, user string) {
	ctx, cancel := a.ctx()
	defer cancel()
	out := arenadto.ActiveGamesResponse{Games: []arenadto.GameState{}}
	if a.d.Live != nil {
		snaps, err := a.d.Live.ActiveGames(ctx, user)
		if err != nil {
			a.fail(rc, err, nil)
			return
		}
		for _, s := range snaps {
			out.Games = append(out.Games, a.d.Presenter.GameState(s))
		}
	}
	writeJSON(rc, fasthttp.StatusOK, out)
}

func (a *API) timeControl(raw string) (clock.TimeControl, error) {
	if strings.TrimSpace(raw) == "" {
		return a.d.DefaultTimeControl, nil
	}
	return clock.ParseTimeControl(raw)
}

func parseColor(raw string) (oracle.Color, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "random" {
		return oracle.NoColor, true
	}
	c := oracle.ParseColor(raw)
	return c, c != oracle.NoColor
}

func (a *API) decode(rc *fasthttp.RequestCtx, dst any) bool {
	body := rc.PostBody()
	if len(body) == 0 || len(body) > maxBodyBytes {
		a.fail(rc, session.ErrInvalidPayload, nil)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		a.fail(rc, session.ErrInvalidPayload, nil)
		return false
	}
	return true
}

func (a *API) notFound(rc *fasthttp.RequestCtx) {
	writeJSON(rc, fasthttp.StatusNotFound, arenadto.ErrorResponse{Error: arenadto.DomainError{Code: "not_found", Message: "no such route"}})
}

func (a *API) fail(rc *fasthttp.RequestCtx, err error, data map[string]string) {
	de := a.d.Presenter.DomainError(err, data)
	status := statusFor(de.Code)
	if status >= 500 && !errors.Is(err, session.ErrSettlementFailure) {
		a.log.Error("http_request_failed", zap.ByteString("path", rc.Path()), zap.Error(err))
	}
	writeJSON(rc, status, arenadto.ErrorResponse{Error: de})
}

func statusFor(code string) int {
	switch code {
	case "not_found", "invite_gone", "challenge_not_found":
		return fasthttp.StatusNotFound
	case "unauthorized", "forbidden":
		return fasthttp.StatusForbidden
	case "invalid_payload", "self_join", "illegal_move":
		return fasthttp.StatusBadRequest
	case "not_your_turn", "not_active", "already_bound", "already_other_color",
		"abort_rejected", "challenge_closed", "challenge_conflict":
		return fasthttp.StatusConflict
	case "settlement_failure":
		return fasthttp.StatusServiceUnavailable
	}
	return fasthttp.StatusInternalServerError
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		rc.SetStatusCode(fasthttp.StatusInternalServerError)
		rc.SetBodyString(`{"error":{"code":"internal","message":"encode response"}}`)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(b)
}
