// Package wsgate serves the realtime game stream over websocket.
package wsgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/internal/adapter/eventpresenter"
	"github.com/park285/cheese-arena/internal/gateway/hub"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

const maxFrameBytes = 16 << 10

// Games resolves a live session by id.
type Games interface {
	Get(id string) (*session.Session, error)
}

type Option func(*Server)

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

type Server struct {
	games Games
	hub   *hub.Hub
	pres  *eventpresenter.Presenter
	log   *zap.Logger

	pingInterval   time.Duration
	writeTimeout   time.Duration
	requestTimeout time.Duration
}

func New(games Games, h *hub.Hub, pres *eventpresenter.Presenter, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		games:          games,
		hub:            h,
		pres:           pres,
		log:            log,
		pingInterval:   30 * time.Second,
		writeTimeout:   5 * time.Second,
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler mounts the stream at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	return mux
}

// ServeHTTP handles GET /ws?game=<id>&user=<id>.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gameID := strings.TrimSpace(r.URL.Query().Get("game"))
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if gameID == "" || user == "" {
		http.Error(w, "game and user are required", http.StatusBadRequest)
		return
	}
	sess, err := s.games.Get(gameID)
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  []string{"*"},
	})
	if err != nil {
		s.log.Warn("ws_accept_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &client{
		srv:    s,
		conn:   conn,
		sess:   sess,
		gameID: gameID,
		user:   user,
	}
	c.serve(r.Context())
}

type client struct {
	srv    *Server
	conn   *websocket.Conn
	sess   *session.Session
	gameID string
	user   string

	closeOnce sync.Once
}

func (c *client) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	log := c.srv.log.With(zap.String("game_id", c.gameID), zap.String("user", c.user))
	log.Debug("ws_connected")

	sub := c.srv.hub.Subscribe(c.gameID, func(ev session.Event) {
		if ev.Kind == session.EventRetired {
			c.shutdown(cancel, websocket.StatusNormalClosure, "game retired")
			return
		}
		out, ok := c.srv.pres.Event(ev)
		if !ok {
			return
		}
		if err := c.write(ctx, out); err != nil {
			c.shutdown(cancel, websocket.StatusGoingAway, "write failed")
		}
	})
	defer sub.Close()

	snap, err := c.sess.Snapshot(ctx)
	if err != nil {
		c.shutdown(cancel, websocket.StatusGoingAway, "game closed")
	} else {
		st := c.srv.pres.GameState(snap)
		_ = c.write(ctx, arenadto.ServerEvent{Type: arenadto.EventSnapshot, GameID: c.gameID, Game: &st})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.pingLoop(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-sub.Done():
			c.shutdown(cancel, websocket.StatusPolicyViolation, "too slow")
		case <-c.sess.Done():
			c.shutdown(cancel, websocket.StatusNormalClosure, "game closed")
		}
	}()

	c.readLoop(ctx, log)
	c.shutdown(cancel, websocket.StatusNormalClosure, "bye")
	wg.Wait()
	log.Debug("ws_disconnected")
}

// shutdown closes the socket with the first reason given and stops the
// connection's goroutines.
func (c *client) shutdown(cancel context.CancelFunc, code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(code, reason)
	})
	cancel()
}

func (c *client) readLoop(ctx context.Context, log *zap.Logger) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				log.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			c.reject(ctx, session.ErrInvalidPayload, nil)
			continue
		}
		var msg arenadto.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reject(ctx, session.ErrInvalidPayload, nil)
			continue
		}
		if err := c.dispatch(ctx, msg); err != nil {
			if errors.Is(err, session.ErrSettlementFailure) {
				log.Error("ws_request_settlement_failure", zap.String("type", msg.Type), zap.Error(err))
			}
			c.reject(ctx, err, map[string]string{"GameID": c.gameID, "Move": msg.Move})
		}
	}
}

func (c *client) dispatch(parent context.Context, msg arenadto.ClientMessage) error {
	ctx, cancel := context.WithTimeout(parent, c.srv.requestTimeout)
	defer cancel()

	var err error
	switch strings.TrimSpace(msg.Type) {
	case arenadto.ClientBind:
		color := oracle.NoColor
		if v := strings.TrimSpace(msg.Color); v != "" {
			if color = oracle.ParseColor(strings.ToLower(v)); color == oracle.NoColor {
				return session.ErrInvalidPayload
			}
		}
		_, err = c.sess.Bind(ctx, c.user, color)
	case arenadto.ClientMove:
		if strings.TrimSpace(msg.Move) == "" {
			return session.ErrInvalidPayload
		}
		_, err = c.sess.SubmitMove(ctx, c.user, msg.Move)
	case arenadto.ClientResign:
		_, err = c.sess.Resign(ctx, c.user)
	case arenadto.ClientOfferDraw:
		_, err = c.sess.OfferDraw(ctx, c.user)
	case arenadto.ClientAcceptDraw:
		_, err = c.sess.AcceptDraw(ctx, c.user)
	case arenadto.ClientAbort:
		_, err = c.sess.Abort(ctx, c.user)
	case arenadto.ClientChat:
		_, err = c.sess.Chat(ctx, c.user, msg.Text)
	default:
		return session.ErrInvalidPayload
	}
	return err
}

func (c *client) reject(ctx context.Context, err error, data map[string]string) {
	_ = c.write(ctx, c.srv.pres.ErrorEvent(c.gameID, err, data))
}

func (c *client) write(ctx context.Context, v any) error {
	wctx, cancel := context.WithTimeout(ctx, c.srv.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.conn, v)
}

func (c *client) pingLoop(ctx context.Context, cancel context.CancelFunc) {
	if c.srv.pingInterval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(c.srv.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil {
				failures++
				if failures >= 2 {
					c.shutdown(cancel, websocket.StatusGoingAway, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}
