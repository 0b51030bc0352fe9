// Package arenabuilder wires the arena's components from configuration.
package arenabuilder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/cheese-arena/internal/adapter/eventpresenter"
	"github.com/park285/cheese-arena/internal/challenge"
	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/chess/openingbook"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/gateway/httpapi"
	"github.com/park285/cheese-arena/internal/gateway/hub"
	"github.com/park285/cheese-arena/internal/gateway/wsgate"
	"github.com/park285/cheese-arena/internal/livestore"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/oracle/chessrules"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/render"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/settlement"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/internal/store/pgstore"
)

type Deps struct {
	Config     *config.AppConfig
	Redis      *redis.Client
	Store      store.Store
	Live       *livestore.Store
	Hub        *hub.Hub
	Engine     *chess.Engine
	Registry   *registry.Registry
	Settlement *settlement.Service
	Reconciler *settlement.Reconciler
	Lobby      *lobby.Lobby
	Challenges *challenge.Manager
	Presenter  *eventpresenter.Presenter
	HTTP       *httpapi.API
	WS         *wsgate.Server

	log       *zap.Logger
	liveSub   *hub.Subscription
	ownsRedis bool
	ownsStore bool
}

type Option func(*Deps)

// WithRedis uses an existing client instead of dialing REDIS_URL.
func WithRedis(rdb *redis.Client) Option {
	return func(d *Deps) { d.Redis = rdb }
}

// WithStore uses st instead of opening DATABASE_URL.
func WithStore(st store.Store) Option {
	return func(d *Deps) { d.Store = st }
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, opts ...Option) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Config: cfg, log: logger}
	for _, opt := range opts {
		opt(d)
	}

	if d.Redis == nil {
		rdb, err := livestore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		d.Redis, d.ownsRedis = rdb, true
	}

	if d.Store == nil {
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			d.closeOwned()
			return nil, err
		}
		d.Store, d.ownsStore = st, true
	}

	d.Engine = chess.NewEngine()
	if cfg.HasEngineSeed {
		d.Engine.SetRandomSeed(cfg.EngineSeed)
	}
	if cfg.OpeningBookPath != "" {
		book, err := openingbook.Load(cfg.OpeningBookPath)
		if err != nil {
			d.closeOwned()
			return nil, fmt.Errorf("load opening book: %w", err)
		}
		d.Engine.SetBook(book)
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		d.closeOwned()
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Presenter = eventpresenter.New(cat)

	d.Settlement = settlement.NewService(d.Store, settlement.Options{
		KFactor:       cfg.EloKFactor,
		DefaultRating: cfg.DefaultRating,
		Logger:        logger.Named("settlement"),
	})

	d.Hub = hub.New(logger.Named("hub"), hub.DefaultBuffer)
	d.Live = livestore.New(d.Redis, logger.Named("livestore"))
	d.liveSub = d.Hub.SubscribeAll(d.Live.Publish)

	d.Registry = registry.New(session.Config{
		Oracle:              chessrules.New(),
		Settler:             d.Settlement,
		Sink:                d.Hub,
		Logger:              logger.Named("session"),
		TickInterval:        cfg.ClockTick,
		MachineDelay:        cfg.MachineReplyDelay,
		SettleTimeout:       cfg.SettleTimeout,
		ChatMaxLen:          cfg.ChatMaxLen,
		OnSettlementFailure: d.deadLetter,
	}, d.Engine)

	d.Reconciler = settlement.NewReconciler(d.Settlement, d.Live, cfg.ReconcileInterval, d.settled, logger.Named("reconciler"))
	d.Lobby = lobby.New(d.Redis, d.Registry, cfg.LobbyTTL, logger.Named("lobby"))
	d.Challenges = challenge.NewManager(d.Registry, cfg.ChallengeTTL, logger.Named("challenge"))

	d.HTTP = httpapi.New(httpapi.Deps{
		Games:              d.Registry,
		Lobby:              d.Lobby,
		Challenges:         d.Challenges,
		Live:               d.Live,
		Store:              d.Store,
		Oracle:             chessrules.New(),
		Renderer:           render.New(render.DefaultSquareSize),
		Presenter:          d.Presenter,
		Logger:             logger.Named("http"),
		DefaultTimeControl: cfg.DefaultTimeControl,
		DefaultDifficulty:  cfg.DefaultDifficulty,
		Health:             func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() },
	})
	d.WS = wsgate.New(d.Registry, d.Hub, d.Presenter, logger.Named("ws"))

	logger.Info("arena_wired",
		zap.Bool("postgres", strings.TrimSpace(cfg.DatabaseURL) != ""),
		zap.Duration("clock_tick", cfg.ClockTick),
		zap.Duration("machine_delay", cfg.MachineReplyDelay),
		zap.String("default_time_control", cfg.DefaultTimeControl.String()),
	)
	return d, nil
}

func openStore(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (store.Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("store_in_memory", zap.String("reason", "DATABASE_URL not set"))
		return memstore.New(), nil
	}
	pg, err := pgstore.Open(ctx, cfg.DatabaseURL, cfg.DefaultRating)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return pg, nil
}

const (
	deadLetterAttempts = 5
	deadLetterBackoff  = 100 * time.Millisecond
)

// deadLetter parks a record the session could not commit so the reconciler
// can retry it. The push itself is retried with backoff off the session's
// goroutine.
func (d *Deps) deadLetter(game domain.FinishedGame, cause error) {
	go d.pushDeadLetter(game, cause)
}

func (d *Deps) pushDeadLetter(game domain.FinishedGame, cause error) {
	backoff := deadLetterBackoff
	var err error
	for attempt := 1; attempt <= deadLetterAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = d.Live.PushDeadLetter(ctx, game)
		cancel()
		if err == nil {
			d.log.Warn("dead_letter_pushed",
				zap.String("game_id", game.GameID),
				zap.Int("attempt", attempt),
				zap.Error(cause),
			)
			return
		}
		d.log.Warn("dead_letter_push_retry",
			zap.String("game_id", game.GameID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		// 재시도 간격은 매번 두 배
		if attempt < deadLetterAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	d.log.Error("dead_letter_push_failed",
		zap.String("game_id", game.GameID),
		zap.NamedError("cause", cause),
		zap.Error(err),
	)
}

// settled retires a session whose record the reconciler committed.
func (d *Deps) settled(gameID string) {
	d.Registry.Retire(gameID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Live.Remove(ctx, gameID); err != nil {
		d.log.Warn("livestore_remove_failed", zap.String("game_id", gameID), zap.Error(err))
	}
}

// Run serves HTTP, websocket and the background sweeps until ctx ends or one of
// them fails.
func (d *Deps) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", d.Config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	wsLn, err := net.Listen("tcp", d.Config.WSAddr)
	if err != nil {
		_ = httpLn.Close()
		return fmt.Errorf("listen ws: %w", err)
	}
	return d.Serve(ctx, httpLn, wsLn)
}

func (d *Deps) Serve(ctx context.Context, httpLn, wsLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	api := d.HTTP.NewServer()
	ws := &http.Server{Handler: d.WS.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		d.log.Info("http_listening", zap.String("addr", httpLn.Addr().String()))
		return api.Serve(httpLn)
	})
	g.Go(func() error {
		d.log.Info("ws_listening", zap.String("addr", wsLn.Addr().String()))
		if err := ws.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return d.Reconciler.Run(ctx)
	})
	// 만료 초대 정리
	g.Go(func() error {
		return d.Lobby.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = api.ShutdownWithContext(shutdownCtx)
		_ = ws.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops sessions, then releases the hub and owned connections.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if d.Registry != nil {
		if err := d.Registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("registry shutdown: %w", err))
		}
	}
	if d.liveSub != nil {
		d.liveSub.Close()
	}
	if d.Hub != nil {
		d.Hub.Close()
	}
	d.closeOwned()
	return errors.Join(errs...)
}

func (d *Deps) closeOwned() {
	if d.ownsStore && d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.log.Warn("store_close_failed", zap.Error(err))
		}
	}
	if d.ownsRedis && d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.log.Warn("redis_close_failed", zap.Error(err))
		}
	}
}
