// Package lobby pairs two humans through short invite codes stored in redis.
package lobby

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/session"
)

var (
	ErrInvalidArgs = errors.New("invalid arguments")
	ErrInviteGone  = errors.New("invite not found or expired")
	ErrSelfJoin    = errors.New("cannot join your own game")
)

const (
	codeAttempts = 5
	openSetKey   = "arena:lobby:open"
	// gamesKey maps every issued code to its game id, outliving the invite
	// so an expired code can still be traced to its waiting session.
	gamesKey = "arena:lobby:games"
)

func inviteKey(code string) string { return "arena:lobby:" + strings.ToUpper(strings.TrimSpace(code)) }

// Games is the part of the registry the lobby needs.
type Games interface {
	Create(opts session.Options) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Retire(id string)
}

// Invite is stored as JSON under arena:lobby:<code>.
type Invite struct {
	Code        string    `json:"code"`
	GameID      string    `json:"game_id"`
	Creator     string    `json:"creator"`
	Color       string    `json:"color"`
	TimeControl string    `json:"time_control"`
	Rated       bool      `json:"rated"`
	Stake       int64     `json:"stake"`
	CreatedAt   time.Time `json:"created_at"`
}

type Lobby struct {
	rdb   *redis.Client
	games Games
	ttl   time.Duration
	log   *zap.Logger
}

func New(rdb *redis.Client, games Games, ttl time.Duration, log *zap.Logger) *Lobby {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Lobby{rdb: rdb, games: games, ttl: ttl, log: log}
}

// Open creates a waiting game, binds the creator and publishes an invite.
// A NoColor request picks the creator's color at random.
func (l *Lobby) Open(ctx context.Context, creator string, color oracle.Color, opts session.Options) (*Invite, session.Snapshot, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" || creator == session.MachineID {
		return nil, session.Snapshot{}, ErrInvalidArgs
	}
	// 로비 대국은 사람끼리만: 머신 지정은 무시
	opts.Machine = oracle.NoColor
	if color == oracle.NoColor {
		color = randomColor()
	}

	s, err := l.games.Create(opts)
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	snap, err := s.Bind(ctx, creator, color)
	if err != nil {
		l.games.Retire(s.ID())
		return nil, session.Snapshot{}, err
	}

	inv := &Invite{
		GameID:      s.ID(),
		Creator:     creator,
		Color:       color.String(),
		TimeControl: opts.TimeControl.String(),
		Rated:       opts.Rated,
		Stake:       opts.Stake,
		CreatedAt:   time.Now(),
	}
	for i := 0; i < codeAttempts; i++ {
		code, err := codeGen()
		if err != nil {
			break
		}
		inv.Code = code
		raw, err := json.Marshal(inv)
		if err != nil {
			break
		}
		ok, err := l.rdb.SetNX(ctx, inviteKey(code), raw, l.ttl).Result()
		if err != nil {
			l.games.Retire(s.ID())
			return nil, session.Snapshot{}, fmt.Errorf("store invite: %w", err)
		}
		if !ok {
			continue // 코드 충돌: 재발급
		}
		pipe := l.rdb.TxPipeline()
		pipe.SAdd(ctx, openSetKey, code)
		pipe.HSet(ctx, gamesKey, code, inv.GameID)
		if _, err := pipe.Exec(ctx); err != nil {
			l.log.Warn("lobby_index_failed", zap.String("code", code), zap.Error(err))
		}
		l.log.Info("lobby_open",
			zap.String("code", code),
			zap.String("game_id", inv.GameID),
			zap.String("creator", creator),
			zap.String("color", inv.Color),
		)
		return inv, snap, nil
	}
	l.games.Retire(s.ID())
	return nil, session.Snapshot{}, fmt.Errorf("could not allocate invite code")
}

// Lookup returns nil, nil when code is unknown or expired.
func (l *Lobby) Lookup(ctx context.Context, code string) (*Invite, error) {
	raw, err := l.rdb.Get(ctx, inviteKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var inv Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Join binds user to the invited game. The session decides races between
// joiners; the invite is removed once a join succeeds.
func (l *Lobby) Join(ctx context.Context, code, user string) (*Invite, session.Snapshot, error) {
	user = strings.TrimSpace(user)
	if user == "" || strings.TrimSpace(code) == "" {
		return nil, session.Snapshot{}, ErrInvalidArgs
	}
	inv, err := l.Lookup(ctx, code)
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	if inv == nil {
		return nil, session.Snapshot{}, ErrInviteGone
	}
	// 자기 초대에는 참가 불가
	if inv.Creator == user {
		return nil, session.Snapshot{}, ErrSelfJoin
	}
	s, err := l.games.Get(inv.GameID)
	if err != nil {
		l.drop(ctx, inv.Code)
		return nil, session.Snapshot{}, ErrInviteGone
	}
	snap, err := s.Bind(ctx, user, oracle.NoColor)
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	l.drop(ctx, inv.Code)
	l.log.Info("lobby_join",
		zap.String("code", inv.Code),
		zap.String("game_id", inv.GameID),
		zap.String("user", user),
	)
	return inv, snap, nil
}

// ListOpen returns invites that are still waiting for a second player.
func (l *Lobby) ListOpen(ctx context.Context) ([]*Invite, error) {
	codes, err := l.rdb.SMembers(ctx, openSetKey).Result()
	if err != nil {
		return nil, err
	}
	var out []*Invite
	for _, c := range codes {
		inv, err := l.Lookup(ctx, c)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			// 만료된 코드는 목록에서 정리
			_ = l.rdb.SRem(ctx, openSetKey, c).Err()
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// Sweep retires the games of invites that expired before anyone joined.
// A game that already left Waiting is only unindexed.
func (l *Lobby) Sweep(ctx context.Context) (int, error) {
	codes, err := l.rdb.HGetAll(ctx, gamesKey).Result()
	if err != nil {
		return 0, err
	}
	retired := 0
	for code, gameID := range codes {
		n, err := l.rdb.Exists(ctx, inviteKey(code)).Result()
		if err != nil {
			return retired, err
		}
		if n > 0 {
			continue // 아직 유효한 초대
		}
		if s, err := l.games.Get(gameID); err == nil {
			snap, err := s.Snapshot(ctx)
			if err == nil && snap.Status == domain.StatusWaiting {
				l.games.Retire(gameID)
				retired++
				l.log.Info("lobby_invite_expired", zap.String("code", code), zap.String("game_id", gameID))
			}
		}
		l.drop(ctx, code)
	}
	return retired, nil
}

// Run sweeps expired invites until ctx ends.
func (l *Lobby) Run(ctx context.Context) error {
	interval := l.ttl / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := l.Sweep(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn("lobby_sweep_failed", zap.Error(err))
			}
		}
	}
}

func (l *Lobby) drop(ctx context.Context, code string) {
	pipe := l.rdb.TxPipeline()
	pipe.Del(ctx, inviteKey(code))
	pipe.SRem(ctx, openSetKey, code)
	pipe.HDel(ctx, gamesKey, code)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("lobby_drop_failed", zap.String("code", code), zap.Error(err))
	}
}

// codeGen returns `GM-` + 6 upper alnum.
func codeGen() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	max := big.NewInt(int64(len(letters)))
	b := make([]byte, 6)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = letters[n.Int64()]
	}
	return "GM-" + string(b), nil
}

func randomColor() oracle.Color {
	if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 0 {
		return oracle.Black
	}
	return oracle.White
}
