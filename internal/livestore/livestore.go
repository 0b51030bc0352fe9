// Package livestore mirrors live session snapshots into redis and keeps the
// settlement dead-letter queue.
package livestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/session"
)

const (
	ttlGame       = 24 * time.Hour
	deadLetterKey = "arena:settle:dead"
	writeTimeout  = 2 * time.Second
)

func gameKey(id string) string { return "arena:game:" + strings.TrimSpace(id) }
func userKey(userID string) string { return "arena:user:" + strings.TrimSpace(userID) + ":active" }

type Store struct {
	rdb *redis.Client
	log *zap.Logger
}

func New(rdb *redis.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{rdb: rdb, log: log}
}

// Connect parses a redis:// or rediss:// URL and pings the server.
func Connect(ctx context.Context, raw string) (*redis.Client, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := ParseRedisURL(raw)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

// SaveSnapshot stores snap and keeps the per-user active index in step with
// its status.
func (s *Store) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, gameKey(snap.GameID), raw, ttlGame)
	for _, user := range humans(snap) {
		if snap.Status.Terminal() {
			pipe.SRem(ctx, userKey(user), snap.GameID)
			continue
		}
		pipe.SAdd(ctx, userKey(user), snap.GameID)
		pipe.Expire(ctx, userKey(user), ttlGame)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Snapshot returns nil, nil when id is not mirrored.
func (s *Store) Snapshot(ctx context.Context, id string) (*session.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Remove drops the mirror of id and its index entries.
func (s *Store) Remove(ctx context.Context, id string) error {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, gameKey(id))
	if snap != nil {
		for _, user := range humans(*snap) {
			pipe.SRem(ctx, userKey(user), id)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ActiveGames lists the user's non-terminal games, most recently updated
// first. Stale index entries are pruned.
func (s *Store) ActiveGames(ctx context.Context, userID string) ([]session.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var out []session.Snapshot
	for _, id := range ids {
		snap, err := s.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap == nil || snap.Status.Terminal() {
			_ = s.rdb.SRem(ctx, userKey(userID), id).Err()
			continue
		}
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) PushDeadLetter(ctx context.Context, game domain.FinishedGame) error {
	raw, err := json.Marshal(game)
	if err != nil {
		return err
	}
	return s.rdb.LPush(ctx, deadLetterKey, raw).Err()
}

func (s *Store) PopDeadLetter(ctx context.Context) (*domain.FinishedGame, error) {
	raw, err := s.rdb.RPop(ctx, deadLetterKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g domain.FinishedGame
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode dead letter: %w", err)
	}
	return &g, nil
}

func (s *Store) DeadLetterLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, deadLetterKey).Result()
}

// Publish implements session.Sink: snapshots are mirrored, retirements
// remove the mirror. Failures are logged; the game itself is unaffected.
func (s *Store) Publish(ev session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	var err error
	switch {
	case ev.Kind == session.EventRetired:
		err = s.Remove(ctx, ev.GameID)
	case ev.Snapshot != nil:
		err = s.SaveSnapshot(ctx, *ev.Snapshot)
	default:
		return
	}
	if err != nil {
		s.log.Warn("livestore_write_failed",
			zap.String("game_id", ev.GameID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

func humans(snap session.Snapshot) []string {
	var out []string
	for _, id := range []string{snap.White, snap.Black} {
		if id != "" && id != session.MachineID {
			out = append(out, id)
		}
	}
	return out
}
