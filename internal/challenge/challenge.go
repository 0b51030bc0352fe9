// Package challenge implements direct challenges between two known users.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/session"
)

var (
	ErrInvalidArgs      = errors.New("invalid arguments")
	ErrSelfChallenge    = errors.New("cannot challenge yourself")
	ErrAlreadyPending   = errors.New("target already has a pending challenge from you")
	ErrNotFound         = errors.New("challenge not found")
	ErrNotPending       = errors.New("challenge is no longer pending")
	ErrWrongParticipant = errors.New("not a party to this challenge")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type Challenge struct {
	ID          string            `json:"id"`
	Challenger  string            `json:"challenger"`
	Target      string            `json:"target"`
	Color       oracle.Color      `json:"-"`
	TimeControl clock.TimeControl `json:"time_control"`
	Rated       bool              `json:"rated"`
	Stake       int64             `json:"stake"`
	Status      Status            `json:"status"`
	GameID      string            `json:"game_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Games is the part of the registry an accepted challenge needs.
type Games interface {
	Create(opts session.Options) (*session.Session, error)
	Retire(id string)
}

type Manager struct {
	mu sync.Mutex
	// target -> challenges, oldest first
	byTarget map[string][]*Challenge
	byID     map[string]*Challenge
	seq      uint64
	games    Games
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewManager(games Games, ttl time.Duration, log *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		byTarget: make(map[string][]*Challenge),
		byID:     make(map[string]*Challenge),
		games:    games,
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

// Create records a pending challenge. color is the challenger's color;
// NoColor leaves it to the session's default.
func (m *Manager) Create(challenger, target string, color oracle.Color, tc clock.TimeControl, rated bool, stake int64) (*Challenge, error) {
	if challenger == "" || target == "" || stake < 0 || challenger == session.MachineID || target == session.MachineID {
		return nil, ErrInvalidArgs
	}
	if challenger == target {
		return nil, ErrSelfChallenge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(target)
	for _, ch := range m.byTarget[target] {
		if ch.Status == StatusPending && ch.Challenger == challenger {
			return nil, ErrAlreadyPending
		}
	}
	ch := &Challenge{
		ID:          m.nextID(),
		Challenger:  challenger,
		Target:      target,
		Color:       color,
		TimeControl: tc,
		Rated:       rated,
		Stake:       stake,
		Status:      StatusPending,
		CreatedAt:   m.now(),
	}
	m.byTarget[target] = append(m.byTarget[target], ch)
	m.byID[ch.ID] = ch
	m.log.Info("challenge_create",
		zap.String("id", ch.ID),
		zap.String("challenger", challenger),
		zap.String("target", target),
	)
	return cloneOf(ch), nil
}

// Accept creates the game with both participants bound.
func (m *Manager) Accept(ctx context.Context, id, target string) (*Challenge, session.Snapshot, error) {
	m.mu.Lock()
	ch, err := m.pendingLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, session.Snapshot{}, err
	}
	if ch.Target != target {
		m.mu.Unlock()
		return nil, session.Snapshot{}, ErrWrongParticipant
	}
	// claim before releasing the lock so a concurrent accept fails
	ch.Status = StatusAccepted
	spec := *ch
	m.mu.Unlock()

	snap, gameID, err := m.startGame(ctx, spec)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		ch.Status = StatusPending
		return nil, session.Snapshot{}, err
	}
	ch.GameID = gameID
	m.log.Info("challenge_accept", zap.String("id", ch.ID), zap.String("game_id", gameID))
	return cloneOf(ch), snap, nil
}

func (m *Manager) startGame(ctx context.Context, ch Challenge) (session.Snapshot, string, error) {
	s, err := m.games.Create(session.Options{
		TimeControl: ch.TimeControl,
		Rated:       ch.Rated,
		Stake:       ch.Stake,
	})
	if err != nil {
		return session.Snapshot{}, "", err
	}
	color := ch.Color
	if color == oracle.NoColor {
		color = oracle.White
	}
	if _, err := s.Bind(ctx, ch.Challenger, color); err != nil {
		m.games.Retire(s.ID())
		return session.Snapshot{}, "", err
	}
	snap, err := s.Bind(ctx, ch.Target, color.Other())
	if err != nil {
		m.games.Retire(s.ID())
		return session.Snapshot{}, "", err
	}
	return snap, s.ID(), nil
}

func (m *Manager) Decline(id, target string) (*Challenge, error) {
	return m.resolve(id, func(ch *Challenge) bool { return ch.Target == target }, StatusDeclined)
}

func (m *Manager) Cancel(id, challenger string) (*Challenge, error) {
	return m.resolve(id, func(ch *Challenge) bool { return ch.Challenger == challenger }, StatusCancelled)
}

func (m *Manager) resolve(id string, allowed func(*Challenge) bool, to Status) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.pendingLocked(id)
	if err != nil {
		return nil, err
	}
	if !allowed(ch) {
		return nil, ErrWrongParticipant
	}
	ch.Status = to
	m.log.Info("challenge_resolve", zap.String("id", id), zap.String("status", string(to)))
	return cloneOf(ch), nil
}

// ListFor returns pending challenges where user is either party, oldest first.
func (m *Manager) ListFor(user string) []*Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Challenge
	for _, ch := range m.byID {
		if ch.Target != user && ch.Challenger != user {
			continue
		}
		m.expireOne(ch)
		if ch.Status == StatusPending {
			out = append(out, cloneOf(ch))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) pendingLocked(id string) (*Challenge, error) {
	ch, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.expireOne(ch)
	if ch.Status != StatusPending {
		return nil, ErrNotPending
	}
	return ch, nil
}

func (m *Manager) expireLocked(target string) {
	for _, ch := range m.byTarget[target] {
		m.expireOne(ch)
	}
}

func (m *Manager) expireOne(ch *Challenge) {
	if ch.Status == StatusPending && m.now().Sub(ch.CreatedAt) > m.ttl {
		ch.Status = StatusExpired
	}
}

func (m *Manager) nextID() string {
	n := atomic.AddUint64(&m.seq, 1)
	return fmt.Sprintf("CHL-%d", n)
}

func cloneOf(ch *Challenge) *Challenge {
	c := *ch
	return &c
}
