// Package registry owns the process-wide map of live sessions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/session"
)

const shardCount = 32

var ErrExists = errors.New("game id already registered")

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// Registry maps game ids to live sessions. Insert and removal are atomic per
// shard, so lookups never observe a half-registered session.
type Registry struct {
	shards [shardCount]shard
	base   session.Config
	engine *chess.Engine
	log    *zap.Logger
}

// New builds a registry whose sessions share base. engine may be nil when no
// machine games are created.
func New(base session.Config, engine *chess.Engine) *Registry {
	r := &Registry{base: base, engine: engine, log: base.Logger}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*session.Session)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// NewGameID returns a fresh opaque identifier.
func NewGameID() string { return "g-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16] }

// Create registers a new session. An empty GameID is filled in. Machine games
// get a searcher for opts.Difficulty and the preset's rating.
func (r *Registry) Create(opts session.Options) (*session.Session, error) {
	if strings.TrimSpace(opts.GameID) == "" {
		opts.GameID = NewGameID()
	}
	cfg := r.base
	if opts.Machine != oracle.NoColor {
		if r.engine == nil {
			return nil, fmt.Errorf("registry: machine game without engine")
		}
		searcher, preset, err := r.engine.Searcher(opts.Difficulty)
		if err != nil {
			return nil, err
		}
		cfg.Searcher = searcher
		cfg.MachineRating = preset.ApproxRating
		opts.Difficulty = string(preset.Name)
	} else {
		opts.Difficulty = ""
	}
	prev := cfg.OnRetire
	cfg.OnRetire = func(id string) {
		r.Retire(id)
		if prev != nil {
			prev(id)
		}
	}

	sh := r.shardFor(opts.GameID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[opts.GameID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, opts.GameID)
	}
	s, err := session.New(opts, cfg)
	if err != nil {
		return nil, err
	}
	sh.sessions[opts.GameID] = s
	r.log.Info("registry_create",
		zap.String("game_id", opts.GameID),
		zap.String("machine", opts.Machine.String()),
		zap.String("difficulty", opts.Difficulty),
	)
	return s, nil
}

// Get returns session.ErrNotFound for unknown or retired ids.
func (r *Registry) Get(id string) (*session.Session, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	s, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, session.ErrNotFound
	}
	return s, nil
}

// Retire removes id and stops its actor. Unknown ids are ignored.
func (r *Registry) Retire(id string) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	s, ok := sh.sessions[id]
	delete(sh.sessions, id)
	sh.mu.Unlock()
	if ok {
		s.Close()
		r.log.Info("registry_retire", zap.String("game_id", id))
	}
}

func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// IDs lists every registered game id in no particular order.
func (r *Registry) IDs() []string {
	var out []string
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for id := range sh.sessions {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Shutdown stops every session and waits for their actors until ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	var all []*session.Session
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for id, s := range sh.sessions {
			all = append(all, s)
			delete(sh.sessions, id)
		}
		sh.mu.Unlock()
	}
	for _, s := range all {
		s.Close()
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.log.Info("registry_shutdown", zap.Int("sessions", len(all)))
	return nil
}
