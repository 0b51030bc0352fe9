package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/oracle/chessrules"
	"github.com/park285/cheese-arena/internal/session"
)

func newRegistry() *Registry {
	return New(session.Config{Oracle: chessrules.New(), TickInterval: time.Hour, MachineDelay: time.Hour}, chess.NewEngine())
}

func TestCreateGetRetire(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(session.Options{GameID: "g-a", TimeControl: clock.TimeControl{InitialMs: 60000}})
	require.NoError(t, err)
	require.Equal(t, "g-a", s.ID())

	got, err := r.Get("g-a")
	require.NoError(t, err)
	require.Same(t, s, got)
	require.Equal(t, 1, r.Len())

	_, err = r.Create(session.Options{GameID: "g-a"})
	require.ErrorIs(t, err, ErrExists)

	r.Retire("g-a")
	<-s.Done()
	_, err = r.Get("g-a")
	require.ErrorIs(t, err, session.ErrNotFound)
	require.Zero(t, r.Len())
	r.Retire("g-a")
}

func TestCreateAssignsID(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(session.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())
	require.Equal(t, []string{s.ID()}, r.IDs())
}

func TestMachineGameUsesPreset(t *testing.T) {
	r := newRegistry()
	s, err := r.Create(session.Options{Machine: oracle.Black, Difficulty: "advanced"})
	require.NoError(t, err)
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hard", snap.Difficulty)
	require.Equal(t, session.MachineID, snap.Black)

	_, err = r.Create(session.Options{Machine: oracle.Black, Difficulty: "grandmaster"})
	require.Error(t, err)

	noEngine := New(session.Config{Oracle: chessrules.New()}, nil)
	_, err = noEngine.Create(session.Options{Machine: oracle.White})
	require.Error(t, err)
}

func TestTerminalSessionRetiresItself(t *testing.T) {
	var retired []string
	var mu sync.Mutex
	r := New(session.Config{
		Oracle:       chessrules.New(),
		TickInterval: time.Hour,
		OnRetire: func(id string) {
			mu.Lock()
			retired = append(retired, id)
			mu.Unlock()
		},
	}, nil)
	ctx := context.Background()
	s, err := r.Create(session.Options{GameID: "g-r"})
	require.NoError(t, err)
	_, err = s.Bind(ctx, "alice", oracle.White)
	require.NoError(t, err)
	_, err = s.Bind(ctx, "bob", oracle.Black)
	require.NoError(t, err)

	snap, err := s.Resign(ctx, "alice")
	require.NoError(t, err)
	require.True(t, snap.Settled)

	<-s.Done()
	_, err = r.Get("g-r")
	require.ErrorIs(t, err, session.ErrNotFound)
	mu.Lock()
	require.Equal(t, []string{"g-r"}, retired)
	mu.Unlock()
}

func TestConcurrentCreate(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	dupes := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Create(session.Options{GameID: fmt.Sprintf("g-%d", i%16)})
			if errors.Is(err, ErrExists) {
				mu.Lock()
				dupes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 16, r.Len())
	require.Equal(t, 48, dupes)
}

func TestShutdown(t *testing.T) {
	r := newRegistry()
	var all []*session.Session
	for i := 0; i < 5; i++ {
		s, err := r.Create(session.Options{})
		require.NoError(t, err)
		all = append(all, s)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	require.Zero(t, r.Len())
	for _, s := range all {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s still running", s.ID())
		}
	}
}
