package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/oracle/chessrules"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeNow() *fakeNow { return &fakeNow{t: time.Unix(1_700_000_000, 0)} }

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type fakeSettler struct {
	mu    sync.Mutex
	games []domain.FinishedGame
	err   error
}

func (f *fakeSettler) Settle(_ context.Context, g domain.FinishedGame) (*domain.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games = append(f.games, g)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Settlement{Game: g}, nil
}

func (f *fakeSettler) calls() []domain.FinishedGame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FinishedGame(nil), f.games...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// firstMove always plays the first legal move.
type firstMove struct{}

func (firstMove) ChooseMove(pos oracle.Position) (oracle.Move, error) {
	moves := pos.LegalMoves()
	if len(moves) == 0 {
		return oracle.Move{}, errors.New("no moves")
	}
	return moves[0], nil
}

type harness struct {
	s       *Session
	now     *fakeNow
	settler *fakeSettler
	events  *recorder
	retired chan string
}

func newHarness(t *testing.T, opts Options, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		now:     newFakeNow(),
		settler: &fakeSettler{},
		events:  &recorder{},
		retired: make(chan string, 4),
	}
	if opts.GameID == "" {
		opts.GameID = "g-1"
	}
	cfg := Config{
		Oracle:       chessrules.New(),
		Searcher:     firstMove{},
		Settler:      h.settler,
		Sink:         h.events,
		Now:          h.now.Now,
		TickInterval: time.Hour,
		MachineDelay: time.Hour,
		OnRetire:     func(id string) { h.retired <- id },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(opts, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	h.s = s
	return h
}

func (h *harness) tick(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.s.do(context.Background(), tickMsg{})
	require.NoError(t, err)
	return snap
}

func tenMinutes() clock.TimeControl { return clock.TimeControl{InitialMs: 600000} }

func bindBoth(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	_, err := h.s.Bind(ctx, "alice", oracle.White)
	require.NoError(t, err)
	snap, err := h.s.Bind(ctx, "bob", oracle.NoColor)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, snap.Status)
	require.Equal(t, "bob", snap.Black)
}

func TestClockStartsOnFirstMove(t *testing.T) {
	h := newHarness(t, Options{TimeControl: tenMinutes()})
	ctx := context.Background()
	bindBoth(t, h)

	h.now.Advance(30 * time.Second)
	snap := h.tick(t)
	require.EqualValues(t, 600000, snap.WhiteMs)
	require.EqualValues(t, 600000, snap.BlackMs)

	snap, err := h.s.SubmitMove(ctx, "alice", "e2e4")
	require.NoError(t, err)
	require.EqualValues(t, 600000, snap.WhiteMs, "white's thinking time before the first move is free")
	require.Equal(t, []string{"e4"}, snap.MovesSAN)
	require.Equal(t, "black", snap.Turn)

	h.now.Advance(3 * time.Second)
	snap = h.tick(t)
	require.EqualValues(t, 597000, snap.BlackMs)
	require.EqualValues(t, 600000, snap.WhiteMs)
}

func TestClockInvariants(t *testing.T) {
	h := newHarness(t, Options{TimeControl: clock.TimeControl{InitialMs: 60000, IncrementMs: 1000}})
	ctx := context.Background()
	bindBoth(t, h)

	_, err := h.s.SubmitMove(ctx, "alice", "e2e4")
	require.NoError(t, err)

	moves := []struct{ who, mv string }{
		{"bob", "e7e5"}, {"alice", "g1f3"}, {"bob", "b8c6"}, {"alice", "f1c4"},
	}
	prev := h.tick(t)
	for _, m := range moves {
		h.now.Advance(700 * time.Millisecond)
		cur := h.tick(t)
		require.GreaterOrEqual(t, cur.WhiteMs, int64(0))
		require.GreaterOrEqual(t, cur.BlackMs, int64(0))
		whiteDown := cur.WhiteMs < prev.WhiteMs
		blackDown := cur.BlackMs < prev.BlackMs
		require.True(t, whiteDown != blackDown, "exactly one side runs")
		if cur.Turn == "white" {
			require.True(t, whiteDown)
		} else {
			require.True(t, blackDown)
		}

		h.now.Advance(300 * time.Millisecond)
		after, err := h.s.SubmitMove(ctx, m.who, m.mv)
		require.NoError(t, err)
		require.GreaterOrEqual(t, after.WhiteMs, int64(0))
		require.GreaterOrEqual(t, after.BlackMs, int64(0))
		prev = after
	}
}

func TestNotYourTurnLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, Options{TimeControl: tenMinutes()})
	ctx := context.Background()
	bindBoth(t, h)

	before, err := h.s.Snapshot(ctx)
	require.NoError(t, err)

	_, err = h.s.SubmitMove(ctx, "bob", "e7e5")
	require.ErrorIs(t, err, ErrNotYourTurn)
	require.Equal(t, "not_your_turn", CodeOf(err))

	after, err := h.s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, before.FEN, after.FEN)
	require.Empty(t, after.MovesUCI)
	require.Equal(t, before.WhiteMs, after.WhiteMs)

	_, err = h.s.SubmitMove(ctx, "mallory", "e2e4")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.s.SubmitMove(ctx, "alice", "e2e5")
	require.ErrorIs(t, err, ErrIllegalMove)
	require.Equal(t, "illegal_move", CodeOf(err))

	_, err = h.s.SubmitMove(ctx, "alice", "  ")
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMoveBeforeActive(t *testing.T) {
	h := newHarness(t, Options{TimeControl: tenMinutes()})
	ctx := context.Background()
	_, err := h.s.Bind(ctx, "alice", oracle.White)
	require.NoError(t, err)
	_, err = h.s.SubmitMove(ctx, "alice", "e2e4")
	require.ErrorIs(t, err, ErrNotActive)
	_, err = h.s.Resign(ctx, "alice")
	require.ErrorIs(t, err, ErrNotActive)
}

func TestTimeoutByTicks(t *testing.T) {
	h := newHarness(t, Options{TimeControl: clock.TimeControl{InitialMs: 1000}})
	ctx := context.Background()
	bindBoth(t, h)

	_, err := h.s.SubmitMove(ctx, "alice", "e2e4")
	require.NoError(t, err)
	h.now.Advance(100 * time.Millisecond)
	_, err = h.s.SubmitMove(ctx, "bob", "e7e5")
	require.NoError(t, err)

	h.now.Advance(600 * time.Millisecond)
	snap := h.tick(t)
	require.Equal(t, domain.StatusActive, snap.Status)
	require.EqualValues(t, 400, snap.WhiteMs)

	h.now.Advance(600 * time.Millisecond)
	snap = h.tick(t)
	require.Equal(t, domain.StatusCompleted, snap.Status)
	require.Equal(t, domain.ResultBlackWin, snap.Result)
	require.Equal(t, domain.EndTimeout, snap.EndReason)
	require.EqualValues(t, 0, snap.WhiteMs)
	require.EqualValues(t, 900, snap.BlackMs)
	require.True(t, snap.Settled)

	for i := 0; i < 3; i++ {
		h.now.Advance(time.Second)
		snap = h.tick(t)
		require.EqualValues(t, 0, snap.WhiteMs)
		require.EqualValues(t, 900, snap.BlackMs)
	}

	calls := h.settler.calls()
	require.Len(t, calls, 1)
	require.Equal(t, domain.ResultBlackWin, calls[0].Result)
	require.Equal(t, domain.EndTimeout, calls[0].EndReason)
	require.Equal(t, 1, h.events.count(EventGameOver))
	require.Equal(t, "g-1", <-h.retired)
}

func TestFlagFallsBeforeMoveLands(t *testing.T) {
	h := newHarness(t, Options{TimeControl: clock.TimeControl{InitialMs: 1000}})
	ctx := context.Background()
	bindBoth(t, h)

	_, err := h.s.SubmitMove(ctx, "alice", "e2e4")
	require.NoError(t, err)
	h.now.Advance(2 * time.Second)
	snap, err := h.s.SubmitMove(ctx, "bob", "e7e5")
	require.ErrorIs(t, err, ErrNotActive)
	require.Equal(t, domain.ResultWhiteWin, snap.Result)
	require.Equal(t, domain.EndTimeout, snap.EndReason)
	require.EqualValues(t, 0, snap.BlackMs)
	require.Len(t, snap.MovesUCI, 1)
	require.Len(t, h.settler.calls(), 1)
}

func TestCheckmateCompletesAndSettles(t *testing.T) {
	h := newHarness(t, Options{TimeControl: tenMinutes(), Rated: true, Stake: 100})
	ctx := context.Background()
	bindBoth(t, h)

	plies := []struct{ who, mv string }{
		{"alice", "f2f3"}, {"bob", "e7e5"}, {"alice", "g2g4"}, {"bob", "d8h4"},
	}
	var snap Snapshot
	var err error
	for _, p := range plies {
		snap, err = h.s.SubmitMove(ctx, p.who, p.mv)
		require.NoError(t, err)
	}
	require.Equal(t, domain.StatusCompleted, snap.Status)
	require.Equal(t, domain.ResultBlackWin, snap.Result)
	require.Equal(t, domain.EndCheckmate, snap.EndReason)

	calls := h.settler.calls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].Rated)
	require.EqualValues(t, 100, calls[0].Stake)
	require.Equal(t, []string{"f2f3", "e7e5", "g2g4", "d8h4"}, calls[0].MovesUCI)

	kinds := h.events.kinds()
	require.Equal(t, []EventKind{EventMove, EventGameOver, EventRetired}, kinds[len(kinds)-3:])

	_, err = h.s.SubmitMove(ctx, "alice", "e2e4")
	require.ErrorIs(t, err, ErrNotActive)
}

func TestResignAndDraw(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, Options{TimeControl: tenMinutes()})
	bindBoth(t, h)
	_, err := h.s.Resign(ctx, "mallory")
	require.ErrorIs(t, err, ErrUnauthorized)
	snap, err := h.s.Resign(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, domain.ResultWhiteWin, snap.Result)
	require.Equal(t, domain.EndResignation, snap.EndReason)
	require.Len(t, h.settler.calls(), 1)

	h = newHarness(t, Options{TimeControl: tenMinutes()})
	bindBoth(t, h)
	_, err = h.s.OfferDraw(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, h.events.count(EventDrawOffer))
	snap, err = h.s.AcceptDraw(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, domain.ResultDraw, snap.Result)
	require.Equal(t, domain.EndAgreement, snap.EndReason)

	_, err = h.s.AcceptDraw(ctx, "bob")
	require.ErrorIs(t, err, ErrNotActive)
}

func TestBindRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{TimeControl: tenMinutes()})

	_, err := h.s.Bind(ctx, "", oracle.White)
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = h.s.Bind(ctx, MachineID, oracle.White)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.s.Bind(ctx, "alice", oracle.White)
	require.NoError(t, err)
	_, err = h.s.Bind(ctx, "alice", oracle.Black)
	require.ErrorIs(t, err, ErrColorConflict)
	_, err = h.s.Bind(ctx, "bob", oracle.White)
	require.ErrorIs(t, err, ErrUnauthorized)

	snap, err := h.s.Bind(ctx, "alice", oracle.NoColor)
	require.NoError(t, err, "rejoin is idempotent")
	require.Equal(t, domain.StatusWaiting, snap.Status)

	_, err = h.s.Bind(ctx, "bob", oracle.Black)
	require.NoError(t, err)
	_, err = h.s.Bind(ctx, "carol", oracle.NoColor)
	require.ErrorIs(t, err, ErrAlreadyBound)
	require.ErrorIs(t, err, ErrGameFull)
}

func TestAbortWindow(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, Options{TimeControl: tenMinutes(), Machine: oracle.Black, Difficulty: "easy"})
	_, err := h.s.Bind(ctx, "alice", oracle.NoColor)
	require.NoError(t, err)
	snap, err := h.s.Abort(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAbandoned, snap.Status)
	require.Equal(t, domain.ResultAbandoned, snap.Result)
	require.Equal(t, domain.EndAborted, snap.EndReason)
	require.Empty(t, h.settler.calls())
	require.Equal(t, "g-1", <-h.retired)

	h = newHarness(t, Options{TimeControl: tenMinutes(), Machine: oracle.Black, Difficulty: "easy"})
	_, err = h.s.Bind(ctx, "alice", oracle.NoColor)
	require.NoError(t, err)
	_, err = h.s.SubmitMove(ctx, "alice", "e2e4")
	require.NoError(t, err)
	_, err = h.s.Abort(ctx, "alice")
	require.ErrorIs(t, err, ErrAbortRejected)

	h = newHarness(t, Options{TimeControl: tenMinutes()})
	bindBoth(t, h)
	_, err = h.s.Abort(ctx, "alice")
	require.ErrorIs(t, err, ErrAbortRejected)
}

func TestMachineReplies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{TimeControl: tenMinutes(), Machine: oracle.Black, Difficulty: "easy"},
		func(c *Config) { c.MachineDelay = 0 })
	snap, err := h.s.Bind(ctx, "alice", oracle.NoColor)
	require.NoError(t, err)
	require.Equal(t, "alice", snap.White)
	require.Equal(t, MachineID, snap.Black)

	_, err = h.s.SubmitMove(ctx, "alice", "e2e4")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, err := h.s.Snapshot(ctx)
		return err == nil && len(snap.MovesUCI) == 2 && snap.Turn == "white"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMachineOpensAsWhite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{TimeControl: tenMinutes(), Machine: oracle.White, Difficulty: "easy"},
		func(c *Config) { c.MachineDelay = 0 })
	snap, err := h.s.Bind(ctx, "alice", oracle.NoColor)
	require.NoError(t, err)
	require.Equal(t, "alice", snap.Black)
	require.Eventually(t, func() bool {
		snap, err := h.s.Snapshot(ctx)
		return err == nil && len(snap.MovesUCI) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = h.s.AcceptDraw(ctx, "alice")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestStaleMachineTimerIgnored(t *testing.T) {
	h := newHarness(t, Options{TimeControl: tenMinutes(), Machine: oracle.Black, Difficulty: "easy"})
	ctx := context.Background()
	_, err := h.s.Bind(ctx, "alice", oracle.NoColor)
	require.NoError(t, err)
	_, err = h.s.SubmitMove(ctx, "alice", "e2e4")
	require.NoError(t, err)

	_, err = h.s.do(ctx, machineMoveMsg{ply: 1})
	require.NoError(t, err)
	_, err = h.s.do(ctx, machineMoveMsg{ply: 1})
	require.NoError(t, err)
	snap, err := h.s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.MovesUCI, 2)
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{TimeControl: tenMinutes()}, func(c *Config) { c.ChatMaxLen = 10 })
	bindBoth(t, h)

	_, err := h.s.Chat(ctx, "alice", "   ")
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = h.s.Chat(ctx, "alice", strings.Repeat("x", 11))
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = h.s.Chat(ctx, "mallory", "hi")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.s.Chat(ctx, "alice", "  good luck  ")
	require.NoError(t, err, "surrounding whitespace does not count")
	_, err = h.s.Chat(ctx, "alice", " gl hf ")
	require.NoError(t, err)
	require.Equal(t, 2, h.events.count(EventChat))
}

func TestSettlementFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	var (
		mu     sync.Mutex
		failed []domain.FinishedGame
		causes []error
	)
	h := newHarness(t, Options{TimeControl: tenMinutes()}, func(c *Config) {
		c.OnSettlementFailure = func(g domain.FinishedGame, err error) {
			mu.Lock()
			failed = append(failed, g)
			causes = append(causes, err)
			mu.Unlock()
		}
	})
	h.settler.err = errors.New("db down")
	bindBoth(t, h)

	snap, err := h.s.Resign(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, snap.Status)
	require.False(t, snap.Settled)
	require.Equal(t, 1, h.events.count(EventSettlementFailed))
	mu.Lock()
	require.Len(t, failed, 1)
	require.ErrorIs(t, causes[0], ErrSettlementFailure)
	require.Equal(t, "settlement_failure", CodeOf(causes[0]))
	mu.Unlock()
	require.Empty(t, h.retired)

	snap, err = h.s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.ResultBlackWin, snap.Result)
}

func TestClosedSessionReportsNotFound(t *testing.T) {
	h := newHarness(t, Options{TimeControl: tenMinutes()})
	h.s.Close()
	<-h.s.Done()
	_, err := h.s.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClassifyPriority(t *testing.T) {
	res, reason, ok := classify(oracle.Status{Checkmate: true, FiftyMoveRule: true, ThreefoldRepetition: true}, oracle.White)
	require.True(t, ok)
	require.Equal(t, domain.ResultWhiteWin, res)
	require.Equal(t, domain.EndCheckmate, reason)

	_, reason, _ = classify(oracle.Status{Stalemate: true, InsufficientMaterial: true}, oracle.Black)
	require.Equal(t, domain.EndStalemate, reason)

	_, reason, _ = classify(oracle.Status{ThreefoldRepetition: true, InsufficientMaterial: true, FiftyMoveRule: true}, oracle.Black)
	require.Equal(t, domain.EndThreefoldRepetition, reason)

	_, reason, _ = classify(oracle.Status{InsufficientMaterial: true, FiftyMoveRule: true}, oracle.Black)
	require.Equal(t, domain.EndInsufficientMaterial, reason)

	res, reason, _ = classify(oracle.Status{FiftyMoveRule: true}, oracle.Black)
	require.Equal(t, domain.ResultDraw, res)
	require.Equal(t, domain.EndFiftyMoveRule, reason)

	_, _, ok = classify(oracle.Status{}, oracle.White)
	require.False(t, ok)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{}, Config{Oracle: chessrules.New()})
	require.Error(t, err)
	_, err = New(Options{GameID: "x"}, Config{})
	require.Error(t, err)
	_, err = New(Options{GameID: "x", Machine: oracle.White}, Config{Oracle: chessrules.New()})
	require.Error(t, err)
	_, err = New(Options{GameID: "x", Stake: -1}, Config{Oracle: chessrules.New()})
	require.Error(t, err)
}
