// Package session runs one game per goroutine. Every operation is a message
// on the session's inbox, so clock ticks, moves and machine replies are
// applied strictly one at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/clock"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/oracle"
)

const (
	defaultTickInterval  = 100 * time.Millisecond
	defaultMachineDelay  = 500 * time.Millisecond
	defaultSettleTimeout = 5 * time.Second
	defaultChatMaxLen    = 500
	inboxSize            = 32
)

// Settler commits a finished game exactly once.
type Settler interface {
	Settle(ctx context.Context, game domain.FinishedGame) (*domain.Settlement, error)
}

// Config holds collaborators shared by all sessions of a process.
type Config struct {
	Oracle   oracle.Oracle
	Searcher chess.Searcher
	Settler  Settler
	Sink     Sink
	Logger   *zap.Logger

	Now           func() time.Time
	TickInterval  time.Duration
	MachineDelay  time.Duration
	SettleTimeout time.Duration
	ChatMaxLen    int
	MachineRating int

	// OnRetire is called once the session no longer needs to be addressable:
	// after a successful settlement or an abort.
	OnRetire func(gameID string)
	// OnSettlementFailure receives the record that could not be committed.
	OnSettlementFailure func(game domain.FinishedGame, err error)
}

type Session struct {
	id   string
	opts Options
	cfg  Config
	log  *zap.Logger

	pos       oracle.Position
	movesSAN  []string
	movesUCI  []string
	lastMove  *MoveInfo
	white     string
	black     string
	status    domain.Status
	result    domain.Result
	endReason domain.EndReason
	clock     *clock.Clock
	settled   bool
	settling  bool
	createdAt time.Time
	startedAt time.Time
	updatedAt time.Time
	endedAt   time.Time

	ticker       *time.Ticker
	tickC        <-chan time.Time
	machineTimer *time.Timer

	inbox     chan envelope
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New validates opts, binds the machine side if any and starts the actor.
func New(opts Options, cfg Config) (*Session, error) {
	if strings.TrimSpace(opts.GameID) == "" {
		return nil, fmt.Errorf("session: empty game id")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("session: oracle is required")
	}
	if opts.Stake < 0 {
		return nil, fmt.Errorf("session: negative stake %d", opts.Stake)
	}
	if opts.Machine != oracle.NoColor && cfg.Searcher == nil {
		return nil, fmt.Errorf("session: machine game requires a searcher")
	}
	applyDefaults(&cfg)

	pos := cfg.Oracle.Start()
	if opts.StartFEN != "" {
		p, err := cfg.Oracle.Deserialize(opts.StartFEN)
		if err != nil {
			return nil, err
		}
		pos = p
	}

	now := cfg.Now()
	s := &Session{
		id:        opts.GameID,
		opts:      opts,
		cfg:       cfg,
		log:       cfg.Logger.With(zap.String("game_id", opts.GameID)),
		pos:       pos,
		status:    domain.StatusWaiting,
		clock:     clock.New(opts.TimeControl),
		createdAt: now,
		updatedAt: now,
		inbox:     make(chan envelope, inboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	switch opts.Machine {
	case oracle.White:
		s.white = MachineID
	case oracle.Black:
		s.black = MachineID
	}
	go s.run()
	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MachineDelay < 0 {
		cfg.MachineDelay = defaultMachineDelay
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if cfg.ChatMaxLen <= 0 {
		cfg.ChatMaxLen = defaultChatMaxLen
	}
}

func (s *Session) ID() string { return s.id }

// Done is closed when the actor goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the actor. It does not wait, so it is safe to call from a
// session callback.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

func (s *Session) Bind(ctx context.Context, participant string, color oracle.Color) (Snapshot, error) {
	return s.do(ctx, bindMsg{participant: strings.TrimSpace(participant), color: color})
}

func (s *Session) SubmitMove(ctx context.Context, participant, spec string) (Snapshot, error) {
	return s.do(ctx, moveMsg{participant: participant, spec: spec})
}

func (s *Session) Resign(ctx context.Context, participant string) (Snapshot, error) {
	return s.do(ctx, resignMsg{participant: participant})
}

func (s *Session) OfferDraw(ctx context.Context, participant string) (Snapshot, error) {
	return s.do(ctx, offerDrawMsg{participant: participant})
}

func (s *Session) AcceptDraw(ctx context.Context, participant string) (Snapshot, error) {
	return s.do(ctx, acceptDrawMsg{participant: participant})
}

func (s *Session) Abort(ctx context.Context, participant string) (Snapshot, error) {
	return s.do(ctx, abortMsg{participant: participant})
}

func (s *Session) Chat(ctx context.Context, participant, text string) (Snapshot, error) {
	return s.do(ctx, chatMsg{participant: participant, text: text})
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, snapshotMsg{})
}

func (s *Session) do(ctx context.Context, msg message) (Snapshot, error) {
	env := envelope{msg: msg, reply: make(chan reply, 1)}
	select {
	case s.inbox <- env:
	case <-s.done:
		return Snapshot{}, ErrNotFound
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-env.reply:
		return r.snap, r.err
	case <-s.done:
		select {
		case r := <-env.reply:
			return r.snap, r.err
		default:
			return Snapshot{}, ErrNotFound
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// post enqueues without waiting for a reply; used by timers.
func (s *Session) post(msg message) {
	select {
	case s.inbox <- envelope{msg: msg}:
	case <-s.done:
	case <-s.quit:
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer s.stopTimers()
	for {
		select {
		case <-s.quit:
			return
		default:
		}
		select {
		case <-s.quit:
			return
		case env := <-s.inbox:
			snap, err := s.handle(env.msg)
			if env.reply != nil {
				env.reply <- reply{snap: snap, err: err}
			}
		case <-s.tickC:
			s.tick()
		}
	}
}

func (s *Session) handle(msg message) (Snapshot, error) {
	switch m := msg.(type) {
	case bindMsg:
		return s.bind(m)
	case moveMsg:
		return s.submitMove(m)
	case resignMsg:
		return s.resign(m)
	case offerDrawMsg:
		return s.offerDraw(m)
	case acceptDrawMsg:
		return s.acceptDraw(m)
	case abortMsg:
		return s.abort(m)
	case chatMsg:
		return s.chat(m)
	case tickMsg:
		s.tick()
		return s.snapshot(), nil
	case machineMoveMsg:
		s.machineMove(m)
		return s.snapshot(), nil
	case snapshotMsg:
		return s.snapshot(), nil
	}
	return Snapshot{}, ErrInvalidPayload
}

func (s *Session) colorOf(participant string) oracle.Color {
	switch {
	case participant == "":
		return oracle.NoColor
	case participant == s.white:
		return oracle.White
	case participant == s.black:
		return oracle.Black
	}
	return oracle.NoColor
}

func (s *Session) isMachine(c oracle.Color) bool {
	return c != oracle.NoColor && c == s.opts.Machine
}

func (s *Session) bind(m bindMsg) (Snapshot, error) {
	if m.participant == "" {
		return Snapshot{}, ErrInvalidPayload
	}
	if m.participant == MachineID {
		return Snapshot{}, ErrUnauthorized
	}

	if current := s.colorOf(m.participant); current != oracle.NoColor {
		if m.color != oracle.NoColor && m.color != current {
			return Snapshot{}, ErrColorConflict
		}
		snap := s.snapshot()
		s.emit(Event{Kind: EventSnapshot, Snapshot: &snap})
		return snap, nil
	}

	if s.white != "" && s.black != "" {
		return Snapshot{}, ErrAlreadyBound
	}
	if s.status != domain.StatusWaiting {
		return Snapshot{}, ErrNotActive
	}

	color := m.color
	if color == oracle.NoColor {
		color = oracle.White
		if s.white != "" {
			color = oracle.Black
		}
	}
	switch color {
	case oracle.White:
		if s.white != "" {
			return Snapshot{}, ErrUnauthorized
		}
		s.white = m.participant
	case oracle.Black:
		if s.black != "" {
			return Snapshot{}, ErrUnauthorized
		}
		s.black = m.participant
	default:
		return Snapshot{}, ErrInvalidPayload
	}
	s.touch()

	if s.white != "" && s.black != "" {
		s.status = domain.StatusActive
		s.startedAt = s.updatedAt
		s.log.Info("session_active",
			zap.String("white", s.white),
			zap.String("black", s.black),
			zap.String("time_control", s.opts.TimeControl.String()),
		)
		if s.isMachine(s.pos.Turn()) {
			s.scheduleMachine()
		}
	}

	snap := s.snapshot()
	s.emit(Event{Kind: EventSnapshot, Snapshot: &snap})
	return snap, nil
}

func (s *Session) submitMove(m moveMsg) (Snapshot, error) {
	if s.status != domain.StatusActive {
		return Snapshot{}, ErrNotActive
	}
	mover := s.colorOf(m.participant)
	if mover == oracle.NoColor {
		return Snapshot{}, ErrUnauthorized
	}
	// 턴 검증
	if mover != s.pos.Turn() {
		return Snapshot{}, ErrNotYourTurn
	}
	spec := strings.TrimSpace(m.spec)
	if spec == "" {
		return Snapshot{}, ErrInvalidPayload
	}
	// 적용 전 합법수 확인
	next, mv, err := s.pos.Apply(spec)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrIllegalMove, spec)
	}

	now := s.cfg.Now()
	if s.clock.Started() {
		if _, flagged := s.clock.Charge(mover, now); flagged {
			// the flag fell before the move arrived
			s.conclude(winFor(mover.Other()), domain.EndTimeout)
			s.finish()
			return s.snapshot(), ErrNotActive
		}
	}
	s.clock.Credit(mover)

	s.pos = next
	s.movesSAN = append(s.movesSAN, mv.SAN)
	s.movesUCI = append(s.movesUCI, mv.UCI)
	s.lastMove = moveInfo(mv, mover)
	s.updatedAt = now

	if len(s.movesUCI) == 1 {
		s.clock.Start(now)
		s.startTicker()
	}

	terminal := false
	if result, reason, ok := classify(s.pos.Status(), mover); ok {
		s.conclude(result, reason)
		terminal = true
	}

	s.log.Info("session_move",
		zap.String("by", m.participant),
		zap.String("uci", mv.UCI),
		zap.String("san", mv.SAN),
		zap.Int("ply", len(s.movesUCI)),
	)
	snap := s.snapshot()
	s.emit(Event{Kind: EventMove, Snapshot: &snap, Move: s.lastMove, WhiteMs: snap.WhiteMs, BlackMs: snap.BlackMs})

	if terminal {
		s.finish()
		return s.snapshot(), nil
	}
	if s.isMachine(s.pos.Turn()) {
		s.scheduleMachine()
	}
	return snap, nil
}

func (s *Session) tick() {
	if s.status != domain.StatusActive || !s.clock.Started() {
		return
	}
	side := s.pos.Turn()
	_, flagged := s.clock.Charge(side, s.cfg.Now())
	if flagged {
		s.log.Info("session_timeout", zap.String("side", side.String()))
		s.conclude(winFor(side.Other()), domain.EndTimeout)
		s.finish()
		return
	}
	w, b := s.clock.Times()
	s.emit(Event{Kind: EventClock, WhiteMs: w, BlackMs: b})
}

func (s *Session) resign(m resignMsg) (Snapshot, error) {
	if s.status != domain.StatusActive {
		return Snapshot{}, ErrNotActive
	}
	c := s.colorOf(m.participant)
	if c == oracle.NoColor || s.isMachine(c) {
		return Snapshot{}, ErrUnauthorized
	}
	s.conclude(winFor(c.Other()), domain.EndResignation)
	s.finish()
	return s.snapshot(), nil
}

func (s *Session) offerDraw(m offerDrawMsg) (Snapshot, error) {
	if s.status != domain.StatusActive {
		return Snapshot{}, ErrNotActive
	}
	if s.colorOf(m.participant) == oracle.NoColor {
		return Snapshot{}, ErrUnauthorized
	}
	s.emit(Event{Kind: EventDrawOffer, From: m.participant})
	return s.snapshot(), nil
}

func (s *Session) acceptDraw(m acceptDrawMsg) (Snapshot, error) {
	if s.status != domain.StatusActive {
		return Snapshot{}, ErrNotActive
	}
	if s.colorOf(m.participant) == oracle.NoColor {
		return Snapshot{}, ErrUnauthorized
	}
	// machines never offer, so there is nothing to accept
	if s.opts.Machine != oracle.NoColor {
		return Snapshot{}, ErrUnauthorized
	}
	s.conclude(domain.ResultDraw, domain.EndAgreement)
	s.finish()
	return s.snapshot(), nil
}

func (s *Session) abort(m abortMsg) (Snapshot, error) {
	c := s.colorOf(m.participant)
	if c == oracle.NoColor || s.isMachine(c) {
		return Snapshot{}, ErrUnauthorized
	}
	if s.status.Terminal() {
		return Snapshot{}, ErrNotActive
	}
	if s.opts.Machine == oracle.NoColor || len(s.movesUCI) > 0 {
		return Snapshot{}, ErrAbortRejected
	}
	s.stopTimers()
	s.status = domain.StatusAbandoned
	s.result = domain.ResultAbandoned
	s.endReason = domain.EndAborted
	s.endedAt = s.cfg.Now()
	s.updatedAt = s.endedAt
	s.log.Info("session_aborted", zap.String("by", m.participant))

	snap := s.snapshot()
	s.emit(Event{Kind: EventGameOver, Snapshot: &snap})
	s.retire()
	return snap, nil
}

func (s *Session) chat(m chatMsg) (Snapshot, error) {
	if s.colorOf(m.participant) == oracle.NoColor {
		return Snapshot{}, ErrUnauthorized
	}
	text := strings.TrimSpace(m.text)
	if text == "" || utf8.RuneCountInString(text) > s.cfg.ChatMaxLen {
		return Snapshot{}, ErrInvalidPayload
	}
	s.emit(Event{Kind: EventChat, From: m.participant, Text: text})
	return s.snapshot(), nil
}

func (s *Session) scheduleMachine() {
	if s.machineTimer != nil {
		s.machineTimer.Stop()
	}
	ply := len(s.movesUCI)
	s.machineTimer = time.AfterFunc(s.cfg.MachineDelay, func() {
		s.post(machineMoveMsg{ply: ply})
	})
}

func (s *Session) machineMove(m machineMoveMsg) {
	if s.status != domain.StatusActive || len(s.movesUCI) != m.ply || !s.isMachine(s.pos.Turn()) {
		return
	}
	start := time.Now()
	mv, err := s.cfg.Searcher.ChooseMove(s.pos)
	if err != nil {
		s.log.Error("machine_search_failed", zap.Error(err))
		return
	}
	s.log.Debug("machine_search",
		zap.String("uci", mv.UCI),
		zap.Duration("took", time.Since(start)),
	)
	if _, err := s.submitMove(moveMsg{participant: MachineID, spec: mv.UCI}); err != nil && !errors.Is(err, ErrNotActive) {
		s.log.Error("machine_move_rejected", zap.String("uci", mv.UCI), zap.Error(err))
	}
}

// conclude records the terminal result exactly once and stops every timer.
func (s *Session) conclude(result domain.Result, reason domain.EndReason) {
	if s.status.Terminal() {
		return
	}
	s.stopTimers()
	if reason == domain.EndTimeout {
		s.clock.Zero(winnerLoser(result))
	}
	s.status = domain.StatusCompleted
	s.result = result
	s.endReason = reason
	s.endedAt = s.cfg.Now()
	s.updatedAt = s.endedAt
}

func winnerLoser(result domain.Result) oracle.Color {
	if result == domain.ResultWhiteWin {
		return oracle.Black
	}
	return oracle.White
}

// finish broadcasts the terminal event and settles. Settlement runs at most
// once per session.
func (s *Session) finish() {
	snap := s.snapshot()
	s.log.Info("session_completed",
		zap.String("result", string(s.result)),
		zap.String("end_reason", string(s.endReason)),
		zap.Int("plies", len(s.movesUCI)),
	)
	s.emit(Event{Kind: EventGameOver, Snapshot: &snap, WhiteMs: snap.WhiteMs, BlackMs: snap.BlackMs})
	s.settle()
}

func (s *Session) settle() {
	if s.settling || s.settled {
		return
	}
	s.settling = true
	game := s.finishedGame()
	if s.cfg.Settler == nil {
		s.settled = true
		s.retire()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SettleTimeout)
	defer cancel()
	if _, err := s.cfg.Settler.Settle(ctx, game); err != nil {
		s.log.Error("settlement_failed", zap.Error(err))
		snap := s.snapshot()
		s.emit(Event{Kind: EventSettlementFailed, Snapshot: &snap})
		if s.cfg.OnSettlementFailure != nil {
			s.cfg.OnSettlementFailure(game, fmt.Errorf("%w: %v", ErrSettlementFailure, err))
		}
		return
	}
	s.settled = true
	s.log.Info("settlement_committed")
	s.retire()
}

func (s *Session) retire() {
	s.emit(Event{Kind: EventRetired})
	if s.cfg.OnRetire != nil {
		s.cfg.OnRetire(s.id)
	}
}

func (s *Session) finishedGame() domain.FinishedGame {
	w, b := s.clock.Times()
	return domain.FinishedGame{
		GameID:        s.id,
		White:         s.white,
		Black:         s.black,
		WhiteMachine:  s.opts.Machine == oracle.White,
		BlackMachine:  s.opts.Machine == oracle.Black,
		Difficulty:    s.opts.Difficulty,
		MachineRating: s.cfg.MachineRating,
		Rated:         s.opts.Rated,
		Stake:         s.opts.Stake,
		TimeControl:   s.opts.TimeControl.String(),
		Result:        s.result,
		EndReason:     s.endReason,
		FinalFEN:      s.pos.FEN(),
		MovesSAN:      append([]string(nil), s.movesSAN...),
		MovesUCI:      append([]string(nil), s.movesUCI...),
		WhiteMs:       w,
		BlackMs:       b,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
	}
}

func (s *Session) startTicker() {
	if s.ticker != nil || s.clock.Untimed() {
		return
	}
	s.ticker = time.NewTicker(s.cfg.TickInterval)
	s.tickC = s.ticker.C
}

func (s *Session) stopTimers() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
		s.tickC = nil
	}
	if s.machineTimer != nil {
		s.machineTimer.Stop()
		s.machineTimer = nil
	}
}

func (s *Session) touch() { s.updatedAt = s.cfg.Now() }

func (s *Session) emit(ev Event) {
	ev.GameID = s.id
	s.cfg.Sink.Publish(ev)
}

func (s *Session) snapshot() Snapshot {
	w, b := s.clock.Times()
	return Snapshot{
		GameID:      s.id,
		FEN:         s.pos.FEN(),
		MovesSAN:    append([]string(nil), s.movesSAN...),
		MovesUCI:    append([]string(nil), s.movesUCI...),
		White:       s.white,
		Black:       s.black,
		Turn:        s.pos.Turn().String(),
		WhiteMs:     w,
		BlackMs:     b,
		TimeControl: s.opts.TimeControl.String(),
		Status:      s.status,
		Result:      s.result,
		EndReason:   s.endReason,
		Rated:       s.opts.Rated,
		Stake:       s.opts.Stake,
		Difficulty:  s.opts.Difficulty,
		Settled:     s.settled,
		LastMove:    s.lastMove,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}
