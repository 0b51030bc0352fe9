package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
)

// DeadLetters queues finished games whose settlement could not be committed.
type DeadLetters interface {
	PushDeadLetter(ctx context.Context, game domain.FinishedGame) error
	// PopDeadLetter returns nil, nil when the queue is empty.
	PopDeadLetter(ctx context.Context) (*domain.FinishedGame, error)
}

type Settler interface {
	Settle(ctx context.Context, game domain.FinishedGame) (*domain.Settlement, error)
}

// Reconciler retries dead-lettered settlements. Commits are idempotent by game
// id, so a record that was in fact committed is simply dropped.
type Reconciler struct {
	settler   Settler
	queue     DeadLetters
	interval  time.Duration
	batch     int
	onSettled func(gameID string)
	log       *zap.Logger
}

func NewReconciler(settler Settler, queue DeadLetters, interval time.Duration, onSettled func(gameID string), log *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		settler:   settler,
		queue:     queue,
		interval:  interval,
		batch:     64,
		onSettled: onSettled,
		log:       log,
	}
}

// Run drains the queue every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("reconcile_pass_failed", zap.Error(err))
			}
		}
	}
}

// RunOnce settles up to one batch. A failed record is pushed back and the
// pass stops, leaving the rest for the next interval.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	settled := 0
	for i := 0; i < r.batch; i++ {
		game, err := r.queue.PopDeadLetter(ctx)
		if err != nil {
			return settled, err
		}
		if game == nil {
			return settled, nil
		}
		if _, err := r.settler.Settle(ctx, *game); err != nil {
			if perr := r.queue.PushDeadLetter(ctx, *game); perr != nil {
				r.log.Error("dead_letter_requeue_failed", zap.String("game_id", game.GameID), zap.Error(perr))
			}
			return settled, err
		}
		settled++
		r.log.Info("settlement_reconciled", zap.String("game_id", game.GameID))
		if r.onSettled != nil {
			r.onSettled(game.GameID)
		}
	}
	return settled, nil
}
