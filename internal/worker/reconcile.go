package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/analytics"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/pkg/distlock"
)

const (
	ReconcileLockKey   = "reconcile:submissions"
	StalePendingReason = "stale_pending"
)

// StaleSweeper is the slice of the submissions repository the sweep needs.
type StaleSweeper interface {
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
	BatchFail(ctx context.Context, ids []string, reason string) (int64, error)
}

// Reconciler fails submission logs left pending by a crashed or timed-out
// send. One instance sweeps at a time.
type Reconciler struct {
	Subs   StaleSweeper
	Locker distlock.Locker
	Events analytics.Emitter
	Log    *zap.Logger

	StaleAfter time.Duration
	Interval   time.Duration
	LockTTL    time.Duration
	BatchLimit int

	now func() time.Time
}

func NewReconciler(subs StaleSweeper, locker distlock.Locker, events analytics.Emitter, log *zap.Logger) *Reconciler {
	if events == nil {
		events = analytics.NopEmitter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		Subs:       subs,
		Locker:     locker,
		Events:     events,
		Log:        log,
		StaleAfter: 15 * time.Minute,
		Interval:   time.Minute,
		LockTTL:    time.Minute,
		BatchLimit: 500,
		now:        time.Now,
	}
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.Subs == nil || r.Locker == nil {
		return errors.New("reconcile: submissions and locker are required")
	}
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}

	tick := time.NewTicker(r.Interval)
	defer tick.Stop()

	for {
		if n, err := r.SweepOnce(ctx); err != nil {
			r.Log.Error("reconcile sweep failed", zap.Error(err))
		} else if n > 0 {
			r.Log.Info("reconcile sweep failed out stale submissions", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// SweepOnce marks pending logs older than StaleAfter as failed. It returns 0
// without touching anything when another instance holds the lock.
func (r *Reconciler) SweepOnce(ctx context.Context) (int64, error) {
	unlock, held, err := r.Locker.TryLock(ctx, ReconcileLockKey, r.LockTTL)
	if err != nil {
		return 0, err
	}
	if !held {
		r.Log.Debug("reconcile lock held elsewhere")
		return 0, nil
	}
	defer unlock()

	limit := r.BatchLimit
	if limit <= 0 {
		limit = 500
	}
	cutoff := r.now().Add(-r.StaleAfter)

	var total int64
	for ctx.Err() == nil {
		ids, err := r.Subs.ListStalePending(ctx, cutoff, limit)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		n, err := r.Subs.BatchFail(ctx, ids, StalePendingReason)
		if err != nil {
			return total, err
		}
		total += n
		metrics.SubmissionsTotal.WithLabelValues(string(model.SubmissionFailed), "reconciled").Add(float64(n))
		// a row can finish between the list and the update; without RETURNING
		// we cannot tell which, so partial pages emit no per-id events
		if n == int64(len(ids)) {
			for _, id := range ids {
				r.Events.Emit(ctx, model.Envelope{
					Name:       model.EventSubmissionFailed,
					Properties: map[string]string{"submission_id": id, "reason": StalePendingReason},
				})
			}
		} else if n > 0 {
			r.Log.Warn("reconcile page partially applied", zap.Int("listed", len(ids)), zap.Int64("failed", n))
		}

		// a short page or no progress means we are done for this round
		if len(ids) < limit || n == 0 {
			return total, nil
		}
	}
	return total, ctx.Err()
}
