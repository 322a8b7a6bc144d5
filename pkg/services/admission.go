package services

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
)

// AdmissionStats is a point-in-time view of the execution budget.
type AdmissionStats struct {
	Limit    int   `json:"limit"`
	Active   int64 `json:"active"`
	Waiting  int64 `json:"waiting"`
	Peak     int64 `json:"peak"`
	Admitted int64 `json:"admitted"`
	TimedOut int64 `json:"timed_out"`
}

// Admission bounds how many queries execute at once. Waiters are served in
// arrival order and give up after the admission timeout.
type Admission struct {
	sem     *semaphore.Weighted
	limit   int
	timeout time.Duration
	logger  *zap.Logger

	active   atomic.Int64
	waiting  atomic.Int64
	peak     atomic.Int64
	admitted atomic.Int64
	timedOut atomic.Int64
}

// NewAdmission creates a budget of limit concurrent executions. A zero
// timeout waits until ctx ends.
func NewAdmission(limit int, timeout time.Duration, logger *zap.Logger) *Admission {
	if limit < 1 {
		limit = 1
	}
	return &Admission{
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   limit,
		timeout: timeout,
		logger:  logger.Named("admission"),
	}
}

// AdmissionToken is one execution slot. Release returns it.
type AdmissionToken struct {
	owner      *Admission
	admittedAt time.Time
	waited     time.Duration
	released   atomic.Bool
}

// Waited returns how long the holder queued for the slot.
func (t *AdmissionToken) Waited() time.Duration { return t.waited }

// Release returns the slot. Only the first call has an effect.
func (t *AdmissionToken) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	t.owner.active.Add(-1)
	t.owner.sem.Release(1)
}

// Acquire waits for a slot. It returns *apperrors.AdmissionTimeout when the
// admission timeout passes first, or ctx.Err() when the caller gives up.
func (a *Admission) Acquire(ctx context.Context) (*AdmissionToken, error) {
	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	a.waiting.Add(1)
	err := a.sem.Acquire(waitCtx, 1)
	a.waiting.Add(-1)
	waited := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.timedOut.Add(1)
		a.logger.Warn("Admission timed out",
			zap.Duration("waited", waited),
			zap.Int("limit", a.limit),
		)
		return nil, &apperrors.AdmissionTimeout{Waited: waited, Limit: a.limit}
	}

	n := a.active.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	a.admitted.Add(1)

	return &AdmissionToken{owner: a, admittedAt: time.Now(), waited: waited}, nil
}

// Limit returns the maximum number of concurrent executions.
func (a *Admission) Limit() int { return a.limit }

// Active returns the number of slots currently held.
func (a *Admission) Active() int64 { return a.active.Load() }

// Stats returns the admission counters.
func (a *Admission) Stats() AdmissionStats {
	return AdmissionStats{
		Limit:    a.limit,
		Active:   a.active.Load(),
		Waiting:  a.waiting.Load(),
		Peak:     a.peak.Load(),
		Admitted: a.admitted.Load(),
		TimedOut: a.timedOut.Load(),
	}
}
