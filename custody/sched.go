package custody

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/lib/leaselock"
	"github.com/icpgeeks/iicustody/metrics"
)

// maxStepsPerLease bounds how many transitions run under one lease before
// it is handed back and re-acquired.
const maxStepsPerLease = 64

// errRetryAfter carries an explicit backoff hint from a step to the
// scheduler.
type errRetryAfter struct {
	after uint64
	err   error
}

func (e *errRetryAfter) Error() string { return e.err.Error() }
func (e *errRetryAfter) Unwrap() error { return e.err }

func retryIn(after uint64, err error) error {
	return &errRetryAfter{after: after, err: err}
}

// NextWake returns the instant of the next scheduled processing pass, zero
// when none is armed.
func (c *Controller) NextWake() uint64 {
	c.tlk.Lock()
	defer c.tlk.Unlock()
	return c.timerAt
}

// kick schedules an immediate processing pass.
func (c *Controller) kick() {
	c.armContinuation(0)
}

// armContinuation schedules the next processing pass at the given instant
// (zero for immediately). An already-armed earlier wake is kept.
func (c *Controller) armContinuation(at uint64) {
	c.tlk.Lock()
	defer c.tlk.Unlock()

	now := c.now()
	fireAt := at
	if fireAt < now {
		fireAt = now
	}

	if c.timer != nil {
		if c.timerAt != 0 && c.timerAt <= fireAt {
			return
		}
		c.timer.Stop()
	}

	c.timerAt = fireAt
	c.timer = c.clock.AfterFunc(time.Duration(fireAt-now), c.onTimer)
}

// armRecovery schedules a forced processing attempt for after a lease runs
// out: a foreign holder's, or this controller's own when it acquires one.
// watch, when set, is re-checked at fire time so a lease that was handed
// back cleanly does not trigger a spurious pass.
func (c *Controller) armRecovery(expiration uint64, watch *leaselock.Lease) {
	c.tlk.Lock()
	defer c.tlk.Unlock()

	now := c.now()
	at := expiration + c.cfg.RecoveryMargin
	var d time.Duration
	if at > now {
		d = time.Duration(at - now)
	}

	if c.recovery != nil {
		c.recovery.Stop()
	}
	c.recovery = c.clock.AfterFunc(d, func() { c.onRecovery(watch) })
}

func (c *Controller) disarmRecovery() {
	c.tlk.Lock()
	defer c.tlk.Unlock()

	if c.recovery != nil {
		c.recovery.Stop()
		c.recovery = nil
	}
}

// Timer callbacks run on the clock's goroutine and must not take locks or
// read the clock from there: the mock clock in tests fires callbacks while
// holding its own mutex. All real work happens on a fresh goroutine.
func (c *Controller) onTimer() {
	go func() {
		c.tlk.Lock()
		c.timerAt = 0
		c.timer = nil
		c.tlk.Unlock()

		c.step()
	}()
}

func (c *Controller) onRecovery(watch *leaselock.Lease) {
	go func() {
		c.tlk.Lock()
		c.recovery = nil
		c.tlk.Unlock()

		if watch != nil {
			var rec lockRecord
			if err := c.readLock(&rec); err == nil && !rec.Lock.HeldBy(*watch) {
				// the watched lease was handed back in time; nothing stalled
				return
			}
		}
		c.step()
	}()
}

// step is the timer-driven processing pass: acquire the lease, then
// repeatedly dispatch the current state to its step, run the step's single
// external call and fold the resulting event back in, until the state goes
// passive, a step errors out, or the lease nears expiration.
func (c *Controller) step() {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	c.lk.Lock()
	defer c.lk.Unlock()

	lease, err := c.acquireLease()
	if err != nil {
		// acquireLease armed the recovery timer for a held lease
		if !xerrors.Is(err, ErrLocked) {
			log.Errorw("acquiring lease for processing", "error", err)
			c.armContinuation(c.now() + c.cfg.RetryBackoff)
		}
		return
	}
	defer c.releaseLease(lease)

	for i := 0; i < maxStepsPerLease; i++ {
		if ctx.Err() != nil {
			return
		}

		now := c.now()
		info, err := c.Info(ctx)
		if err != nil {
			log.Errorw("reading custody record", "error", err)
			c.armContinuation(now + c.cfg.RetryBackoff)
			return
		}

		step, wake := c.dispatch(now, &info)
		if step == nil {
			if wake != 0 {
				c.armContinuation(wake)
			}
			return
		}

		mctx, _ := tag.New(ctx, tag.Upsert(metrics.Phase, string(info.Phase)))
		done := metrics.Timer(mctx, metrics.CustodyStepDuration)
		evt, err := step(ctx, info)
		done()
		if err != nil {
			var slow *errRetryAfter
			retryAfter := uint64(0)
			if xerrors.As(err, &slow) {
				retryAfter = slow.after
			}

			log.Warnw("custody step failed", "phase", info.Phase, "error", err)
			stats.Record(mctx, metrics.CustodyStepFailure.M(1))
			if merr := c.mutate(EventProcessingError{Message: err.Error(), RetryAfter: retryAfter}); merr != nil {
				log.Errorw("recording processing error", "error", merr)
			}

			backoff := retryAfter
			if backoff == 0 {
				backoff = c.cfg.RetryBackoff
			}
			c.armContinuation(c.now() + backoff)
			return
		}

		if evt == nil {
			// waiting on out-of-band progress; poll, but no later than the
			// state's own deadline
			at := now + c.cfg.PollInterval
			if wake != 0 && wake < at {
				at = wake
			}
			c.armContinuation(at)
			return
		}

		if err := c.mutate(evt); err != nil {
			if xerrors.Is(err, ErrWrongState) {
				// the step raced a request transition; re-dispatch
				log.Warnw("stale transition dropped", "event", eventName(evt), "error", err)
				continue
			}
			log.Errorw("persisting transition", "event", eventName(evt), "error", err)
			c.armContinuation(c.now() + c.cfg.RetryBackoff)
			return
		}

		// hand the lease back before it expires under us
		if c.now()+c.cfg.LeaseDuration/4 >= lease.Expiration {
			c.kick()
			return
		}
	}

	// step budget exhausted; continue under a fresh lease
	c.kick()
}
