package consumer

import (
	"context"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/ledger"
	"github.com/ibs-source/ledger-consumer/internal/log"
	"github.com/ibs-source/ledger-consumer/internal/message"
	"github.com/ibs-source/ledger-consumer/internal/queue"
	"github.com/trickstertwo/xclock"
)

// Decision is how a message should be settled.
type Decision struct {
	Disposition queue.Disposition
	Outcome     Outcome // set when Disposition is Completed
	Reason      string  // set when Disposition is DeadLettered
	Err         error   // last failure, if any
}

func complete(o Outcome) Decision {
	return Decision{Disposition: queue.Completed, Outcome: o}
}

func deadLetter(err error) Decision {
	return Decision{Disposition: queue.DeadLettered, Reason: err.Error(), Err: err}
}

func abandon(err error) Decision {
	return Decision{Disposition: queue.Abandoned, Err: err}
}

// RetryPolicy re-runs an attempt after each delay in turn while failures
// stay transient.
type RetryPolicy struct {
	delays   []time.Duration
	attempt  Attempter
	waiter   Waiter
	metrics  Metrics
	timeouts attemptContext
	log      *log.Logger
}

// NewRetryPolicy creates a policy over the given delay schedule. A nil
// clock means xclock.Default().
func NewRetryPolicy(delays []time.Duration, attempt Attempter, waiter Waiter, metrics Metrics, processTimeout time.Duration, clock xclock.Clock, logger *log.Logger) *RetryPolicy {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = xclock.Default()
	}
	return &RetryPolicy{
		delays:   delays,
		attempt:  attempt,
		waiter:   waiter,
		metrics:  metrics,
		timeouts: attemptContext{timeout: processTimeout, clock: clock},
		log:      logger,
	}
}

// Retry is called after a transient failure. It returns Completed on the
// first success, DeadLettered on the first non-transient failure, and
// Abandoned once the schedule is exhausted or ctx is cancelled while waiting.
func (r *RetryPolicy) Retry(ctx context.Context, msg *message.Message, cause error) Decision {
	last := cause
	for i, delay := range r.delays {
		fields := log.Fields{
			"message_id": msg.ID,
			"attempt":    i + 2,
			"delay":      delay.String(),
		}
		if last != nil {
			fields["error"] = last.Error()
		}
		r.log.WarnWithFields(fields, "Transient failure, retrying")

		if err := r.waiter.Wait(ctx, delay); err != nil {
			return abandon(last)
		}

		r.metrics.IncRetry()
		outcome, err := r.timeouts.run(ctx, r.attempt, msg, r.metrics)
		if err == nil {
			return complete(outcome)
		}
		if !ledger.Classify(err).Transient() {
			return deadLetter(err)
		}
		last = err
	}
	return abandon(last)
}

// attemptContext runs attempts detached from the caller's cancellation so a
// shutdown does not cut a transaction in half.
type attemptContext struct {
	timeout time.Duration
	clock   xclock.Clock
}

func (a attemptContext) run(ctx context.Context, attempt Attempter, msg *message.Message, metrics Metrics) (Outcome, error) {
	pctx := context.WithoutCancel(ctx)
	if a.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, a.timeout)
		defer cancel()
	}

	start := a.clock.Now()
	outcome, err := attempt.ProcessOnce(pctx, msg)
	label := outcome.String()
	if err != nil {
		label = ledger.Classify(err).String()
	}
	metrics.ObserveProcess(label, a.clock.Since(start))
	return outcome, err
}
