package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/config"
	"github.com/ibs-source/ledger-consumer/internal/ledger"
	"github.com/ibs-source/ledger-consumer/internal/log"
	"github.com/ibs-source/ledger-consumer/internal/message"
	"github.com/ibs-source/ledger-consumer/internal/queue"
	"github.com/trickstertwo/xclock"
)

// Maintainer is implemented by transports with periodic housekeeping.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Worker pulls one message at a time from a queue and settles it.
type Worker struct {
	queue         queue.Client
	attempt       Attempter
	retry         *RetryPolicy
	waiter        Waiter
	metrics       Metrics
	notifier      Notifier
	clock         xclock.Clock
	attemptCtx    attemptContext
	idleInterval  time.Duration
	errorBackoff  time.Duration
	maxDeliveries int
	settleTimeout time.Duration
	maintEvery    time.Duration
	log           *log.Logger
}

// Option customises a Worker.
type Option func(*Worker)

// WithWaiter replaces the timer-based waiter.
func WithWaiter(w Waiter) Option {
	return func(wk *Worker) { wk.waiter = w }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(wk *Worker) {
		if m != nil {
			wk.metrics = m
		}
	}
}

// WithNotifier publishes every disposition through n.
func WithNotifier(n Notifier) Option {
	return func(wk *Worker) { wk.notifier = n }
}

// WithClock sets the clock used for event timestamps.
func WithClock(c xclock.Clock) Option {
	return func(wk *Worker) {
		if c != nil {
			wk.clock = c
		}
	}
}

// WithMaintenance runs the queue's Maintain at the given interval when the
// queue supports it.
func WithMaintenance(every time.Duration) Option {
	return func(wk *Worker) { wk.maintEvery = every }
}

// NewWorker creates a worker over q and attempt using cfg's timings.
func NewWorker(q queue.Client, attempt Attempter, cfg *config.WorkerConfig, logger *log.Logger, opts ...Option) *Worker {
	w := &Worker{
		queue:         q,
		attempt:       attempt,
		waiter:        TimerWaiter{},
		metrics:       NopMetrics{},
		clock:         xclock.Default(),
		idleInterval:  cfg.IdleInterval,
		errorBackoff:  cfg.ErrorBackoff,
		maxDeliveries: cfg.MaxDeliveries,
		settleTimeout: cfg.SettleTimeout,
		log:           logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if tw, ok := w.waiter.(TimerWaiter); ok && tw.Clock == nil {
		w.waiter = TimerWaiter{Clock: w.clock}
	}
	w.attemptCtx = attemptContext{timeout: cfg.ProcessTimeout, clock: w.clock}
	w.retry = NewRetryPolicy(cfg.RetryDelays, attempt, w.waiter, w.metrics, cfg.ProcessTimeout, w.clock, logger)
	return w
}

// Run polls until ctx is cancelled and returns ctx.Err(). A message being
// handled when ctx is cancelled is still settled before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting consumer worker")

	var wg sync.WaitGroup
	if m, ok := w.queue.(Maintainer); ok && w.maintEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.maintenanceLoop(ctx, m)
		}()
	}
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("Consumer worker stopping")
			return err
		}

		msg, err := w.queue.Peek(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.ErrorWithFields(log.Fields{"error": err.Error()}, "Peek failed")
			_ = w.waiter.Wait(ctx, w.errorBackoff)
			continue
		}
		if msg == nil {
			_ = w.waiter.Wait(ctx, w.idleInterval)
			continue
		}

		w.Handle(ctx, msg)
	}
}

// Handle decides the fate of one message and settles it.
func (w *Worker) Handle(ctx context.Context, msg *message.Message) Decision {
	d := w.decide(ctx, msg)
	w.settle(ctx, msg, d)
	return d
}

func (w *Worker) decide(ctx context.Context, msg *message.Message) Decision {
	outcome, err := w.attemptCtx.run(ctx, w.attempt, msg, w.metrics)
	if err == nil {
		return complete(outcome)
	}
	if !ledger.Classify(err).Transient() {
		return deadLetter(err)
	}
	if w.maxDeliveries > 0 && msg.DeliveryCount > w.maxDeliveries {
		// earlier deliveries already ran the retry schedule
		w.log.WarnWithFields(log.Fields{
			"message_id":     msg.ID,
			"delivery_count": msg.DeliveryCount,
			"max_deliveries": w.maxDeliveries,
			"error":          err.Error(),
		}, "Delivery cap reached, returning message without retrying")
		return abandon(err)
	}
	return w.retry.Retry(ctx, msg, err)
}

// settle applies d to the queue with a context that survives shutdown.
func (w *Worker) settle(ctx context.Context, msg *message.Message, d Decision) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.settleTimeout)
	defer cancel()

	var err error
	switch d.Disposition {
	case queue.Completed:
		err = w.queue.Complete(sctx, msg)
	case queue.Abandoned:
		err = w.queue.Abandon(sctx, msg)
	case queue.DeadLettered:
		err = w.queue.DeadLetter(sctx, msg, d.Reason)
	}

	fields := log.Fields{
		"message_id":     msg.ID,
		"stream":         msg.Stream,
		"delivery_count": msg.DeliveryCount,
		"disposition":    string(d.Disposition),
	}
	if d.Disposition == queue.Completed {
		fields["outcome"] = d.Outcome.String()
	}
	if d.Err != nil {
		fields["error"] = d.Err.Error()
		fields["kind"] = ledger.Classify(d.Err).String()
	}

	if err != nil {
		fields["settle_error"] = err.Error()
		w.log.ErrorWithFields(fields, "Failed to settle message")
		return
	}

	switch d.Disposition {
	case queue.Completed:
		w.log.InfoWithFields(fields, "Message completed")
	case queue.Abandoned:
		w.log.WarnWithFields(fields, "Message abandoned for redelivery")
	case queue.DeadLettered:
		fields["reason"] = d.Reason
		w.log.ErrorWithFields(fields, "Message dead-lettered")
	}

	w.metrics.IncDisposition(d.Disposition)
	w.notify(sctx, msg, d)
}

func (w *Worker) notify(ctx context.Context, msg *message.Message, d Decision) {
	if w.notifier == nil {
		return
	}
	ev := queue.Event{
		MessageID:     msg.ID,
		Stream:        msg.Stream,
		Disposition:   d.Disposition,
		Reason:        d.Reason,
		DeliveryCount: msg.DeliveryCount,
		Body:          msg.Body,
		At:            w.clock.Now().UTC(),
	}
	if d.Disposition == queue.Completed {
		ev.Outcome = d.Outcome.String()
	}
	if err := w.notifier.PublishDisposition(ctx, ev); err != nil {
		w.log.WarnWithFields(log.Fields{"message_id": msg.ID, "error": err.Error()}, "Failed to publish disposition event")
	}
}

func (w *Worker) maintenanceLoop(ctx context.Context, m Maintainer) {
	xclock.Until(ctx, w.maintEvery, func(time.Time) {
		if err := m.Maintain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("Queue maintenance failed: %v", err)
		}
	}, w.clock)
}
