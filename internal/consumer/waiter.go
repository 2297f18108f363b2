package consumer

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
)

// Waiter pauses between polls and retries. Wait returns ctx.Err() if the
// context ends first.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// TimerWaiter waits on a timer from Clock, or the process default clock
// when Clock is nil.
type TimerWaiter struct {
	Clock xclock.Clock
}

// Wait blocks for d or until ctx is done.
func (w TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	return xclock.SleepContext(ctx, d, w.Clock)
}
