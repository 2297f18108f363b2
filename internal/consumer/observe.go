package consumer

import (
	"context"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/queue"
)

// Metrics records consumer activity.
type Metrics interface {
	ObserveProcess(outcome string, d time.Duration)
	IncRetry()
	IncDisposition(d queue.Disposition)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveProcess(string, time.Duration) {}
func (NopMetrics) IncRetry()                            {}
func (NopMetrics) IncDisposition(queue.Disposition)     {}

// Notifier is told about every settled message. Errors are logged only.
type Notifier interface {
	PublishDisposition(ctx context.Context, ev queue.Event) error
}
