// Package queue defines the transport-neutral queue contract the consumer
// drives, and the terminal dispositions a message can reach.
package queue

import (
	"context"
	"time"

	"github.com/ibs-source/ledger-consumer/internal/message"
)

// Client is a peek/settle queue. Peek does not remove the message; one of
// Complete, Abandon or DeadLetter settles it. All three are idempotent.
type Client interface {
	// Peek returns the next message, or nil when the queue is empty.
	Peek(ctx context.Context) (*message.Message, error)
	// Complete removes the message after successful processing.
	Complete(ctx context.Context, msg *message.Message) error
	// Abandon releases the message so it is delivered again later.
	Abandon(ctx context.Context, msg *message.Message) error
	// DeadLetter removes the message from normal delivery, keeping reason.
	DeadLetter(ctx context.Context, msg *message.Message, reason string) error
	Close() error
}

// Disposition is the terminal outcome of handling one message.
type Disposition string

const (
	Completed    Disposition = "complete"
	Abandoned    Disposition = "abandon"
	DeadLettered Disposition = "dead_letter"
)

// Event describes one settled message.
type Event struct {
	MessageID     string
	Stream        string
	Disposition   Disposition
	Outcome       string // applied or duplicate, for completed messages
	Reason        string // dead-letter reason
	DeliveryCount int
	Body          []byte // original message body
	At            time.Time
}

// Final reports whether the message will not be delivered again.
func (e Event) Final() bool {
	return e.Disposition != Abandoned
}
