// Package consumer applies queued ledger notifications: one transactional
// attempt per message, a fixed retry schedule for transient failures, and
// the loop that settles every message as completed, abandoned or
// dead-lettered.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ibs-source/ledger-consumer/internal/ledger"
	"github.com/ibs-source/ledger-consumer/internal/log"
	"github.com/ibs-source/ledger-consumer/internal/message"
	"github.com/trickstertwo/xclock"
)

// Outcome of a successful attempt.
type Outcome int

const (
	// OutcomeApplied means the balance changed and the message was recorded.
	OutcomeApplied Outcome = iota + 1
	// OutcomeDuplicate means the message had already been applied.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Attempter runs one processing attempt.
type Attempter interface {
	ProcessOnce(ctx context.Context, msg *message.Message) (Outcome, error)
}

// Processor applies one message to the ledger in a single transaction.
type Processor struct {
	store ledger.Store
	clock xclock.Clock
	log   *log.Logger
}

var _ Attempter = (*Processor)(nil)

// NewProcessor creates a processor; a nil clock uses xclock.Default().
func NewProcessor(store ledger.Store, clock xclock.Clock, logger *log.Logger) *Processor {
	if clock == nil {
		clock = xclock.Default()
	}
	return &Processor{store: store, clock: clock, log: logger}
}

// ProcessOnce checks the idempotency guard, decodes the body, applies it to
// the account and records the message id, committing all of it or none.
func (p *Processor) ProcessOnce(ctx context.Context, msg *message.Message) (_ Outcome, err error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && err == nil {
			p.log.WarnWithFields(log.Fields{"message_id": msg.ID, "error": rbErr.Error()}, "Rollback failed")
		}
	}()

	seen, err := ledger.AlreadyProcessed(ctx, tx, msg.ID)
	if err != nil {
		return 0, err
	}
	if seen {
		p.log.DebugWithFields(log.Fields{"message_id": msg.ID}, "Message already processed, skipping")
		return OutcomeDuplicate, nil
	}

	n, err := message.Decode(msg.Body)
	if err != nil {
		return 0, err
	}

	account, err := tx.Account(ctx, n.AccountID)
	if err != nil {
		return 0, err
	}

	balance, err := ledger.Apply(account, n)
	if err != nil {
		return 0, err
	}

	if err := tx.UpdateBalance(ctx, account.ID, balance); err != nil {
		return 0, err
	}

	rec := ledger.ProcessedMessage{MessageID: msg.ID, ProcessedAt: p.clock.Now().UTC()}
	if err := tx.RecordProcessed(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			// a concurrent worker committed the same message first
			p.log.DebugWithFields(log.Fields{"message_id": msg.ID}, "Lost race on processed record, skipping")
			return OutcomeDuplicate, nil
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			return OutcomeDuplicate, nil
		}
		return 0, fmt.Errorf("commit: %w", err)
	}

	p.log.DebugWithFields(log.Fields{
		"message_id": msg.ID,
		"account_id": account.ID.String(),
		"type":       string(n.Type),
		"amount":     n.Amount.String(),
		"balance":    balance.String(),
	}, "Applied notification")
	return OutcomeApplied, nil
}
