package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ibs-source/ledger-consumer/internal/message"
	"github.com/shopspring/decimal"
)

// ErrAlreadyProcessed is returned by Tx.RecordProcessed when another
// transaction already recorded the same message id.
var ErrAlreadyProcessed = errors.New("message already processed")

// Kind partitions failures for the consumption loop. Only KindTransient is
// retried; every other kind is dead-lettered.
type Kind int

const (
	KindUnclassified Kind = iota
	KindTransient
	KindDecode
	KindAccountNotFound
	KindInsufficientBalance
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindDecode:
		return "decode"
	case KindAccountNotFound:
		return "account_not_found"
	case KindInsufficientBalance:
		return "insufficient_balance"
	default:
		return "unclassified"
	}
}

// Transient reports whether failures of this kind should be retried.
func (k Kind) Transient() bool {
	return k == KindTransient
}

// TransientError wraps an infrastructure fault that is expected to clear
// on its own: lost connections, lock timeouts, busy databases.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError; nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// AccountNotFoundError is returned when a notification targets an unknown account.
type AccountNotFoundError struct {
	AccountID uuid.UUID
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.AccountID)
}

// InsufficientBalanceError is returned when a debit would take the balance
// below zero.
type InsufficientBalanceError struct {
	AccountID uuid.UUID
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: balance %s, debit %s",
		e.AccountID, e.Balance.String(), e.Requested.String())
}

// Classify maps err onto a Kind. Errors that match none of the known types
// are KindUnclassified, which the consumer treats as non-transient.
func Classify(err error) Kind {
	if err == nil {
		return KindUnclassified
	}

	var (
		transient    *TransientError
		decode       *message.DecodeError
		notFound     *AccountNotFoundError
		insufficient *InsufficientBalanceError
	)

	switch {
	case errors.As(err, &transient):
		return KindTransient
	case errors.As(err, &decode):
		return KindDecode
	case errors.As(err, &notFound):
		return KindAccountNotFound
	case errors.As(err, &insufficient):
		return KindInsufficientBalance
	default:
		return KindUnclassified
	}
}
