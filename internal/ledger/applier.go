package ledger

import (
	"context"
	"fmt"

	"github.com/ibs-source/ledger-consumer/internal/message"
	"github.com/shopspring/decimal"
)

// Apply computes the balance that results from applying n to account.
// The account value itself is not modified; the caller persists the
// returned balance inside its transaction.
func Apply(account Account, n message.Notification) (decimal.Decimal, error) {
	var next decimal.Decimal
	switch n.Type {
	case message.Credit:
		next = account.Balance.Add(n.Amount)
	case message.Debit:
		next = account.Balance.Sub(n.Amount)
	default:
		return decimal.Decimal{}, &message.DecodeError{Reason: fmt.Sprintf("unknown MessageType %q", n.Type)}
	}

	if next.IsNegative() {
		return decimal.Decimal{}, &InsufficientBalanceError{
			AccountID: account.ID,
			Balance:   account.Balance,
			Requested: n.Amount,
		}
	}
	return next, nil
}

// AlreadyProcessed is the idempotency guard. It must run on the same Tx
// that will later record the message.
func AlreadyProcessed(ctx context.Context, tx Tx, messageID string) (bool, error) {
	seen, err := tx.IsProcessed(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("idempotency check for %s: %w", messageID, err)
	}
	return seen, nil
}
