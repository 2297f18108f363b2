/*
Package ledger defines the account ledger contracts used by the consumer.

A Store hands out Tx values; everything the consumer does for one message
(idempotency check, account lookup, balance update, processed-message
insert) happens inside a single Tx so that the balance change and the
processed record commit or roll back together.

Implementations:
  - ledger/sqlite:   SQLite via mattn/go-sqlite3 (default, used in tests)
  - ledger/postgres: PostgreSQL via jackc/pgx/v5

Both implementations enforce uniqueness of processed message ids with a
primary key. The application-level check in AlreadyProcessed only avoids
the work; the key is what keeps concurrent workers from applying a message
twice.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a persisted account balance. Balance is never negative in a
// committed state.
type Account struct {
	ID      uuid.UUID
	Balance decimal.Decimal
}

// ProcessedMessage records that a message id has been applied.
type ProcessedMessage struct {
	MessageID   string
	ProcessedAt time.Time
}

// Store opens ledger transactions.
type Store interface {
	// Begin starts a transaction with at least read-committed isolation.
	Begin(ctx context.Context) (Tx, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Tx is one atomic unit of ledger work. Rollback after Commit is a no-op,
// so callers can always defer Rollback.
type Tx interface {
	// IsProcessed reports whether a record exists for messageID.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// Account loads an account, locking it for update where the engine
	// supports row locks. Returns *AccountNotFoundError if missing.
	Account(ctx context.Context, id uuid.UUID) (Account, error)

	// UpdateBalance stores a new balance for an existing account.
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	// RecordProcessed inserts the processed record. Returns
	// ErrAlreadyProcessed when the id is already present.
	RecordProcessed(ctx context.Context, rec ProcessedMessage) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
