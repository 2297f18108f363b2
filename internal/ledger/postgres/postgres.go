// Package postgres provides a PostgreSQL-backed ledger.Store built on pgx.
//
// Transactions run at READ COMMITTED and lock the account row with
// SELECT ... FOR UPDATE, so concurrent workers debiting the same account
// serialise on the row instead of overwriting each other's balance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ibs-source/ledger-consumer/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	balance NUMERIC(38, 18) NOT NULL CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processed_messages (
	message_id TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL
);
`

// Store implements ledger.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return translate("ping", s.pool.Ping(ctx))
}

// Begin starts a READ COMMITTED transaction.
func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, translate("begin", err)
	}
	return &Tx{tx: tx}, nil
}

// CreateAccount inserts an account; used for seeding.
func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance) VALUES ($1, $2::numeric)`,
		acct.ID, acct.Balance.String())
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", acct.ID, err)
	}
	return nil
}

// Tx implements ledger.Tx.
type Tx struct {
	tx pgx.Tx
}

// IsProcessed implements ledger.Tx.
func (t *Tx) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_messages WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, translate("processed check", err)
	}
	return exists, nil
}

// Account implements ledger.Tx; the row stays locked until commit or rollback.
func (t *Tx) Account(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	var raw string
	err := t.tx.QueryRow(ctx,
		`SELECT balance::text FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, &ledger.AccountNotFoundError{AccountID: id}
	}
	if err != nil {
		return ledger.Account{}, translate("load account", err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s has invalid balance %q: %w", id, raw, err)
	}
	return ledger.Account{ID: id, Balance: balance}, nil
}

// UpdateBalance implements ledger.Tx.
func (t *Tx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $1::numeric, updated_at = now() WHERE id = $2`,
		balance.String(), id)
	if err != nil {
		return translate("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return &ledger.AccountNotFoundError{AccountID: id}
	}
	return nil
}

// RecordProcessed implements ledger.Tx.
func (t *Tx) RecordProcessed(ctx context.Context, rec ledger.ProcessedMessage) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO processed_messages (message_id, processed_at) VALUES ($1, $2)`,
		rec.MessageID, rec.ProcessedAt.UTC())
	if pgCode(err) == codeUniqueViolation {
		return fmt.Errorf("record processed %s: %w", rec.MessageID, ledger.ErrAlreadyProcessed)
	}
	if err != nil {
		return translate("record processed", err)
	}
	return nil
}

// Commit implements ledger.Tx.
func (t *Tx) Commit(ctx context.Context) error {
	return translate("commit", t.tx.Commit(ctx))
}

// Rollback implements ledger.Tx.
func (t *Tx) Rollback(ctx context.Context) error {
	// the rollback must reach the server even if ctx is already cancelled
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := t.tx.Rollback(rbCtx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return translate("rollback", err)
	}
	return nil
}

const (
	codeUniqueViolation    = "23505"
	codeSerialization      = "40001"
	codeDeadlock           = "40P01"
	codeLockNotAvailable   = "55P03"
	codeQueryCanceled      = "57014"
	codeTooManyConnections = "53300"
	codeAdminShutdown      = "57P01"
	codeCannotConnectNow   = "57P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isTransientCode covers serialization failures, lock contention and the
// whole connection-exception class (08xxx).
func isTransientCode(code string) bool {
	switch code {
	case codeSerialization, codeDeadlock, codeLockNotAvailable, codeQueryCanceled,
		codeTooManyConnections, codeAdminShutdown, codeCannotConnectNow:
		return true
	}
	return strings.HasPrefix(code, "08")
}

// translate maps pgx errors onto the ledger taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if code := pgCode(err); code != "" {
		if isTransientCode(code) {
			return ledger.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return ledger.Transient(op, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return ledger.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
