/*
Package sqlite provides a SQLite-backed ledger.Store.

TABLES:
  accounts:           id, balance (decimal text, CHECK >= 0), updated_at
  processed_messages: message_id PRIMARY KEY, processed_at

LOCKING:
  Transactions are opened with _txlock=immediate, so the write lock is taken
  at BEGIN and the idempotency check, the balance read and both writes see a
  stable snapshot. SQLITE_BUSY and SQLITE_LOCKED surface as
  ledger.TransientError.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      return err
  }
  defer store.Close()

Use ":memory:" for an in-memory database; the pool is then pinned to one
connection so every caller sees the same database.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ibs-source/ledger-consumer/internal/ledger"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const timeLayout = time.RFC3339Nano

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New opens (and migrates) the database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func buildDSN(path string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if path != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return translate("ping", s.db.PingContext(ctx))
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance TEXT NOT NULL CHECK (CAST(balance AS REAL) >= 0),
		updated_at TEXT NOT NULL
	);

	-- one row per applied message; the primary key is what makes
	-- application exactly-once across concurrent workers
	CREATE TABLE IF NOT EXISTS processed_messages (
		message_id TEXT PRIMARY KEY,
		processed_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Begin starts an immediate transaction.
func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate("begin", err)
	}
	return &Tx{tx: tx}, nil
}

// CreateAccount inserts an account; used for seeding and tests.
func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	if acct.Balance.IsNegative() {
		return fmt.Errorf("account %s: balance cannot be negative", acct.ID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, balance, updated_at) VALUES (?, ?, ?)`,
		acct.ID.String(), acct.Balance.String(), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", acct.ID, err)
	}
	return nil
}

// GetAccount reads an account outside of any transaction.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `SELECT id, balance FROM accounts WHERE id = ?`, id.String()), id)
}

// ProcessedMessage returns the processed record for messageID, if any.
func (s *Store) ProcessedMessage(ctx context.Context, messageID string) (ledger.ProcessedMessage, bool, error) {
	var processedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT processed_at FROM processed_messages WHERE message_id = ?`, messageID).Scan(&processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ProcessedMessage{}, false, nil
	}
	if err != nil {
		return ledger.ProcessedMessage{}, false, translate("processed message lookup", err)
	}
	at, err := time.Parse(timeLayout, processedAt)
	if err != nil {
		return ledger.ProcessedMessage{}, false, fmt.Errorf("invalid processed_at %q: %w", processedAt, err)
	}
	return ledger.ProcessedMessage{MessageID: messageID, ProcessedAt: at}, true, nil
}

// Tx implements ledger.Tx.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// IsProcessed implements ledger.Tx.
func (t *Tx) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM processed_messages WHERE message_id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translate("processed check", err)
	}
	return true, nil
}

// Account implements ledger.Tx.
func (t *Tx) Account(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, `SELECT id, balance FROM accounts WHERE id = ?`, id.String()), id)
}

// UpdateBalance implements ledger.Tx.
func (t *Tx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.String(), time.Now().UTC().Format(timeLayout), id.String())
	if err != nil {
		return translate("update balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate("update balance", err)
	}
	if n == 0 {
		return &ledger.AccountNotFoundError{AccountID: id}
	}
	return nil
}

// RecordProcessed implements ledger.Tx.
func (t *Tx) RecordProcessed(ctx context.Context, rec ledger.ProcessedMessage) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, processed_at) VALUES (?, ?)`,
		rec.MessageID, rec.ProcessedAt.UTC().Format(timeLayout))
	if isUniqueViolation(err) {
		return fmt.Errorf("record processed %s: %w", rec.MessageID, ledger.ErrAlreadyProcessed)
	}
	if err != nil {
		return translate("record processed", err)
	}
	return nil
}

// Commit implements ledger.Tx.
func (t *Tx) Commit(_ context.Context) error {
	t.done = true
	return translate("commit", t.tx.Commit())
}

// Rollback implements ledger.Tx; it is a no-op once the transaction ended.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return translate("rollback", err)
	}
	return nil
}

func scanAccount(row *sql.Row, id uuid.UUID) (ledger.Account, error) {
	var rawID, rawBalance string
	err := row.Scan(&rawID, &rawBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, &ledger.AccountNotFoundError{AccountID: id}
	}
	if err != nil {
		return ledger.Account{}, translate("load account", err)
	}
	balance, err := decimal.NewFromString(rawBalance)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %s has invalid balance %q: %w", rawID, rawBalance, err)
	}
	return ledger.Account{ID: id, Balance: balance}, nil
}

// translate maps driver errors onto the ledger taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return ledger.Transient(op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return ledger.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
