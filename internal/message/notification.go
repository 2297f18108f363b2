package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType is the kind of balance movement a notification requests.
type MessageType string

const (
	// Credit adds the amount to the account balance.
	Credit MessageType = "Credit"
	// Debit subtracts the amount from the account balance.
	Debit MessageType = "Debit"
)

// Amounts must fit the ledger's NUMERIC(38, 18) columns.
const (
	AmountScale         = 18
	AmountIntegerDigits = 20
)

var amountLimit = decimal.New(1, AmountIntegerDigits)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return t == Credit || t == Debit
}

// Notification is a decoded transaction event.
type Notification struct {
	Type      MessageType
	AccountID uuid.UUID
	Amount    decimal.Decimal
}

// DecodeError reports a message body that cannot be turned into a Notification.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode notification: %s: %v", e.Reason, e.Err)
	}
	return "decode notification: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// wireNotification mirrors the JSON body. Pointers distinguish missing
// fields from zero values.
type wireNotification struct {
	MessageType   *string          `json:"MessageType"`
	BankAccountID *string          `json:"BankAccountId"`
	Amount        *decimal.Decimal `json:"Amount"`
}

// Decode parses a message body of the form
// {"MessageType":"Credit"|"Debit","BankAccountId":"<uuid>","Amount":<decimal>}.
func Decode(body []byte) (Notification, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Notification{}, &DecodeError{Reason: "empty body"}
	}

	var wire *wireNotification
	if err := json.Unmarshal(body, &wire); err != nil {
		return Notification{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if wire == nil {
		return Notification{}, &DecodeError{Reason: "notification is absent"}
	}

	if wire.MessageType == nil {
		return Notification{}, &DecodeError{Reason: "missing MessageType"}
	}
	msgType := MessageType(*wire.MessageType)
	if !msgType.Valid() {
		return Notification{}, &DecodeError{Reason: fmt.Sprintf("unknown MessageType %q", *wire.MessageType)}
	}

	if wire.BankAccountID == nil {
		return Notification{}, &DecodeError{Reason: "missing BankAccountId"}
	}
	accountID, err := uuid.Parse(*wire.BankAccountID)
	if err != nil {
		return Notification{}, &DecodeError{Reason: "invalid BankAccountId", Err: err}
	}

	if wire.Amount == nil {
		return Notification{}, &DecodeError{Reason: "missing Amount"}
	}
	if wire.Amount.IsNegative() {
		return Notification{}, &DecodeError{Reason: fmt.Sprintf("negative Amount %s", wire.Amount.String())}
	}
	if !wire.Amount.Equal(wire.Amount.Truncate(AmountScale)) {
		return Notification{}, &DecodeError{Reason: fmt.Sprintf("Amount %s has more than %d decimal places", wire.Amount.String(), AmountScale)}
	}
	if wire.Amount.GreaterThanOrEqual(amountLimit) {
		return Notification{}, &DecodeError{Reason: fmt.Sprintf("Amount %s has more than %d integer digits", wire.Amount.String(), AmountIntegerDigits)}
	}

	return Notification{
		Type:      msgType,
		AccountID: accountID,
		Amount:    *wire.Amount,
	}, nil
}

// IsDecodeError reports whether err is, or wraps, a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
