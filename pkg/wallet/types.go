package wallet

import (
	"context"
	"fmt"
	"strings"
)

// CreditAmount is a strictly positive amount of credits.
type CreditAmount int64

// NewCreditAmount validates an amount and ensures it is strictly positive.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCreditAmount)
	}
	return CreditAmount(raw), nil
}

// Int64 returns the raw credit count.
func (amount CreditAmount) Int64() int64 {
	return int64(amount)
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	KindRecharge TransactionKind = "recharge"
	KindConsume  TransactionKind = "consume"
)

// ParseTransactionKind validates a raw transaction kind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindRecharge:
		return KindRecharge, nil
	case KindConsume:
		return KindConsume, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
	}
}

// String returns the wire value of the kind.
func (kind TransactionKind) String() string {
	return string(kind)
}

// A Transaction is a single immutable line in the session ledger. The amount
// is signed: positive for recharges, negative for consumptions.
type Transaction struct {
	TransactionID  string
	Kind           TransactionKind
	Amount         int64
	Description    string
	CreatedUnixUTC int64
}

// NewTransaction validates the kind/amount sign agreement.
func NewTransaction(transactionID string, kind TransactionKind, amount int64, description string, createdUnixUTC int64) (Transaction, error) {
	if strings.TrimSpace(transactionID) == "" {
		return Transaction{}, fmt.Errorf("%w: empty transaction id", ErrInvalidTransaction)
	}
	if _, err := ParseTransactionKind(kind.String()); err != nil {
		return Transaction{}, err
	}
	if kind == KindRecharge && amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: recharge amount must be positive", ErrInvalidTransaction)
	}
	if kind == KindConsume && amount >= 0 {
		return Transaction{}, fmt.Errorf("%w: consume amount must be negative", ErrInvalidTransaction)
	}
	return Transaction{
		TransactionID:  transactionID,
		Kind:           kind,
		Amount:         amount,
		Description:    description,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

// SessionState tracks the per-principal ledger lifecycle.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateLoading       SessionState = "loading"
	StateReady         SessionState = "ready"
)

// String returns the state name.
func (state SessionState) String() string {
	return string(state)
}

// Snapshot is a consistent view of the session ledger.
type Snapshot struct {
	State        SessionState
	Balance      int64
	Transactions []Transaction
}

// ConsumeReceipt is the server acknowledgement of a consumption.
// NewBalance is authoritative when non-negative.
type ConsumeReceipt struct {
	TransactionID string
	NewBalance    int64
}

// CheckoutIntent points the caller at an externally hosted payment flow.
// The credit itself lands server-side and becomes visible on the next load.
type CheckoutIntent struct {
	CheckoutURL string
}

// TransactionPage is one page of server-side history.
type TransactionPage struct {
	Transactions []Transaction
	Total        int64
	Page         int
	Limit        int
}

// RemoteLedger is the authoritative server-side ledger contract consumed by
// the Reconciler. (apiclient implements this already.)
type RemoteLedger interface {
	FetchBalance(ctx context.Context) (int64, error)
	FetchTransactions(ctx context.Context, page int, limit int) (TransactionPage, error)
	SubmitConsume(ctx context.Context, amount CreditAmount, description string, idempotencyKey string) (ConsumeReceipt, error)
	CreateCheckout(ctx context.Context, amount CreditAmount, paymentMethod string) (CheckoutIntent, error)
}
