package walletd

import (
	"context"
	"errors"
)

// Domain-level error values returned by the wallet backend service.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateEmail          = errors.New("email already registered")
	ErrUnknownUser             = errors.New("unknown user")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrUserNotVerified         = errors.New("email not verified")
	ErrInvalidCode             = errors.New("invalid verification code")
	ErrInvalidConsume          = errors.New("invalid consume request")
	ErrInvalidRecharge         = errors.New("invalid recharge request")
	ErrUnknownCheckout         = errors.New("unknown checkout session")
	ErrCheckoutClosed          = errors.New("checkout session closed")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// TransactionKind enumerates wallet transaction kinds.
type TransactionKind string

const (
	KindRecharge TransactionKind = "recharge"
	KindConsume  TransactionKind = "consume"
)

// User is an account holder.
type User struct {
	UserID       string
	Email        string
	PasswordHash string
	Name         string
	AvatarURL    string
	Verified     bool
}

// Transaction is one signed wallet movement.
type Transaction struct {
	TransactionID  string
	UserID         string
	Kind           TransactionKind
	Amount         int64
	Description    string
	IdempotencyKey string
	CreatedUnixUTC int64
}

// VerificationCode is a pending email challenge.
type VerificationCode struct {
	Email            string
	Code             string
	Kind             string
	ExpiresAtUnixUTC int64
}

// CheckoutStatus tracks a checkout session lifecycle.
type CheckoutStatus string

const (
	CheckoutPending CheckoutStatus = "pending"
	CheckoutPaid    CheckoutStatus = "paid"
)

// CheckoutSession is a pending credit purchase awaiting payment confirmation.
type CheckoutSession struct {
	SessionID     string
	UserID        string
	AmountCredits int64
	PaymentMethod string
	Status        CheckoutStatus
}

// Store is the persistence contract used by Service.
// (walletstore implements this already.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	MarkUserVerified(ctx context.Context, userID string) error
	UpdateUserPassword(ctx context.Context, userID string, passwordHash string) error
	UpdateUserProfile(ctx context.Context, userID string, name string, avatarURL string) (User, error)

	SaveVerificationCode(ctx context.Context, code VerificationCode) error
	RedeemVerificationCode(ctx context.Context, email string, code string, kind string, nowUnixUTC int64) error

	SumBalance(ctx context.Context, userID string) (int64, error)
	InsertTransaction(ctx context.Context, transaction Transaction) error
	FindTransactionByIdempotencyKey(ctx context.Context, userID string, idempotencyKey string) (Transaction, bool, error)
	ListTransactions(ctx context.Context, userID string, page int, limit int) ([]Transaction, int64, error)

	CreateCheckoutSession(ctx context.Context, checkout CheckoutSession) error
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
	MarkCheckoutPaid(ctx context.Context, sessionID string) (CheckoutSession, error)
}
