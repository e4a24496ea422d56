package walletstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserAccount represents the users table.
type UserAccount struct {
	UserID       string    `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"not null;uniqueIndex:uniq_users_email"`
	PasswordHash string    `gorm:"not null"`
	Name         string    `gorm:"not null"`
	AvatarURL    string    `gorm:""`
	Verified     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (UserAccount) TableName() string { return "users" }

func (account *UserAccount) BeforeCreate(tx *gorm.DB) error {
	if account.UserID == "" {
		account.UserID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the wallet_transactions table.
type WalletTransaction struct {
	TransactionID  string         `gorm:"type:uuid;primaryKey"`
	UserID         string         `gorm:"type:uuid;not null;index:idx_wallet_user_created,priority:1;uniqueIndex:uniq_wallet_user_idem,priority:1"`
	Kind           string         `gorm:"not null"`
	Amount         int64          `gorm:"not null"`
	Description    string         `gorm:"not null"`
	IdempotencyKey string         `gorm:"not null;uniqueIndex:uniq_wallet_user_idem,priority:2"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_wallet_user_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// EmailChallenge mirrors the verification_codes table.
type EmailChallenge struct {
	ChallengeID string    `gorm:"type:uuid;primaryKey"`
	Email       string    `gorm:"not null;index:idx_codes_email_kind,priority:1"`
	Code        string    `gorm:"not null"`
	Kind        string    `gorm:"not null;index:idx_codes_email_kind,priority:2"`
	ExpiresAt   time.Time `gorm:"not null"`
	Used        bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (EmailChallenge) TableName() string { return "verification_codes" }

func (challenge *EmailChallenge) BeforeCreate(tx *gorm.DB) error {
	if challenge.ChallengeID == "" {
		challenge.ChallengeID = uuid.NewString()
	}
	return nil
}

// CheckoutRecord mirrors the checkout_sessions table.
type CheckoutRecord struct {
	SessionID     string    `gorm:"type:uuid;primaryKey"`
	UserID        string    `gorm:"type:uuid;not null;index"`
	AmountCredits int64     `gorm:"not null"`
	PaymentMethod string    `gorm:"not null"`
	Status        string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (CheckoutRecord) TableName() string { return "checkout_sessions" }

func (record *CheckoutRecord) BeforeCreate(tx *gorm.DB) error {
	if record.SessionID == "" {
		record.SessionID = uuid.NewString()
	}
	return nil
}
