// Package walletstore implements walletd.Store using GORM over sqlite or
// postgres.
package walletstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brushmint/wallet/internal/walletd"
)

const (
	constraintUserEmail       = "uniq_users_email"
	constraintTransactionIdem = "uniq_wallet_user_idem"
	defaultMetadataJSON       = "{}"
	pgUniqueViolationCode     = "23505"
	sqliteConstraintCode      = 19
	transactionsDefaultPage   = 1
	transactionsDefaultLimit  = 20
	transactionsMaxLimit      = 100
)

// Store implements walletd.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Intended for sqlite; postgres deployments
// manage the schema externally.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&UserAccount{}, &WalletTransaction{}, &EmailChallenge{}, &CheckoutRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore walletd.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateUser(ctx context.Context, user walletd.User) (walletd.User, error) {
	account := UserAccount{
		UserID:       user.UserID,
		Email:        strings.ToLower(strings.TrimSpace(user.Email)),
		PasswordHash: user.PasswordHash,
		Name:         user.Name,
		AvatarURL:    user.AvatarURL,
		Verified:     user.Verified,
	}
	err := store.db.WithContext(ctx).Create(&account).Error
	if isUniqueViolation(err, constraintUserEmail) {
		return walletd.User{}, walletd.ErrDuplicateEmail
	}
	if err != nil {
		return walletd.User{}, fmt.Errorf("create user: %w", err)
	}
	return mapUser(account), nil
}

func (store *Store) GetUserByEmail(ctx context.Context, email string) (walletd.User, error) {
	var account UserAccount
	err := store.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return walletd.User{}, walletd.ErrUnknownUser
	}
	if err != nil {
		return walletd.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return mapUser(account), nil
}

func (store *Store) GetUserByID(ctx context.Context, userID string) (walletd.User, error) {
	var account UserAccount
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return walletd.User{}, walletd.ErrUnknownUser
	}
	if err != nil {
		return walletd.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return mapUser(account), nil
}

func (store *Store) MarkUserVerified(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).
		Model(&UserAccount{}).
		Where("user_id = ?", userID).
		Update("verified", true)
	if result.Error != nil {
		return fmt.Errorf("mark verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return walletd.ErrUnknownUser
	}
	return nil
}

func (store *Store) UpdateUserPassword(ctx context.Context, userID string, passwordHash string) error {
	result := store.db.WithContext(ctx).
		Model(&UserAccount{}).
		Where("user_id = ?", userID).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		return fmt.Errorf("update password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return walletd.ErrUnknownUser
	}
	return nil
}

func (store *Store) UpdateUserProfile(ctx context.Context, userID string, name string, avatarURL string) (walletd.User, error) {
	updates := map[string]any{}
	if name != "" {
		updates["name"] = name
	}
	if avatarURL != "" {
		updates["avatar_url"] = avatarURL
	}
	if len(updates) > 0 {
		result := store.db.WithContext(ctx).
			Model(&UserAccount{}).
			Where("user_id = ?", userID).
			Updates(updates)
		if result.Error != nil {
			return walletd.User{}, fmt.Errorf("update profile: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return walletd.User{}, walletd.ErrUnknownUser
		}
	}
	return store.GetUserByID(ctx, userID)
}

func (store *Store) SaveVerificationCode(ctx context.Context, code walletd.VerificationCode) error {
	challenge := EmailChallenge{
		Email:     strings.ToLower(strings.TrimSpace(code.Email)),
		Code:      code.Code,
		Kind:      code.Kind,
		ExpiresAt: time.Unix(code.ExpiresAtUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&challenge).Error; err != nil {
		return fmt.Errorf("save verification code: %w", err)
	}
	return nil
}

func (store *Store) RedeemVerificationCode(ctx context.Context, email string, code string, kind string, nowUnixUTC int64) error {
	now := time.Unix(nowUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&EmailChallenge{}).
		Where("email = ? AND code = ? AND kind = ? AND used = ? AND expires_at > ?",
			strings.ToLower(strings.TrimSpace(email)), code, kind, false, now).
		Update("used", true)
	if result.Error != nil {
		return fmt.Errorf("redeem verification code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return walletd.ErrInvalidCode
	}
	return nil
}

func (store *Store) SumBalance(ctx context.Context, userID string) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Select("coalesce(sum(amount),0) as total").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum balance: %w", err)
	}
	return sum.Total, nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction walletd.Transaction) error {
	record := WalletTransaction{
		TransactionID:  transaction.TransactionID,
		UserID:         transaction.UserID,
		Kind:           string(transaction.Kind),
		Amount:         transaction.Amount,
		Description:    transaction.Description,
		IdempotencyKey: transaction.IdempotencyKey,
		Metadata:       datatypes.JSON([]byte(defaultMetadataJSON)),
		CreatedAt:      time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if transaction.CreatedUnixUTC == 0 {
		record.CreatedAt = time.Now().UTC()
	}
	if record.TransactionID == "" {
		record.TransactionID = uuid.NewString()
	}
	// Rows without a caller-supplied key must not collide on the unique
	// (user_id, idempotency_key) index.
	if record.IdempotencyKey == "" {
		record.IdempotencyKey = record.TransactionID
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err, constraintTransactionIdem) {
		return walletd.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (store *Store) FindTransactionByIdempotencyKey(ctx context.Context, userID string, idempotencyKey string) (walletd.Transaction, bool, error) {
	var record WalletTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, idempotencyKey).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return walletd.Transaction{}, false, nil
	}
	if err != nil {
		return walletd.Transaction{}, false, fmt.Errorf("find transaction: %w", err)
	}
	return mapTransaction(record), true, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID string, page int, limit int) ([]walletd.Transaction, int64, error) {
	if page < transactionsDefaultPage {
		page = transactionsDefaultPage
	}
	if limit <= 0 {
		limit = transactionsDefaultLimit
	}
	if limit > transactionsMaxLimit {
		limit = transactionsMaxLimit
	}

	var total int64
	if err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	var rows []WalletTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}

	transactions := make([]walletd.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, mapTransaction(row))
	}
	return transactions, total, nil
}

func (store *Store) CreateCheckoutSession(ctx context.Context, checkout walletd.CheckoutSession) error {
	record := CheckoutRecord{
		SessionID:     checkout.SessionID,
		UserID:        checkout.UserID,
		AmountCredits: checkout.AmountCredits,
		PaymentMethod: checkout.PaymentMethod,
		Status:        string(checkout.Status),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("create checkout session: %w", err)
	}
	return nil
}

func (store *Store) GetCheckoutSession(ctx context.Context, sessionID string) (walletd.CheckoutSession, error) {
	var record CheckoutRecord
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return walletd.CheckoutSession{}, walletd.ErrUnknownCheckout
	}
	if err != nil {
		return walletd.CheckoutSession{}, fmt.Errorf("get checkout session: %w", err)
	}
	return mapCheckout(record), nil
}

func (store *Store) MarkCheckoutPaid(ctx context.Context, sessionID string) (walletd.CheckoutSession, error) {
	result := store.db.WithContext(ctx).
		Model(&CheckoutRecord{}).
		Where("session_id = ? AND status = ?", sessionID, string(walletd.CheckoutPending)).
		Update("status", string(walletd.CheckoutPaid))
	if result.Error != nil {
		return walletd.CheckoutSession{}, fmt.Errorf("mark checkout paid: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		checkout, err := store.GetCheckoutSession(ctx, sessionID)
		if err != nil {
			return walletd.CheckoutSession{}, err
		}
		if checkout.Status == walletd.CheckoutPaid {
			return walletd.CheckoutSession{}, walletd.ErrCheckoutClosed
		}
		return walletd.CheckoutSession{}, walletd.ErrUnknownCheckout
	}
	return store.GetCheckoutSession(ctx, sessionID)
}

type sqlSum struct {
	Total int64
}

func mapUser(account UserAccount) walletd.User {
	return walletd.User{
		UserID:       account.UserID,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		Name:         account.Name,
		AvatarURL:    account.AvatarURL,
		Verified:     account.Verified,
	}
}

func mapTransaction(record WalletTransaction) walletd.Transaction {
	return walletd.Transaction{
		TransactionID:  record.TransactionID,
		UserID:         record.UserID,
		Kind:           walletd.TransactionKind(record.Kind),
		Amount:         record.Amount,
		Description:    record.Description,
		IdempotencyKey: record.IdempotencyKey,
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}
}

func mapCheckout(record CheckoutRecord) walletd.CheckoutSession {
	return walletd.CheckoutSession{
		SessionID:     record.SessionID,
		UserID:        record.UserID,
		AmountCredits: record.AmountCredits,
		PaymentMethod: record.PaymentMethod,
		Status:        walletd.CheckoutStatus(record.Status),
	}
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
