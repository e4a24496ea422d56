package walletd

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brushmint/wallet/pkg/session"
)

// stubStore is an in-memory Store for service tests.
type stubStore struct {
	mu           sync.Mutex
	users        map[string]User
	transactions []Transaction
	codes        []VerificationCode
	usedCodes    map[int]bool
	checkouts    map[string]CheckoutSession
}

func newStubStore() *stubStore {
	return &stubStore{
		users:     map[string]User{},
		usedCodes: map[int]bool{},
		checkouts: map[string]CheckoutSession{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) CreateUser(ctx context.Context, user User) (User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.users {
		if existing.Email == user.Email {
			return User{}, ErrDuplicateEmail
		}
	}
	store.users[user.UserID] = user
	return user, nil
}

func (store *stubStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, user := range store.users {
		if user.Email == strings.ToLower(email) {
			return user, nil
		}
	}
	return User{}, ErrUnknownUser
}

func (store *stubStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, exists := store.users[userID]
	if !exists {
		return User{}, ErrUnknownUser
	}
	return user, nil
}

func (store *stubStore) MarkUserVerified(ctx context.Context, userID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, exists := store.users[userID]
	if !exists {
		return ErrUnknownUser
	}
	user.Verified = true
	store.users[userID] = user
	return nil
}

func (store *stubStore) UpdateUserPassword(ctx context.Context, userID string, passwordHash string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, exists := store.users[userID]
	if !exists {
		return ErrUnknownUser
	}
	user.PasswordHash = passwordHash
	store.users[userID] = user
	return nil
}

func (store *stubStore) UpdateUserProfile(ctx context.Context, userID string, name string, avatarURL string) (User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, exists := store.users[userID]
	if !exists {
		return User{}, ErrUnknownUser
	}
	if name != "" {
		user.Name = name
	}
	if avatarURL != "" {
		user.AvatarURL = avatarURL
	}
	store.users[userID] = user
	return user, nil
}

func (store *stubStore) SaveVerificationCode(ctx context.Context, code VerificationCode) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.codes = append(store.codes, code)
	return nil
}

func (store *stubStore) RedeemVerificationCode(ctx context.Context, email string, code string, kind string, nowUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index, candidate := range store.codes {
		if store.usedCodes[index] {
			continue
		}
		if candidate.Email == strings.ToLower(email) && candidate.Code == code && candidate.Kind == kind && candidate.ExpiresAtUnixUTC > nowUnixUTC {
			store.usedCodes[index] = true
			return nil
		}
	}
	return ErrInvalidCode
}

func (store *stubStore) SumBalance(ctx context.Context, userID string) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var total int64
	for _, transaction := range store.transactions {
		if transaction.UserID == userID {
			total += transaction.Amount
		}
	}
	return total, nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if transaction.IdempotencyKey != "" {
		for _, existing := range store.transactions {
			if existing.UserID == transaction.UserID && existing.IdempotencyKey == transaction.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) FindTransactionByIdempotencyKey(ctx context.Context, userID string, idempotencyKey string) (Transaction, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.transactions {
		if existing.UserID == userID && existing.IdempotencyKey == idempotencyKey {
			return existing, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *stubStore) ListTransactions(ctx context.Context, userID string, page int, limit int) ([]Transaction, int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matching := make([]Transaction, 0, len(store.transactions))
	for _, transaction := range store.transactions {
		if transaction.UserID == userID {
			matching = append(matching, transaction)
		}
	}
	sort.SliceStable(matching, func(left, right int) bool {
		return matching[left].CreatedUnixUTC > matching[right].CreatedUnixUTC
	})
	total := int64(len(matching))
	start := (page - 1) * limit
	if start > len(matching) {
		start = len(matching)
	}
	end := start + limit
	if end > len(matching) {
		end = len(matching)
	}
	return matching[start:end], total, nil
}

func (store *stubStore) CreateCheckoutSession(ctx context.Context, checkout CheckoutSession) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.checkouts[checkout.SessionID] = checkout
	return nil
}

func (store *stubStore) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	checkout, exists := store.checkouts[sessionID]
	if !exists {
		return CheckoutSession{}, ErrUnknownCheckout
	}
	return checkout, nil
}

func (store *stubStore) MarkCheckoutPaid(ctx context.Context, sessionID string) (CheckoutSession, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	checkout, exists := store.checkouts[sessionID]
	if !exists {
		return CheckoutSession{}, ErrUnknownCheckout
	}
	if checkout.Status != CheckoutPending {
		return CheckoutSession{}, ErrCheckoutClosed
	}
	checkout.Status = CheckoutPaid
	store.checkouts[sessionID] = checkout
	return checkout, nil
}

func mustService(test *testing.T, store Store) *Service {
	test.Helper()
	codec, err := session.NewTokenCodec([]byte("test-signing-key"), "walletd-test", time.Hour)
	if err != nil {
		test.Fatalf("token codec: %v", err)
	}
	cfg := Config{
		DatabasePath:    "unused",
		TokenSigningKey: "test-signing-key",
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}
	service, err := NewService(store, codec, zap.NewNop(), cfg)
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	return service
}

func mustRegisterVerified(test *testing.T, service *Service, store Store, email string) User {
	test.Helper()
	ctx := context.Background()
	if _, err := service.Register(ctx, email, "str0ngpass", "Test User"); err != nil {
		test.Fatalf("register: %v", err)
	}
	code, err := service.IssueVerification(ctx, email, CodeKindVerification)
	if err != nil {
		test.Fatalf("issue verification: %v", err)
	}
	verified, _, err := service.VerifyEmail(ctx, email, code)
	if err != nil {
		test.Fatalf("verify email: %v", err)
	}
	return verified
}
