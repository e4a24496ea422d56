package walletd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/brushmint/wallet/pkg/session"
)

// Verification code kinds accepted by the auth endpoints.
const (
	CodeKindVerification  = "verification"
	CodeKindPasswordReset = "password_reset"
)

const (
	verificationCodeDigits = 6
	checkoutIdemPrefix     = "checkout:"
)

// Service implements the wallet backend operations over a Store.
type Service struct {
	store       Store
	tokens      *session.TokenCodec
	logger      *zap.Logger
	signupBonus int64
	checkoutURL string
	codeTTL     time.Duration
	nowFn       func() time.Time
	newIDFn     func() string
	newCodeFn   func() (string, error)
}

// NewService validates dependencies and returns a ready Service.
func NewService(store Store, tokens *session.TokenCodec, logger *zap.Logger, cfg Config) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidServiceConfig)
	}
	if tokens == nil {
		return nil, fmt.Errorf("%w: token codec is required", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		tokens:      tokens,
		logger:      logger,
		signupBonus: cfg.SignupBonus,
		checkoutURL: cfg.CheckoutBaseURL,
		codeTTL:     defaultCodeTTL,
		nowFn:       func() time.Time { return time.Now().UTC() },
		newIDFn:     uuid.NewString,
		newCodeFn:   randomNumericCode,
	}, nil
}

// Register creates an unverified account. The email must be verified before
// the first login succeeds.
func (service *Service) Register(ctx context.Context, email string, password string, name string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email is malformed", ErrInvalidCredentials)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidCredentials)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := service.store.CreateUser(ctx, User{
		UserID:       service.newIDFn(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		Verified:     false,
	})
	if err != nil {
		return User{}, err
	}
	service.logger.Info("user registered", zap.String("user_id", user.UserID))
	return user, nil
}

// IssueVerification stores a short-lived code for the email and returns it.
// There is no mail transport here; the caller decides how to deliver it.
func (service *Service) IssueVerification(ctx context.Context, email string, kind string) (string, error) {
	if kind != CodeKindVerification && kind != CodeKindPasswordReset {
		return "", ErrInvalidCode
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if kind == CodeKindPasswordReset {
		if _, err := service.store.GetUserByEmail(ctx, email); err != nil {
			return "", err
		}
	}
	code, err := service.newCodeFn()
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	record := VerificationCode{
		Email:            email,
		Code:             code,
		Kind:             kind,
		ExpiresAtUnixUTC: service.nowFn().Add(service.codeTTL).Unix(),
	}
	if err := service.store.SaveVerificationCode(ctx, record); err != nil {
		return "", err
	}
	service.logger.Info("verification code issued",
		zap.String("email", email),
		zap.String("kind", kind))
	return code, nil
}

// VerifyEmail redeems a signup verification code, marks the account verified,
// grants the signup bonus once and returns a signed-in session.
func (service *Service) VerifyEmail(ctx context.Context, email string, code string) (User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := service.store.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, "", err
	}
	now := service.nowFn()
	if err := service.store.RedeemVerificationCode(ctx, email, code, CodeKindVerification, now.Unix()); err != nil {
		return User{}, "", err
	}
	alreadyVerified := user.Verified
	if !alreadyVerified {
		if err := service.store.MarkUserVerified(ctx, user.UserID); err != nil {
			return User{}, "", err
		}
		user.Verified = true
		if service.signupBonus > 0 {
			err := service.store.InsertTransaction(ctx, Transaction{
				TransactionID:  service.newIDFn(),
				UserID:         user.UserID,
				Kind:           KindRecharge,
				Amount:         service.signupBonus,
				Description:    "Welcome bonus",
				IdempotencyKey: "signup:" + user.UserID,
				CreatedUnixUTC: now.Unix(),
			})
			if err != nil && !errors.Is(err, ErrDuplicateIdempotencyKey) {
				return User{}, "", err
			}
		}
	}
	token, err := service.issueToken(user, now)
	if err != nil {
		return User{}, "", err
	}
	return user, token, nil
}

// Authenticate checks credentials and returns the user with a session token.
func (service *Service) Authenticate(ctx context.Context, email string, password string) (User, string, error) {
	user, err := service.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrUnknownUser) {
		return User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, "", ErrInvalidCredentials
	}
	if !user.Verified {
		return User{}, "", ErrUserNotVerified
	}
	token, err := service.issueToken(user, service.nowFn())
	if err != nil {
		return User{}, "", err
	}
	return user, token, nil
}

// ResetPassword redeems a password-reset code and installs the new password.
func (service *Service) ResetPassword(ctx context.Context, email string, code string, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidCredentials)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := service.store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := service.store.RedeemVerificationCode(ctx, email, code, CodeKindPasswordReset, service.nowFn().Unix()); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return service.store.UpdateUserPassword(ctx, user.UserID, string(hash))
}

// Profile returns the account for userID.
func (service *Service) Profile(ctx context.Context, userID string) (User, error) {
	return service.store.GetUserByID(ctx, userID)
}

// UpdateProfile changes the display name or avatar.
func (service *Service) UpdateProfile(ctx context.Context, userID string, name string, avatarURL string) (User, error) {
	return service.store.UpdateUserProfile(ctx, userID, strings.TrimSpace(name), strings.TrimSpace(avatarURL))
}

// Balance returns the signed sum of the user's transactions.
func (service *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return service.store.SumBalance(ctx, userID)
}

// Transactions returns one page of history, most-recent-first.
func (service *Service) Transactions(ctx context.Context, userID string, page int, limit int) ([]Transaction, int64, error) {
	return service.store.ListTransactions(ctx, userID, page, limit)
}

// Consume deducts credits atomically. A repeated idempotency key returns the
// original transaction instead of deducting twice.
func (service *Service) Consume(ctx context.Context, userID string, amount int64, description string, idempotencyKey string) (Transaction, int64, error) {
	if amount <= 0 {
		return Transaction{}, 0, fmt.Errorf("%w: amount must be positive", ErrInvalidConsume)
	}
	var (
		recorded Transaction
		balance  int64
	)
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if idempotencyKey != "" {
			existing, found, err := txStore.FindTransactionByIdempotencyKey(ctx, userID, idempotencyKey)
			if err != nil {
				return err
			}
			if found {
				recorded = existing
				current, err := txStore.SumBalance(ctx, userID)
				if err != nil {
					return err
				}
				balance = current
				return nil
			}
		}
		current, err := txStore.SumBalance(ctx, userID)
		if err != nil {
			return err
		}
		if current < amount {
			return ErrInsufficientFunds
		}
		recorded = Transaction{
			TransactionID:  service.newIDFn(),
			UserID:         userID,
			Kind:           KindConsume,
			Amount:         -amount,
			Description:    description,
			IdempotencyKey: idempotencyKey,
			CreatedUnixUTC: service.nowFn().Unix(),
		}
		if err := txStore.InsertTransaction(ctx, recorded); err != nil {
			return err
		}
		balance = current - amount
		return nil
	})
	if err != nil {
		return Transaction{}, 0, err
	}
	service.logger.Info("credits consumed",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance))
	return recorded, balance, nil
}

// CreateCheckout opens a pending checkout session for a purchase priced in
// dollars and returns the hosted payment URL. The credited amount is derived
// from the flat creditsPerDollar rate; credits land only after ConfirmPayment.
func (service *Service) CreateCheckout(ctx context.Context, userID string, amountDollars int64, paymentMethod string) (CheckoutSession, string, error) {
	if amountDollars < minRechargeDollars {
		return CheckoutSession{}, "", fmt.Errorf("%w: minimum recharge is $%d", ErrInvalidRecharge, minRechargeDollars)
	}
	if strings.TrimSpace(paymentMethod) == "" {
		return CheckoutSession{}, "", fmt.Errorf("%w: payment method is required", ErrInvalidRecharge)
	}
	checkout := CheckoutSession{
		SessionID:     service.newIDFn(),
		UserID:        userID,
		AmountCredits: amountDollars * creditsPerDollar,
		PaymentMethod: paymentMethod,
		Status:        CheckoutPending,
	}
	if err := service.store.CreateCheckoutSession(ctx, checkout); err != nil {
		return CheckoutSession{}, "", err
	}
	url := strings.TrimRight(service.checkoutURL, "/") + "/" + checkout.SessionID
	service.logger.Info("checkout created",
		zap.String("user_id", userID),
		zap.String("session_id", checkout.SessionID),
		zap.Int64("amount_dollars", amountDollars),
		zap.Int64("credits", checkout.AmountCredits))
	return checkout, url, nil
}

// ConfirmPayment settles a pending checkout and credits the wallet exactly
// once. Repeated confirmations return ErrCheckoutClosed.
func (service *Service) ConfirmPayment(ctx context.Context, sessionID string) (Transaction, error) {
	var recorded Transaction
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		checkout, err := txStore.MarkCheckoutPaid(ctx, sessionID)
		if err != nil {
			return err
		}
		recorded = Transaction{
			TransactionID:  service.newIDFn(),
			UserID:         checkout.UserID,
			Kind:           KindRecharge,
			Amount:         checkout.AmountCredits,
			Description:    fmt.Sprintf("Credit recharge via %s", checkout.PaymentMethod),
			IdempotencyKey: checkoutIdemPrefix + checkout.SessionID,
			CreatedUnixUTC: service.nowFn().Unix(),
		}
		return txStore.InsertTransaction(ctx, recorded)
	})
	if err != nil {
		return Transaction{}, err
	}
	service.logger.Info("payment confirmed",
		zap.String("session_id", sessionID),
		zap.String("user_id", recorded.UserID),
		zap.Int64("credits", recorded.Amount))
	return recorded, nil
}

// GenerationCost is the credit price of one image generation batch.
func (service *Service) GenerationCost() int64 { return generationCostCredits }

func (service *Service) issueToken(user User, now time.Time) (string, error) {
	principal, err := session.NewPrincipal(user.UserID, user.Email, user.Name, user.AvatarURL)
	if err != nil {
		return "", err
	}
	return service.tokens.Issue(principal, now)
}

func randomNumericCode() (string, error) {
	limit := big.NewInt(1)
	for index := 0; index < verificationCodeDigits; index++ {
		limit.Mul(limit, big.NewInt(10))
	}
	value, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", verificationCodeDigits, value), nil
}
