package walletd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brushmint/wallet/internal/apiclient"
	"github.com/brushmint/wallet/internal/store/walletstore"
	"github.com/brushmint/wallet/internal/walletd"
	"github.com/brushmint/wallet/pkg/session"
	"github.com/brushmint/wallet/pkg/wallet"
)

const (
	testSigningKey = "integration-signing-key"
	testIssuer     = "walletd-test"
	testEmail      = "painter@example.com"
	testPassword   = "str0ngpass"
)

type serverFixture struct {
	server  *httptest.Server
	client  *apiclient.Client
	service *walletd.Service
}

func startServer(test *testing.T) serverFixture {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := walletstore.Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	cfg := walletd.Config{
		DatabasePath:    ":memory:",
		TokenSigningKey: testSigningKey,
		TokenIssuer:     testIssuer,
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}
	codec, err := session.NewTokenCodec([]byte(testSigningKey), testIssuer, time.Hour)
	if err != nil {
		test.Fatalf("token codec: %v", err)
	}
	store := walletstore.New(db)
	service, err := walletd.NewService(store, codec, zap.NewNop(), cfg)
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	router := walletd.NewRouter(cfg, service, codec, zap.NewNop())
	server := httptest.NewServer(router)
	test.Cleanup(server.Close)

	client, err := apiclient.New(server.URL)
	if err != nil {
		test.Fatalf("api client: %v", err)
	}
	return serverFixture{server: server, client: client, service: service}
}

// signUp runs the register/verify flow over HTTP; the verification code is
// fetched straight from the service since no mail transport exists.
func (fixture serverFixture) signUp(test *testing.T, ctx context.Context) apiclient.AuthSession {
	test.Helper()
	if _, err := fixture.client.Register(ctx, testEmail, testPassword, "Painter"); err != nil {
		test.Fatalf("register: %v", err)
	}
	code, err := fixture.service.IssueVerification(ctx, testEmail, walletd.CodeKindVerification)
	if err != nil {
		test.Fatalf("issue verification: %v", err)
	}
	authSession, err := fixture.client.VerifyEmail(ctx, testEmail, code, apiclient.VerificationSignup)
	if err != nil {
		test.Fatalf("verify email: %v", err)
	}
	if authSession.Token == "" {
		test.Fatal("expected a session token after verification")
	}
	return authSession
}

func TestSignupLoginAndBalanceFlow(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()

	fixture.signUp(test, ctx)

	balance, err := fixture.client.FetchBalance(ctx)
	if err != nil {
		test.Fatalf("fetch balance: %v", err)
	}
	if balance != 20 {
		test.Fatalf("expected signup bonus of 20 credits, got %d", balance)
	}

	// A fresh client must be able to log in with the same credentials.
	second, err := apiclient.New(fixture.server.URL)
	if err != nil {
		test.Fatalf("second client: %v", err)
	}
	authSession, err := second.Login(ctx, testEmail, testPassword)
	if err != nil {
		test.Fatalf("login: %v", err)
	}
	if authSession.User.Email != testEmail {
		test.Fatalf("unexpected login user %+v", authSession.User)
	}
	profile, err := second.Profile(ctx)
	if err != nil {
		test.Fatalf("profile: %v", err)
	}
	if profile.Name != "Painter" {
		test.Fatalf("unexpected profile name %q", profile.Name)
	}
}

func TestLoginBeforeVerificationIsRejected(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()

	if _, err := fixture.client.Register(ctx, testEmail, testPassword, "Painter"); err != nil {
		test.Fatalf("register: %v", err)
	}
	_, err := fixture.client.Login(ctx, testEmail, testPassword)
	if !errors.Is(err, apiclient.ErrRequestRejected) {
		test.Fatalf("expected rejection before verification, got %v", err)
	}
}

func TestConsumeOverHTTPIsIdempotent(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()
	fixture.signUp(test, ctx)

	amount, err := wallet.NewCreditAmount(10)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	first, err := fixture.client.SubmitConsume(ctx, amount, "Image generation", "consume:fixed-key")
	if err != nil {
		test.Fatalf("consume: %v", err)
	}
	if first.NewBalance != 10 {
		test.Fatalf("expected balance 10 after consume, got %d", first.NewBalance)
	}
	replay, err := fixture.client.SubmitConsume(ctx, amount, "Image generation", "consume:fixed-key")
	if err != nil {
		test.Fatalf("replayed consume: %v", err)
	}
	if replay.TransactionID != first.TransactionID {
		test.Fatalf("expected replayed transaction %s, got %s", first.TransactionID, replay.TransactionID)
	}
	if replay.NewBalance != 10 {
		test.Fatalf("expected balance still 10, got %d", replay.NewBalance)
	}
}

func TestConsumeOverHTTPRejectsOverdraft(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()
	fixture.signUp(test, ctx)

	amount, err := wallet.NewCreditAmount(1000)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	_, err = fixture.client.SubmitConsume(ctx, amount, "too much", "consume:overdraft")
	if !errors.Is(err, apiclient.ErrRequestRejected) {
		test.Fatalf("expected rejection, got %v", err)
	}
}

func TestRechargeCheckoutAndWebhook(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()
	fixture.signUp(test, ctx)

	// Amount is the purchase price in dollars; $10 buys 100 credits.
	amount, err := wallet.NewCreditAmount(10)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	intent, err := fixture.client.CreateCheckout(ctx, amount, "card")
	if err != nil {
		test.Fatalf("create checkout: %v", err)
	}
	if intent.CheckoutURL == "" {
		test.Fatal("expected a checkout url")
	}

	balance, err := fixture.client.FetchBalance(ctx)
	if err != nil {
		test.Fatalf("fetch balance: %v", err)
	}
	if balance != 20 {
		test.Fatalf("expected balance unchanged before payment, got %d", balance)
	}

	sessionID := intent.CheckoutURL[len(intent.CheckoutURL)-36:]
	confirmPayment(test, fixture.server.URL, sessionID, http.StatusOK)

	balance, err = fixture.client.FetchBalance(ctx)
	if err != nil {
		test.Fatalf("fetch balance: %v", err)
	}
	if balance != 120 {
		test.Fatalf("expected 120 credits after payment, got %d", balance)
	}

	// The webhook may be delivered more than once; only the first credits.
	confirmPayment(test, fixture.server.URL, sessionID, http.StatusConflict)
}

func TestRechargePackagesOverHTTP(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()
	fixture.signUp(test, ctx)

	packages, err := fixture.client.RechargePackages(ctx)
	if err != nil {
		test.Fatalf("fetch packages: %v", err)
	}
	if len(packages) == 0 {
		test.Fatal("expected a non-empty package catalog")
	}
	for _, item := range packages {
		if item.PriceUSD <= 0 || item.Credits <= 0 {
			test.Fatalf("malformed package: %+v", item)
		}
		if item.Credits != item.PriceUSD*10 {
			test.Fatalf("package $%d advertises %d credits, want the flat rate", item.PriceUSD, item.Credits)
		}
	}
}

func TestTransactionsPageOverHTTP(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()
	fixture.signUp(test, ctx)

	amount, err := wallet.NewCreditAmount(5)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	if _, err := fixture.client.SubmitConsume(ctx, amount, "first", "consume:a"); err != nil {
		test.Fatalf("consume: %v", err)
	}

	page, err := fixture.client.FetchTransactions(ctx, 1, 20)
	if err != nil {
		test.Fatalf("fetch transactions: %v", err)
	}
	if page.Total != 2 {
		test.Fatalf("expected signup bonus and consume, got %d transactions", page.Total)
	}
	for _, transaction := range page.Transactions {
		if transaction.Kind == wallet.KindConsume && transaction.Amount >= 0 {
			test.Fatalf("consume rows must be negative: %+v", transaction)
		}
		if transaction.Kind == wallet.KindRecharge && transaction.Amount <= 0 {
			test.Fatalf("recharge rows must be positive: %+v", transaction)
		}
	}
}

func TestUnauthenticatedRequestsAreRejected(test *testing.T) {
	fixture := startServer(test)
	_, err := fixture.client.FetchBalance(context.Background())
	if !errors.Is(err, apiclient.ErrUnauthorized) {
		test.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReconcilerAgainstLiveServer(test *testing.T) {
	fixture := startServer(test)
	ctx := context.Background()
	authSession := fixture.signUp(test, ctx)

	reconciler, err := wallet.NewReconciler(fixture.client)
	if err != nil {
		test.Fatalf("reconciler: %v", err)
	}
	principal, err := session.NewPrincipal(authSession.User.ID, authSession.User.Email, authSession.User.Name, "")
	if err != nil {
		test.Fatalf("principal: %v", err)
	}
	reconciler.SetPrincipal(&principal)
	reconciler.Load(ctx)
	reconciler.Settle()

	if reconciler.Balance() != 20 {
		test.Fatalf("expected loaded balance 20, got %d", reconciler.Balance())
	}

	amount, err := wallet.NewCreditAmount(10)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	if !reconciler.Consume(amount, "Image generation") {
		test.Fatal("expected optimistic consume to succeed")
	}
	reconciler.Settle()
	if reconciler.Balance() != 10 {
		test.Fatalf("expected settled balance 10, got %d", reconciler.Balance())
	}

	serverBalance, err := fixture.client.FetchBalance(ctx)
	if err != nil {
		test.Fatalf("fetch balance: %v", err)
	}
	if serverBalance != reconciler.Balance() {
		test.Fatalf("client %d and server %d disagree", reconciler.Balance(), serverBalance)
	}
}

func confirmPayment(test *testing.T, baseURL string, sessionID string, wantStatus int) {
	test.Helper()
	payload, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		test.Fatalf("encode webhook: %v", err)
	}
	response, err := http.Post(fmt.Sprintf("%s/payments/confirm", baseURL), "application/json", bytes.NewReader(payload))
	if err != nil {
		test.Fatalf("webhook: %v", err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != wantStatus {
		test.Fatalf("expected webhook status %d, got %d", wantStatus, response.StatusCode)
	}
}
