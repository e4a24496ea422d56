package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brushmint/wallet/pkg/session"
)

var errRemoteUnavailable = errors.New("remote unavailable")

// stubRemote is a controllable RemoteLedger for reconciler tests.
type stubRemote struct {
	mu sync.Mutex

	balance        int64
	balanceErr     error
	history        []Transaction
	historyErr     error
	receipt        ConsumeReceipt
	consumeErr     error
	checkout       CheckoutIntent
	checkoutErr    error
	consumeBlocker chan struct{}

	balanceFetches int
	consumeCalls   []stubConsumeCall
	checkoutCalls  int
}

type stubConsumeCall struct {
	amount         CreditAmount
	description    string
	idempotencyKey string
}

func (remote *stubRemote) FetchBalance(ctx context.Context) (int64, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	remote.balanceFetches++
	if remote.balanceErr != nil {
		return 0, remote.balanceErr
	}
	return remote.balance, nil
}

func (remote *stubRemote) FetchTransactions(ctx context.Context, page int, limit int) (TransactionPage, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if remote.historyErr != nil {
		return TransactionPage{}, remote.historyErr
	}
	transactions := make([]Transaction, len(remote.history))
	copy(transactions, remote.history)
	return TransactionPage{Transactions: transactions, Total: int64(len(transactions)), Page: page, Limit: limit}, nil
}

func (remote *stubRemote) SubmitConsume(ctx context.Context, amount CreditAmount, description string, idempotencyKey string) (ConsumeReceipt, error) {
	remote.mu.Lock()
	blocker := remote.consumeBlocker
	remote.consumeCalls = append(remote.consumeCalls, stubConsumeCall{amount: amount, description: description, idempotencyKey: idempotencyKey})
	consumeErr := remote.consumeErr
	receipt := remote.receipt
	remote.mu.Unlock()
	if blocker != nil {
		select {
		case <-blocker:
		case <-ctx.Done():
			return ConsumeReceipt{}, ctx.Err()
		}
	}
	if consumeErr != nil {
		return ConsumeReceipt{}, consumeErr
	}
	return receipt, nil
}

func (remote *stubRemote) CreateCheckout(ctx context.Context, amount CreditAmount, paymentMethod string) (CheckoutIntent, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	remote.checkoutCalls++
	if remote.checkoutErr != nil {
		return CheckoutIntent{}, remote.checkoutErr
	}
	return remote.checkout, nil
}

func (remote *stubRemote) submitCount() int {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	return len(remote.consumeCalls)
}

func mustReconciler(test *testing.T, remote RemoteLedger, options ...ReconcilerOption) *Reconciler {
	test.Helper()
	reconciler, err := NewReconciler(remote, options...)
	if err != nil {
		test.Fatalf("new reconciler: %v", err)
	}
	return reconciler
}

func mustAmount(test *testing.T, raw int64) CreditAmount {
	test.Helper()
	amount, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("credit amount %d: %v", raw, err)
	}
	return amount
}

func mustTransaction(test *testing.T, id string, kind TransactionKind, amount int64, description string, createdUnixUTC int64) Transaction {
	test.Helper()
	transaction, err := NewTransaction(id, kind, amount, description, createdUnixUTC)
	if err != nil {
		test.Fatalf("transaction %s: %v", id, err)
	}
	return transaction
}

func testPrincipal(id string) *session.Principal {
	return &session.Principal{ID: id, Email: id + "@example.com", DisplayName: id}
}

func readyReconciler(test *testing.T, remote *stubRemote, principalID string, options ...ReconcilerOption) *Reconciler {
	test.Helper()
	reconciler := mustReconciler(test, remote, options...)
	reconciler.SetPrincipal(testPrincipal(principalID))
	reconciler.Load(context.Background())
	if reconciler.State() != StateReady {
		test.Fatalf("expected ready state after load, got %s", reconciler.State())
	}
	return reconciler
}
