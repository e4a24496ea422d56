package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brushmint/wallet/pkg/session"
)

// Reconciler is the client-side source of truth for the current principal's
// credit balance and spend history. It applies consumptions optimistically,
// confirms them against the authoritative RemoteLedger in the background, and
// rolls the optimistic deduction back when confirmation fails or times out.
//
// All mutations are serialized through a single mutex. A session epoch counter
// fences asynchronous callbacks: a confirmation or load result that lands
// after the principal changed, or after a newer load replaced the state with
// server truth, is discarded instead of corrupting the current ledger.
type Reconciler struct {
	mu        sync.Mutex
	remote    RemoteLedger
	principal *session.Principal
	state     SessionState
	balance   int64
	history   []Transaction
	epoch     uint64
	inFlight  sync.WaitGroup

	nowFn          func() int64
	newIDFn        func() string
	confirmTimeout time.Duration
	historyLimit   int
	logger         OperationLogger
}

// NewReconciler wires a Reconciler over the authoritative remote ledger.
func NewReconciler(remote RemoteLedger, options ...ReconcilerOption) (*Reconciler, error) {
	if remote == nil {
		return nil, WrapError(operationSession, "remote", "nil", ErrInvalidReconcilerConfig)
	}
	reconciler := &Reconciler{
		remote:         remote,
		state:          StateUninitialized,
		nowFn:          func() int64 { return time.Now().UTC().Unix() },
		newIDFn:        uuid.NewString,
		confirmTimeout: defaultConfirmTimeout,
		historyLimit:   defaultHistoryLimit,
	}
	for _, option := range options {
		if option != nil {
			option(reconciler)
		}
	}
	return reconciler, nil
}

// SetPrincipal binds the ledger to a new principal, zeroing any previous
// session's balance and history. A nil principal ends the session.
func (reconciler *Reconciler) SetPrincipal(principal *session.Principal) {
	reconciler.mu.Lock()
	reconciler.epoch++
	reconciler.balance = 0
	reconciler.history = nil
	reconciler.state = StateUninitialized
	if principal == nil {
		reconciler.principal = nil
	} else {
		bound := *principal
		reconciler.principal = &bound
	}
	principalID := reconciler.principalIDLocked()
	reconciler.mu.Unlock()
	reconciler.logOperation(context.Background(), OperationLog{
		Operation:   operationSession,
		PrincipalID: principalID,
		Status:      operationStatusOK,
	})
}

// Reset ends the current session. Equivalent to SetPrincipal(nil).
func (reconciler *Reconciler) Reset() {
	reconciler.SetPrincipal(nil)
}

// Load replaces the local balance and history with the server's values. The
// two fetches run independently; a failed fetch degrades its half of the
// state to zero/empty without disturbing the other half and without ending
// the session. Results from a load started before a principal switch are
// discarded. A load that commits supersedes any consume still awaiting
// confirmation: the balance it installed already is server truth, so the late
// confirmation is discarded rather than applied on top.
func (reconciler *Reconciler) Load(ctx context.Context) {
	reconciler.mu.Lock()
	if reconciler.principal == nil {
		reconciler.mu.Unlock()
		return
	}
	if reconciler.state == StateLoading {
		reconciler.mu.Unlock()
		return
	}
	loadEpoch := reconciler.epoch
	principalID := reconciler.principalIDLocked()
	historyLimit := reconciler.historyLimit
	reconciler.state = StateLoading
	reconciler.mu.Unlock()

	var (
		fetchedBalance int64
		fetchedHistory []Transaction
		waitGroup      sync.WaitGroup
	)
	waitGroup.Add(2)
	go func() {
		defer waitGroup.Done()
		balance, err := reconciler.remote.FetchBalance(ctx)
		if err != nil || balance < 0 {
			reconciler.logOperation(ctx, OperationLog{
				Operation:   operationLoad,
				PrincipalID: principalID,
				Status:      operationStatusError,
				Error:       WrapError(operationLoad, "balance", "fetch", err),
			})
			return
		}
		fetchedBalance = balance
	}()
	go func() {
		defer waitGroup.Done()
		page, err := reconciler.remote.FetchTransactions(ctx, defaultHistoryPage, historyLimit)
		if err != nil {
			reconciler.logOperation(ctx, OperationLog{
				Operation:   operationLoad,
				PrincipalID: principalID,
				Status:      operationStatusError,
				Error:       WrapError(operationLoad, "history", "fetch", err),
			})
			return
		}
		fetchedHistory = page.Transactions
	}()
	waitGroup.Wait()

	reconciler.mu.Lock()
	if reconciler.epoch != loadEpoch {
		reconciler.mu.Unlock()
		return
	}
	// Committing server truth starts a new epoch so that confirmations of
	// consumes issued before this load can no longer touch the balance.
	reconciler.epoch++
	reconciler.balance = fetchedBalance
	reconciler.history = fetchedHistory
	reconciler.state = StateReady
	balance := reconciler.balance
	reconciler.mu.Unlock()

	reconciler.logOperation(ctx, OperationLog{
		Operation:   operationLoad,
		PrincipalID: principalID,
		Balance:     balance,
		Status:      operationStatusOK,
	})
}

// Consume deducts the amount optimistically and returns immediately. The
// deduction is confirmed against the remote ledger in the background; on
// rejection, network failure, or timeout the deduction is rolled back and no
// transaction is recorded. Returns false without any network call when the
// session is not ready or the balance does not cover the amount.
func (reconciler *Reconciler) Consume(amount CreditAmount, description string) bool {
	reconciler.mu.Lock()
	if reconciler.principal == nil || reconciler.state != StateReady {
		reconciler.mu.Unlock()
		return false
	}
	if reconciler.balance < amount.Int64() {
		principalID := reconciler.principalIDLocked()
		reconciler.mu.Unlock()
		reconciler.logOperation(context.Background(), OperationLog{
			Operation:   operationConsume,
			PrincipalID: principalID,
			Amount:      amount.Int64(),
			Description: description,
			Status:      operationStatusError,
			Error:       ErrInsufficientCredits,
		})
		return false
	}
	reconciler.balance -= amount.Int64()
	consumeEpoch := reconciler.epoch
	principalID := reconciler.principalIDLocked()
	idempotencyKey := idempotencyPrefixSpend + idempotencyKeyDelimiter + reconciler.newIDFn()
	reconciler.inFlight.Add(1)
	reconciler.mu.Unlock()

	go reconciler.confirmConsume(consumeEpoch, principalID, amount, description, idempotencyKey)
	return true
}

func (reconciler *Reconciler) confirmConsume(consumeEpoch uint64, principalID string, amount CreditAmount, description string, idempotencyKey string) {
	defer reconciler.inFlight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), reconciler.confirmTimeout)
	defer cancel()
	receipt, err := reconciler.remote.SubmitConsume(ctx, amount, description, idempotencyKey)

	reconciler.mu.Lock()
	if reconciler.epoch != consumeEpoch {
		reconciler.mu.Unlock()
		reconciler.logOperation(ctx, OperationLog{
			Operation:      operationConsume,
			PrincipalID:    principalID,
			Amount:         amount.Int64(),
			Description:    description,
			IdempotencyKey: idempotencyKey,
			Status:         operationStatusDiscarded,
			Error:          err,
		})
		return
	}
	if err != nil {
		reconciler.balance += amount.Int64()
		balance := reconciler.balance
		reconciler.mu.Unlock()
		reconciler.logOperation(ctx, OperationLog{
			Operation:      operationConsume,
			PrincipalID:    principalID,
			Amount:         amount.Int64(),
			Description:    description,
			IdempotencyKey: idempotencyKey,
			Balance:        balance,
			Status:         operationStatusRolledBack,
			Error:          err,
		})
		return
	}

	transactionID := receipt.TransactionID
	if transactionID == "" {
		transactionID = idempotencyKey
	}
	confirmed, buildErr := NewTransaction(transactionID, KindConsume, -amount.Int64(), description, reconciler.nowFn())
	if buildErr == nil {
		reconciler.history = append([]Transaction{confirmed}, reconciler.history...)
	}
	if receipt.NewBalance >= 0 {
		reconciler.balance = receipt.NewBalance
	}
	balance := reconciler.balance
	reconciler.mu.Unlock()

	reconciler.logOperation(ctx, OperationLog{
		Operation:      operationConsume,
		PrincipalID:    principalID,
		Amount:         amount.Int64(),
		Description:    description,
		IdempotencyKey: idempotencyKey,
		Balance:        balance,
		Status:         operationStatusOK,
	})
}

// Recharge initiates an external checkout flow. No local state changes; the
// credited balance becomes visible only after a later Load observes it.
func (reconciler *Reconciler) Recharge(ctx context.Context, amount CreditAmount, paymentMethod string) (CheckoutIntent, error) {
	reconciler.mu.Lock()
	principal := reconciler.principal
	principalID := reconciler.principalIDLocked()
	reconciler.mu.Unlock()
	if principal == nil {
		return CheckoutIntent{}, WrapError(operationRecharge, "session", "missing", ErrNoPrincipal)
	}
	if paymentMethod == "" {
		return CheckoutIntent{}, WrapError(operationRecharge, "payment_method", "empty", ErrInvalidPaymentMethod)
	}

	intent, err := reconciler.remote.CreateCheckout(ctx, amount, paymentMethod)
	reconciler.logOperation(ctx, OperationLog{
		Operation:   operationRecharge,
		PrincipalID: principalID,
		Amount:      amount.Int64(),
		Description: paymentMethod,
		Error:       err,
	})
	if err != nil {
		return CheckoutIntent{}, WrapError(operationRecharge, "checkout", "create", err)
	}
	if intent.CheckoutURL == "" {
		return CheckoutIntent{}, WrapError(operationRecharge, "checkout", "empty_url", ErrCheckoutUnavailable)
	}
	return intent, nil
}

// Settle blocks until every in-flight consume confirmation has finished.
func (reconciler *Reconciler) Settle() {
	reconciler.inFlight.Wait()
}

// Balance returns the current (possibly optimistic) balance.
func (reconciler *Reconciler) Balance() int64 {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()
	return reconciler.balance
}

// State returns the session lifecycle state.
func (reconciler *Reconciler) State() SessionState {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()
	return reconciler.state
}

// Snapshot returns a consistent copy of the balance and history,
// most-recent-first.
func (reconciler *Reconciler) Snapshot() Snapshot {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()
	transactions := make([]Transaction, len(reconciler.history))
	copy(transactions, reconciler.history)
	return Snapshot{
		State:        reconciler.state,
		Balance:      reconciler.balance,
		Transactions: transactions,
	}
}

func (reconciler *Reconciler) principalIDLocked() string {
	if reconciler.principal == nil {
		return ""
	}
	return reconciler.principal.ID
}

func (reconciler *Reconciler) logOperation(ctx context.Context, entry OperationLog) {
	if reconciler.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	reconciler.logger.LogOperation(ctx, entry)
}
