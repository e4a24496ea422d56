package wallet

import (
	"context"
	"time"
)

// ReconcilerOption configures a Reconciler instance.
type ReconcilerOption func(*Reconciler)

// OperationLogger records domain-level events emitted by Reconciler operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	PrincipalID    string
	Amount         int64
	Description    string
	IdempotencyKey string
	Balance        int64
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ReconcilerOption {
	return func(reconciler *Reconciler) {
		reconciler.logger = logger
	}
}

// WithClock overrides the wall clock used for locally created transactions.
func WithClock(now func() int64) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if now != nil {
			reconciler.nowFn = now
		}
	}
}

// WithIDGenerator overrides the idempotency key suffix generator.
func WithIDGenerator(newID func() string) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if newID != nil {
			reconciler.newIDFn = newID
		}
	}
}

// WithConfirmTimeout bounds how long a consume confirmation may stay in
// flight before it is treated as failed and rolled back.
func WithConfirmTimeout(timeout time.Duration) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if timeout > 0 {
			reconciler.confirmTimeout = timeout
		}
	}
}

// WithHistoryPageSize overrides how much history a load fetches.
func WithHistoryPageSize(limit int) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if limit > 0 {
			reconciler.historyLimit = limit
		}
	}
}
