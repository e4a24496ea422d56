package wallet

import "time"

const (
	operationLoad     = "load"
	operationConsume  = "consume"
	operationRecharge = "recharge"
	operationSession  = "session"

	operationStatusOK         = "ok"
	operationStatusError      = "error"
	operationStatusRolledBack = "rolled_back"
	operationStatusDiscarded  = "discarded"

	idempotencyKeyDelimiter = ":"
	idempotencyPrefixSpend  = "consume"

	defaultHistoryPage  = 1
	defaultHistoryLimit = 20

	defaultConfirmTimeout = 10 * time.Second
)
