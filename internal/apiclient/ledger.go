package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/brushmint/wallet/pkg/wallet"
)

// The Client is the wallet.RemoteLedger used by the reconciler in production.
var _ wallet.RemoteLedger = (*Client)(nil)

// FetchBalance returns the authoritative credit balance.
func (client *Client) FetchBalance(ctx context.Context) (int64, error) {
	var data balancePayload
	if err := client.request(ctx, http.MethodGet, "/credits/balance", nil, &data); err != nil {
		return 0, err
	}
	return data.Balance, nil
}

// FetchTransactions returns one page of the server-side history,
// most-recent-first.
func (client *Client) FetchTransactions(ctx context.Context, page int, limit int) (wallet.TransactionPage, error) {
	var data transactionsPayload
	path := fmt.Sprintf("/credits/transactions?page=%d&limit=%d", page, limit)
	if err := client.request(ctx, http.MethodGet, path, nil, &data); err != nil {
		return wallet.TransactionPage{}, err
	}
	transactions := make([]wallet.Transaction, 0, len(data.Transactions))
	for _, payload := range data.Transactions {
		kind, err := wallet.ParseTransactionKind(payload.Type)
		if err != nil {
			return wallet.TransactionPage{}, fmt.Errorf("transaction %s: %w", payload.ID, err)
		}
		transaction, err := wallet.NewTransaction(payload.ID, kind, payload.Amount, payload.Description, payload.CreatedAtUnix)
		if err != nil {
			return wallet.TransactionPage{}, fmt.Errorf("transaction %s: %w", payload.ID, err)
		}
		transactions = append(transactions, transaction)
	}
	return wallet.TransactionPage{
		Transactions: transactions,
		Total:        data.Total,
		Page:         data.Page,
		Limit:        data.Limit,
	}, nil
}

// SubmitConsume records a consumption server-side. The idempotency key makes
// client retries safe.
func (client *Client) SubmitConsume(ctx context.Context, amount wallet.CreditAmount, description string, idempotencyKey string) (wallet.ConsumeReceipt, error) {
	var data consumePayload
	payload := consumeRequest{Amount: amount.Int64(), Description: description, IdempotencyKey: idempotencyKey}
	if err := client.request(ctx, http.MethodPost, "/credits/consume", payload, &data); err != nil {
		return wallet.ConsumeReceipt{}, err
	}
	return wallet.ConsumeReceipt{TransactionID: data.TransactionID, NewBalance: data.NewBalance}, nil
}

// RechargePackages returns the pricing catalog of purchasable credit bundles.
func (client *Client) RechargePackages(ctx context.Context) ([]CreditPackage, error) {
	var data packagesPayload
	if err := client.request(ctx, http.MethodGet, "/credits/packages", nil, &data); err != nil {
		return nil, err
	}
	return data.Packages, nil
}

// CreateCheckout starts a hosted payment flow for a credit purchase. The
// amount is the purchase price in dollars; the server converts it to credits.
func (client *Client) CreateCheckout(ctx context.Context, amount wallet.CreditAmount, paymentMethod string) (wallet.CheckoutIntent, error) {
	var data rechargePayload
	payload := rechargeRequest{Amount: amount.Int64(), PaymentMethod: paymentMethod}
	if err := client.request(ctx, http.MethodPost, "/credits/recharge", payload, &data); err != nil {
		return wallet.CheckoutIntent{}, err
	}
	return wallet.CheckoutIntent{CheckoutURL: data.CheckoutURL}, nil
}
