package imagegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brushmint/wallet/internal/apiclient"
	"github.com/brushmint/wallet/pkg/session"
	"github.com/brushmint/wallet/pkg/wallet"
)

var errRenderFailed = errors.New("render failed")

// stubLedger is a controllable RemoteLedger backing the reconciler in tests.
type stubLedger struct {
	balance int64
}

func (remote *stubLedger) FetchBalance(ctx context.Context) (int64, error) {
	return remote.balance, nil
}

func (remote *stubLedger) FetchTransactions(ctx context.Context, page int, limit int) (wallet.TransactionPage, error) {
	return wallet.TransactionPage{Page: page, Limit: limit}, nil
}

func (remote *stubLedger) SubmitConsume(ctx context.Context, amount wallet.CreditAmount, description string, idempotencyKey string) (wallet.ConsumeReceipt, error) {
	return wallet.ConsumeReceipt{TransactionID: "tx-1", NewBalance: -1}, nil
}

func (remote *stubLedger) CreateCheckout(ctx context.Context, amount wallet.CreditAmount, paymentMethod string) (wallet.CheckoutIntent, error) {
	return wallet.CheckoutIntent{CheckoutURL: "https://pay.example.com"}, nil
}

type stubRenderer struct {
	result apiclient.GenerationResult
	err    error
	calls  int
	prompt string
}

func (renderer *stubRenderer) GenerateImages(ctx context.Context, prompt string, style string, transparent bool, count int) (apiclient.GenerationResult, error) {
	renderer.calls++
	renderer.prompt = prompt
	if renderer.err != nil {
		return apiclient.GenerationResult{}, renderer.err
	}
	return renderer.result, nil
}

type stubGallery struct {
	saved []Generation
	err   error
}

func (gallery *stubGallery) SaveGeneration(ctx context.Context, generation Generation) error {
	if gallery.err != nil {
		return gallery.err
	}
	gallery.saved = append(gallery.saved, generation)
	return nil
}

func readyLedger(test *testing.T, balance int64) *wallet.Reconciler {
	test.Helper()
	reconciler, err := wallet.NewReconciler(&stubLedger{balance: balance})
	if err != nil {
		test.Fatalf("reconciler: %v", err)
	}
	principal, err := session.NewPrincipal("user-1", "painter@example.com", "Painter", "")
	if err != nil {
		test.Fatalf("principal: %v", err)
	}
	reconciler.SetPrincipal(&principal)
	reconciler.Load(context.Background())
	reconciler.Settle()
	return reconciler
}

func batchResult(count int) apiclient.GenerationResult {
	result := apiclient.GenerationResult{CreditsConsumed: 10}
	for index := 0; index < count; index++ {
		result.Images = append(result.Images, apiclient.GeneratedImage{
			ID:  string(rune('a' + index)),
			URL: "https://images.example.com/" + string(rune('a'+index)) + ".png",
		})
	}
	return result
}

func TestGenerateRejectsEmptyPrompt(test *testing.T) {
	test.Parallel()
	ledger := readyLedger(test, 50)
	generator, err := NewGenerator(ledger, &stubRenderer{}, nil)
	if err != nil {
		test.Fatalf("generator: %v", err)
	}
	if _, err := generator.Generate(context.Background(), "   ", "realistic", false); !errors.Is(err, ErrEmptyPrompt) {
		test.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestGenerateDeductsCostAndCachesBatch(test *testing.T) {
	test.Parallel()
	ledger := readyLedger(test, 50)
	renderer := &stubRenderer{result: batchResult(4)}
	gallery := &stubGallery{}
	generator, err := NewGenerator(ledger, renderer, gallery)
	if err != nil {
		test.Fatalf("generator: %v", err)
	}

	generation, err := generator.Generate(context.Background(), "a fox in watercolor", "watercolor", true)
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	ledger.Settle()

	if ledger.Balance() != 40 {
		test.Fatalf("expected balance 40 after deduction, got %d", ledger.Balance())
	}
	if len(generation.Images) != 4 {
		test.Fatalf("expected 4 images, got %d", len(generation.Images))
	}
	if generation.CreditsUsed != DefaultGenerationCost.Int64() {
		test.Fatalf("expected cost %d, got %d", DefaultGenerationCost.Int64(), generation.CreditsUsed)
	}
	if len(gallery.saved) != 1 {
		test.Fatalf("expected 1 cached batch, got %d", len(gallery.saved))
	}
	if gallery.saved[0].GenerationID != generation.GenerationID {
		test.Fatal("cached batch does not match returned generation")
	}
}

func TestGenerateWithInsufficientCreditsMakesNoRenderCall(test *testing.T) {
	test.Parallel()
	ledger := readyLedger(test, 5)
	renderer := &stubRenderer{result: batchResult(4)}
	generator, err := NewGenerator(ledger, renderer, nil)
	if err != nil {
		test.Fatalf("generator: %v", err)
	}

	_, err = generator.Generate(context.Background(), "a fox", "realistic", false)
	if !errors.Is(err, wallet.ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if renderer.calls != 0 {
		test.Fatalf("expected no render call, got %d", renderer.calls)
	}
	ledger.Settle()
	if ledger.Balance() != 5 {
		test.Fatalf("expected untouched balance, got %d", ledger.Balance())
	}
}

func TestGenerateSurfacesRenderFailure(test *testing.T) {
	test.Parallel()
	ledger := readyLedger(test, 50)
	renderer := &stubRenderer{err: errRenderFailed}
	generator, err := NewGenerator(ledger, renderer, nil)
	if err != nil {
		test.Fatalf("generator: %v", err)
	}
	if _, err := generator.Generate(context.Background(), "a fox", "realistic", false); !errors.Is(err, errRenderFailed) {
		test.Fatalf("expected render failure, got %v", err)
	}
}

func TestGenerateSurvivesGalleryFailure(test *testing.T) {
	test.Parallel()
	ledger := readyLedger(test, 50)
	renderer := &stubRenderer{result: batchResult(4)}
	gallery := &stubGallery{err: errors.New("disk full")}
	generator, err := NewGenerator(ledger, renderer, gallery)
	if err != nil {
		test.Fatalf("generator: %v", err)
	}
	if _, err := generator.Generate(context.Background(), "a fox", "realistic", false); err != nil {
		test.Fatalf("expected success despite gallery failure, got %v", err)
	}
}

func TestGenerateTruncatesLongPromptInDescription(test *testing.T) {
	test.Parallel()
	ledger := readyLedger(test, 50)
	renderer := &stubRenderer{result: batchResult(1)}
	generator, err := NewGenerator(ledger, renderer, nil, WithImageCount(1))
	if err != nil {
		test.Fatalf("generator: %v", err)
	}

	longPrompt := strings.Repeat("fox ", 40)
	if _, err := generator.Generate(context.Background(), longPrompt, "realistic", false); err != nil {
		test.Fatalf("generate: %v", err)
	}
	if renderer.prompt != strings.TrimSpace(longPrompt) {
		test.Fatal("renderer must receive the full untruncated prompt")
	}
}
