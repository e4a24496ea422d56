// Package imagegen runs image generation batches, paying for them through
// the wallet reconciler and recording results in the local gallery.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brushmint/wallet/internal/apiclient"
	"github.com/brushmint/wallet/pkg/wallet"
)

// Generation errors.
var (
	ErrInvalidGeneratorConfig = errors.New("invalid generator config")
	ErrEmptyPrompt            = errors.New("empty prompt")
)

const (
	// DefaultGenerationCost is the credit price of one batch.
	DefaultGenerationCost wallet.CreditAmount = 10
	// DefaultImageCount is how many images one batch produces.
	DefaultImageCount = 4
)

// Image is one generated image as cached locally.
type Image struct {
	ImageID        string
	URL            string
	Prompt         string
	Style          string
	Transparent    bool
	CreatedUnixUTC int64
}

// Generation is one completed batch.
type Generation struct {
	GenerationID   string
	Prompt         string
	Style          string
	Transparent    bool
	Images         []Image
	CreditsUsed    int64
	CreatedUnixUTC int64
}

// Renderer produces images remotely. (apiclient implements this already.)
type Renderer interface {
	GenerateImages(ctx context.Context, prompt string, style string, transparent bool, count int) (apiclient.GenerationResult, error)
}

// Gallery caches completed generations locally.
type Gallery interface {
	SaveGeneration(ctx context.Context, generation Generation) error
}

// Generator coordinates a batch: optimistic credit deduction first, remote
// rendering second, local gallery write last.
type Generator struct {
	ledger   *wallet.Reconciler
	renderer Renderer
	gallery  Gallery
	cost     wallet.CreditAmount
	count    int
	nowFn    func() int64
	newIDFn  func() string
	logger   *zap.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCost overrides the per-batch credit price.
func WithCost(cost wallet.CreditAmount) GeneratorOption {
	return func(generator *Generator) {
		if cost > 0 {
			generator.cost = cost
		}
	}
}

// WithImageCount overrides the batch size.
func WithImageCount(count int) GeneratorOption {
	return func(generator *Generator) {
		if count > 0 {
			generator.count = count
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() int64) GeneratorOption {
	return func(generator *Generator) {
		if now != nil {
			generator.nowFn = now
		}
	}
}

// WithIDGenerator overrides generation id minting.
func WithIDGenerator(newID func() string) GeneratorOption {
	return func(generator *Generator) {
		if newID != nil {
			generator.newIDFn = newID
		}
	}
}

// WithLogger wires structured logging.
func WithLogger(logger *zap.Logger) GeneratorOption {
	return func(generator *Generator) {
		if logger != nil {
			generator.logger = logger
		}
	}
}

// NewGenerator wires a Generator.
func NewGenerator(ledger *wallet.Reconciler, renderer Renderer, gallery Gallery, options ...GeneratorOption) (*Generator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger is nil", ErrInvalidGeneratorConfig)
	}
	if renderer == nil {
		return nil, fmt.Errorf("%w: renderer is nil", ErrInvalidGeneratorConfig)
	}
	generator := &Generator{
		ledger:   ledger,
		renderer: renderer,
		gallery:  gallery,
		cost:     DefaultGenerationCost,
		count:    DefaultImageCount,
		nowFn:    func() int64 { return time.Now().UTC().Unix() },
		newIDFn:  uuid.NewString,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(generator)
		}
	}
	return generator, nil
}

// Cost returns the credit price of one batch.
func (generator *Generator) Cost() wallet.CreditAmount {
	return generator.cost
}

// Generate deducts the batch cost optimistically and renders the images. The
// deduction is not reversed when rendering fails after the optimistic grant;
// the background confirmation settles the ledger against the server.
func (generator *Generator) Generate(ctx context.Context, prompt string, style string, transparent bool) (Generation, error) {
	trimmedPrompt := strings.TrimSpace(prompt)
	if trimmedPrompt == "" {
		return Generation{}, ErrEmptyPrompt
	}

	description := fmt.Sprintf("Image generation: %s", truncatePrompt(trimmedPrompt))
	if !generator.ledger.Consume(generator.cost, description) {
		return Generation{}, wallet.ErrInsufficientCredits
	}

	result, err := generator.renderer.GenerateImages(ctx, trimmedPrompt, style, transparent, generator.count)
	if err != nil {
		generator.logger.Warn("image generation failed after credit deduction",
			zap.String("prompt", trimmedPrompt),
			zap.Error(err))
		return Generation{}, fmt.Errorf("generate images: %w", err)
	}

	createdUnixUTC := generator.nowFn()
	images := make([]Image, 0, len(result.Images))
	for _, produced := range result.Images {
		images = append(images, Image{
			ImageID:        produced.ID,
			URL:            produced.URL,
			Prompt:         trimmedPrompt,
			Style:          style,
			Transparent:    transparent,
			CreatedUnixUTC: createdUnixUTC,
		})
	}
	generation := Generation{
		GenerationID:   generator.newIDFn(),
		Prompt:         trimmedPrompt,
		Style:          style,
		Transparent:    transparent,
		Images:         images,
		CreditsUsed:    generator.cost.Int64(),
		CreatedUnixUTC: createdUnixUTC,
	}

	if generator.gallery != nil {
		if saveErr := generator.gallery.SaveGeneration(ctx, generation); saveErr != nil {
			// Local cache only; the generation itself succeeded.
			generator.logger.Warn("gallery save failed", zap.String("generation_id", generation.GenerationID), zap.Error(saveErr))
		}
	}
	return generation, nil
}

func truncatePrompt(prompt string) string {
	const maxDescriptionRunes = 60
	runes := []rune(prompt)
	if len(runes) <= maxDescriptionRunes {
		return prompt
	}
	return string(runes[:maxDescriptionRunes]) + "…"
}
