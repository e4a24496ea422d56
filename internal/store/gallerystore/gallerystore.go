// Package gallerystore persists the local session token and generation
// gallery in sqlite, standing in for the browser's local storage.
package gallerystore

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/brushmint/wallet/internal/imagegen"
)

const (
	sessionTokenRowID = "session"

	errorOperationStore    = "gallerystore"
	errorSubjectToken      = "token"
	errorSubjectGeneration = "generation"
	errorCodeGet           = "get"
	errorCodeList          = "list"
	errorCodeSave          = "save"
	errorCodeClear         = "clear"
)

// StoreError wraps a failure with its subject and code.
type StoreError struct {
	Subject string
	Code    string
	Err     error
}

func (storeError StoreError) Error() string {
	return errorOperationStore + "." + storeError.Subject + "." + storeError.Code + ": " + storeError.Err.Error()
}

func (storeError StoreError) Unwrap() error {
	return storeError.Err
}

// Store implements the local cache over GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the sqlite cache at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SessionToken{}, &GenerationRecord{}, &GenerationImage{}); err != nil {
		return nil, err
	}
	return New(db), nil
}

// SaveToken upserts the cached bearer token.
func (store *Store) SaveToken(ctx context.Context, token string) error {
	record := SessionToken{TokenID: sessionTokenRowID, Token: token, UpdatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).Save(&record).Error
	if err != nil {
		return StoreError{Subject: errorSubjectToken, Code: errorCodeSave, Err: err}
	}
	return nil
}

// LoadToken returns the cached token, or empty when signed out.
func (store *Store) LoadToken(ctx context.Context) (string, error) {
	var record SessionToken
	err := store.db.WithContext(ctx).Where("token_id = ?", sessionTokenRowID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", StoreError{Subject: errorSubjectToken, Code: errorCodeGet, Err: err}
	}
	return record.Token, nil
}

// ClearToken drops the cached token.
func (store *Store) ClearToken(ctx context.Context) error {
	err := store.db.WithContext(ctx).Where("token_id = ?", sessionTokenRowID).Delete(&SessionToken{}).Error
	if err != nil {
		return StoreError{Subject: errorSubjectToken, Code: errorCodeClear, Err: err}
	}
	return nil
}

// SaveGeneration caches a completed batch and its images.
func (store *Store) SaveGeneration(ctx context.Context, generation imagegen.Generation) error {
	record := GenerationRecord{
		GenerationID: generation.GenerationID,
		Prompt:       generation.Prompt,
		Style:        generation.Style,
		Transparent:  generation.Transparent,
		CreditsUsed:  generation.CreditsUsed,
		CreatedAt:    time.Unix(generation.CreatedUnixUTC, 0).UTC(),
	}
	for _, image := range generation.Images {
		record.Images = append(record.Images, GenerationImage{
			ImageID:      image.ImageID,
			GenerationID: generation.GenerationID,
			URL:          image.URL,
			Prompt:       image.Prompt,
			Style:        image.Style,
			Transparent:  image.Transparent,
			CreatedAt:    time.Unix(image.CreatedUnixUTC, 0).UTC(),
		})
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if err != nil {
		return StoreError{Subject: errorSubjectGeneration, Code: errorCodeSave, Err: err}
	}
	return nil
}

// ListGenerations returns cached batches, most-recent-first.
func (store *Store) ListGenerations(ctx context.Context, limit int) ([]imagegen.Generation, error) {
	var rows []GenerationRecord
	query := store.db.WithContext(ctx).Preload("Images").Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, StoreError{Subject: errorSubjectGeneration, Code: errorCodeList, Err: err}
	}
	generations := make([]imagegen.Generation, 0, len(rows))
	for _, row := range rows {
		generations = append(generations, mapGeneration(row))
	}
	return generations, nil
}

func mapGeneration(record GenerationRecord) imagegen.Generation {
	images := make([]imagegen.Image, 0, len(record.Images))
	for _, image := range record.Images {
		images = append(images, imagegen.Image{
			ImageID:        image.ImageID,
			URL:            image.URL,
			Prompt:         image.Prompt,
			Style:          image.Style,
			Transparent:    image.Transparent,
			CreatedUnixUTC: image.CreatedAt.Unix(),
		})
	}
	return imagegen.Generation{
		GenerationID:   record.GenerationID,
		Prompt:         record.Prompt,
		Style:          record.Style,
		Transparent:    record.Transparent,
		Images:         images,
		CreditsUsed:    record.CreditsUsed,
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}
}
