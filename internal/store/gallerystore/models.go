package gallerystore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionToken caches the bearer token between CLI invocations. A single row
// keyed by a fixed id plays the role the browser's local storage played.
type SessionToken struct {
	TokenID   string    `gorm:"primaryKey"`
	Token     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SessionToken) TableName() string { return "session_tokens" }

// GenerationRecord mirrors the generations table.
type GenerationRecord struct {
	GenerationID string    `gorm:"type:uuid;primaryKey"`
	Prompt       string    `gorm:"not null"`
	Style        string    `gorm:"not null"`
	Transparent  bool      `gorm:"not null"`
	CreditsUsed  int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index:idx_generations_created"`

	Images []GenerationImage `gorm:"foreignKey:GenerationID;references:GenerationID"`
}

func (GenerationRecord) TableName() string { return "generations" }

func (record *GenerationRecord) BeforeCreate(tx *gorm.DB) error {
	if record.GenerationID == "" {
		record.GenerationID = uuid.NewString()
	}
	return nil
}

// GenerationImage mirrors the generation_images table.
type GenerationImage struct {
	ImageID      string    `gorm:"type:uuid;primaryKey"`
	GenerationID string    `gorm:"type:uuid;not null;index"`
	URL          string    `gorm:"not null"`
	Prompt       string    `gorm:"not null"`
	Style        string    `gorm:"not null"`
	Transparent  bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (GenerationImage) TableName() string { return "generation_images" }

func (image *GenerationImage) BeforeCreate(tx *gorm.DB) error {
	if image.ImageID == "" {
		image.ImageID = uuid.NewString()
	}
	return nil
}
