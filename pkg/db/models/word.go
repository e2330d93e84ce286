package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storyline-backend/pkg/enums"
)

// Word is one positioned unit of the story.
type Word struct {
	ID               uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Position         *int64           `gorm:"column:position" json:"position"`
	Content          *string          `gorm:"column:content" json:"content"`
	WithheldContent  *string          `gorm:"column:withheld_content" json:"withheld_content,omitempty"`
	ContentLength    int              `gorm:"column:content_length;not null;default:0" json:"content_length"`
	FlagCount        int              `gorm:"column:flag_count;not null;default:0" json:"flag_count"`
	Status           enums.WordStatus `gorm:"column:status;type:word_status;not null" json:"status"`
	PaymentReference *string          `gorm:"column:payment_reference" json:"payment_reference,omitempty"`
	Fingerprint      *string          `gorm:"column:fingerprint" json:"-"`
	CreatedAt        time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (Word) TableName() string { return "words" }

// BeforeCreate assigns identifiers and timestamps in Go so inserts behave the
// same on Postgres and SQLite.
func (w *Word) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = now
	}
	return nil
}

// Text returns whichever copy of the content the word currently holds.
func (w Word) Text() string {
	if w.Content != nil {
		return *w.Content
	}
	if w.WithheldContent != nil {
		return *w.WithheldContent
	}
	return ""
}
