package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WordFlag records that one fingerprint flagged one word. Insert only.
type WordFlag struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	WordID      uuid.UUID `gorm:"column:word_id;type:uuid;not null"`
	Fingerprint string    `gorm:"column:fingerprint;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (WordFlag) TableName() string { return "word_flags" }

func (f *WordFlag) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return nil
}
