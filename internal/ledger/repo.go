package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dialectPostgres = "postgres"

// Repository manages persistence for words, their flag records and the position sequence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Word, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Word, error)
	Create(ctx context.Context, word *models.Word) error
	Save(ctx context.Context, word *models.Word) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListStory(ctx context.Context, after int64, limit int) ([]models.Word, error)

	NextPosition(ctx context.Context) (int64, error)
	MaxPosition(ctx context.Context) (int64, error)
	RaiseSequence(ctx context.Context) error
	DeferPositionCheck(ctx context.Context) error
	ShiftRange(ctx context.Context, from, to, delta int64) error
	LinebreakWithin(ctx context.Context, position, spacing int64) (bool, error)

	HasFlag(ctx context.Context, wordID uuid.UUID, fingerprint string) (bool, error)
	CountFlagsByFingerprint(ctx context.Context, fingerprint string) (int64, error)
	CreateFlag(ctx context.Context, flag *models.WordFlag) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a word repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) isPostgres() bool {
	return r.db.Dialector != nil && r.db.Dialector.Name() == dialectPostgres
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return r.find(ctx, id, false)
}

// LockByID loads the word holding a row lock for the rest of the transaction.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Word, error) {
	return r.find(ctx, id, true)
}

func (r *repository) find(ctx context.Context, id uuid.UUID, lock bool) (*models.Word, error) {
	query := r.db.WithContext(ctx)
	if lock && r.isPostgres() {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var word models.Word
	if err := query.Where("id = ?", id).First(&word).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "word not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load word")
	}
	return &word, nil
}

func (r *repository) Create(ctx context.Context, word *models.Word) error {
	return r.db.WithContext(ctx).Create(word).Error
}

// Save writes every mutable column of the word.
func (r *repository) Save(ctx context.Context, word *models.Word) error {
	word.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Word{}).
		Where("id = ?", word.ID).
		Updates(map[string]any{
			"position":         word.Position,
			"content":          word.Content,
			"withheld_content": word.WithheldContent,
			"content_length":   word.ContentLength,
			"flag_count":       word.FlagCount,
			"status":           word.Status,
			"created_at":       word.CreatedAt,
			"updated_at":       word.UpdatedAt,
		}).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("word_id = ?", id).Delete(&models.WordFlag{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&models.Word{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "word not found")
	}
	return nil
}

// ListStory returns published words after the given position in story order.
func (r *repository) ListStory(ctx context.Context, after int64, limit int) ([]models.Word, error) {
	query := r.db.WithContext(ctx).
		Where("status <> ?", enums.WordStatusPending).
		Where("position IS NOT NULL").
		Where("position > ?", after).
		Order("position ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var words []models.Word
	if err := query.Find(&words).Error; err != nil {
		return nil, err
	}
	return words, nil
}

func (r *repository) HasFlag(ctx context.Context, wordID uuid.UUID, fingerprint string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WordFlag{}).
		Where("word_id = ? AND fingerprint = ?", wordID, fingerprint).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CountFlagsByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WordFlag{}).
		Where("fingerprint = ?", fingerprint).
		Count(&count).Error
	return count, err
}

func (r *repository) CreateFlag(ctx context.Context, flag *models.WordFlag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}
