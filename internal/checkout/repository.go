package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storyline-backend/pkg/db"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
)

const paymentReferenceConstraint = "checkouts_payment_reference_key"

// Repository persists checkouts and guards their status transitions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, checkout *models.Checkout) error
	FindByPaymentReference(ctx context.Context, reference string) (*models.Checkout, error)
	Claim(ctx context.Context, reference string) (bool, error)
	Complete(ctx context.Context, checkout *models.Checkout) error
	RecordRefund(ctx context.Context, id uuid.UUID, refund RefundRecord) error
	MarkFailed(ctx context.Context, reference string) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Checkout, error)
	ListRefundRetries(ctx context.Context, maxAttempts, limit int) ([]models.Checkout, error)
}

// RefundRecord is the funds-side outcome written back onto a checkout.
type RefundRecord struct {
	Status    enums.RefundStatus
	Reference *string
	Error     *string
	Attempts  int
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, checkout *models.Checkout) error {
	if err := r.db.WithContext(ctx).Create(checkout).Error; err != nil {
		if db.IsUniqueViolation(err, paymentReferenceConstraint) || db.IsUniqueViolation(err, "checkouts.payment_reference") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "checkout already exists for payment reference")
		}
		return err
	}
	return nil
}

func (r *repository) FindByPaymentReference(ctx context.Context, reference string) (*models.Checkout, error) {
	var checkout models.Checkout
	err := r.db.WithContext(ctx).
		Where("payment_reference = ?", reference).
		First(&checkout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found")
		}
		return nil, err
	}
	return &checkout, nil
}

// Claim moves a pending checkout to processing. It reports false when another
// delivery already claimed it.
func (r *repository) Claim(ctx context.Context, reference string) (bool, error) {
	return r.transition(ctx, reference, enums.CheckoutStatusPending, enums.CheckoutStatusProcessing)
}

// MarkFailed moves a pending checkout to failed when its intent was abandoned.
func (r *repository) MarkFailed(ctx context.Context, reference string) (bool, error) {
	return r.transition(ctx, reference, enums.CheckoutStatusPending, enums.CheckoutStatusFailed)
}

func (r *repository) transition(ctx context.Context, reference string, from, to enums.CheckoutStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Checkout{}).
		Where("payment_reference = ? AND status = ?", reference, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Complete(ctx context.Context, checkout *models.Checkout) error {
	now := time.Now().UTC()
	if checkout.CompletedAt == nil {
		checkout.CompletedAt = &now
	}
	checkout.Status = enums.CheckoutStatusCompleted
	checkout.UpdatedAt = now
	return r.db.WithContext(ctx).
		Model(&models.Checkout{}).
		Where("id = ?", checkout.ID).
		Updates(map[string]any{
			"status":           checkout.Status,
			"results":          checkout.Results,
			"refund_amount":    checkout.RefundAmount,
			"refund_status":    checkout.RefundStatus,
			"refund_reference": checkout.RefundReference,
			"refund_error":     checkout.RefundError,
			"refund_attempts":  checkout.RefundAttempts,
			"completed_at":     checkout.CompletedAt,
			"updated_at":       checkout.UpdatedAt,
		}).Error
}

func (r *repository) RecordRefund(ctx context.Context, id uuid.UUID, refund RefundRecord) error {
	return r.db.WithContext(ctx).
		Model(&models.Checkout{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"refund_status":    refund.Status,
			"refund_reference": refund.Reference,
			"refund_error":     refund.Error,
			"refund_attempts":  refund.Attempts,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Checkout, error) {
	var rows []models.Checkout
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.CheckoutStatusPending, olderThan.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListRefundRetries(ctx context.Context, maxAttempts, limit int) ([]models.Checkout, error) {
	var rows []models.Checkout
	err := r.db.WithContext(ctx).
		Where("status = ? AND refund_status = ? AND refund_attempts < ? AND refund_amount > 0",
			enums.CheckoutStatusCompleted, enums.RefundStatusFailed, maxAttempts).
		Order("completed_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
