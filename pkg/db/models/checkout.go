package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/storyline-backend/pkg/db/types"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
)

// CartAction is one paid action as submitted at checkout time.
type CartAction struct {
	Type    enums.ActionType `json:"type"`
	WordID  *uuid.UUID       `json:"word_id,omitempty"`
	Content *string          `json:"content,omitempty"`
	Price   decimal.Decimal  `json:"price"`
}

// CartActions is the immutable ordered batch stored on a checkout.
type CartActions []CartAction

func (c CartActions) Value() (driver.Value, error) {
	if c == nil {
		return dbtypes.JSONValue([]CartAction{})
	}
	return dbtypes.JSONValue([]CartAction(c))
}

func (c *CartActions) Scan(src any) error {
	return dbtypes.ScanJSON(src, (*[]CartAction)(c))
}

// ActionResult is the reconciliation outcome of one CartAction.
type ActionResult struct {
	Index   int                 `json:"index"`
	Type    enums.ActionType    `json:"type"`
	WordID  *uuid.UUID          `json:"word_id,omitempty"`
	Outcome enums.ActionOutcome `json:"outcome"`
	Reason  string              `json:"reason,omitempty"`
	Price   decimal.Decimal     `json:"price"`
}

// Succeeded reports whether the action was applied.
func (r ActionResult) Succeeded() bool {
	return r.Outcome == enums.ActionOutcomeSucceeded
}

// ActionResults is the per-action outcome list stored on completion.
type ActionResults []ActionResult

func (r ActionResults) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return dbtypes.JSONValue([]ActionResult(r))
}

func (r *ActionResults) Scan(src any) error {
	return dbtypes.ScanJSON(src, (*[]ActionResult)(r))
}

// Checkout is the durable record of one payment intent and its action batch.
type Checkout struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PaymentReference string               `gorm:"column:payment_reference;not null;uniqueIndex"`
	Status           enums.CheckoutStatus `gorm:"column:status;type:checkout_status;not null"`
	CartActions      CartActions          `gorm:"column:cart_actions;type:jsonb;not null"`
	Results          ActionResults        `gorm:"column:results;type:jsonb"`
	TotalAmount      decimal.Decimal      `gorm:"column:total_amount;type:numeric(10,2);not null"`
	RefundAmount     decimal.Decimal      `gorm:"column:refund_amount;type:numeric(10,2);not null;default:0"`
	RefundStatus     enums.RefundStatus   `gorm:"column:refund_status;type:refund_status;not null;default:'none'"`
	RefundReference  *string              `gorm:"column:refund_reference"`
	RefundError      *string              `gorm:"column:refund_error"`
	RefundAttempts   int                  `gorm:"column:refund_attempts;not null;default:0"`
	Fingerprint      *string              `gorm:"column:fingerprint"`
	CreatedAt        time.Time            `gorm:"column:created_at"`
	UpdatedAt        time.Time            `gorm:"column:updated_at"`
	CompletedAt      *time.Time           `gorm:"column:completed_at"`
}

func (Checkout) TableName() string { return "checkouts" }

func (c *Checkout) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.RefundStatus == "" {
		c.RefundStatus = enums.RefundStatusNone
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return nil
}
