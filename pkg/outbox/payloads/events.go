package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storyline-backend/pkg/enums"
)

// WordPublishedEvent signals a word took its place in the story.
type WordPublishedEvent struct {
	WordID           uuid.UUID        `json:"word_id" validate:"required"`
	Position         int64            `json:"position" validate:"gt=0"`
	Status           enums.WordStatus `json:"status" validate:"required"`
	ContentLength    int              `json:"content_length" validate:"gte=0"`
	PaymentReference *string          `json:"payment_reference,omitempty"`
	PublishedAt      time.Time        `json:"published_at" validate:"required"`
}

// WordStatusChangedEvent is emitted for every ledger transition that changes status or position.
type WordStatusChangedEvent struct {
	WordID     uuid.UUID        `json:"word_id" validate:"required"`
	Operation  string           `json:"operation" validate:"required"`
	FromStatus enums.WordStatus `json:"from_status"`
	ToStatus   enums.WordStatus `json:"to_status" validate:"required"`
	Position   *int64           `json:"position,omitempty"`
	FlagCount  int              `json:"flag_count"`
}

// WordDeletedEvent reports an irreversible hard delete.
type WordDeletedEvent struct {
	WordID   uuid.UUID `json:"word_id" validate:"required"`
	Position *int64    `json:"position,omitempty"`
}

// CheckoutCompletedEvent summarizes a reconciled checkout.
type CheckoutCompletedEvent struct {
	CheckoutID       uuid.UUID          `json:"checkout_id" validate:"required"`
	PaymentReference string             `json:"payment_reference" validate:"required"`
	Succeeded        int                `json:"succeeded"`
	Failed           int                `json:"failed"`
	Ignored          int                `json:"ignored"`
	TotalAmount      decimal.Decimal    `json:"total_amount"`
	RefundAmount     decimal.Decimal    `json:"refund_amount"`
	RefundStatus     enums.RefundStatus `json:"refund_status"`
	CompletedAt      time.Time          `json:"completed_at"`
}
