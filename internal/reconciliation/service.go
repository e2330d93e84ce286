// Package reconciliation replays a paid checkout batch against the word ledger
// once the processor confirms payment.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/storyline-backend/internal/checkout"
	"github.com/angelmondragon/storyline-backend/internal/ledger"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	"github.com/angelmondragon/storyline-backend/pkg/metrics"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/angelmondragon/storyline-backend/pkg/outbox/payloads"
	pkgstripe "github.com/angelmondragon/storyline-backend/pkg/stripe"
)

const genericFailureReason = "action could not be applied"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type wordLedger interface {
	Write(ctx context.Context, input ledger.WriteInput) (*models.Word, error)
	Redact(ctx context.Context, id uuid.UUID, actor ledger.Actor) (*models.Word, error)
	Uncover(ctx context.Context, id uuid.UUID, actor ledger.Actor) (*models.Word, error)
}

type refundGateway interface {
	Refund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (*pkgstripe.RefundResult, error)
}

// Outcome describes what a confirmation did.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnknown   Outcome = "unknown_checkout"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCompleted Outcome = "completed"
)

// ServiceParams groups the collaborators of the reconciliation engine.
type ServiceParams struct {
	TransactionRunner txRunner
	Checkouts         checkout.Repository
	Ledger            wordLedger
	Refunds           refundGateway
	Outbox            outboxPublisher
	Metrics           *metrics.ReconciliationMetrics
	Logger            *logger.Logger
}

// Service is the payment reconciliation engine.
type Service struct {
	tx        txRunner
	checkouts checkout.Repository
	ledger    wordLedger
	refunds   refundGateway
	outbox    outboxPublisher
	metrics   *metrics.ReconciliationMetrics
	logg      *logger.Logger
}

// NewService validates and wires the engine.
func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Checkouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund gateway required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		tx:        params.TransactionRunner,
		checkouts: params.Checkouts,
		ledger:    params.Ledger,
		refunds:   params.Refunds,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// HandleEvent reconciles payment_intent.succeeded events and acknowledges every other type.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return OutcomeIgnored, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	return s.Reconcile(ctx, intent.ID)
}

// Reconcile applies the stored batch for paymentReference exactly once.
func (s *Service) Reconcile(ctx context.Context, paymentReference string) (Outcome, error) {
	ctx = s.logg.WithPaymentReference(ctx, paymentReference)

	record, err := s.checkouts.FindByPaymentReference(ctx, paymentReference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "confirmation for unknown checkout")
			return OutcomeUnknown, nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load checkout")
	}
	if record.Status != enums.CheckoutStatusPending {
		return OutcomeDuplicate, nil
	}

	claimed, err := s.checkouts.Claim(ctx, paymentReference)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim checkout")
	}
	if !claimed {
		return OutcomeDuplicate, nil
	}
	record.Status = enums.CheckoutStatusProcessing

	results := make(models.ActionResults, 0, len(record.CartActions))
	refundTotal := decimal.Zero
	for i, action := range record.CartActions {
		result := s.apply(ctx, record, i, action)
		if result.Outcome == enums.ActionOutcomeFailed {
			refundTotal = refundTotal.Add(action.Price)
		}
		s.metrics.ObserveAction(string(action.Type), string(result.Outcome))
		results = append(results, result)
	}

	record.Results = results
	record.RefundAmount = refundTotal
	record.RefundStatus = enums.RefundStatusNone
	if refundTotal.IsPositive() {
		s.issueRefund(ctx, record)
	}

	now := time.Now().UTC()
	record.CompletedAt = &now
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.checkouts.WithTx(tx).Complete(ctx, record); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, completedEvent(record))
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete checkout")
	}

	s.logg.Info(ctx, fmt.Sprintf("checkout reconciled (%d actions, refund %s)", len(results), refundTotal.StringFixed(2)))
	return OutcomeCompleted, nil
}

// apply runs one action in isolation; errors and panics become a failed result.
func (s *Service) apply(ctx context.Context, record *models.Checkout, index int, action models.CartAction) (result models.ActionResult) {
	result = models.ActionResult{
		Index:  index,
		Type:   action.Type,
		WordID: action.WordID,
		Price:  action.Price,
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logg.Error(ctx, fmt.Sprintf("reconcile action %d panicked", index), fmt.Errorf("panic: %v", recovered))
			result.Outcome = enums.ActionOutcomeFailed
			result.Reason = genericFailureReason
		}
	}()

	var (
		word *models.Word
		err  error
	)
	switch action.Type {
	case enums.ActionWrite:
		if action.Content == nil {
			err = pkgerrors.New(pkgerrors.CodeValidation, "write action has no content")
			break
		}
		reference := record.PaymentReference
		word, err = s.ledger.Write(ctx, ledger.WriteInput{
			Content:          *action.Content,
			PaymentReference: &reference,
			Fingerprint:      record.Fingerprint,
		})
	case enums.ActionRedact, enums.ActionUncover:
		if action.WordID == nil {
			err = pkgerrors.New(pkgerrors.CodeValidation, "action has no word id")
			break
		}
		if action.Type == enums.ActionRedact {
			word, err = s.ledger.Redact(ctx, *action.WordID, ledger.ActorUser)
		} else {
			word, err = s.ledger.Uncover(ctx, *action.WordID, ledger.ActorUser)
		}
	default:
		result.Outcome = enums.ActionOutcomeIgnored
		return result
	}

	if err != nil {
		result.Outcome = enums.ActionOutcomeFailed
		result.Reason = failureReason(err)
		s.logg.Warn(ctx, fmt.Sprintf("reconcile action %d (%s) failed: %v", index, action.Type, err))
		return result
	}
	if word != nil {
		id := word.ID
		result.WordID = &id
	}
	result.Outcome = enums.ActionOutcomeSucceeded
	return result
}

func (s *Service) issueRefund(ctx context.Context, record *models.Checkout) {
	record.RefundAttempts++
	cents, _ := pkgstripe.ToCents(record.RefundAmount)
	refund, err := s.refunds.Refund(ctx, record.PaymentReference, record.RefundAmount, RefundIdempotencyKey(record.ID))
	if err != nil {
		message := err.Error()
		record.RefundStatus = enums.RefundStatusFailed
		record.RefundError = &message
		s.metrics.ObserveRefund(metrics.RefundOutcomeFailed, cents)
		s.logg.Error(ctx, "refund issuance failed", err)
		return
	}
	record.RefundStatus = enums.RefundStatusIssued
	record.RefundError = nil
	if refund != nil && refund.ID != "" {
		id := refund.ID
		record.RefundReference = &id
	}
	s.metrics.ObserveRefund(metrics.RefundOutcomeIssued, cents)
}

// RetryRefund reissues a failed refund for a completed checkout.
func (s *Service) RetryRefund(ctx context.Context, record *models.Checkout) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout required")
	}
	if !record.RefundStatus.NeedsRetry() || !record.RefundAmount.IsPositive() {
		return nil
	}
	ctx = s.logg.WithPaymentReference(ctx, record.PaymentReference)
	s.issueRefund(ctx, record)
	err := s.checkouts.RecordRefund(ctx, record.ID, checkout.RefundRecord{
		Status:    record.RefundStatus,
		Reference: record.RefundReference,
		Error:     record.RefundError,
		Attempts:  record.RefundAttempts,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund")
	}
	if record.RefundStatus.NeedsRetry() {
		return pkgerrors.Newf(pkgerrors.CodeDependency, "refund for %s still failing", record.PaymentReference)
	}
	return nil
}

// RefundIdempotencyKey keeps retried refunds for one checkout from double-paying.
func RefundIdempotencyKey(checkoutID uuid.UUID) string {
	return "refund:" + checkoutID.String()
}

func failureReason(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return genericFailureReason
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound, pkgerrors.CodeConflict:
		return typed.Message()
	default:
		return genericFailureReason
	}
}

func completedEvent(record *models.Checkout) outbox.DomainEvent {
	summary := payloads.CheckoutCompletedEvent{
		CheckoutID:       record.ID,
		PaymentReference: record.PaymentReference,
		TotalAmount:      record.TotalAmount,
		RefundAmount:     record.RefundAmount,
		RefundStatus:     record.RefundStatus,
	}
	if record.CompletedAt != nil {
		summary.CompletedAt = *record.CompletedAt
	}
	for _, result := range record.Results {
		switch result.Outcome {
		case enums.ActionOutcomeSucceeded:
			summary.Succeeded++
		case enums.ActionOutcomeFailed:
			summary.Failed++
		case enums.ActionOutcomeIgnored:
			summary.Ignored++
		}
	}
	return outbox.DomainEvent{
		EventType:     enums.EventCheckoutCompleted,
		AggregateType: enums.AggregateCheckout,
		AggregateID:   record.ID,
		Actor:         &outbox.Actor{Kind: outbox.ActorReconciliation, Ref: record.PaymentReference},
		Data:          summary,
	}
}
