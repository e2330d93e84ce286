package checkout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/storyline-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type intentGateway interface {
	CreateIntent(ctx context.Context, params pkgstripe.IntentParams) (*pkgstripe.Intent, error)
	CancelIntent(ctx context.Context, id string) (*pkgstripe.Intent, error)
}

// Service creates checkouts and reports their reconciliation outcome.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Status(ctx context.Context, paymentReference string) (*StatusView, error)
}

// CreateInput is a submitted batch of paid actions.
type CreateInput struct {
	Actions        []models.CartAction
	Total          decimal.Decimal
	IdempotencyKey string
	Fingerprint    *string
}

// CreateResult is the client-usable payment handle.
type CreateResult struct {
	PaymentReference string               `json:"payment_reference"`
	ClientSecret     string               `json:"client_secret"`
	Status           enums.CheckoutStatus `json:"status"`
}

// StatusView is returned to clients polling a checkout.
type StatusView struct {
	PaymentReference string               `json:"payment_reference"`
	Status           enums.CheckoutStatus `json:"status"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	RefundAmount     decimal.Decimal      `json:"refund_amount"`
	RefundStatus     enums.RefundStatus   `json:"refund_status"`
	Results          models.ActionResults `json:"results,omitempty"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
}

type service struct {
	tx        txRunner
	repo      Repository
	gateway   intentGateway
	validator *Validator
	logg      *logger.Logger
}

// NewService wires checkout creation.
func NewService(tx txRunner, repo Repository, gateway intentGateway, validator *Validator, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if validator == nil {
		return nil, fmt.Errorf("checkout validator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:        tx,
		repo:      repo,
		gateway:   gateway,
		validator: validator,
		logg:      logg,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if err := s.validator.Validate(input.Actions, input.Total); err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, pkgstripe.IntentParams{
		Amount:         input.Total,
		IdempotencyKey: input.IdempotencyKey,
		Metadata: map[string]string{
			"action_count": strconv.Itoa(len(input.Actions)),
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}
	ctx = s.logg.WithPaymentReference(ctx, intent.ID)

	checkout := &models.Checkout{
		PaymentReference: intent.ID,
		Status:           enums.CheckoutStatusPending,
		CartActions:      models.CartActions(input.Actions),
		TotalAmount:      input.Total,
		RefundAmount:     decimal.Zero,
		RefundStatus:     enums.RefundStatusNone,
		Fingerprint:      input.Fingerprint,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, checkout)
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			// The processor replayed an idempotent intent; hand back the stored checkout.
			existing, findErr := s.repo.FindByPaymentReference(ctx, intent.ID)
			if findErr == nil {
				return &CreateResult{PaymentReference: existing.PaymentReference, ClientSecret: intent.ClientSecret, Status: existing.Status}, nil
			}
		}
		s.logg.Error(ctx, "failed to persist checkout", err)
		if _, cancelErr := s.gateway.CancelIntent(ctx, intent.ID); cancelErr != nil {
			s.logg.Error(ctx, "failed to cancel orphaned payment intent", cancelErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist checkout")
	}

	s.logg.Info(ctx, "checkout created")
	return &CreateResult{
		PaymentReference: checkout.PaymentReference,
		ClientSecret:     intent.ClientSecret,
		Status:           checkout.Status,
	}, nil
}

func (s *service) Status(ctx context.Context, paymentReference string) (*StatusView, error) {
	if paymentReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	checkout, err := s.repo.FindByPaymentReference(ctx, paymentReference)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		PaymentReference: checkout.PaymentReference,
		Status:           checkout.Status,
		TotalAmount:      checkout.TotalAmount,
		RefundAmount:     checkout.RefundAmount,
		RefundStatus:     checkout.RefundStatus,
		CompletedAt:      checkout.CompletedAt,
	}
	if checkout.Status == enums.CheckoutStatusCompleted {
		view.Results = checkout.Results
	}
	return view, nil
}
