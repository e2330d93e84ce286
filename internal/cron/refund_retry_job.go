package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

const (
	defaultMaxRefundAttempts = 5
	defaultRefundBatch       = 50
)

type refundRetries interface {
	ListRefundRetries(ctx context.Context, maxAttempts, limit int) ([]models.Checkout, error)
}

type refundRetrier interface {
	RetryRefund(ctx context.Context, record *models.Checkout) error
}

type RefundRetryJobParams struct {
	Logger      *logger.Logger
	Checkouts   refundRetries
	Refunds     refundRetrier
	MaxAttempts int
	BatchSize   int
}

// NewRefundRetryJob reissues refunds that failed during reconciliation until
// the attempt budget is spent.
func NewRefundRetryJob(params RefundRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkouts == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund retrier required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxRefundAttempts
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRefundBatch
	}
	return &refundRetryJob{
		logg:        params.Logger,
		checkouts:   params.Checkouts,
		refunds:     params.Refunds,
		maxAttempts: maxAttempts,
		batch:       batch,
	}, nil
}

type refundRetryJob struct {
	logg        *logger.Logger
	checkouts   refundRetries
	refunds     refundRetrier
	maxAttempts int
	batch       int
}

func (j *refundRetryJob) Name() string { return "refund-retry" }

func (j *refundRetryJob) Run(ctx context.Context) error {
	pending, err := j.checkouts.ListRefundRetries(ctx, j.maxAttempts, j.batch)
	if err != nil {
		return fmt.Errorf("list refund retries: %w", err)
	}
	var errs error
	for i := range pending {
		record := &pending[i]
		if err := j.refunds.RetryRefund(ctx, record); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", record.PaymentReference, err))
			if record.RefundAttempts >= j.maxAttempts {
				j.logg.Error(j.logg.WithPaymentReference(ctx, record.PaymentReference), "refund attempts exhausted", err)
			}
		}
	}
	return errs
}
