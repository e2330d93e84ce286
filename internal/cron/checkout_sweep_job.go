package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storyline-backend/internal/reconciliation"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/storyline-backend/pkg/stripe"
)

const (
	defaultPendingTTL = 24 * time.Hour
	defaultSweepBatch = 100
)

type staleCheckouts interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Checkout, error)
	MarkFailed(ctx context.Context, reference string) (bool, error)
}

type intentLookup interface {
	GetIntent(ctx context.Context, id string) (*pkgstripe.Intent, error)
	CancelIntent(ctx context.Context, id string) (*pkgstripe.Intent, error)
}

type confirmationReplayer interface {
	Reconcile(ctx context.Context, paymentReference string) (reconciliation.Outcome, error)
}

type CheckoutSweepJobParams struct {
	Logger     *logger.Logger
	Checkouts  staleCheckouts
	Intents    intentLookup
	Reconciler confirmationReplayer
	PendingTTL time.Duration
	BatchSize  int
}

// NewCheckoutSweepJob settles checkouts left pending past the TTL. A paid
// intent whose webhook never arrived is reconciled; anything else is
// cancelled at the processor and marked failed.
func NewCheckoutSweepJob(params CheckoutSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkouts == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent gateway required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &checkoutSweepJob{
		logg:       params.Logger,
		checkouts:  params.Checkouts,
		intents:    params.Intents,
		reconciler: params.Reconciler,
		ttl:        ttl,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type checkoutSweepJob struct {
	logg       *logger.Logger
	checkouts  staleCheckouts
	intents    intentLookup
	reconciler confirmationReplayer
	ttl        time.Duration
	batch      int
	now        func() time.Time
}

func (j *checkoutSweepJob) Name() string { return "checkout-sweep" }

func (j *checkoutSweepJob) Run(ctx context.Context) error {
	stale, err := j.checkouts.ListStalePending(ctx, j.now().UTC().Add(-j.ttl), j.batch)
	if err != nil {
		return fmt.Errorf("list stale checkouts: %w", err)
	}
	var errs error
	for _, record := range stale {
		if err := j.settle(ctx, record.PaymentReference); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", record.PaymentReference, err))
		}
	}
	return errs
}

func (j *checkoutSweepJob) settle(ctx context.Context, reference string) error {
	ctx = j.logg.WithPaymentReference(ctx, reference)
	intent, err := j.intents.GetIntent(ctx, reference)
	if err != nil {
		return err
	}
	if intent.Succeeded() {
		outcome, err := j.reconciler.Reconcile(ctx, reference)
		if err != nil {
			return err
		}
		j.logg.Warn(ctx, fmt.Sprintf("reconciled checkout with missed confirmation (%s)", outcome))
		return nil
	}
	if !intent.Canceled() {
		if _, err := j.intents.CancelIntent(ctx, reference); err != nil {
			return err
		}
	}
	if _, err := j.checkouts.MarkFailed(ctx, reference); err != nil {
		return err
	}
	j.logg.Info(ctx, "abandoned checkout marked failed")
	return nil
}
