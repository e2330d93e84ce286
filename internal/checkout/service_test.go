package checkout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storyline-backend/pkg/db"
	"github.com/angelmondragon/storyline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/storyline-backend/pkg/stripe"
)

type fakeIntents struct {
	created   []pkgstripe.IntentParams
	cancelled []string
	err       error
}

func (f *fakeIntents) CreateIntent(ctx context.Context, params pkgstripe.IntentParams) (*pkgstripe.Intent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, params)
	id := "pi_" + uuid.NewString()
	return &pkgstripe.Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *fakeIntents) CancelIntent(ctx context.Context, id string) (*pkgstripe.Intent, error) {
	f.cancelled = append(f.cancelled, id)
	return &pkgstripe.Intent{ID: id}, nil
}

func newCheckoutService(t *testing.T, gateway intentGateway) (*db.Client, Service) {
	t.Helper()
	client := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	svc, err := NewService(client, NewRepository(client.DB()), gateway, NewValidator(price("0.50"), 0), logg)
	require.NoError(t, err)
	return client, svc
}

func TestCreatePersistsPendingCheckout(t *testing.T) {
	gateway := &fakeIntents{}
	client, svc := newCheckoutService(t, gateway)
	ctx := context.Background()

	target := uuid.New()
	result, err := svc.Create(ctx, CreateInput{
		Actions: []models.CartAction{
			writeAction("hello", "1.00"),
			targetAction(enums.ActionRedact, target, "2.00"),
		},
		Total:          price("3.00"),
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutStatusPending, result.Status)
	require.NotEmpty(t, result.ClientSecret)
	require.Len(t, gateway.created, 1)
	require.True(t, gateway.created[0].Amount.Equal(price("3")))
	require.Equal(t, "idem-1", gateway.created[0].IdempotencyKey)

	stored, err := NewRepository(client.DB()).FindByPaymentReference(ctx, result.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutStatusPending, stored.Status)
	require.Len(t, stored.CartActions, 2)
	require.Equal(t, enums.ActionRedact, stored.CartActions[1].Type)
	require.Equal(t, target, *stored.CartActions[1].WordID)
	require.True(t, stored.TotalAmount.Equal(price("3")))
	require.True(t, stored.RefundAmount.IsZero())
	require.Equal(t, enums.RefundStatusNone, stored.RefundStatus)
}

func TestCreateRejectsInvalidBatchBeforeIntent(t *testing.T) {
	gateway := &fakeIntents{}
	_, svc := newCheckoutService(t, gateway)
	shared := uuid.New()

	_, err := svc.Create(context.Background(), CreateInput{
		Actions: []models.CartAction{
			targetAction(enums.ActionRedact, shared, "1.00"),
			targetAction(enums.ActionUncover, shared, "1.00"),
		},
		Total: price("2.00"),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Empty(t, gateway.created)
}

func TestCreateSurfacesProcessorFailure(t *testing.T) {
	gateway := &fakeIntents{err: errors.New("card network down")}
	client, svc := newCheckoutService(t, gateway)

	_, err := svc.Create(context.Background(), CreateInput{
		Actions: []models.CartAction{writeAction("hello", "1.00")},
		Total:   price("1.00"),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var count int64
	require.NoError(t, client.DB().Model(&models.Checkout{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestStatusHidesResultsUntilCompleted(t *testing.T) {
	gateway := &fakeIntents{}
	client, svc := newCheckoutService(t, gateway)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		Actions: []models.CartAction{writeAction("hello", "1.00")},
		Total:   price("1.00"),
	})
	require.NoError(t, err)

	view, err := svc.Status(ctx, created.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutStatusPending, view.Status)
	require.Nil(t, view.Results)

	repo := NewRepository(client.DB())
	stored, err := repo.FindByPaymentReference(ctx, created.PaymentReference)
	require.NoError(t, err)
	claimed, err := repo.Claim(ctx, created.PaymentReference)
	require.NoError(t, err)
	require.True(t, claimed)

	stored.Results = models.ActionResults{{Index: 0, Type: enums.ActionWrite, Outcome: enums.ActionOutcomeSucceeded, Price: price("1.00")}}
	require.NoError(t, repo.Complete(ctx, stored))

	view, err = svc.Status(ctx, created.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutStatusCompleted, view.Status)
	require.Len(t, view.Results, 1)
	require.NotNil(t, view.CompletedAt)

	_, err = svc.Status(ctx, "pi_missing")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRepositoryClaimIsSingleShot(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	checkout := &models.Checkout{
		PaymentReference: "pi_claim",
		Status:           enums.CheckoutStatusPending,
		CartActions:      models.CartActions{writeAction("hi", "1.00")},
		TotalAmount:      price("1.00"),
	}
	require.NoError(t, repo.Create(ctx, checkout))

	first, err := repo.Claim(ctx, "pi_claim")
	require.NoError(t, err)
	require.True(t, first)
	second, err := repo.Claim(ctx, "pi_claim")
	require.NoError(t, err)
	require.False(t, second)

	failed, err := repo.MarkFailed(ctx, "pi_claim")
	require.NoError(t, err)
	require.False(t, failed)

	dup := &models.Checkout{
		PaymentReference: "pi_claim",
		Status:           enums.CheckoutStatusPending,
		CartActions:      models.CartActions{writeAction("hi", "1.00")},
		TotalAmount:      price("1.00"),
	}
	require.True(t, pkgerrors.IsCode(repo.Create(ctx, dup), pkgerrors.CodeConflict))
}

func TestRepositoryListsStaleAndRefundRetries(t *testing.T) {
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	old := &models.Checkout{
		PaymentReference: "pi_old",
		Status:           enums.CheckoutStatusPending,
		CartActions:      models.CartActions{writeAction("hi", "1.00")},
		TotalAmount:      price("1.00"),
		CreatedAt:        time.Now().UTC().Add(-48 * time.Hour),
	}
	fresh := &models.Checkout{
		PaymentReference: "pi_fresh",
		Status:           enums.CheckoutStatusPending,
		CartActions:      models.CartActions{writeAction("hi", "1.00")},
		TotalAmount:      price("1.00"),
	}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	stale, err := repo.ListStalePending(ctx, time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "pi_old", stale[0].PaymentReference)

	claimed, err := repo.Claim(ctx, "pi_fresh")
	require.NoError(t, err)
	require.True(t, claimed)
	fresh.RefundAmount = price("1.00")
	fresh.RefundStatus = enums.RefundStatusFailed
	fresh.RefundAttempts = 1
	require.NoError(t, repo.Complete(ctx, fresh))

	retries, err := repo.ListRefundRetries(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, retries, 1)
	require.Equal(t, "pi_fresh", retries[0].PaymentReference)

	reference := "re_1"
	require.NoError(t, repo.RecordRefund(ctx, fresh.ID, RefundRecord{Status: enums.RefundStatusIssued, Reference: &reference, Attempts: 2}))
	retries, err = repo.ListRefundRetries(ctx, 5, 10)
	require.NoError(t, err)
	require.Empty(t, retries)
}
