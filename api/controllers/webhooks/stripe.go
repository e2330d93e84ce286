package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storyline-backend/api/responses"
	"github.com/angelmondragon/storyline-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/storyline-backend/pkg/errors"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/storyline-backend/pkg/stripe"
)

const (
	maxWebhookBody      = 1 << 20
	guardReleaseTimeout = 3 * time.Second
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (reconciliation.Outcome, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

type webhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// StripeWebhook verifies and reconciles payment confirmations.
//
// Only an unreadable body or a bad signature is refused. Every verified event
// is acknowledged so the processor stops redelivering; when reconciliation
// fails the dedupe mark is dropped and the checkout sweep picks the payment up.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		event, err := verifiedEvent(w, r, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID,
				"event_type": string(event.Type),
			})
		}

		if claimed := claimEvent(ctx, guard, event.ID, logg); !claimed {
			responses.WriteSuccess(w, webhookAck{Received: true, Outcome: string(reconciliation.OutcomeDuplicate)})
			return
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			releaseEvent(ctx, guard, event.ID, logg)
			if logg != nil {
				logg.Error(ctx, "stripe event reconciliation failed", err)
			}
			responses.WriteSuccess(w, webhookAck{Received: true})
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "stripe event processed")
		}
		responses.WriteSuccess(w, webhookAck{Received: true, Outcome: string(outcome)})
	}
}

func verifiedEvent(w http.ResponseWriter, r *http.Request, secret string) (stripe.Event, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large")
		}
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	event, err := pkgstripe.VerifyEvent(payload, r.Header.Get("Stripe-Signature"), secret)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature")
	}
	return event, nil
}

// claimEvent reports false only for an event already being or already
// handled. A guard outage lets the event through.
func claimEvent(ctx context.Context, guard stripeWebhookGuard, eventID string, logg *logger.Logger) bool {
	if guard == nil {
		return true
	}
	seen, err := guard.CheckAndMark(ctx, eventID)
	if err != nil {
		if logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "stripe event guard unavailable")
		}
		return true
	}
	return !seen
}

func releaseEvent(ctx context.Context, guard stripeWebhookGuard, eventID string, logg *logger.Logger) {
	if guard == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), guardReleaseTimeout)
	defer cancel()
	if err := guard.Release(releaseCtx, eventID); err != nil && logg != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "stripe event guard release failed")
	}
}
