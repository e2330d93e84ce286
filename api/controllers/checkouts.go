package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storyline-backend/api/middleware"
	"github.com/angelmondragon/storyline-backend/api/responses"
	"github.com/angelmondragon/storyline-backend/api/validators"
	"github.com/angelmondragon/storyline-backend/internal/checkout"
	"github.com/angelmondragon/storyline-backend/pkg/db/models"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

type checkoutService interface {
	Create(ctx context.Context, input checkout.CreateInput) (*checkout.CreateResult, error)
	Status(ctx context.Context, paymentReference string) (*checkout.StatusView, error)
}

type checkoutRequest struct {
	Actions     []models.CartAction `json:"actions"`
	Total       decimal.Decimal     `json:"total"`
	DeviceToken string              `json:"device_token,omitempty" validate:"omitempty,max=128"`
}

// CreateCheckout validates the action batch and opens a payment intent for it.
func CreateCheckout(svc checkoutService, fp fingerprinter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := checkout.CreateInput{
			Actions:        req.Actions,
			Total:          req.Total,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
		}
		if req.DeviceToken != "" && fp != nil {
			fingerprint, err := fp.Derive(middleware.ClientIPFromContext(ctx), req.DeviceToken)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			input.Fingerprint = &fingerprint
		}

		result, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CheckoutStatus reports the checkout state and, once completed, its results.
func CheckoutStatus(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reference, err := validators.PathParam(r, "paymentReference", "payment reference")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.Status(ctx, reference)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
