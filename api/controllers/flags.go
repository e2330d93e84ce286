package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/storyline-backend/api/middleware"
	"github.com/angelmondragon/storyline-backend/api/responses"
	"github.com/angelmondragon/storyline-backend/api/validators"
	"github.com/angelmondragon/storyline-backend/internal/ledger"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

type wordFlagger interface {
	Flag(ctx context.Context, id uuid.UUID, fingerprint string) (*ledger.FlagResult, error)
}

type fingerprinter interface {
	Derive(ip, deviceToken string) (string, error)
}

type flagRequest struct {
	DeviceToken string `json:"device_token" validate:"required,max=128"`
}

// FlagWord records an anonymous flag from the caller's fingerprint.
func FlagWord(svc wordFlagger, fp fingerprinter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		wordID, err := validators.ParseUUIDParam(r, "wordId", "word id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithWordID(ctx, wordID.String())
		}

		var req flagRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		fingerprint, err := fp.Derive(middleware.ClientIPFromContext(ctx), req.DeviceToken)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Flag(ctx, wordID, fingerprint)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
