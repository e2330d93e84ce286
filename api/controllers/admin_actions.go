package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storyline-backend/api/responses"
	"github.com/angelmondragon/storyline-backend/api/validators"
	"github.com/angelmondragon/storyline-backend/internal/admin"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

type actionExecutor interface {
	Execute(ctx context.Context, req admin.ActionRequest) (*admin.ActionResult, error)
}

// AdminAction runs one administrative command against the ledger.
func AdminAction(exec actionExecutor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req admin.ActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithField(ctx, "admin_action", req.Action)
			if req.WordID != nil {
				ctx = logg.WithWordID(ctx, req.WordID.String())
			}
		}

		result, err := exec.Execute(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(ctx, "admin action applied")
		}
		responses.WriteSuccess(w, result)
	}
}
