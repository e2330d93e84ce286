package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/storyline-backend/api/responses"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

const adminTokenHeader = "X-Admin-Token"

type adminAuthorizer interface {
	Authorize(ctx context.Context, ip, token string) error
}

// AdminGate admits a request only when the gate accepts its address and token.
// Rejections are written as the gate reports them, so a denied caller sees the
// same response as an unknown route.
func AdminGate(gate adminAuthorizer, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := strings.TrimSpace(r.Header.Get(adminTokenHeader))
			if err := gate.Authorize(ctx, requestIP(r), token); err != nil {
				responses.WriteError(ctx, nil, w, err)
				return
			}
			if logg != nil {
				ctx = logg.WithField(ctx, "admin", true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
