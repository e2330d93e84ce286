package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storyline-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storyline-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storyline-backend/api/middleware"
	"github.com/angelmondragon/storyline-backend/internal/admin"
	"github.com/angelmondragon/storyline-backend/internal/checkout"
	"github.com/angelmondragon/storyline-backend/internal/ledger"
	"github.com/angelmondragon/storyline-backend/pkg/config"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

// RedisStore is the slice of the redis client the HTTP surface relies on.
type RedisStore interface {
	middleware.IdempotencyStore
	controllers.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type storyService interface {
	Story(ctx context.Context, query ledger.StoryQuery) ([]ledger.StoryWord, error)
	Flag(ctx context.Context, id uuid.UUID, fingerprint string) (*ledger.FlagResult, error)
}

type fingerprinter interface {
	Derive(ip, deviceToken string) (string, error)
}

type checkoutService interface {
	Create(ctx context.Context, input checkout.CreateInput) (*checkout.CreateResult, error)
	Status(ctx context.Context, paymentReference string) (*checkout.StatusView, error)
}

type adminGate interface {
	Authorize(ctx context.Context, ip, token string) error
}

type adminExecutor interface {
	Execute(ctx context.Context, req admin.ActionRequest) (*admin.ActionResult, error)
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type signingClient interface {
	SigningSecret() string
}

// Dependencies are the services mounted on the router.
type Dependencies struct {
	DB             controllers.Pinger
	Redis          RedisStore
	Gatherer       prometheus.Gatherer
	Story          storyService
	Fingerprints   fingerprinter
	Checkouts      checkoutService
	AdminGate      adminGate
	AdminActions   adminExecutor
	Stripe         signingClient
	StripeWebhooks webhookcontrollers.StripeWebhookService
	WebhookGuard   webhookGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.RealIP(cfg.App.TrustProxy),
		middleware.Logging(logg),
	)

	flagPolicy := middleware.NewRateLimitPolicy("flags", cfg.RateLimit.FlagWindow, cfg.RateLimit.FlagIPLimit)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkouts", cfg.RateLimit.CheckoutWindow, cfg.RateLimit.CheckoutLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, deps.Stripe, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/story", controllers.Story(deps.Story, logg))
		r.With(middleware.RateLimit(flagPolicy, deps.Redis, logg)).
			Post("/words/{wordId}/flags", controllers.FlagWord(deps.Story, deps.Fingerprints, logg))
		r.With(middleware.RateLimit(checkoutPolicy, deps.Redis, logg)).
			Post("/checkouts", controllers.CreateCheckout(deps.Checkouts, deps.Fingerprints, logg))
		r.Get("/checkouts/{paymentReference}", controllers.CheckoutStatus(deps.Checkouts, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.AdminGate(deps.AdminGate, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))
		r.Post("/actions", controllers.AdminAction(deps.AdminActions, logg))
	})

	return r
}
