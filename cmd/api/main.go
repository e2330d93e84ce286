package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storyline-backend/api/routes"
	"github.com/angelmondragon/storyline-backend/internal/admin"
	"github.com/angelmondragon/storyline-backend/internal/checkout"
	"github.com/angelmondragon/storyline-backend/internal/ledger"
	"github.com/angelmondragon/storyline-backend/internal/reconciliation"
	"github.com/angelmondragon/storyline-backend/pkg/config"
	"github.com/angelmondragon/storyline-backend/pkg/db"
	"github.com/angelmondragon/storyline-backend/pkg/fingerprint"
	"github.com/angelmondragon/storyline-backend/pkg/instance"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	"github.com/angelmondragon/storyline-backend/pkg/metrics"
	"github.com/angelmondragon/storyline-backend/pkg/migrate"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/angelmondragon/storyline-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storyline-backend/pkg/stripe"
)

const (
	webhookGuardTTL = 72 * time.Hour
	shutdownTimeout = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	requireResource(logg, "stripe client", err)
	gateway := pkgstripe.NewGateway(stripeClient)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerService, err := ledger.NewService(dbClient, ledger.NewRepository(dbClient.DB()), outboxService, ledger.Options{
		MaxFlagsPerWord:        cfg.Moderation.MaxFlagsPerWord,
		MaxFlagsPerFingerprint: cfg.Moderation.MaxFlagsPerFingerprint,
		OpacityCeiling:         cfg.Moderation.OpacityCeiling,
		LinebreakSpacing:       int64(cfg.Admin.LineBreakSpace),
	})
	requireResource(logg, "ledger service", err)

	minimum, err := cfg.Checkout.MinimumCharge()
	requireResource(logg, "checkout minimum", err)
	checkoutRepo := checkout.NewRepository(dbClient.DB())
	checkoutService, err := checkout.NewService(dbClient, checkoutRepo, gateway, checkout.NewValidator(minimum, cfg.Checkout.MaxActions), logg)
	requireResource(logg, "checkout service", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reconciler, err := reconciliation.NewService(reconciliation.ServiceParams{
		TransactionRunner: dbClient,
		Checkouts:         checkoutRepo,
		Ledger:            ledgerService,
		Refunds:           gateway,
		Outbox:            outboxService,
		Metrics:           metrics.NewReconciliationMetrics(registry),
		Logger:            logg,
	})
	requireResource(logg, "reconciliation service", err)

	guard, err := reconciliation.NewEventGuard(redisClient, webhookGuardTTL, "stripe-webhook")
	requireResource(logg, "webhook guard", err)

	fingerprints, err := fingerprint.New(cfg.Fingerprint.Secret)
	requireResource(logg, "fingerprint service", err)

	gate, err := admin.NewGate(admin.OptionsFromConfig(cfg.Admin), adminFailureStore(cfg.Admin, redisClient), logg)
	requireResource(logg, "admin gate", err)
	dispatcher, err := admin.NewDispatcher(ledgerService)
	requireResource(logg, "admin dispatcher", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.GetID(),
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:             dbClient,
			Redis:          redisClient,
			Gatherer:       registry,
			Story:          ledgerService,
			Fingerprints:   fingerprints,
			Checkouts:      checkoutService,
			AdminGate:      gate,
			AdminActions:   dispatcher,
			Stripe:         stripeClient,
			StripeWebhooks: reconciler,
			WebhookGuard:   guard,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func adminFailureStore(cfg config.AdminConfig, client *redis.Client) admin.FailureStore {
	if strings.EqualFold(strings.TrimSpace(cfg.ThrottleStore), "redis") {
		return admin.NewRedisStore(client)
	}
	return admin.NewMemoryStore(time.Now)
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to initialize "+name, err)
	os.Exit(1)
}
