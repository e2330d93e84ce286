package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storyline-backend/internal/checkout"
	"github.com/angelmondragon/storyline-backend/internal/cron"
	"github.com/angelmondragon/storyline-backend/internal/ledger"
	"github.com/angelmondragon/storyline-backend/internal/reconciliation"
	"github.com/angelmondragon/storyline-backend/pkg/config"
	"github.com/angelmondragon/storyline-backend/pkg/db"
	"github.com/angelmondragon/storyline-backend/pkg/instance"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
	"github.com/angelmondragon/storyline-backend/pkg/metrics"
	"github.com/angelmondragon/storyline-backend/pkg/migrate"
	"github.com/angelmondragon/storyline-backend/pkg/outbox"
	"github.com/angelmondragon/storyline-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storyline-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	ledgerService, err := ledger.NewService(dbClient, ledger.NewRepository(dbClient.DB()), outboxService, ledger.Options{
		MaxFlagsPerWord:        cfg.Moderation.MaxFlagsPerWord,
		MaxFlagsPerFingerprint: cfg.Moderation.MaxFlagsPerFingerprint,
		OpacityCeiling:         cfg.Moderation.OpacityCeiling,
		LinebreakSpacing:       int64(cfg.Admin.LineBreakSpace),
	})
	requireResource(logg, "ledger service", err)

	checkoutRepo := checkout.NewRepository(dbClient.DB())
	reconciler, err := reconciliation.NewService(reconciliation.ServiceParams{
		TransactionRunner: dbClient,
		Checkouts:         checkoutRepo,
		Ledger:            ledgerService,
		Refunds:           gateway,
		Outbox:            outboxService,
		Metrics:           metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer),
		Logger:            logg,
	})
	requireResource(logg, "reconciliation service", err)

	sweepJob, err := cron.NewCheckoutSweepJob(cron.CheckoutSweepJobParams{
		Logger:     logg,
		Checkouts:  checkoutRepo,
		Intents:    gateway,
		Reconciler: reconciler,
		PendingTTL: cfg.Checkout.PendingTTL,
	})
	requireResource(logg, "checkout sweep job", err)

	refundJob, err := cron.NewRefundRetryJob(cron.RefundRetryJobParams{
		Logger:      logg,
		Checkouts:   checkoutRepo,
		Refunds:     reconciler,
		MaxAttempts: cfg.Checkout.MaxRefundTry,
	})
	requireResource(logg, "refund retry job", err)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:             logg,
		Repository:         outboxRepo,
		DeadLetterAttempts: cfg.Outbox.MaxAttempts,
	})
	requireResource(logg, "outbox retention job", err)

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{sweepJob, refundJob, retentionJob} {
		requireResource(logg, "job "+job.Name(), registry.Register(job))
	}

	lock, err := cron.NewRedisLock(redisClient, "cron-worker:"+envName(cfg.App.Env), cfg.Cron.LockTTL)
	requireResource(logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	requireResource(logg, "cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Run(groupCtx)
	})
	if cfg.Cron.MetricsAddr != "" {
		group.Go(func() error {
			return metrics.Serve(groupCtx, cfg.Cron.MetricsAddr, prometheus.DefaultGatherer)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func envName(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to initialize "+name, err)
	os.Exit(1)
}
