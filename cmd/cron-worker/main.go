package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lastbite/lastbite-backend/internal/cron"
	"github.com/lastbite/lastbite-backend/internal/ledger"
	"github.com/lastbite/lastbite-backend/internal/offers"
	"github.com/lastbite/lastbite-backend/internal/payments"
	"github.com/lastbite/lastbite-backend/internal/reservations"
	"github.com/lastbite/lastbite-backend/internal/sweeper"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/internal/users"
	"github.com/lastbite/lastbite-backend/pkg/config"
	"github.com/lastbite/lastbite-backend/pkg/db"
	"github.com/lastbite/lastbite-backend/pkg/instance"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/metrics"
	"github.com/lastbite/lastbite-backend/pkg/migrate"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
	"github.com/lastbite/lastbite-backend/pkg/redis"
	lbstripe "github.com/lastbite/lastbite-backend/pkg/stripe"
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

	stripeClient, err := lbstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	gateway, err := lbstripe.NewGateway(stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build payment gateway", err)
		os.Exit(1)
	}

	marketplaceMetrics := metrics.NewMarketplaceMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	conn := dbClient.DB()
	transactionRepo := transactions.NewRepository(conn)
	offerRepo := offers.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	outboxService := outbox.NewService(outboxRepo, logg)
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	reservationService, err := reservations.NewService(reservations.ServiceParams{
		TxRunner:       dbClient,
		Offers:         offerRepo,
		Transactions:   transactionRepo,
		Outbox:         outboxService,
		Logger:         logg,
		ReservationTTL: cfg.Marketplace.ReservationTTL,
		PaymentFirst:   cfg.Marketplace.PaymentFirst,
		Currency:       cfg.Marketplace.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation service", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		TxRunner:     dbClient,
		Transactions: transactionRepo,
		Offers:       offerRepo,
		Ledger:       ledgerService,
		Outbox:       outboxService,
		Gateway:      gateway,
		Accounts:     users.NewRepository(conn),
		Metrics:      marketplaceMetrics,
		Logger:       logg,
		FeePercent:   cfg.Marketplace.PlatformFeePercent,
		SuccessURL:   cfg.Marketplace.CheckoutSuccessURL,
		CancelURL:    cfg.Marketplace.CheckoutCancelURL,
		PayoutLease:  cfg.Sweeper.PayoutLease,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	sweeperService, err := sweeper.NewService(sweeper.ServiceParams{
		Transactions:      transactionRepo,
		Reservations:      reservationService,
		Payouts:           paymentService,
		Metrics:           marketplaceMetrics,
		Logger:            logg,
		BatchSize:         cfg.Sweeper.BatchSize,
		PayoutMaxAttempts: cfg.Sweeper.PayoutMaxAttempts,
		PayoutLease:       cfg.Sweeper.PayoutLease,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper", err)
		os.Exit(1)
	}

	jobs, err := buildJobs(cfg, logg, sweeperService, outboxRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(jobs...)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    cronMetrics,
		Interval:   cfg.Sweeper.Interval,
		JobTimeout: cfg.Sweeper.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(cfg *config.Config, logg *logger.Logger, sweeps cron.Sweeper, outboxRepo *outbox.Repository) ([]cron.Job, error) {
	params := cron.SweepJobParams{Logger: logg, Sweeper: sweeps}
	builders := []func(cron.SweepJobParams) (cron.Job, error){
		cron.NewReservationExpiryJob,
		cron.NewPickupCodeExpiryJob,
		cron.NewPayoutRetryJob,
	}
	jobs := make([]cron.Job, 0, len(builders)+1)
	for _, build := range builders {
		job, err := build(params)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	retention, err := cron.NewOutboxRetentionJob(logg, outboxRepo, cfg.Sweeper.OutboxRetention)
	if err != nil {
		return nil, err
	}
	return append(jobs, retention), nil
}
