package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lastbite/lastbite-backend/api/controllers"
	"github.com/lastbite/lastbite-backend/api/routes"
	"github.com/lastbite/lastbite-backend/internal/idempotency"
	"github.com/lastbite/lastbite-backend/internal/ledger"
	"github.com/lastbite/lastbite-backend/internal/offers"
	"github.com/lastbite/lastbite-backend/internal/payments"
	"github.com/lastbite/lastbite-backend/internal/pickup"
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

const (
	webhookScope    = "stripe-webhooks"
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

	webhookGuard, err := idempotency.NewGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, webhookScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	marketplaceMetrics := metrics.NewMarketplaceMetrics(prometheus.DefaultRegisterer)

	conn := dbClient.DB()
	transactionRepo := transactions.NewRepository(conn)
	offerRepo := offers.NewRepository(conn)
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)
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
		WebhookGuard: webhookGuard,
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

	pickupService, err := pickup.NewService(pickup.ServiceParams{
		TxRunner:     dbClient,
		Offers:       offerRepo,
		Transactions: transactionRepo,
		Outbox:       outboxService,
		Payouts:      paymentService,
		Logger:       logg,
		CodeTTL:      cfg.Marketplace.PickupCodeTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pickup service", err)
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

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			Readiness: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			RateLimiter:  redisClient,
			Gatherer:     prometheus.DefaultGatherer,
			Reservations: reservationService,
			Transactions: transactionRepo,
			Payments:     paymentService,
			Pickup:       pickupService,
			Sweeper:      sweeperService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
