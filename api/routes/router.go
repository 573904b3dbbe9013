package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lastbite/lastbite-backend/api/controllers"
	"github.com/lastbite/lastbite-backend/api/middleware"
	"github.com/lastbite/lastbite-backend/internal/payments"
	"github.com/lastbite/lastbite-backend/internal/pickup"
	"github.com/lastbite/lastbite-backend/internal/reservations"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/config"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/redis"
)

// Dependencies are the services the HTTP surface dispatches to.
type Dependencies struct {
	Readiness    map[string]controllers.Pinger
	RateLimiter  redis.RateLimiter
	Gatherer     prometheus.Gatherer
	Reservations reservations.Service
	Transactions transactions.Repository
	Payments     payments.Service
	Pickup       pickup.Service
	Sweeper      controllers.Sweeper
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider callbacks are authenticated by signature, not by token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit("webhooks", cfg.RateLimit, deps.RateLimiter, logg))
			r.Post("/webhooks/stripe", controllers.StripeWebhook(deps.Payments, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RateLimit("api", cfg.RateLimit, deps.RateLimiter, logg))

			r.Post("/reservations", controllers.Reserve(deps.Reservations, logg))
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", controllers.TransactionList(deps.Transactions, logg))
				r.Route("/{transactionId}", func(r chi.Router) {
					r.Get("/", controllers.TransactionDetail(deps.Transactions, logg))
					r.Post("/cancel", controllers.CancelReservation(deps.Reservations, logg))
					r.Post("/checkout", controllers.Checkout(deps.Payments, logg))
					r.Post("/pickup-code", controllers.IssuePickupCode(deps.Pickup, logg))
				})
			})
			r.Route("/pickup", func(r chi.Router) {
				r.Post("/verify", controllers.VerifyPickupCode(deps.Pickup, logg))
				r.Post("/complete", controllers.CompletePickup(deps.Pickup, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
		r.Use(middleware.RateLimit("admin", cfg.RateLimit, deps.RateLimiter, logg))

		r.Route("/transactions/{transactionId}", func(r chi.Router) {
			r.Post("/refund", controllers.AdminRefund(deps.Payments, logg))
			r.Post("/payout/retry", controllers.AdminRetryPayout(deps.Payments, logg))
		})
		r.Post("/sweeps/{sweep}", controllers.AdminSweep(deps.Sweeper, logg))
	})

	return r
}
