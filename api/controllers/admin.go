package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lastbite/lastbite-backend/api/responses"
	"github.com/lastbite/lastbite-backend/api/validators"
	"github.com/lastbite/lastbite-backend/internal/payments"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
)

// Sweeper runs one pass of each scheduled sweep.
type Sweeper interface {
	SweepReservations(ctx context.Context, now time.Time) (int, error)
	SweepPickupCodes(ctx context.Context, now time.Time) (int, error)
	RetryFailedPayouts(ctx context.Context, now time.Time) (int, error)
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required,notblank,max=500"`
}

// AdminRefund refunds a paid transaction.
func AdminRefund(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithTransactionID(r.Context(), transactionID.String())
		refunded, err := svc.Refund(ctx, transactionID, validators.SanitizeString(req.Reason, maxReasonLen))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"transaction_id": transactionID, "refunded": refunded})
	}
}

// AdminRetryPayout retries a failed seller payout.
func AdminRetryPayout(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithTransactionID(r.Context(), transactionID.String())
		paid, err := svc.RetryPayout(ctx, transactionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"transaction_id": transactionID, "paid_out": paid})
	}
}

// AdminSweep runs the sweep named by the {sweep} path parameter once.
func AdminSweep(svc Sweeper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweeper unavailable"))
			return
		}
		sweeps := map[string]func(context.Context, time.Time) (int, error){
			"reservations": svc.SweepReservations,
			"pickup-codes": svc.SweepPickupCodes,
			"payouts":      svc.RetryFailedPayouts,
		}
		name := chi.URLParam(r, "sweep")
		run, ok := sweeps[name]
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown sweep").
				WithDetails(map[string]any{"sweep": name}))
			return
		}

		ctx := logg.WithField(r.Context(), "sweep", name)
		processed, err := run(ctx, time.Now().UTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, wrapRepoError(err, "run sweep"))
			return
		}
		logg.Info(logg.WithField(ctx, "processed", processed), "manual sweep complete")
		responses.WriteSuccess(w, map[string]int{"processed": processed})
	}
}
