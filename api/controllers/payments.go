package controllers

import (
	"net/http"

	"github.com/lastbite/lastbite-backend/api/responses"
	"github.com/lastbite/lastbite-backend/api/validators"
	"github.com/lastbite/lastbite-backend/internal/payments"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
)

// Checkout opens a provider checkout session for the buyer's hold.
func Checkout(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		buyerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithTransactionID(r.Context(), transactionID.String())
		result, err := svc.CreateCheckout(ctx, transactionID, buyerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
