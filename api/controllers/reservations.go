package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lastbite/lastbite-backend/api/responses"
	"github.com/lastbite/lastbite-backend/api/validators"
	"github.com/lastbite/lastbite-backend/internal/reservations"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
)

const maxReasonLen = 500

type reserveRequest struct {
	OfferID string `json:"offer_id" validate:"required,uuid"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// Reserve places a hold on an offer for the caller.
func Reserve(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		buyerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req reserveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offerID, err := uuid.Parse(req.OfferID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid offer_id"))
			return
		}

		ctx := logg.WithOfferID(r.Context(), offerID.String())
		txn, err := svc.Reserve(ctx, reservations.ReserveInput{OfferID: offerID, BuyerID: buyerID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionView(txn, time.Now().UTC()))
	}
}

// CancelReservation cancels an open hold. Either party may cancel.
func CancelReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		actorID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithTransactionID(r.Context(), transactionID.String())
		txn, err := svc.Cancel(ctx, reservations.CancelInput{
			TransactionID: transactionID,
			ActorID:       actorID,
			Reason:        validators.SanitizeString(req.Reason, maxReasonLen),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionView(txn, time.Now().UTC()))
	}
}
