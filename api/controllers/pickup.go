package controllers

import (
	"net/http"
	"time"

	"github.com/lastbite/lastbite-backend/api/responses"
	"github.com/lastbite/lastbite-backend/api/validators"
	"github.com/lastbite/lastbite-backend/internal/pickup"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
)

type pickupCodeRequest struct {
	Token string `json:"token" validate:"required,notblank,max=128"`
}

// IssuePickupCode returns a fresh single-use code to the buyer. The raw
// token is only ever shown in this response.
func IssuePickupCode(svc pickup.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pickup service unavailable"))
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
		code, err := svc.IssueCode(ctx, transactionID, buyerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccessStatus(w, http.StatusCreated, code)
	}
}

// VerifyPickupCode lets the seller check a presented code without redeeming it.
func VerifyPickupCode(svc pickup.Service, logg *logger.Logger) http.HandlerFunc {
	return redeemHandler(svc, logg, func(r *http.Request, s pickup.Service, token string) (TransactionView, error) {
		sellerID, err := requireUser(r)
		if err != nil {
			return TransactionView{}, err
		}
		txn, err := s.VerifyCode(r.Context(), token, sellerID)
		if err != nil {
			return TransactionView{}, err
		}
		return newTransactionView(txn, time.Now().UTC()), nil
	})
}

// CompletePickup redeems a code and completes the handover.
func CompletePickup(svc pickup.Service, logg *logger.Logger) http.HandlerFunc {
	return redeemHandler(svc, logg, func(r *http.Request, s pickup.Service, token string) (TransactionView, error) {
		sellerID, err := requireUser(r)
		if err != nil {
			return TransactionView{}, err
		}
		txn, err := s.CompleteByCode(r.Context(), token, sellerID)
		if err != nil {
			return TransactionView{}, err
		}
		return newTransactionView(txn, time.Now().UTC()), nil
	})
}

type redeemFunc func(r *http.Request, svc pickup.Service, token string) (TransactionView, error)

func redeemHandler(svc pickup.Service, logg *logger.Logger, fn redeemFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pickup service unavailable"))
			return
		}
		var req pickupCodeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := fn(r, svc, validators.SanitizeString(req.Token, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
