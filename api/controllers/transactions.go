package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lastbite/lastbite-backend/api/middleware"
	"github.com/lastbite/lastbite-backend/api/responses"
	"github.com/lastbite/lastbite-backend/api/validators"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/pagination"
)

// TransactionView is the client representation of a transaction. Pickup code
// digests never leave the server.
type TransactionView struct {
	ID                   uuid.UUID               `json:"id"`
	OfferID              uuid.UUID               `json:"offer_id"`
	BuyerID              uuid.UUID               `json:"buyer_id"`
	SellerID             uuid.UUID               `json:"seller_id"`
	Amount               decimal.Decimal         `json:"amount"`
	Currency             string                  `json:"currency"`
	Status               enums.TransactionStatus `json:"status"`
	PayoutStatus         enums.PayoutStatus      `json:"payout_status"`
	ReservedAt           *time.Time              `json:"reserved_at,omitempty"`
	ReservationExpiresAt time.Time               `json:"reservation_expires_at"`
	ReservationExpired   bool                    `json:"reservation_expired"`
	HasPickupCode        bool                    `json:"has_pickup_code"`
	PickupCodeExpiresAt  *time.Time              `json:"pickup_code_expires_at,omitempty"`
	PickupCodeExpired    bool                    `json:"pickup_code_expired"`
	Paid                 bool                    `json:"paid"`
	PaidAt               *time.Time              `json:"paid_at,omitempty"`
	CompletedAt          *time.Time              `json:"completed_at,omitempty"`
	RefundedAt           *time.Time              `json:"refunded_at,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

func newTransactionView(txn *models.Transaction, now time.Time) TransactionView {
	return TransactionView{
		ID:                   txn.ID,
		OfferID:              txn.OfferID,
		BuyerID:              txn.BuyerID,
		SellerID:             txn.SellerID,
		Amount:               txn.Amount,
		Currency:             txn.Currency,
		Status:               txn.Status,
		PayoutStatus:         txn.PayoutStatus,
		ReservedAt:           txn.ReservedAt,
		ReservationExpiresAt: txn.ReservationExpiresAt,
		ReservationExpired:   txn.IsReservationExpired(now),
		HasPickupCode:        txn.HasPickupCode(),
		PickupCodeExpiresAt:  txn.QRCodeExpiresAt,
		PickupCodeExpired:    txn.HasPickupCode() && txn.IsQRCodeExpired(now),
		Paid:                 txn.IsPaid(),
		PaidAt:               txn.PaidAt,
		CompletedAt:          txn.CompletedAt,
		RefundedAt:           txn.RefundedAt,
		CreatedAt:            txn.CreatedAt,
		UpdatedAt:            txn.UpdatedAt,
	}
}

// TransactionDetail returns a transaction to its buyer or seller.
func TransactionDetail(repo transactions.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transactions repository unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := repo.FindByID(r.Context(), transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, wrapRepoError(err, "load transaction"))
			return
		}
		if !txn.IsParticipant(userID) {
			// Non-participants learn nothing about the row.
			responses.WriteError(r.Context(), logg, w, transactions.ErrTransactionNotFound)
			return
		}
		responses.WriteSuccess(w, newTransactionView(txn, time.Now().UTC()))
	}
}

// TransactionList pages through the caller's transactions as buyer or seller.
func TransactionList(repo transactions.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transactions repository unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
		if _, err := pagination.ParseCursor(cursor); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}
		status, err := validators.ParseQuery(r, "status", enums.ParseTransactionStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := repo.ListForUser(r.Context(), transactions.ListFilter{
			UserID: userID,
			Status: status,
			Params: pagination.Params{Limit: limit, Cursor: cursor},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions"))
			return
		}

		now := time.Now().UTC()
		views := make([]TransactionView, 0, len(page.Items))
		for i := range page.Items {
			views = append(views, newTransactionView(&page.Items[i], now))
		}
		responses.WriteSuccess(w, pagination.Page[TransactionView]{Items: views, NextCursor: page.NextCursor})
	}
}

func requireUser(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}

// wrapRepoError keeps typed errors and marks everything else as a dependency failure.
func wrapRepoError(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
