package transactions

import pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"

var (
	ErrTransactionNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	ErrInvalidTransition   = pkgerrors.New(pkgerrors.CodeStateConflict, "transaction status does not allow this operation")
	ErrNotParticipant      = pkgerrors.New(pkgerrors.CodeForbidden, "requester is not a party to this transaction")
	ErrReservationExpired  = pkgerrors.New(pkgerrors.CodeExpired, "reservation expired")
	ErrPaymentRequired     = pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not been received")
)
