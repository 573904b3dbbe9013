package payloads

import (
	"github.com/google/uuid"
)

// TransactionEvent is the payload of every transaction lifecycle event.
// Recipients are the users the notifier should reach.
type TransactionEvent struct {
	TransactionID uuid.UUID   `json:"transaction_id"`
	OfferID       uuid.UUID   `json:"offer_id"`
	BuyerID       uuid.UUID   `json:"buyer_id"`
	SellerID      uuid.UUID   `json:"seller_id"`
	Recipients    []uuid.UUID `json:"recipients"`
	Message       string      `json:"message"`
	Amount        string      `json:"amount,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	ExternalRef   string      `json:"external_ref,omitempty"`
}
