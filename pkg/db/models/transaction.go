package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lastbite/lastbite-backend/pkg/enums"
)

// Transaction is the reservation hold on an offer, from claim to payout or refund.
type Transaction struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OfferID              uuid.UUID               `gorm:"column:offer_id;type:uuid;not null"`
	BuyerID              uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID             uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	Amount               decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null;<-:create"`
	Currency             string                  `gorm:"column:currency;not null"`
	Status               enums.TransactionStatus `gorm:"column:status;type:text;not null"`
	ReservedAt           *time.Time              `gorm:"column:reserved_at"`
	ReservationExpiresAt time.Time               `gorm:"column:reservation_expires_at;not null"`
	QRCodeToken          *string                 `gorm:"column:qr_code_token"`
	QRCodeExpiresAt      *time.Time              `gorm:"column:qr_code_expires_at"`
	CheckoutSessionID    *string                 `gorm:"column:checkout_session_id"`
	PaymentIntentID      *string                 `gorm:"column:payment_intent_id"`
	PaidAt               *time.Time              `gorm:"column:paid_at"`
	CompletedAt          *time.Time              `gorm:"column:completed_at"`
	PayoutStatus         enums.PayoutStatus      `gorm:"column:payout_status;type:text;not null;default:'none'"`
	PayoutAttempts       int                     `gorm:"column:payout_attempts;not null;default:0"`
	TransferID           *string                 `gorm:"column:transfer_id"`
	TransferredAt        *time.Time              `gorm:"column:transferred_at"`
	PlatformFee          *decimal.Decimal        `gorm:"column:platform_fee;type:numeric(12,2)"`
	SellerAmount         *decimal.Decimal        `gorm:"column:seller_amount;type:numeric(12,2)"`
	RefundID             *string                 `gorm:"column:refund_id"`
	RefundedAt           *time.Time              `gorm:"column:refunded_at"`
	ErrorMessage         *string                 `gorm:"column:error_message"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// IsReservationExpired is derived from the stored deadline; only open holds expire.
func (t Transaction) IsReservationExpired(now time.Time) bool {
	return t.Status.IsOpen() && now.After(t.ReservationExpiresAt)
}

// HasPickupCode reports whether a code is currently stored.
func (t Transaction) HasPickupCode() bool {
	return t.QRCodeToken != nil && *t.QRCodeToken != ""
}

// IsQRCodeExpired reports whether the stored pickup code is past its deadline.
func (t Transaction) IsQRCodeExpired(now time.Time) bool {
	return t.QRCodeExpiresAt != nil && now.After(*t.QRCodeExpiresAt)
}

// IsPaid reports whether the provider confirmed the payment.
func (t Transaction) IsPaid() bool {
	return t.PaymentIntentID != nil && *t.PaymentIntentID != ""
}

// IsParticipant reports whether userID is the buyer or the seller.
func (t Transaction) IsParticipant(userID uuid.UUID) bool {
	return userID == t.BuyerID || userID == t.SellerID
}
