package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer is a seller listing. BuyerID is set while a hold references it and
// SoldAt once the goods were handed over.
type Offer struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SellerID     uuid.UUID        `gorm:"column:seller_id;type:uuid;not null"`
	Title        string           `gorm:"column:title;not null"`
	Description  *string          `gorm:"column:description"`
	Price        decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	DynamicPrice *decimal.Decimal `gorm:"column:dynamic_price;type:numeric(12,2)"`
	Quantity     int              `gorm:"column:quantity;not null;default:1"`
	ExpiresAt    time.Time        `gorm:"column:expires_at;not null"`
	BuyerID      *uuid.UUID       `gorm:"column:buyer_id;type:uuid"`
	SoldAt       *time.Time       `gorm:"column:sold_at"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// EffectivePrice is the price a reservation locks in.
func (o Offer) EffectivePrice() decimal.Decimal {
	if o.DynamicPrice != nil {
		return *o.DynamicPrice
	}
	return o.Price
}

// IsFoodExpired reports whether the listed food is past its expiry date.
func (o Offer) IsFoodExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// IsAvailable reports whether the offer can be claimed.
func (o Offer) IsAvailable() bool {
	return o.BuyerID == nil && o.SoldAt == nil
}
