package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lastbite/lastbite-backend/pkg/enums"
)

// LedgerEvent records an immutable money movement tied to a transaction.
type LedgerEvent struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID             `gorm:"column:transaction_id;type:uuid;not null"`
	BuyerID       uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID      uuid.UUID             `gorm:"column:seller_id;type:uuid;not null"`
	Type          enums.LedgerEventType `gorm:"column:type;type:text;not null"`
	Amount        decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      string                `gorm:"column:currency;not null"`
	ExternalRef   *string               `gorm:"column:external_ref"`
	Metadata      json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
