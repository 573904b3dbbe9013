package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the marketplace identity. Only the fields the payment core reads are mapped.
type User struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email           string    `gorm:"column:email;not null;uniqueIndex"`
	DisplayName     string    `gorm:"column:display_name;not null"`
	StripeAccountID *string   `gorm:"column:stripe_account_id"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
