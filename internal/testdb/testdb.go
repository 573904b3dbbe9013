// Package testdb opens isolated in-memory SQLite databases with the marketplace schema.
package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lastbite/lastbite-backend/pkg/db"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	"github.com/lastbite/lastbite-backend/pkg/migrate"
)

// Open returns a client bound to a fresh database. A single pooled connection
// serialises transactions the way row locks would on Postgres.
func Open(t *testing.T) *db.Client {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.ApplySQLiteSchema(context.Background(), conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db.NewFromConn(conn)
}

// SeedUser inserts a user with an optional connected payout account.
func SeedUser(t *testing.T, conn *gorm.DB, stripeAccountID string) models.User {
	t.Helper()
	user := models.User{
		ID:          uuid.New(),
		Email:       uuid.NewString() + "@lastbite.test",
		DisplayName: "Test User",
	}
	if stripeAccountID != "" {
		user.StripeAccountID = &stripeAccountID
	}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedOffer inserts an unclaimed offer for seller.
func SeedOffer(t *testing.T, conn *gorm.DB, sellerID uuid.UUID, price string, foodExpiresAt time.Time) models.Offer {
	t.Helper()
	offer := models.Offer{
		ID:        uuid.New(),
		SellerID:  sellerID,
		Title:     "Surplus bread basket",
		Price:     decimal.RequireFromString(price),
		Quantity:  1,
		ExpiresAt: foodExpiresAt.UTC(),
	}
	if err := conn.Create(&offer).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return offer
}

// SeedHold claims offer for buyerID and inserts the matching unpaid transaction.
func SeedHold(t *testing.T, conn *gorm.DB, offer models.Offer, buyerID uuid.UUID, status enums.TransactionStatus, expiresAt time.Time) models.Transaction {
	t.Helper()
	txn := newHold(t, conn, offer, buyerID, status, expiresAt)
	if err := conn.Create(&txn).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}

// SeedPaidHold inserts a transaction whose payment already settled. Completed
// holds are also scheduled for payout, the state a handover leaves behind.
func SeedPaidHold(t *testing.T, conn *gorm.DB, offer models.Offer, buyerID uuid.UUID, status enums.TransactionStatus, expiresAt time.Time) models.Transaction {
	t.Helper()
	txn := newHold(t, conn, offer, buyerID, status, expiresAt)
	intent := "pi_" + txn.ID.String()
	paidAt := *txn.ReservedAt
	txn.PaymentIntentID = &intent
	txn.PaidAt = &paidAt
	if status == enums.TransactionStatusCompleted {
		completedAt := paidAt
		txn.CompletedAt = &completedAt
		txn.PayoutStatus = enums.PayoutStatusScheduled
	}
	if err := conn.Create(&txn).Error; err != nil {
		t.Fatalf("seed paid transaction: %v", err)
	}
	return txn
}

func newHold(t *testing.T, conn *gorm.DB, offer models.Offer, buyerID uuid.UUID, status enums.TransactionStatus, expiresAt time.Time) models.Transaction {
	t.Helper()
	now := time.Now().UTC()
	if err := conn.Model(&models.Offer{}).Where("id = ?", offer.ID).Update("buyer_id", buyerID).Error; err != nil {
		t.Fatalf("claim offer: %v", err)
	}
	return models.Transaction{
		ID:                   uuid.New(),
		OfferID:              offer.ID,
		BuyerID:              buyerID,
		SellerID:             offer.SellerID,
		Amount:               offer.EffectivePrice(),
		Currency:             "eur",
		Status:               status,
		ReservedAt:           &now,
		ReservationExpiresAt: expiresAt.UTC(),
		PayoutStatus:         enums.PayoutStatusNone,
	}
}
